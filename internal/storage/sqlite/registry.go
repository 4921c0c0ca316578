package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/etlplatform/internal/interfaces"
	"github.com/ternarybob/etlplatform/internal/models"
)

// Registry implements interfaces.JobRegistry.
type Registry struct {
	db     *DB
	logger arbor.ILogger
}

func NewRegistry(db *DB, logger arbor.ILogger) *Registry {
	return &Registry{db: db, logger: logger}
}

var _ interfaces.JobRegistry = (*Registry)(nil)

func (r *Registry) Create(ctx context.Context, job *models.Job) error {
	stepsJSON, err := json.Marshal(job.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal job steps: %w", err)
	}
	watermarksJSON, err := json.Marshal(job.Watermarks)
	if err != nil {
		return fmt.Errorf("failed to marshal job watermarks: %w", err)
	}
	_, err = r.db.conn.ExecContext(ctx, `
		INSERT INTO etl_jobs (id, tenant_id, integration_id, type, status, version, steps_json,
			watermarks_json, schedule_interval, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, job.IntegrationID, string(job.Type), string(job.Status), job.Version,
		string(stepsJSON), string(watermarksJSON), job.ScheduleInterval, job.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

func (r *Registry) Get(ctx context.Context, tenantID, jobID string) (*models.Job, error) {
	row := r.db.conn.QueryRowContext(ctx, jobSelectSQL+` WHERE tenant_id = ? AND id = ?`, tenantID, jobID)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return job, nil
}

func (r *Registry) ListDue(ctx context.Context) ([]*models.Job, error) {
	return r.queryJobs(ctx, jobSelectSQL+` WHERE status = ?`, string(models.JobStatusReady))
}

func (r *Registry) ListByStatus(ctx context.Context, tenantID string, status models.JobStatus) ([]*models.Job, error) {
	return r.queryJobs(ctx, jobSelectSQL+` WHERE tenant_id = ? AND status = ?`, tenantID, string(status))
}

func (r *Registry) ListRunaway(ctx context.Context, olderThanSeconds int64) ([]*models.Job, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(olderThanSeconds) * time.Second).Format(time.RFC3339Nano)
	return r.queryJobs(ctx, jobSelectSQL+` WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`,
		string(models.JobStatusRunning), cutoff)
}

// BeginRun performs the compare-and-swap: only succeeds if the job is
// currently READY and its version still matches expectedVersion. The UPDATE's
// affected-row-count is the CAS result, avoiding a separate SELECT ... FOR
// UPDATE (SQLite has no row locking, so this is the idiomatic equivalent).
// Steps are job-specific, so resetting them to idle requires reading the
// job's own Steps slice rather than a fixed template.
func (r *Registry) BeginRun(ctx context.Context, tenantID, jobID string, expectedVersion int64) (*models.Job, error) {
	job, err := r.Get(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	job.ResetSteps()
	stepsJSON, err := json.Marshal(job.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reset job steps: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := r.db.conn.ExecContext(ctx, `
		UPDATE etl_jobs SET status = ?, version = version + 1, steps_json = ?,
			started_at = ?, completed_at = NULL, last_error = ''
		WHERE tenant_id = ? AND id = ? AND status = ? AND version = ?`,
		string(models.JobStatusRunning), string(stepsJSON), now,
		tenantID, jobID, string(models.JobStatusReady), expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to begin run for job %s: %w", jobID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return nil, interfaces.ErrConflict
	}
	return r.Get(ctx, tenantID, jobID)
}

func (r *Registry) SetStepStatus(ctx context.Context, tenantID, jobID string, step models.StepName, worker models.WorkerType, status models.SubStatus) error {
	job, err := r.Get(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	s, _, ok := job.StepByName(step)
	if !ok {
		return fmt.Errorf("job %s has no step %q", jobID, step)
	}
	s.SetSubStatus(worker, status)
	stepsJSON, err := json.Marshal(job.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal job steps: %w", err)
	}
	_, err = r.db.conn.ExecContext(ctx, `UPDATE etl_jobs SET steps_json = ? WHERE tenant_id = ? AND id = ?`,
		string(stepsJSON), tenantID, jobID)
	if err != nil {
		return fmt.Errorf("failed to set step status for job %s: %w", jobID, err)
	}
	return nil
}

func (r *Registry) Complete(ctx context.Context, tenantID, jobID string, status models.JobStatus, lastError string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	nextStatus := status
	if status == models.JobStatusCompleted {
		// Completed recurring jobs return to READY so the next schedule tick picks them up again.
		nextStatus = models.JobStatusReady
	}
	_, err := r.db.conn.ExecContext(ctx, `
		UPDATE etl_jobs SET status = ?, completed_at = ?, last_error = ? WHERE tenant_id = ? AND id = ?`,
		string(nextStatus), now, lastError, tenantID, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	return nil
}

func (r *Registry) SetWatermark(ctx context.Context, tenantID, jobID string, step models.StepName, watermark string) error {
	job, err := r.Get(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job.Watermarks == nil {
		job.Watermarks = make(map[models.StepName]string)
	}
	job.Watermarks[step] = watermark
	watermarksJSON, err := json.Marshal(job.Watermarks)
	if err != nil {
		return fmt.Errorf("failed to marshal job watermarks: %w", err)
	}
	_, err = r.db.conn.ExecContext(ctx, `UPDATE etl_jobs SET watermarks_json = ? WHERE tenant_id = ? AND id = ?`,
		string(watermarksJSON), tenantID, jobID)
	if err != nil {
		return fmt.Errorf("failed to set watermark for job %s: %w", jobID, err)
	}
	return nil
}

const jobSelectSQL = `
	SELECT id, tenant_id, integration_id, type, status, version, steps_json,
		watermarks_json, schedule_interval, created_at, started_at, completed_at, last_error
	FROM etl_jobs`

func (r *Registry) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*models.Job, error) {
	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var result []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

func scanJob(row scanner) (*models.Job, error) {
	var (
		job                            models.Job
		jobType, status                string
		stepsJSON, watermarksJSON      string
		createdAt                      string
		startedAt, completedAt         *string
	)
	if err := row.Scan(&job.ID, &job.TenantID, &job.IntegrationID, &jobType, &status, &job.Version,
		&stepsJSON, &watermarksJSON, &job.ScheduleInterval, &createdAt, &startedAt, &completedAt, &job.LastError); err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	job.Type = models.JobType(jobType)
	job.Status = models.JobStatus(status)

	if err := json.Unmarshal([]byte(stepsJSON), &job.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job steps: %w", err)
	}
	if err := json.Unmarshal([]byte(watermarksJSON), &job.Watermarks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job watermarks: %w", err)
	}

	var err error
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if startedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *startedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse started_at: %w", err)
		}
		job.StartedAt = &t
	}
	if completedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *completedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at: %w", err)
		}
		job.CompletedAt = &t
	}
	return &job, nil
}
