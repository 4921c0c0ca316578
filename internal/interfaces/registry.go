package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/etlplatform/internal/models"
)

// ErrNotFound is returned when a lookup by id finds nothing.
var ErrNotFound = errors.New("registry: not found")

// ErrConflict is returned by BeginRun when the job is not in a state that
// can be transitioned (another writer already won the race, or the job is
// not READY).
var ErrConflict = errors.New("registry: version conflict")

// JobRegistry is the single source of truth for Job state. BeginRun is the
// only writer-race-sensitive operation: it performs a compare-and-swap on
// Job.Version, so two concurrent Orchestrator ticks can never both start
// the same job.
type JobRegistry interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, tenantID, jobID string) (*models.Job, error)
	ListDue(ctx context.Context) ([]*models.Job, error)
	ListByStatus(ctx context.Context, tenantID string, status models.JobStatus) ([]*models.Job, error)

	// BeginRun transitions a READY job to RUNNING, resets every step's
	// sub-statuses to idle, and bumps Version, failing with ErrConflict if
	// expectedVersion no longer matches.
	BeginRun(ctx context.Context, tenantID, jobID string, expectedVersion int64) (*models.Job, error)

	// SetStepStatus updates one (step, worker_type) sub-status cell.
	SetStepStatus(ctx context.Context, tenantID, jobID string, step models.StepName, worker models.WorkerType, status models.SubStatus) error

	// Complete ends a RUNNING job's run with COMPLETED or FAILED. The SQLite
	// registry stores a COMPLETED outcome as READY, so the job can be started
	// again on its next due tick.
	Complete(ctx context.Context, tenantID, jobID string, status models.JobStatus, lastError string) error

	// SetWatermark persists the cursor an incremental run of step should
	// resume from on its next invocation.
	SetWatermark(ctx context.Context, tenantID, jobID string, step models.StepName, watermark string) error

	// ListRunaway returns jobs stuck RUNNING longer than threshold, for the
	// reconciler to force back to FAILED.
	ListRunaway(ctx context.Context, olderThanSeconds int64) ([]*models.Job, error)
}
