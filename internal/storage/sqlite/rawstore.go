package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/etlplatform/internal/interfaces"
	"github.com/ternarybob/etlplatform/internal/models"
)

// RawStore implements interfaces.RawStore.
type RawStore struct {
	db     *DB
	logger arbor.ILogger
}

func NewRawStore(db *DB, logger arbor.ILogger) *RawStore {
	return &RawStore{db: db, logger: logger}
}

var _ interfaces.RawStore = (*RawStore)(nil)

func (s *RawStore) Insert(ctx context.Context, record *models.RawRecord) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO raw_extraction_data (id, tenant_id, job_id, integration_id, external_id, entity_type,
			parent_external_id, payload, processing_status, extracted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, job_id, external_id) DO UPDATE SET
			payload = excluded.payload,
			entity_type = excluded.entity_type,
			parent_external_id = excluded.parent_external_id,
			processing_status = ?,
			extracted_at = excluded.extracted_at,
			processed_at = NULL,
			error = ''`,
		record.ID, record.TenantID, record.JobID, record.IntegrationID, record.ExternalID, record.EntityType,
		record.ParentExternalID, record.Payload, string(models.ProcessingStatusPending), record.ExtractedAt.UTC().Format(time.RFC3339Nano),
		string(models.ProcessingStatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to insert raw record %s: %w", record.ExternalID, err)
	}
	return nil
}

func (s *RawStore) InsertBatch(ctx context.Context, records []*models.RawRecord) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin raw store batch transaction: %w", err)
	}
	defer tx.Rollback()

	for _, record := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO raw_extraction_data (id, tenant_id, job_id, integration_id, external_id, entity_type,
				parent_external_id, payload, processing_status, extracted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tenant_id, job_id, external_id) DO UPDATE SET
				payload = excluded.payload,
				entity_type = excluded.entity_type,
				parent_external_id = excluded.parent_external_id,
				processing_status = ?,
				extracted_at = excluded.extracted_at,
				processed_at = NULL,
				error = ''`,
			record.ID, record.TenantID, record.JobID, record.IntegrationID, record.ExternalID, record.EntityType,
			record.ParentExternalID, record.Payload, string(models.ProcessingStatusPending), record.ExtractedAt.UTC().Format(time.RFC3339Nano),
			string(models.ProcessingStatusPending),
		)
		if err != nil {
			return fmt.Errorf("failed to insert raw record %s in batch: %w", record.ExternalID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit raw store batch: %w", err)
	}
	return nil
}

func (s *RawStore) ClaimPending(ctx context.Context, tenantID, jobID string, limit int) ([]*models.RawRecord, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, tenant_id, job_id, integration_id, external_id, entity_type, parent_external_id, payload,
			processing_status, extracted_at, processed_at, error
		FROM raw_extraction_data
		WHERE tenant_id = ? AND job_id = ? AND processing_status = ?
		ORDER BY extracted_at
		LIMIT ?`, tenantID, jobID, string(models.ProcessingStatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending raw records: %w", err)
	}
	defer rows.Close()

	var result []*models.RawRecord
	for rows.Next() {
		record, err := scanRawRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

func (s *RawStore) MarkTransformed(ctx context.Context, tenantID, recordID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.conn.ExecContext(ctx, `
		UPDATE raw_extraction_data SET processing_status = ?, processed_at = ?
		WHERE tenant_id = ? AND id = ?`, string(models.ProcessingStatusTransformed), now, tenantID, recordID)
	if err != nil {
		return fmt.Errorf("failed to mark raw record %s transformed: %w", recordID, err)
	}
	return nil
}

func (s *RawStore) MarkFailed(ctx context.Context, tenantID, recordID, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.conn.ExecContext(ctx, `
		UPDATE raw_extraction_data SET processing_status = ?, processed_at = ?, error = ?
		WHERE tenant_id = ? AND id = ?`, string(models.ProcessingStatusFailed), now, reason, tenantID, recordID)
	if err != nil {
		return fmt.Errorf("failed to mark raw record %s failed: %w", recordID, err)
	}
	return nil
}

func (s *RawStore) ResetFailed(ctx context.Context, tenantID, jobID string) (int, error) {
	result, err := s.db.conn.ExecContext(ctx, `
		UPDATE raw_extraction_data SET processing_status = ?, processed_at = NULL, error = ''
		WHERE tenant_id = ? AND job_id = ? AND processing_status = ?`,
		string(models.ProcessingStatusPending), tenantID, jobID, string(models.ProcessingStatusFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed raw records for job %s: %w", jobID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(affected), nil
}

func (s *RawStore) CountPending(ctx context.Context, tenantID, jobID string) (int, error) {
	var count int
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM raw_extraction_data WHERE tenant_id = ? AND job_id = ? AND processing_status = ?`,
		tenantID, jobID, string(models.ProcessingStatusPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending raw records for job %s: %w", jobID, err)
	}
	return count, nil
}

func scanRawRecord(row scanner) (*models.RawRecord, error) {
	var (
		record      models.RawRecord
		status      string
		extractedAt string
		processedAt *string
	)
	if err := row.Scan(&record.ID, &record.TenantID, &record.JobID, &record.IntegrationID, &record.ExternalID,
		&record.EntityType, &record.ParentExternalID, &record.Payload, &status, &extractedAt, &processedAt, &record.Error); err != nil {
		return nil, fmt.Errorf("failed to scan raw record: %w", err)
	}
	record.ProcessingStatus = models.ProcessingStatus(status)

	var err error
	if record.ExtractedAt, err = time.Parse(time.RFC3339Nano, extractedAt); err != nil {
		return nil, fmt.Errorf("failed to parse extracted_at: %w", err)
	}
	if processedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *processedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse processed_at: %w", err)
		}
		record.ProcessedAt = &t
	}
	return &record, nil
}
