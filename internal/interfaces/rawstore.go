package interfaces

import (
	"context"

	"github.com/ternarybob/etlplatform/internal/models"
)

// RawStore is the staging table an Extract worker writes to and
// a Transform worker drains from. Writes are idempotent on
// (tenant_id, job_id, external_id): re-extracting the same item overwrites
// its payload rather than duplicating the row.
type RawStore interface {
	// Insert appends or overwrites a raw record, keyed on tenant/job/external id.
	Insert(ctx context.Context, record *models.RawRecord) error

	// InsertBatch is the bulk form Extract workers use for paginated results.
	InsertBatch(ctx context.Context, records []*models.RawRecord) error

	// ClaimPending returns up to limit records in processing_status=pending
	// for the given job, for a Transform worker to process.
	ClaimPending(ctx context.Context, tenantID, jobID string, limit int) ([]*models.RawRecord, error)

	// MarkTransformed moves a record to processing_status=transformed.
	MarkTransformed(ctx context.Context, tenantID, recordID string) error

	// MarkFailed moves a record to processing_status=failed with a reason.
	MarkFailed(ctx context.Context, tenantID, recordID, reason string) error

	// ResetFailed resets every failed record for a job back to pending,
	// backing the admin reprocessing sweeper.
	ResetFailed(ctx context.Context, tenantID, jobID string) (int, error)

	// CountPending reports how many pending records remain for a job,
	// used by the Transform worker to decide whether a step's transform
	// sub-status can be marked finished.
	CountPending(ctx context.Context, tenantID, jobID string) (int, error)
}
