package models

import "time"

// ProcessingStatus tracks a RawRecord through the staging table's monotonic
// lifecycle: pending -> transformed, or pending -> failed. Once transformed
// or failed a record is never revisited except by the admin reprocessing
// sweeper, which resets failed rows back to pending.
type ProcessingStatus string

const (
	ProcessingStatusPending     ProcessingStatus = "pending"
	ProcessingStatusTransformed ProcessingStatus = "transformed"
	ProcessingStatusFailed      ProcessingStatus = "failed"
)

// RawRecord is one append-only staging row written by an Extract worker
// before any transformation is attempted. ExternalID is the source system's
// own identifier (e.g. a Jira issue key), used for idempotent re-extraction.
type RawRecord struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenant_id"`
	JobID            string           `json:"job_id"`
	IntegrationID    string           `json:"integration_id"`
	ExternalID       string           `json:"external_id"`
	EntityType       string           `json:"entity_type"` // adapter-defined, e.g. "issue", "repository"
	ParentExternalID string           `json:"parent_external_id,omitempty"`
	Payload          []byte           `json:"payload"`      // raw JSON as returned by the source
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ExtractedAt      time.Time        `json:"extracted_at"`
	ProcessedAt      *time.Time       `json:"processed_at,omitempty"`
	Error            string           `json:"error,omitempty"`
}
