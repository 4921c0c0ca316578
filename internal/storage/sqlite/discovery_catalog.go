package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/etlplatform/internal/interfaces"
)

// DiscoveryCatalog implements interfaces.DiscoveryCatalog.
type DiscoveryCatalog struct {
	db     *DB
	logger arbor.ILogger
}

func NewDiscoveryCatalog(db *DB, logger arbor.ILogger) *DiscoveryCatalog {
	return &DiscoveryCatalog{db: db, logger: logger}
}

var _ interfaces.DiscoveryCatalog = (*DiscoveryCatalog)(nil)

func (s *DiscoveryCatalog) UpsertCustomFields(ctx context.Context, tenantID, integrationID, container string, fields []interfaces.CustomFieldInfo) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin custom field catalog transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, f := range fields {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO custom_field_catalog (tenant_id, integration_id, container, field_id, field_name, first_seen_at, last_seen_at, active)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(tenant_id, integration_id, container, field_id) DO UPDATE SET
				field_name = excluded.field_name,
				last_seen_at = excluded.last_seen_at,
				active = 1`,
			tenantID, integrationID, container, f.ID, f.Name, now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert custom field %s for container %s: %w", f.ID, container, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit custom field catalog upsert: %w", err)
	}
	return nil
}

func (s *DiscoveryCatalog) UpsertIssueTypes(ctx context.Context, tenantID, integrationID, container string, issueTypes []interfaces.IssueTypeInfo) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin issue type catalog transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, it := range issueTypes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO issue_type_catalog (tenant_id, integration_id, container, issue_type_id, issue_type_name, first_seen_at, last_seen_at, active)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(tenant_id, integration_id, container, issue_type_id) DO UPDATE SET
				issue_type_name = excluded.issue_type_name,
				last_seen_at = excluded.last_seen_at,
				active = 1`,
			tenantID, integrationID, container, it.ID, it.Name, now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert issue type %s for container %s: %w", it.ID, container, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit issue type catalog upsert: %w", err)
	}
	return nil
}
