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

// TargetStore implements interfaces.TargetStore: the generic Load destination.
type TargetStore struct {
	db     *DB
	logger arbor.ILogger
}

func NewTargetStore(db *DB, logger arbor.ILogger) *TargetStore {
	return &TargetStore{db: db, logger: logger}
}

var _ interfaces.TargetStore = (*TargetStore)(nil)

func (s *TargetStore) Upsert(ctx context.Context, row *models.TargetRow) error {
	fieldsJSON, err := json.Marshal(row.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal target row fields: %w", err)
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO target_rows (tenant_id, integration_id, entity_type, external_id, parent_external_id, fields_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, entity_type, external_id) DO UPDATE SET
			integration_id = excluded.integration_id,
			parent_external_id = excluded.parent_external_id,
			fields_json = excluded.fields_json,
			updated_at = excluded.updated_at`,
		row.TenantID, row.IntegrationID, row.EntityType, row.ExternalID, row.ParentExternalID, string(fieldsJSON),
		row.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert target row %s/%s: %w", row.EntityType, row.ExternalID, err)
	}
	return nil
}

func (s *TargetStore) UpsertBatch(ctx context.Context, rows []*models.TargetRow) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin target store batch transaction: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		fieldsJSON, err := json.Marshal(row.Fields)
		if err != nil {
			return fmt.Errorf("failed to marshal target row fields: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO target_rows (tenant_id, integration_id, entity_type, external_id, parent_external_id, fields_json, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tenant_id, entity_type, external_id) DO UPDATE SET
				integration_id = excluded.integration_id,
				parent_external_id = excluded.parent_external_id,
				fields_json = excluded.fields_json,
				updated_at = excluded.updated_at`,
			row.TenantID, row.IntegrationID, row.EntityType, row.ExternalID, row.ParentExternalID, string(fieldsJSON),
			row.UpdatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to upsert target row %s/%s in batch: %w", row.EntityType, row.ExternalID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit target store batch: %w", err)
	}
	return nil
}

func (s *TargetStore) Get(ctx context.Context, tenantID, entityType, externalID string) (*models.TargetRow, error) {
	var (
		row        models.TargetRow
		fieldsJSON string
		updatedAt  string
	)
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT tenant_id, integration_id, entity_type, external_id, parent_external_id, fields_json, updated_at
		FROM target_rows WHERE tenant_id = ? AND entity_type = ? AND external_id = ?`,
		tenantID, entityType, externalID,
	).Scan(&row.TenantID, &row.IntegrationID, &row.EntityType, &row.ExternalID, &row.ParentExternalID, &fieldsJSON, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get target row %s/%s: %w", entityType, externalID, err)
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &row.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal target row fields: %w", err)
	}
	if row.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &row, nil
}
