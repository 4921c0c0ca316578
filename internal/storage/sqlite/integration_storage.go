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

// IntegrationStorage implements interfaces.IntegrationStorage.
type IntegrationStorage struct {
	db     *DB
	logger arbor.ILogger
}

func NewIntegrationStorage(db *DB, logger arbor.ILogger) *IntegrationStorage {
	return &IntegrationStorage{db: db, logger: logger}
}

var _ interfaces.IntegrationStorage = (*IntegrationStorage)(nil)

func (s *IntegrationStorage) Create(ctx context.Context, integration *models.Integration) error {
	settingsJSON, err := json.Marshal(integration.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal integration settings: %w", err)
	}
	fieldsJSON, err := json.Marshal(integration.CustomFieldMappings)
	if err != nil {
		return fmt.Errorf("failed to marshal custom field mappings: %w", err)
	}

	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO integrations (id, tenant_id, type, name, credentials, settings_json, custom_fields_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			credentials = excluded.credentials,
			settings_json = excluded.settings_json,
			custom_fields_json = excluded.custom_fields_json,
			updated_at = excluded.updated_at`,
		integration.ID, integration.TenantID, string(integration.Type), integration.Name,
		integration.Credentials, string(settingsJSON), string(fieldsJSON),
		integration.CreatedAt.UTC().Format(time.RFC3339Nano), integration.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert integration %s: %w", integration.ID, err)
	}
	return nil
}

func (s *IntegrationStorage) Get(ctx context.Context, tenantID, id string) (*models.Integration, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT id, tenant_id, type, name, credentials, settings_json, custom_fields_json, created_at, updated_at
		FROM integrations WHERE tenant_id = ? AND id = ?`, tenantID, id)
	integration, err := scanIntegration(row)
	if err != nil {
		return nil, err
	}
	return integration, nil
}

func (s *IntegrationStorage) List(ctx context.Context, tenantID string) ([]*models.Integration, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, tenant_id, type, name, credentials, settings_json, custom_fields_json, created_at, updated_at
		FROM integrations WHERE tenant_id = ? ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query integrations: %w", err)
	}
	defer rows.Close()

	var result []*models.Integration
	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, integration)
	}
	return result, rows.Err()
}

func (s *IntegrationStorage) Update(ctx context.Context, integration *models.Integration) error {
	integration.UpdatedAt = time.Now().UTC()
	return s.Create(ctx, integration)
}

func (s *IntegrationStorage) Delete(ctx context.Context, tenantID, id string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM integrations WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete integration %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanIntegration(row scanner) (*models.Integration, error) {
	var (
		integration                     models.Integration
		sourceType                      string
		settingsJSON, customFieldsJSON  string
		createdAt, updatedAt            string
	)
	if err := row.Scan(&integration.ID, &integration.TenantID, &sourceType, &integration.Name,
		&integration.Credentials, &settingsJSON, &customFieldsJSON, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan integration: %w", err)
	}
	integration.Type = models.SourceType(sourceType)

	if err := json.Unmarshal([]byte(settingsJSON), &integration.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal integration settings: %w", err)
	}
	if err := json.Unmarshal([]byte(customFieldsJSON), &integration.CustomFieldMappings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal custom field mappings: %w", err)
	}

	var err error
	if integration.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if integration.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &integration, nil
}

// TenantStorage implements interfaces.TenantStorage.
type TenantStorage struct {
	db     *DB
	logger arbor.ILogger
}

func NewTenantStorage(db *DB, logger arbor.ILogger) *TenantStorage {
	return &TenantStorage{db: db, logger: logger}
}

var _ interfaces.TenantStorage = (*TenantStorage)(nil)

func (s *TenantStorage) Create(ctx context.Context, tenant *models.Tenant) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO tenants (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		tenant.ID, tenant.Name, tenant.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert tenant %s: %w", tenant.ID, err)
	}
	return nil
}

func (s *TenantStorage) Get(ctx context.Context, id string) (*models.Tenant, error) {
	var tenant models.Tenant
	var createdAt string
	err := s.db.conn.QueryRowContext(ctx, `SELECT id, name, created_at FROM tenants WHERE id = ?`, id).
		Scan(&tenant.ID, &tenant.Name, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant %s: %w", id, err)
	}
	tenant.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tenant created_at: %w", err)
	}
	return &tenant, nil
}

func (s *TenantStorage) List(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT id, name, created_at FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var result []*models.Tenant
	for rows.Next() {
		var tenant models.Tenant
		var createdAt string
		if err := rows.Scan(&tenant.ID, &tenant.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		if tenant.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse tenant created_at: %w", err)
		}
		result = append(result, &tenant)
	}
	return result, rows.Err()
}
