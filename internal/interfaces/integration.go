package interfaces

import (
	"context"

	"github.com/ternarybob/etlplatform/internal/models"
)

// IntegrationStorage persists Integration rows, scoped per tenant.
type IntegrationStorage interface {
	Create(ctx context.Context, integration *models.Integration) error
	Get(ctx context.Context, tenantID, id string) (*models.Integration, error)
	List(ctx context.Context, tenantID string) ([]*models.Integration, error)
	Update(ctx context.Context, integration *models.Integration) error
	Delete(ctx context.Context, tenantID, id string) error
}

// TenantStorage persists Tenant rows.
type TenantStorage interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	Get(ctx context.Context, id string) (*models.Tenant, error)
	List(ctx context.Context) ([]*models.Tenant, error)
}
