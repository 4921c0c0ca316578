package interfaces

import (
	"context"

	"github.com/ternarybob/etlplatform/internal/models"
)

// VectorStore persists embeddings and answers nearest-neighbor queries,
// namespaced by (tenant_id, collection).
type VectorStore interface {
	Upsert(ctx context.Context, record *models.VectorRecord) error
	UpsertBatch(ctx context.Context, records []*models.VectorRecord) error
	Get(ctx context.Context, tenantID, collection, externalID string) (*models.VectorRecord, error)
	Delete(ctx context.Context, tenantID, collection, externalID string) error

	// Search returns the topK nearest records to query by cosine similarity,
	// scoped to one tenant's collection.
	Search(ctx context.Context, tenantID, collection string, query []float32, topK int) ([]*models.VectorRecord, error)
}

// TargetStore is the generic relational Load destination.
type TargetStore interface {
	Upsert(ctx context.Context, row *models.TargetRow) error
	UpsertBatch(ctx context.Context, rows []*models.TargetRow) error
	Get(ctx context.Context, tenantID, entityType, externalID string) (*models.TargetRow, error)
}
