// Package vectorstore implements the Vector Store on the same embedded
// Badger engine the Queue Broker uses, namespaced by (tenant_id, collection)
// the way badgerhold.Where indexes queue messages by queue name.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/etlplatform/internal/interfaces"
	"github.com/ternarybob/etlplatform/internal/models"
)

type record struct {
	Key        string `badgerholdKey:"Key"`
	TenantID   string `badgerholdIndex:"TenantID"`
	Collection string
	ExternalID string
	Vector     []float32
	Dimension  int
	Metadata   map[string]interface{}
	UpdatedAt  time.Time
}

func recordKey(tenantID, collection, externalID string) string {
	return tenantID + "/" + collection + "/" + externalID
}

// Store implements interfaces.VectorStore.
type Store struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewStore opens (or creates) a badgerhold store at path.
func NewStore(path string, logger arbor.ILogger) (*Store, error) {
	opts := badgerhold.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.Logger = nil

	bh, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store at %s: %w", path, err)
	}
	return &Store{store: bh, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.store.Close()
}

var _ interfaces.VectorStore = (*Store)(nil)

func (s *Store) Upsert(ctx context.Context, v *models.VectorRecord) error {
	key := recordKey(v.TenantID, v.Collection, v.ExternalID)
	r := &record{
		Key:        key,
		TenantID:   v.TenantID,
		Collection: v.Collection,
		ExternalID: v.ExternalID,
		Vector:     v.Vector,
		Dimension:  v.Dimension,
		Metadata:   v.Metadata,
		UpdatedAt:  v.UpdatedAt,
	}
	if err := s.store.Upsert(key, r); err != nil {
		return fmt.Errorf("failed to upsert vector %s: %w", key, err)
	}
	return nil
}

func (s *Store) UpsertBatch(ctx context.Context, records []*models.VectorRecord) error {
	for _, v := range records {
		if err := s.Upsert(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tenantID, collection, externalID string) (*models.VectorRecord, error) {
	var r record
	key := recordKey(tenantID, collection, externalID)
	if err := s.store.Get(key, &r); err != nil {
		return nil, fmt.Errorf("failed to get vector %s: %w", key, err)
	}
	return fromRecord(&r), nil
}

func (s *Store) Delete(ctx context.Context, tenantID, collection, externalID string) error {
	key := recordKey(tenantID, collection, externalID)
	if err := s.store.Delete(key, &record{}); err != nil {
		return fmt.Errorf("failed to delete vector %s: %w", key, err)
	}
	return nil
}

// Search performs an exhaustive cosine-similarity scan scoped to one
// tenant's collection. Badger has no native ANN index; this is adequate for
// per-tenant collections bounded to the tens of thousands of rows this
// platform targets, and keeps the store dependency-free beyond badgerhold.
func (s *Store) Search(ctx context.Context, tenantID, collection string, query []float32, topK int) ([]*models.VectorRecord, error) {
	var records []record
	err := s.store.Find(&records, badgerhold.Where("TenantID").Eq(tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to scan collection %s: %w", collection, err)
	}

	type scored struct {
		record *record
		score  float64
	}
	var candidates []scored
	for i := range records {
		if records[i].Collection != collection {
			continue
		}
		candidates = append(candidates, scored{record: &records[i], score: cosineSimilarity(query, records[i].Vector)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if topK > len(candidates) {
		topK = len(candidates)
	}
	result := make([]*models.VectorRecord, 0, topK)
	for i := 0; i < topK; i++ {
		result = append(result, fromRecord(candidates[i].record))
	}
	return result, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func fromRecord(r *record) *models.VectorRecord {
	return &models.VectorRecord{
		TenantID:   r.TenantID,
		Collection: r.Collection,
		ExternalID: r.ExternalID,
		Vector:     r.Vector,
		Dimension:  r.Dimension,
		Metadata:   r.Metadata,
		UpdatedAt:  r.UpdatedAt,
	}
}
