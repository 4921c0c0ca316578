// Package cache provides a read-through, TTL-expiring in-memory cache for
// Integration rows: every Get compares a cached entry's fetch time against
// a configured TTL and
// falls back to the backing IntegrationStorage once it has expired. This is
// the one permitted piece of global mutable state: a read-only cache of
// credentials that already live durably in SQLite.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/etlplatform/internal/interfaces"
	"github.com/ternarybob/etlplatform/internal/models"
)

type entry struct {
	integration *models.Integration
	fetchedAt   time.Time
}

// IntegrationCache wraps an IntegrationStorage with a TTL read cache, keyed
// by (tenant_id, integration_id).
type IntegrationCache struct {
	backing interfaces.IntegrationStorage
	ttl     time.Duration
	logger  arbor.ILogger

	mu      sync.RWMutex
	entries map[string]entry
}

func NewIntegrationCache(backing interfaces.IntegrationStorage, ttl time.Duration, logger arbor.ILogger) *IntegrationCache {
	return &IntegrationCache{
		backing: backing,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]entry),
	}
}

var _ interfaces.IntegrationStorage = (*IntegrationCache)(nil)

func key(tenantID, id string) string {
	return tenantID + "/" + id
}

func (c *IntegrationCache) Get(ctx context.Context, tenantID, id string) (*models.Integration, error) {
	cacheKey := key(tenantID, id)

	c.mu.RLock()
	e, ok := c.entries[cacheKey]
	c.mu.RUnlock()
	if ok && time.Since(e.fetchedAt) < c.ttl {
		return e.integration, nil
	}

	integration, err := c.backing.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[cacheKey] = entry{integration: integration, fetchedAt: time.Now()}
	c.mu.Unlock()

	return integration, nil
}

func (c *IntegrationCache) Create(ctx context.Context, integration *models.Integration) error {
	if err := c.backing.Create(ctx, integration); err != nil {
		return err
	}
	c.invalidate(integration.TenantID, integration.ID)
	return nil
}

func (c *IntegrationCache) Update(ctx context.Context, integration *models.Integration) error {
	if err := c.backing.Update(ctx, integration); err != nil {
		return err
	}
	c.invalidate(integration.TenantID, integration.ID)
	return nil
}

func (c *IntegrationCache) Delete(ctx context.Context, tenantID, id string) error {
	if err := c.backing.Delete(ctx, tenantID, id); err != nil {
		return err
	}
	c.invalidate(tenantID, id)
	return nil
}

func (c *IntegrationCache) List(ctx context.Context, tenantID string) ([]*models.Integration, error) {
	// List always goes straight to the backing store; caching a list result
	// would need its own invalidation rule for every single-row write above,
	// which isn't worth it for an endpoint that isn't on the hot path.
	return c.backing.List(ctx, tenantID)
}

func (c *IntegrationCache) invalidate(tenantID, id string) {
	c.mu.Lock()
	delete(c.entries, key(tenantID, id))
	c.mu.Unlock()
}
