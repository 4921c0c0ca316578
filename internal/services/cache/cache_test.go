package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/etlplatform/internal/models"
)

type countingBacking struct {
	integration *models.Integration
	getCalls    int
	listCalls   int
}

func (b *countingBacking) Create(ctx context.Context, integration *models.Integration) error {
	b.integration = integration
	return nil
}
func (b *countingBacking) Get(ctx context.Context, tenantID, id string) (*models.Integration, error) {
	b.getCalls++
	return b.integration, nil
}
func (b *countingBacking) List(ctx context.Context, tenantID string) ([]*models.Integration, error) {
	b.listCalls++
	return []*models.Integration{b.integration}, nil
}
func (b *countingBacking) Update(ctx context.Context, integration *models.Integration) error {
	b.integration = integration
	return nil
}
func (b *countingBacking) Delete(ctx context.Context, tenantID, id string) error {
	b.integration = nil
	return nil
}

func TestCacheGetHitsBackingOnlyOnce(t *testing.T) {
	backing := &countingBacking{integration: &models.Integration{ID: "int-1", TenantID: "tenant-1"}}
	c := NewIntegrationCache(backing, time.Minute, arbor.NewLogger())

	first, err := c.Get(context.Background(), "tenant-1", "int-1")
	require.NoError(t, err)
	second, err := c.Get(context.Background(), "tenant-1", "int-1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, backing.getCalls)
}

func TestCacheGetRefetchesAfterTTLExpires(t *testing.T) {
	backing := &countingBacking{integration: &models.Integration{ID: "int-1", TenantID: "tenant-1"}}
	c := NewIntegrationCache(backing, time.Millisecond, arbor.NewLogger())

	_, err := c.Get(context.Background(), "tenant-1", "int-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = c.Get(context.Background(), "tenant-1", "int-1")
	require.NoError(t, err)

	assert.Equal(t, 2, backing.getCalls)
}

func TestCacheInvalidatesOnUpdate(t *testing.T) {
	backing := &countingBacking{integration: &models.Integration{ID: "int-1", TenantID: "tenant-1", Type: "jira"}}
	c := NewIntegrationCache(backing, time.Hour, arbor.NewLogger())

	_, err := c.Get(context.Background(), "tenant-1", "int-1")
	require.NoError(t, err)
	assert.Equal(t, 1, backing.getCalls)

	updated := &models.Integration{ID: "int-1", TenantID: "tenant-1", Type: "github"}
	require.NoError(t, c.Update(context.Background(), updated))

	fetched, err := c.Get(context.Background(), "tenant-1", "int-1")
	require.NoError(t, err)

	assert.Equal(t, 2, backing.getCalls, "update must invalidate the cached entry so the next Get refetches")
	assert.Equal(t, models.SourceType("github"), fetched.Type)
}

func TestCacheInvalidatesOnDelete(t *testing.T) {
	backing := &countingBacking{integration: &models.Integration{ID: "int-1", TenantID: "tenant-1"}}
	c := NewIntegrationCache(backing, time.Hour, arbor.NewLogger())

	_, err := c.Get(context.Background(), "tenant-1", "int-1")
	require.NoError(t, err)

	require.NoError(t, c.Delete(context.Background(), "tenant-1", "int-1"))

	_, err = c.Get(context.Background(), "tenant-1", "int-1")
	require.NoError(t, err)
	assert.Equal(t, 2, backing.getCalls)
}

func TestCacheListAlwaysBypassesCache(t *testing.T) {
	backing := &countingBacking{integration: &models.Integration{ID: "int-1", TenantID: "tenant-1"}}
	c := NewIntegrationCache(backing, time.Hour, arbor.NewLogger())

	_, err := c.List(context.Background(), "tenant-1")
	require.NoError(t, err)
	_, err = c.List(context.Background(), "tenant-1")
	require.NoError(t, err)

	assert.Equal(t, 2, backing.listCalls)
	assert.Equal(t, 0, backing.getCalls)
}
