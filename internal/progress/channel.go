// Package progress implements the Progress Channel: an in-process pub/sub
// bus fanned out to websocket subscribers, strictly scoped per tenant.
package progress

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/etlplatform/internal/interfaces"
)

// Channel implements interfaces.ProgressChannel with an in-memory fan-out
// map keyed by tenant id. A slow or absent subscriber never blocks
// publishers: Publish sends non-blocking and drops the event for any
// subscriber whose buffer is full.
type Channel struct {
	mu          sync.RWMutex
	subscribers map[string][]chan interfaces.ProgressEvent
	logger      arbor.ILogger
}

func NewChannel(logger arbor.ILogger) *Channel {
	return &Channel{
		subscribers: make(map[string][]chan interfaces.ProgressEvent),
		logger:      logger,
	}
}

var _ interfaces.ProgressChannel = (*Channel)(nil)

func (c *Channel) Publish(ctx context.Context, event interfaces.ProgressEvent) error {
	c.mu.RLock()
	subs := c.subscribers[event.TenantID]
	c.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			c.logger.Warn().Str("tenant_id", event.TenantID).Msg("progress subscriber buffer full, dropping event")
		}
	}
	return nil
}

func (c *Channel) Subscribe(tenantID string) (<-chan interfaces.ProgressEvent, func()) {
	ch := make(chan interfaces.ProgressEvent, 64)

	c.mu.Lock()
	c.subscribers[tenantID] = append(c.subscribers[tenantID], ch)
	c.mu.Unlock()

	unsubscribe := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.subscribers[tenantID]
		for i, existing := range subs {
			if existing == ch {
				c.subscribers[tenantID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, unsubscribe
}
