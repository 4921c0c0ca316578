package interfaces

import "context"

// ProgressEvent is a tenant-scoped status update fanned out over the
// Progress Channel (websocket transport in internal/progress).
type ProgressEvent struct {
	TenantID string                 `json:"tenant_id"`
	JobID    string                 `json:"job_id"`
	Step     string                 `json:"step,omitempty"`
	Kind     string                 `json:"kind"` // "status_changed", "counter", "error"
	Data     map[string]interface{} `json:"data,omitempty"`
}

// ProgressChannel publishes job progress to subscribed clients, strictly
// scoped per tenant: a subscriber never receives another tenant's events.
type ProgressChannel interface {
	Publish(ctx context.Context, event ProgressEvent) error
	Subscribe(tenantID string) (<-chan ProgressEvent, func())
}
