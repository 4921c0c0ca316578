package models

import "time"

// TargetRow is a generic upserted row in the relational Load destination.
// EntityType plus TenantID plus ExternalID is the natural key every Load
// upsert conflicts on; Fields holds the entity's mapped columns, including
// any CustomFieldMappings resolved values, as a flat string-keyed map so the
// Load step can stay schema-agnostic across Jira issues, GitHub PRs, etc.
type TargetRow struct {
	TenantID      string                 `json:"tenant_id"`
	IntegrationID string                 `json:"integration_id"`
	EntityType    string                 `json:"entity_type"`
	ExternalID    string                 `json:"external_id"`

	// ParentExternalID preserves a graph edge to another target row (e.g. a
	// GitHub review's owning pull request), empty for entities with no
	// parent. It is not part of the upsert key: an entity type's rows are
	// still keyed by (external_id, tenant_id) alone.
	ParentExternalID string `json:"parent_external_id,omitempty"`

	Fields    map[string]interface{} `json:"fields"`
	UpdatedAt time.Time              `json:"updated_at"`
}
