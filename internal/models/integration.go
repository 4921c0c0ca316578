package models

import "time"

// Integration binds a Tenant to one external source, with credentials the
// adapter alone knows how to decode and a bounded set of field-mapping
// settings the Transform worker consults.
type Integration struct {
	ID       string     `json:"id"`
	TenantID string     `json:"tenant_id"`
	Type     SourceType `json:"type"`
	Name     string     `json:"name"`

	// Credentials is an opaque, encrypted blob. Only the matching
	// SourceAdapter implementation decodes it; no other component inspects
	// its contents.
	Credentials []byte `json:"-"`

	// Settings carries adapter-specific configuration (base URLs, project
	// keys, repo slugs) plus CustomFieldMappings below.
	Settings map[string]interface{} `json:"settings"`

	// CustomFieldMappings maps a source-specific field id (e.g. Jira's
	// "customfield_10042") to a stable target column name. Capped at 20
	// entries by the Control API's integration-create handler, which checks
	// the length itself; the `validate` tag is not evaluated anywhere.
	CustomFieldMappings map[string]string `json:"custom_field_mappings" validate:"max=20"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
