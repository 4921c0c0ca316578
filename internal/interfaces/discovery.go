package interfaces

import (
	"context"
)

// DiscoveryCatalog persists the custom-field and issue-type metadata a
// source adapter's Discover call observes (Jira-specific; GitHub never
// populates it). Each call upserts seen/last-seen timestamps and marks the
// row active; entries not reported in a given Discover call are left in
// place rather than deactivated, since a single discovery covers only the
// containers passed to it.
type DiscoveryCatalog interface {
	// UpsertCustomFields records a container's observed custom fields,
	// bumping last_seen_at and setting active=true for each.
	UpsertCustomFields(ctx context.Context, tenantID, integrationID, container string, fields []CustomFieldInfo) error

	// UpsertIssueTypes records a container's observed issue types, bumping
	// last_seen_at and setting active=true for each.
	UpsertIssueTypes(ctx context.Context, tenantID, integrationID, container string, issueTypes []IssueTypeInfo) error
}
