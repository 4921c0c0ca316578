package interfaces

import (
	"context"

	"github.com/ternarybob/etlplatform/internal/models"
)

// ExtractedItem is one unit of source data returned by a SourceAdapter,
// ready to become a RawRecord.
type ExtractedItem struct {
	ExternalID string
	EntityType string

	// ParentExternalID preserves a graph edge to another entity extracted in
	// an earlier step (e.g. a GitHub review's owning pull request), empty
	// for entities with no parent.
	ParentExternalID string

	Payload []byte
}

// ExtractPage is one page of results plus the cursor to resume from, so the
// Extract worker can emit first_item/last_item flags without the adapter
// knowing anything about queue brackets.
type ExtractPage struct {
	Items      []ExtractedItem
	NextCursor string // empty once exhausted
}

// CustomFieldInfo is one custom field an adapter observed while discovering
// an integration's schema (Jira custom fields; no analogue for GitHub).
type CustomFieldInfo struct {
	ID   string
	Name string
}

// IssueTypeInfo is one issue/work-item type an adapter observed while
// discovering an integration's schema.
type IssueTypeInfo struct {
	ID   string
	Name string
}

// DiscoverResult is what a SourceAdapter's Discover call returns: the
// containers (Jira project keys, GitHub repo names) a job's steps should
// iterate, plus any schema metadata the adapter can report about the
// integration. CustomFields/IssueTypes are Jira-specific; GitHub's
// implementation returns them empty.
type DiscoverResult struct {
	Containers   []string
	CustomFields []CustomFieldInfo
	IssueTypes   []IssueTypeInfo
}

// SourceAdapter is the pluggable contract an external system (Jira, GitHub)
// implements. Exactly one adapter is bound to an Integration via its
// SourceType.
type SourceAdapter interface {
	// SupportedEntities lists the entity types this adapter can extract
	// (e.g. "issues", "pull_requests", "commits").
	SupportedEntities() []string

	// Discover returns the source-side containers the integration should
	// extract from, plus (for Jira) the custom-field and issue-type catalog
	// entries observed at the integration's site.
	Discover(ctx context.Context, integration *models.Integration) (*DiscoverResult, error)

	// Extract pulls one page of items of entityType for a container,
	// starting from cursor (empty for the first page, or a watermark for
	// incremental runs). batchSize bounds the page size.
	Extract(ctx context.Context, integration *models.Integration, entityType, container, cursor string, batchSize int) (*ExtractPage, error)
}
