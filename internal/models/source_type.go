package models

// SourceType identifies which Source Adapter Contract implementation an
// Integration binds to.
type SourceType string

const (
	SourceTypeJira   SourceType = "jira"
	SourceTypeGitHub SourceType = "github"
)

// IsValid reports whether s is a known source type.
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypeJira, SourceTypeGitHub:
		return true
	default:
		return false
	}
}

// AllSourceTypes returns every registered source type.
func AllSourceTypes() []SourceType {
	return []SourceType{SourceTypeJira, SourceTypeGitHub}
}
