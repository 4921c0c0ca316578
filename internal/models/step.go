package models

import "fmt"

// Step is one named entity-type-scoped phase within a Job (e.g. "issues",
// "comments"), chained by Order. Each step carries its own
// extraction/transform/embedding sub-status triple, so a job with N steps
// has 3N sub-status cells rather than one cell per worker type -- this is
// what lets "two-step job, second step empty" and similar per-entity-type
// scenarios be represented at all.
type Step struct {
	Name        StepName  `json:"name"`
	Order       int       `json:"order"`
	DisplayName string    `json:"display_name"`
	Extraction  SubStatus `json:"extraction"`
	Transform   SubStatus `json:"transform"`
	Embedding   SubStatus `json:"embedding"`
}

// NewStep builds a Step with every sub-status idle.
func NewStep(name StepName, order int, displayName string) Step {
	return Step{
		Name:        name,
		Order:       order,
		DisplayName: displayName,
		Extraction:  SubStatusIdle,
		Transform:   SubStatusIdle,
		Embedding:   SubStatusIdle,
	}
}

// SubStatus returns the sub-status cell for worker.
func (s *Step) SubStatus(worker WorkerType) SubStatus {
	switch worker {
	case WorkerTypeExtract:
		return s.Extraction
	case WorkerTypeTransform:
		return s.Transform
	case WorkerTypeEmbed:
		return s.Embedding
	default:
		return ""
	}
}

// SetSubStatus updates the sub-status cell for worker.
func (s *Step) SetSubStatus(worker WorkerType, value SubStatus) {
	switch worker {
	case WorkerTypeExtract:
		s.Extraction = value
	case WorkerTypeTransform:
		s.Transform = value
	case WorkerTypeEmbed:
		s.Embedding = value
	}
}

// ValidateStepOrder checks the dense 1..N ordering invariant steps must hold.
func ValidateStepOrder(steps []Step) error {
	for i, step := range steps {
		if step.Order != i+1 {
			return fmt.Errorf("step %q has order %d, expected dense order %d", step.Name, step.Order, i+1)
		}
	}
	return nil
}

// DefaultSteps returns the pipeline a Job should drive when the caller does
// not specify one explicitly, based on the Integration's source type. Jira
// gets a leading "discovery" step (see the jira adapter's Discover) ahead of
// its entity steps; GitHub has no server-side discovery concept beyond
// listing repositories, so it starts directly on pull requests.
func DefaultSteps(source SourceType) []Step {
	switch source {
	case SourceTypeJira:
		return []Step{
			NewStep("discovery", 1, "Discovery"),
			NewStep("issues", 2, "Issues"),
		}
	case SourceTypeGitHub:
		return []Step{
			NewStep("pull_requests", 1, "Pull Requests"),
			NewStep("commits", 2, "Commits"),
			NewStep("reviews", 3, "Reviews"),
			NewStep("comments", 4, "Comments"),
		}
	default:
		return []Step{NewStep("items", 1, "Items")}
	}
}
