package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobType distinguishes a full resync from an incremental (watermark-based)
// extraction.
type JobType string

const (
	JobTypeFull        JobType = "full"
	JobTypeIncremental JobType = "incremental"
)

// Job is a scheduled or triggered unit of work against one Integration. It
// owns the Job Registry's state machine and an ordered, dense-numbered
// (1..N) list of Steps -- entity-type-scoped phases such as "issues" then
// "comments" -- that let the Orchestrator and workers tell which stage of
// Extract -> Transform -> Embed, for which entity type, a run is currently
// in, independent of the coarse JobStatus.
type Job struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	IntegrationID string    `json:"integration_id"`
	Type          JobType   `json:"type"`
	Status        JobStatus `json:"status"`

	// Version is incremented on every successful begin_run CAS and used as
	// the compare value for the next one, so two concurrent orchestrator
	// ticks can never both win a transition out of READY.
	Version int64 `json:"version"`

	// Steps is the ordered pipeline this job drives. The extract worker
	// chains Steps[k] to Steps[k+1] once Steps[k] has streamed every item
	// for every container; overall_status=COMPLETED requires every step's
	// Embedding sub-status to be finished.
	Steps []Step `json:"steps"`

	// Watermarks holds the per-step incremental cursor an extractor resumes
	// from, keyed by Step.Name. Absent/empty for a full run or a step's
	// first run.
	Watermarks map[StepName]string `json:"watermarks,omitempty"`

	ScheduleInterval string     `json:"schedule_interval,omitempty"` // cron expression or Go duration; empty means trigger-only
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
}

// NewJob constructs a Job in its initial READY state with the given steps,
// every sub-status idle. Callers typically build steps with DefaultSteps or
// an explicit []Step from the Control API request.
func NewJob(id, tenantID, integrationID string, jobType JobType, steps []Step) *Job {
	return &Job{
		ID:            id,
		TenantID:      tenantID,
		IntegrationID: integrationID,
		Type:          jobType,
		Status:        JobStatusReady,
		Steps:         steps,
		Watermarks:    make(map[StepName]string),
		CreatedAt:     time.Now().UTC(),
	}
}

// ResetSteps returns every step's sub-statuses to idle, called at the start
// of begin_run.
func (j *Job) ResetSteps() {
	for i := range j.Steps {
		j.Steps[i].Extraction = SubStatusIdle
		j.Steps[i].Transform = SubStatusIdle
		j.Steps[i].Embedding = SubStatusIdle
	}
}

// IsTerminal reports whether the job has finished its current run.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// StepByName returns the step named name and its index, if present.
func (j *Job) StepByName(name StepName) (*Step, int, bool) {
	for i := range j.Steps {
		if j.Steps[i].Name == name {
			return &j.Steps[i], i, true
		}
	}
	return nil, -1, false
}

// NextStep returns the step immediately after the one named current, if the
// job has one -- the target of the extract worker's step-chaining publish.
func (j *Job) NextStep(current StepName) (*Step, bool) {
	_, idx, ok := j.StepByName(current)
	if !ok || idx+1 >= len(j.Steps) {
		return nil, false
	}
	return &j.Steps[idx+1], true
}

// IsLastStep reports whether name is the final step in the pipeline.
func (j *Job) IsLastStep(name StepName) bool {
	_, idx, ok := j.StepByName(name)
	return ok && idx == len(j.Steps)-1
}

// AllEmbeddingFinished reports whether every step's embedding sub-status has
// finished -- the condition overall_status=COMPLETED requires.
func (j *Job) AllEmbeddingFinished() bool {
	if len(j.Steps) == 0 {
		return false
	}
	for _, s := range j.Steps {
		if s.Embedding != SubStatusFinished {
			return false
		}
	}
	return true
}

// AnyStepFailed reports whether any step has a failed sub-status cell.
func (j *Job) AnyStepFailed() bool {
	for _, s := range j.Steps {
		if s.Extraction == SubStatusFailed || s.Transform == SubStatusFailed || s.Embedding == SubStatusFailed {
			return true
		}
	}
	return false
}

// ToJSON serializes the job.
func (j *Job) ToJSON() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}
	return string(data), nil
}

// JobFromJSON parses a Job previously serialized with ToJSON.
func JobFromJSON(data string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &j, nil
}
