package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSteps() []Step {
	return DefaultSteps(SourceTypeGitHub)
}

func TestNewJob(t *testing.T) {
	job := NewJob("job-1", "tenant-1", "integration-1", JobTypeFull, testSteps())

	assert.Equal(t, JobStatusReady, job.Status)
	assert.Equal(t, int64(0), job.Version)
	require.Len(t, job.Steps, 4)
	for _, step := range job.Steps {
		assert.Equal(t, SubStatusIdle, step.Extraction)
		assert.Equal(t, SubStatusIdle, step.Transform)
		assert.Equal(t, SubStatusIdle, step.Embedding)
	}
	assert.False(t, job.IsTerminal())
}

func TestJobResetSteps(t *testing.T) {
	job := NewJob("job-1", "tenant-1", "integration-1", JobTypeIncremental, testSteps())
	job.Steps[0].Extraction = SubStatusFinished
	job.Steps[1].Transform = SubStatusFailed

	job.ResetSteps()

	for _, step := range job.Steps {
		assert.Equal(t, SubStatusIdle, step.Extraction)
		assert.Equal(t, SubStatusIdle, step.Transform)
		assert.Equal(t, SubStatusIdle, step.Embedding)
	}
}

func TestJobIsTerminal(t *testing.T) {
	job := NewJob("job-1", "tenant-1", "integration-1", JobTypeFull, testSteps())

	job.Status = JobStatusRunning
	assert.False(t, job.IsTerminal())

	job.Status = JobStatusCompleted
	assert.True(t, job.IsTerminal())

	job.Status = JobStatusFailed
	assert.True(t, job.IsTerminal())
}

func TestJobStepByNameAndNextStep(t *testing.T) {
	job := NewJob("job-1", "tenant-1", "integration-1", JobTypeFull, testSteps())

	step, idx, ok := job.StepByName("commits")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, StepName("commits"), step.Name)

	next, ok := job.NextStep("commits")
	require.True(t, ok)
	assert.Equal(t, StepName("reviews"), next.Name)

	_, ok = job.NextStep("comments")
	assert.False(t, ok)

	assert.True(t, job.IsLastStep("comments"))
	assert.False(t, job.IsLastStep("pull_requests"))
}

func TestJobAllEmbeddingFinishedAndAnyStepFailed(t *testing.T) {
	job := NewJob("job-1", "tenant-1", "integration-1", JobTypeFull, testSteps())
	assert.False(t, job.AllEmbeddingFinished())
	assert.False(t, job.AnyStepFailed())

	for i := range job.Steps {
		job.Steps[i].Embedding = SubStatusFinished
	}
	assert.True(t, job.AllEmbeddingFinished())

	job.Steps[2].Transform = SubStatusFailed
	assert.True(t, job.AnyStepFailed())
}

func TestJobJSONRoundTrip(t *testing.T) {
	job := NewJob("job-1", "tenant-1", "integration-1", JobTypeFull, testSteps())
	job.ScheduleInterval = "0 * * * *"
	job.Watermarks["pull_requests"] = "2026-01-01T00:00:00Z"

	encoded, err := job.ToJSON()
	require.NoError(t, err)

	decoded, err := JobFromJSON(encoded)
	require.NoError(t, err)

	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, job.ScheduleInterval, decoded.ScheduleInterval)
	assert.Equal(t, job.Steps, decoded.Steps)
	assert.Equal(t, job.Watermarks, decoded.Watermarks)
}

func TestJobFromJSONInvalid(t *testing.T) {
	_, err := JobFromJSON("not json")
	assert.Error(t, err)
}
