package models

// JobStatus is the top-level state of a Job row in the Job Registry.
// BeginRun moves a READY job to RUNNING. Complete ends the run: the SQLite
// registry stores a successful run as READY again (COMPLETED is not kept),
// so the next due schedule tick can start it, and a failed run as FAILED.
// BeginRun starts only READY jobs, so a FAILED job is not started again.
type JobStatus string

const (
	JobStatusReady     JobStatus = "READY"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusReady, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// StepName identifies one entity-type-scoped phase of a Job's pipeline (e.g.
// "projects", "issues", "comments"). Distinct from WorkerType: a Job chains
// an ordered sequence of StepNames, and each step is in turn worked on by
// all three worker types in sequence.
type StepName string

// WorkerType identifies which worker pool executes messages for a step.
type WorkerType string

const (
	WorkerTypeExtract   WorkerType = "extract"
	WorkerTypeTransform WorkerType = "transform"
	WorkerTypeEmbed     WorkerType = "embed"
)

// AllWorkerTypes returns every worker pool type, in pipeline order.
func AllWorkerTypes() []WorkerType {
	return []WorkerType{WorkerTypeExtract, WorkerTypeTransform, WorkerTypeEmbed}
}

// SubStatus is the per-(step, worker_type) cell tracked inside a Job's Steps,
// independent of the Job's own JobStatus. A step starts idle, moves to
// running when its first message is claimed, and to finished or failed when
// its last_job_item-flagged message is ACKed or dead-lettered.
type SubStatus string

const (
	SubStatusIdle     SubStatus = "idle"
	SubStatusRunning  SubStatus = "running"
	SubStatusFinished SubStatus = "finished"
	SubStatusFailed   SubStatus = "failed"
)
