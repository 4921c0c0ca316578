package models

import "time"

// Priority is a fixed queue priority band. Higher values are drained first;
// Higher values are served first within a step's queue.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	default:
		return false
	}
}

// QueueMessage is the envelope every worker pool consumes. The three flags
// form the "bracket" protocol that lets a downstream worker type know, without
// any other coordination, when a batch from an upstream stage has fully
// arrived: FirstItem marks the first message of a batch, LastItem marks the
// last message of that specific batch, and LastJobItem is carried only by
// messages of the job's last step: its extract message, its final transform
// message, and the zero-payload embed marker the transform worker emits once
// no raw records are pending. Messages of earlier steps never carry it.
type QueueMessage struct {
	ID       string     `json:"id"`
	TenantID string     `json:"tenant_id"`
	JobID    string     `json:"job_id"`
	Queue    WorkerType `json:"queue"`              // target queue: extract/transform/embed
	Step     StepName   `json:"step_name,omitempty"` // entity-type-scoped phase this message belongs to
	Priority Priority   `json:"priority"`

	Payload []byte `json:"payload"`

	FirstItem   bool `json:"first_item"`
	LastItem    bool `json:"last_item"`
	LastJobItem bool `json:"last_job_item"`

	EnqueuedAt        time.Time  `json:"enqueued_at"`
	VisibleAt         time.Time  `json:"visible_at"` // message is invisible to consumers until this time
	ReceiveCount      int        `json:"receive_count"`
	MaxReceiveCount   int        `json:"max_receive_count"`
	LastReceivedAt    *time.Time `json:"last_received_at,omitempty"`
	DeadLettered      bool       `json:"dead_lettered"`
	DeadLetterReason  string     `json:"dead_letter_reason,omitempty"`
}

// NewQueueMessage constructs a message with sane defaults; callers set the
// bracket flags explicitly once batch boundaries are known.
func NewQueueMessage(id, tenantID, jobID string, queue WorkerType, priority Priority, payload []byte, maxReceive int) *QueueMessage {
	now := time.Now().UTC()
	return &QueueMessage{
		ID:              id,
		TenantID:        tenantID,
		JobID:           jobID,
		Queue:           queue,
		Priority:        priority,
		Payload:         payload,
		EnqueuedAt:      now,
		VisibleAt:       now,
		MaxReceiveCount: maxReceive,
	}
}

// ShouldDeadLetter reports whether another redelivery would exceed the
// message's configured retry budget.
func (m *QueueMessage) ShouldDeadLetter() bool {
	return m.ReceiveCount >= m.MaxReceiveCount
}
