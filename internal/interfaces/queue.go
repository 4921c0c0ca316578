package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/etlplatform/internal/models"
)

// ErrNoMessage is returned by Receive when no message is currently visible.
var ErrNoMessage = errors.New("queue: no message available")

// QueueBroker is a multi-producer/multi-consumer message queue with
// per-message ACK, a visibility timeout that makes an unacked message
// reappear for another consumer, a redelivery counter, and dead-lettering
// of a NACKed message once its receive count has reached its configured
// maximum. Queues are
// selected by models.WorkerType; within a queue, messages are drained highest
// models.Priority first, FIFO within a priority band.
type QueueBroker interface {
	// Publish enqueues a message, immediately visible to consumers.
	Publish(ctx context.Context, msg *models.QueueMessage) error

	// Receive claims the next visible message from queue, setting its
	// visibility timeout so no other consumer can claim it until either it
	// is ACKed/NACKed or the timeout elapses. Returns ErrNoMessage if empty.
	Receive(ctx context.Context, queue models.WorkerType, visibilityTimeout int64) (*models.QueueMessage, error)

	// Ack permanently removes a message after successful processing.
	Ack(ctx context.Context, messageID string) error

	// Nack makes a message immediately visible again for redelivery, or
	// dead-letters it if its receive count (incremented by Receive) has
	// reached MaxReceiveCount.
	Nack(ctx context.Context, messageID, reason string) error

	// Depth reports the number of currently-visible-or-pending messages in
	// a queue, used for extract-worker backpressure.
	Depth(ctx context.Context, queue models.WorkerType) (int, error)

	// ListDeadLetters returns dead-lettered messages for a tenant, backing
	// the admin dead-letter inspection endpoint.
	ListDeadLetters(ctx context.Context, tenantID string) ([]*models.QueueMessage, error)

	// Replay moves a dead-lettered message back into its original queue
	// with a reset receive count, backing the admin replay endpoint.
	Replay(ctx context.Context, messageID string) error
}
