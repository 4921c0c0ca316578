// Package queue implements the Queue Broker on an embedded Badger store via
// badgerhold: a single
// Badger database holds typed records, indexed fields are queried through
// badgerhold.Where, and visibility timeouts are implemented by storing a
// visible_at timestamp each Receive bumps forward.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/etlplatform/internal/interfaces"
	"github.com/ternarybob/etlplatform/internal/models"
)

// record is the badgerhold-stored shape of a queue message. badgerhold needs
// an explicit key, so ID is also the store key.
type record struct {
	ID               string `badgerholdKey:"ID"`
	TenantID         string
	JobID            string
	Queue            string `badgerholdIndex:"Queue"`
	Step             string
	Priority         int
	Payload          []byte
	FirstItem        bool
	LastItem         bool
	LastJobItem      bool
	EnqueuedAt       time.Time
	VisibleAt        time.Time `badgerholdIndex:"VisibleAt"`
	ReceiveCount     int
	MaxReceiveCount  int
	LastReceivedAt   *time.Time
	DeadLettered     bool `badgerholdIndex:"DeadLettered"`
	DeadLetterReason string
}

func toRecord(m *models.QueueMessage) *record {
	return &record{
		ID:               m.ID,
		TenantID:         m.TenantID,
		JobID:            m.JobID,
		Queue:            string(m.Queue),
		Step:             string(m.Step),
		Priority:         int(m.Priority),
		Payload:          m.Payload,
		FirstItem:        m.FirstItem,
		LastItem:         m.LastItem,
		LastJobItem:      m.LastJobItem,
		EnqueuedAt:       m.EnqueuedAt,
		VisibleAt:        m.VisibleAt,
		ReceiveCount:     m.ReceiveCount,
		MaxReceiveCount:  m.MaxReceiveCount,
		LastReceivedAt:   m.LastReceivedAt,
		DeadLettered:     m.DeadLettered,
		DeadLetterReason: m.DeadLetterReason,
	}
}

func fromRecord(r *record) *models.QueueMessage {
	return &models.QueueMessage{
		ID:               r.ID,
		TenantID:         r.TenantID,
		JobID:            r.JobID,
		Queue:            models.WorkerType(r.Queue),
		Step:             models.StepName(r.Step),
		Priority:         models.Priority(r.Priority),
		Payload:          r.Payload,
		FirstItem:        r.FirstItem,
		LastItem:         r.LastItem,
		LastJobItem:      r.LastJobItem,
		EnqueuedAt:       r.EnqueuedAt,
		VisibleAt:        r.VisibleAt,
		ReceiveCount:     r.ReceiveCount,
		MaxReceiveCount:  r.MaxReceiveCount,
		LastReceivedAt:   r.LastReceivedAt,
		DeadLettered:     r.DeadLettered,
		DeadLetterReason: r.DeadLetterReason,
	}
}

// Broker implements interfaces.QueueBroker on top of a badgerhold.Store.
type Broker struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewBroker opens (or creates) a badgerhold store at path.
func NewBroker(path string, logger arbor.ILogger) (*Broker, error) {
	opts := badgerhold.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.Logger = nil // Badger's own logger is noisy; arbor carries our logging.

	store, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store at %s: %w", path, err)
	}
	return &Broker{store: store, logger: logger}, nil
}

// Close releases the underlying Badger database.
func (b *Broker) Close() error {
	return b.store.Close()
}

var _ interfaces.QueueBroker = (*Broker)(nil)

func (b *Broker) Publish(ctx context.Context, msg *models.QueueMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	r := toRecord(msg)
	if err := b.store.Insert(r.ID, r); err != nil {
		return fmt.Errorf("failed to publish message to queue %s: %w", msg.Queue, err)
	}
	return nil
}

// Receive scans for the highest-priority, earliest-enqueued message in queue
// whose VisibleAt has passed and which is not dead-lettered, then bumps its
// VisibleAt forward by visibilityTimeout seconds and increments ReceiveCount
// so a concurrent consumer cannot also claim it.
func (b *Broker) Receive(ctx context.Context, queue models.WorkerType, visibilityTimeout int64) (*models.QueueMessage, error) {
	now := time.Now().UTC()
	var candidates []record
	err := b.store.Find(&candidates, badgerhold.Where("Queue").Eq(string(queue)).
		And("DeadLettered").Eq(false).
		And("VisibleAt").Le(now))
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue %s: %w", queue, err)
	}
	if len(candidates) == 0 {
		return nil, interfaces.ErrNoMessage
	}

	best := selectHighestPriority(candidates)

	best.VisibleAt = now.Add(time.Duration(visibilityTimeout) * time.Second)
	best.ReceiveCount++
	lastReceived := now
	best.LastReceivedAt = &lastReceived

	if err := b.store.Update(best.ID, best); err != nil {
		return nil, fmt.Errorf("failed to claim message %s: %w", best.ID, err)
	}
	return fromRecord(best), nil
}

func selectHighestPriority(candidates []record) *record {
	best := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		c := &candidates[i]
		if c.Priority > best.Priority || (c.Priority == best.Priority && c.EnqueuedAt.Before(best.EnqueuedAt)) {
			best = c
		}
	}
	return best
}

func (b *Broker) Ack(ctx context.Context, messageID string) error {
	if err := b.store.Delete(messageID, &record{}); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", messageID, err)
	}
	return nil
}

// Nack makes a message immediately visible again, unless its receive count
// has reached MaxReceiveCount, in which case it is dead-lettered
// instead of redelivered.
func (b *Broker) Nack(ctx context.Context, messageID, reason string) error {
	var r record
	if err := b.store.Get(messageID, &r); err != nil {
		return fmt.Errorf("failed to load message %s for nack: %w", messageID, err)
	}

	if r.ReceiveCount >= r.MaxReceiveCount {
		r.DeadLettered = true
		r.DeadLetterReason = reason
	} else {
		r.VisibleAt = time.Now().UTC()
	}

	if err := b.store.Update(messageID, &r); err != nil {
		return fmt.Errorf("failed to nack message %s: %w", messageID, err)
	}
	return nil
}

func (b *Broker) Depth(ctx context.Context, queue models.WorkerType) (int, error) {
	count, err := b.store.Count(&record{}, badgerhold.Where("Queue").Eq(string(queue)).And("DeadLettered").Eq(false))
	if err != nil {
		return 0, fmt.Errorf("failed to count queue %s depth: %w", queue, err)
	}
	return int(count), nil
}

func (b *Broker) ListDeadLetters(ctx context.Context, tenantID string) ([]*models.QueueMessage, error) {
	var records []record
	err := b.store.Find(&records, badgerhold.Where("TenantID").Eq(tenantID).And("DeadLettered").Eq(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters for tenant %s: %w", tenantID, err)
	}
	result := make([]*models.QueueMessage, 0, len(records))
	for i := range records {
		result = append(result, fromRecord(&records[i]))
	}
	return result, nil
}

func (b *Broker) Replay(ctx context.Context, messageID string) error {
	var r record
	if err := b.store.Get(messageID, &r); err != nil {
		return fmt.Errorf("failed to load message %s for replay: %w", messageID, err)
	}
	r.DeadLettered = false
	r.DeadLetterReason = ""
	r.ReceiveCount = 0
	r.VisibleAt = time.Now().UTC()
	if err := b.store.Update(messageID, &r); err != nil {
		return fmt.Errorf("failed to replay message %s: %w", messageID, err)
	}
	return nil
}
