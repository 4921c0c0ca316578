// Package embed implements the Embed worker pool: it claims embed queue
// messages, embeds each message's raw payload with one Embedding Provider
// Embed call, and upserts the resulting vector into the Vector Store.
package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/etlplatform/internal/interfaces"
	"github.com/ternarybob/etlplatform/internal/models"
)

// Config tunes one Embed worker pool instance.
type Config struct {
	Concurrency       int
	VisibilityTimeout int64
	BatchSize         int
	Collection        string
}

type Worker struct {
	broker    interfaces.QueueBroker
	provider  interfaces.EmbeddingProvider
	store     interfaces.VectorStore
	registry  interfaces.JobRegistry
	progress  interfaces.ProgressChannel
	config    Config
	logger    arbor.ILogger
}

func New(
	broker interfaces.QueueBroker,
	provider interfaces.EmbeddingProvider,
	store interfaces.VectorStore,
	registry interfaces.JobRegistry,
	progress interfaces.ProgressChannel,
	config Config,
	logger arbor.ILogger,
) *Worker {
	return &Worker{
		broker:   broker,
		provider: provider,
		store:    store,
		registry: registry,
		progress: progress,
		config:   config,
		logger:   logger,
	}
}

func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := w.pollOnce(ctx); err != nil {
			if err != interfaces.ErrNoMessage {
				w.logger.Error().Err(err).Msg("embed worker poll failed")
			}
			time.Sleep(200 * time.Millisecond)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) error {
	msg, err := w.broker.Receive(ctx, models.WorkerTypeEmbed, w.config.VisibilityTimeout)
	if err != nil {
		return err
	}

	if procErr := w.process(ctx, msg); procErr != nil {
		w.logger.Error().Err(procErr).Str("job_id", msg.JobID).Msg("embed message processing failed")
		return w.broker.Nack(ctx, msg.ID, procErr.Error())
	}
	return w.broker.Ack(ctx, msg.ID)
}

func (w *Worker) process(ctx context.Context, msg *models.QueueMessage) error {
	if msg.FirstItem {
		if err := w.registry.SetStepStatus(ctx, msg.TenantID, msg.JobID, msg.Step, models.WorkerTypeEmbed, models.SubStatusRunning); err != nil {
			return fmt.Errorf("failed to mark step %s embed running: %w", msg.Step, err)
		}
	}

	// The transform step's trailing LastJobItem marker carries no payload;
	// it only exists to flip the step to finished once every real message
	// has been processed.
	if len(msg.Payload) > 0 {
		var entity struct {
			ExternalID string                 `json:"id"`
			Key        string                 `json:"key"`
			Fields     map[string]interface{} `json:"fields"`
		}
		if err := json.Unmarshal(msg.Payload, &entity); err != nil {
			return fmt.Errorf("failed to decode embed payload: %w", err)
		}
		externalID := entity.ExternalID
		if externalID == "" {
			externalID = entity.Key
		}

		text := renderText(msg.Payload)
		vector, err := w.provider.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("embedding provider failed: %w", err)
		}

		record := &models.VectorRecord{
			TenantID:   msg.TenantID,
			Collection: w.config.Collection,
			ExternalID: externalID,
			Vector:     vector,
			Dimension:  w.provider.Dimension(),
			UpdatedAt:  time.Now().UTC(),
		}
		if err := w.store.Upsert(ctx, record); err != nil {
			return fmt.Errorf("failed to upsert vector record: %w", err)
		}

		_ = w.progress.Publish(ctx, interfaces.ProgressEvent{
			TenantID: msg.TenantID,
			JobID:    msg.JobID,
			Step:     string(msg.Step),
			Kind:     "counter",
			Data:     map[string]interface{}{"external_id": externalID},
		})
	}

	if msg.LastJobItem {
		if err := w.registry.SetStepStatus(ctx, msg.TenantID, msg.JobID, msg.Step, models.WorkerTypeEmbed, models.SubStatusFinished); err != nil {
			return fmt.Errorf("failed to mark step %s embed finished: %w", msg.Step, err)
		}
		if err := w.finishJob(ctx, msg.TenantID, msg.JobID); err != nil {
			return err
		}
	}

	return nil
}

// finishJob transitions the job to its terminal status. LastJobItem is only
// set on messages belonging to a job's last step, but every step's embedding
// must be finished before completion is correct -- a job whose last step
// races ahead of an earlier one's transform backlog should not complete.
func (w *Worker) finishJob(ctx context.Context, tenantID, jobID string) error {
	job, err := w.registry.Get(ctx, tenantID, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.AnyStepFailed() {
		return w.registry.Complete(ctx, tenantID, jobID, models.JobStatusFailed, "one or more steps failed")
	}
	if !job.AllEmbeddingFinished() {
		return nil
	}
	return w.registry.Complete(ctx, tenantID, jobID, models.JobStatusCompleted, "")
}

// renderText returns the text handed to the embedding provider: the
// payload's JSON bytes as a string, unchanged.
func renderText(payload []byte) string {
	return string(payload)
}
