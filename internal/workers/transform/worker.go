// Package transform implements the Transform worker pool: it claims pending
// Raw Store records for a job, applies the owning Integration's
// CustomFieldMappings using slot/overflow semantics, upserts the mapped row
// into the Target Store, and republishes bracket-flagged messages onto the
// embed queue.
package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/etlplatform/internal/interfaces"
	"github.com/ternarybob/etlplatform/internal/models"
)

// customFieldPrefix marks a Jira field key as a custom field subject to slot
// mapping; GitHub payloads never carry this prefix so mapFields is a no-op
// pass-through for them.
const customFieldPrefix = "customfield_"

// overflowColumn holds every customfield_* value that isn't bound to a
// configured slot, keyed by its original source field id.
const overflowColumn = "custom_fields_overflow"

// Config tunes one Transform worker pool instance.
type Config struct {
	Concurrency       int
	VisibilityTimeout int64
	BatchSize         int
	MaxReceiveCount   int
}

type Worker struct {
	broker       interfaces.QueueBroker
	rawStore     interfaces.RawStore
	targetStore  interfaces.TargetStore
	registry     interfaces.JobRegistry
	integrations interfaces.IntegrationStorage
	progress     interfaces.ProgressChannel
	config       Config
	logger       arbor.ILogger
}

func New(
	broker interfaces.QueueBroker,
	rawStore interfaces.RawStore,
	targetStore interfaces.TargetStore,
	registry interfaces.JobRegistry,
	integrations interfaces.IntegrationStorage,
	progress interfaces.ProgressChannel,
	config Config,
	logger arbor.ILogger,
) *Worker {
	return &Worker{
		broker:       broker,
		rawStore:     rawStore,
		targetStore:  targetStore,
		registry:     registry,
		integrations: integrations,
		progress:     progress,
		config:       config,
		logger:       logger,
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
				w.logger.Error().Err(err).Msg("transform worker poll failed")
			}
			time.Sleep(200 * time.Millisecond)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) error {
	msg, err := w.broker.Receive(ctx, models.WorkerTypeTransform, w.config.VisibilityTimeout)
	if err != nil {
		return err
	}

	if procErr := w.process(ctx, msg); procErr != nil {
		w.logger.Error().Err(procErr).Str("job_id", msg.JobID).Msg("transform message processing failed")
		return w.broker.Nack(ctx, msg.ID, procErr.Error())
	}
	return w.broker.Ack(ctx, msg.ID)
}

func (w *Worker) process(ctx context.Context, msg *models.QueueMessage) error {
	job, err := w.registry.Get(ctx, msg.TenantID, msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", msg.JobID, err)
	}

	if msg.FirstItem {
		if err := w.registry.SetStepStatus(ctx, msg.TenantID, msg.JobID, msg.Step, models.WorkerTypeTransform, models.SubStatusRunning); err != nil {
			return fmt.Errorf("failed to mark step %s transform running: %w", msg.Step, err)
		}
	}

	integration, err := w.integrations.Get(ctx, msg.TenantID, job.IntegrationID)
	if err != nil {
		return fmt.Errorf("failed to load integration %s: %w", job.IntegrationID, err)
	}

	processed := 0
	for {
		records, err := w.rawStore.ClaimPending(ctx, msg.TenantID, msg.JobID, w.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to claim pending raw records: %w", err)
		}
		if len(records) == 0 {
			break
		}

		rows := make([]*models.TargetRow, 0, len(records))
		failed := make(map[string]bool, len(records))
		for _, record := range records {
			fields, err := mapFields(record, integration.CustomFieldMappings)
			if err != nil {
				if markErr := w.rawStore.MarkFailed(ctx, msg.TenantID, record.ID, err.Error()); markErr != nil {
					return fmt.Errorf("failed to mark raw record %s failed: %w", record.ID, markErr)
				}
				failed[record.ID] = true
				continue
			}
			rows = append(rows, &models.TargetRow{
				TenantID:         record.TenantID,
				IntegrationID:    record.IntegrationID,
				EntityType:       record.EntityType,
				ExternalID:       record.ExternalID,
				ParentExternalID: record.ParentExternalID,
				Fields:           fields,
				UpdatedAt:        time.Now().UTC(),
			})
		}

		if len(rows) > 0 {
			if err := w.targetStore.UpsertBatch(ctx, rows); err != nil {
				return fmt.Errorf("failed to upsert target rows: %w", err)
			}
		}

		for _, record := range records {
			if failed[record.ID] {
				continue
			}
			if err := w.rawStore.MarkTransformed(ctx, msg.TenantID, record.ID); err != nil {
				return fmt.Errorf("failed to mark raw record %s transformed: %w", record.ID, err)
			}

			embedMsg := models.NewQueueMessage(uuid.NewString(), msg.TenantID, msg.JobID, models.WorkerTypeEmbed,
				msg.Priority, record.Payload, w.config.MaxReceiveCount)
			embedMsg.Step = msg.Step
			embedMsg.FirstItem = processed == 0 && msg.FirstItem
			if err := w.broker.Publish(ctx, embedMsg); err != nil {
				return fmt.Errorf("failed to publish embed message: %w", err)
			}
			processed++
		}

		if len(records) < w.config.BatchSize {
			break
		}
	}

	if msg.LastJobItem {
		remaining, err := w.rawStore.CountPending(ctx, msg.TenantID, msg.JobID)
		if err != nil {
			return fmt.Errorf("failed to count pending raw records: %w", err)
		}
		if remaining == 0 {
			if err := w.registry.SetStepStatus(ctx, msg.TenantID, msg.JobID, msg.Step, models.WorkerTypeTransform, models.SubStatusFinished); err != nil {
				return fmt.Errorf("failed to mark step %s transform finished: %w", msg.Step, err)
			}
			if err := emitLastJobItem(ctx, w.broker, msg, w.config.MaxReceiveCount); err != nil {
				return err
			}
		}
	}

	_ = w.progress.Publish(ctx, interfaces.ProgressEvent{
		TenantID: msg.TenantID,
		JobID:    msg.JobID,
		Step:     string(msg.Step),
		Kind:     "counter",
		Data:     map[string]interface{}{"processed": processed},
	})

	return nil
}

// emitLastJobItem publishes a zero-payload embed message solely to carry the
// LastJobItem flag onward, since the last transform batch for a job may
// already have published all of its own embed messages with LastJobItem
// unset (the raw record count isn't known until ClaimPending returns empty).
func emitLastJobItem(ctx context.Context, broker interfaces.QueueBroker, msg *models.QueueMessage, maxReceive int) error {
	marker := models.NewQueueMessage(uuid.NewString(), msg.TenantID, msg.JobID, models.WorkerTypeEmbed,
		msg.Priority, nil, maxReceive)
	marker.Step = msg.Step
	marker.LastItem = true
	marker.LastJobItem = true
	return broker.Publish(ctx, marker)
}

// mapFields decodes a raw record's JSON payload into the Target Store's
// generic field map. Every configured custom_field_NN -> source_field_id
// mapping writes its source value into that slot; any other customfield_*
// key is collected into the overflow column instead of being dropped.
// Everything that isn't a customfield_* key passes through unchanged.
func mapFields(record *models.RawRecord, mappings map[string]string) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(record.Payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode raw payload for %s: %w", record.ExternalID, err)
	}

	sourceToSlot := make(map[string]string, len(mappings))
	for slot, source := range mappings {
		sourceToSlot[source] = slot
	}

	fields := make(map[string]interface{}, len(raw))
	overflow := make(map[string]interface{})

	for key, value := range raw {
		if !strings.HasPrefix(key, customFieldPrefix) {
			fields[key] = value
			continue
		}
		collapsed := collapseFieldValue(value)
		if slot, ok := sourceToSlot[key]; ok {
			fields[slot] = collapsed
		} else {
			overflow[key] = collapsed
		}
	}

	if len(overflow) > 0 {
		fields[overflowColumn] = overflow
	}
	return fields, nil
}

// collapseFieldValue applies the custom-field serialization rules: arrays
// join their collapsed elements with ", ", and objects collapse to their own
// "value" sub-field when one is present (Jira's custom field shape for
// single-select/user-picker fields).
func collapseFieldValue(value interface{}) interface{} {
	switch v := value.(type) {
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprintf("%v", collapseFieldValue(item))
		}
		return strings.Join(parts, ", ")
	case map[string]interface{}:
		if inner, ok := v["value"]; ok {
			return inner
		}
		return v
	default:
		return v
	}
}
