// Package extract implements the Extract worker pool: it claims the single
// extract queue message live for a (job, step), calls the bound Source
// Adapter's Extract method page by page for every container that step
// covers, stages results in the Raw Store, republishes bracket-flagged
// messages onto the transform queue, and once the step's containers are
// exhausted chains a new extract message for the job's next step. Backpressure
// against the transform queue's high-water mark is enforced with a
// golang.org/x/time/rate limiter, to avoid outrunning the transform step.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/etlplatform/internal/interfaces"
	"github.com/ternarybob/etlplatform/internal/models"
)

// discoveryStepName is the Jira-only leading step that persists custom-field
// and issue-type catalogs instead of extracting entity rows.
const discoveryStepName = models.StepName("discovery")

// Config tunes one Extract worker pool instance.
type Config struct {
	Concurrency       int
	VisibilityTimeout int64
	BatchSize         int
	QueueHWM          int
	QueueLWM          int
	MaxReceiveCount   int
}

// Worker drains the extract queue for a single tenant-agnostic pool; the
// tenant scoping lives in the message and every downstream write.
type Worker struct {
	broker       interfaces.QueueBroker
	rawStore     interfaces.RawStore
	registry     interfaces.JobRegistry
	integrations interfaces.IntegrationStorage
	adapters     map[models.SourceType]interfaces.SourceAdapter
	catalog      interfaces.DiscoveryCatalog
	progress     interfaces.ProgressChannel
	config       Config
	logger       arbor.ILogger
	limiter      *rate.Limiter
}

func New(
	broker interfaces.QueueBroker,
	rawStore interfaces.RawStore,
	registry interfaces.JobRegistry,
	integrations interfaces.IntegrationStorage,
	adapters map[models.SourceType]interfaces.SourceAdapter,
	catalog interfaces.DiscoveryCatalog,
	progress interfaces.ProgressChannel,
	config Config,
	logger arbor.ILogger,
) *Worker {
	return &Worker{
		broker:       broker,
		rawStore:     rawStore,
		registry:     registry,
		integrations: integrations,
		adapters:     adapters,
		catalog:      catalog,
		progress:     progress,
		config:       config,
		logger:       logger,
		// pollOnce waits on this limiter only while the transform queue's
		// depth is at or above QueueHWM, holding polls to one per 100ms
		// across every goroutine running this Worker; below QueueHWM polls
		// are not limited. QueueLWM is not consulted.
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

// Run drains the extract queue until ctx is cancelled. Call once per
// concurrent slot; Config.Concurrency many goroutines is the pool.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := w.pollOnce(ctx); err != nil {
			if err != interfaces.ErrNoMessage {
				w.logger.Error().Err(err).Msg("extract worker poll failed")
			}
			time.Sleep(200 * time.Millisecond)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) error {
	depth, err := w.broker.Depth(ctx, models.WorkerTypeTransform)
	if err == nil && depth >= w.config.QueueHWM {
		w.logger.Debug().Int("depth", depth).Msg("transform queue above high water mark, throttling extract")
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	msg, err := w.broker.Receive(ctx, models.WorkerTypeExtract, w.config.VisibilityTimeout)
	if err != nil {
		return err
	}

	if procErr := w.process(ctx, msg); procErr != nil {
		w.logger.Error().Err(procErr).Str("job_id", msg.JobID).Msg("extract message processing failed")
		return w.broker.Nack(ctx, msg.ID, procErr.Error())
	}
	return w.broker.Ack(ctx, msg.ID)
}

func (w *Worker) process(ctx context.Context, msg *models.QueueMessage) error {
	task, err := UnmarshalTaskPayload(msg.Payload)
	if err != nil {
		return fmt.Errorf("failed to decode extract task payload: %w", err)
	}

	job, err := w.registry.Get(ctx, msg.TenantID, msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", msg.JobID, err)
	}

	integration, err := w.integrations.Get(ctx, msg.TenantID, job.IntegrationID)
	if err != nil {
		return fmt.Errorf("failed to load integration %s: %w", job.IntegrationID, err)
	}

	adapter, ok := w.adapters[integration.Type]
	if !ok {
		return fmt.Errorf("no source adapter registered for type %s", integration.Type)
	}

	if task.Step == discoveryStepName {
		return w.processDiscovery(ctx, msg, job, integration, adapter, task)
	}
	return w.processEntity(ctx, msg, job, integration, adapter, task)
}

// processDiscovery persists the custom-field/issue-type catalog for a Jira
// job's leading step. It produces no raw/target/vector rows, so all three
// sub-statuses are finished together, and it always chains straight to the
// next step.
func (w *Worker) processDiscovery(ctx context.Context, msg *models.QueueMessage, job *models.Job, integration *models.Integration, adapter interfaces.SourceAdapter, task TaskPayload) error {
	discovered, err := adapter.Discover(ctx, integration)
	if err != nil {
		return fmt.Errorf("discover failed during discovery step: %w", err)
	}

	for _, container := range task.Containers {
		if len(discovered.CustomFields) > 0 {
			if err := w.catalog.UpsertCustomFields(ctx, msg.TenantID, integration.ID, container, discovered.CustomFields); err != nil {
				return fmt.Errorf("failed to persist custom field catalog for %s: %w", container, err)
			}
		}
		if len(discovered.IssueTypes) > 0 {
			if err := w.catalog.UpsertIssueTypes(ctx, msg.TenantID, integration.ID, container, discovered.IssueTypes); err != nil {
				return fmt.Errorf("failed to persist issue type catalog for %s: %w", container, err)
			}
		}
	}

	for _, worker := range models.AllWorkerTypes() {
		if err := w.registry.SetStepStatus(ctx, msg.TenantID, msg.JobID, task.Step, worker, models.SubStatusFinished); err != nil {
			return fmt.Errorf("failed to mark discovery step finished: %w", err)
		}
	}

	_ = w.progress.Publish(ctx, interfaces.ProgressEvent{
		TenantID: msg.TenantID,
		JobID:    msg.JobID,
		Step:     string(task.Step),
		Kind:     "status_changed",
		Data:     map[string]interface{}{"custom_fields": len(discovered.CustomFields), "issue_types": len(discovered.IssueTypes)},
	})

	return w.chainNextStep(ctx, msg, job, task, discovered.Containers)
}

func (w *Worker) processEntity(ctx context.Context, msg *models.QueueMessage, job *models.Job, integration *models.Integration, adapter interfaces.SourceAdapter, task TaskPayload) error {
	for ci, container := range task.Containers {
		cursor := task.Cursor
		firstBatch := true
		for {
			page, err := adapter.Extract(ctx, integration, string(task.Step), container, cursor, w.config.BatchSize)
			if err != nil {
				return fmt.Errorf("adapter extract failed for container %s: %w", container, err)
			}

			records := make([]*models.RawRecord, 0, len(page.Items))
			now := time.Now().UTC()
			for _, item := range page.Items {
				records = append(records, &models.RawRecord{
					ID:               uuid.NewString(),
					TenantID:         msg.TenantID,
					JobID:            msg.JobID,
					IntegrationID:    integration.ID,
					ExternalID:       item.ExternalID,
					EntityType:       item.EntityType,
					ParentExternalID: item.ParentExternalID,
					Payload:          item.Payload,
					ProcessingStatus: models.ProcessingStatusPending,
					ExtractedAt:      now,
				})
			}
			if len(records) > 0 {
				if err := w.rawStore.InsertBatch(ctx, records); err != nil {
					return fmt.Errorf("failed to stage raw records: %w", err)
				}
			}

			lastPage := page.NextCursor == ""
			lastContainer := ci == len(task.Containers)-1

			// Always publish a transform message, even for a zero-item page:
			// the transform worker's bracket bookkeeping needs the sentinel
			// to advance pending counts and, on the last container of the
			// last step, to recognize the step completed with no work.
			transformMsg := models.NewQueueMessage(uuid.NewString(), msg.TenantID, msg.JobID, models.WorkerTypeTransform,
				msg.Priority, []byte(container), w.config.MaxReceiveCount)
			transformMsg.Step = task.Step
			transformMsg.FirstItem = firstBatch && ci == 0 && msg.FirstItem
			transformMsg.LastItem = lastPage && lastContainer
			transformMsg.LastJobItem = lastPage && lastContainer && msg.LastJobItem
			if err := w.broker.Publish(ctx, transformMsg); err != nil {
				return fmt.Errorf("failed to publish transform message: %w", err)
			}

			_ = w.progress.Publish(ctx, interfaces.ProgressEvent{
				TenantID: msg.TenantID,
				JobID:    msg.JobID,
				Step:     string(task.Step),
				Kind:     "counter",
				Data:     map[string]interface{}{"container": container, "items": len(page.Items)},
			})

			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
			firstBatch = false
		}
	}

	if err := w.registry.SetWatermark(ctx, msg.TenantID, msg.JobID, task.Step, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to advance watermark for step %s: %w", task.Step, err)
	}
	if err := w.registry.SetStepStatus(ctx, msg.TenantID, msg.JobID, task.Step, models.WorkerTypeExtract, models.SubStatusFinished); err != nil {
		return fmt.Errorf("failed to mark step %s extract finished: %w", task.Step, err)
	}

	return w.chainNextStep(ctx, msg, job, task, task.Containers)
}

// chainNextStep publishes exactly one extract message for the job's next
// step once the current step's extraction work is done, carrying the same
// containers forward. If the current step is the job's last step, there is
// nothing further to chain.
func (w *Worker) chainNextStep(ctx context.Context, msg *models.QueueMessage, job *models.Job, task TaskPayload, containers []string) error {
	next, ok := job.NextStep(task.Step)
	if !ok {
		return nil
	}

	if err := w.registry.SetStepStatus(ctx, msg.TenantID, msg.JobID, next.Name, models.WorkerTypeExtract, models.SubStatusRunning); err != nil {
		return fmt.Errorf("failed to mark step %s extract running: %w", next.Name, err)
	}

	payload := TaskPayload{Step: next.Name, Containers: containers, Cursor: job.Watermarks[next.Name]}
	data, err := payload.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal chained extract task payload: %w", err)
	}

	chained := models.NewQueueMessage(uuid.NewString(), msg.TenantID, msg.JobID, models.WorkerTypeExtract,
		msg.Priority, data, w.config.MaxReceiveCount)
	chained.Step = next.Name
	chained.FirstItem = true
	chained.LastItem = true
	chained.LastJobItem = job.IsLastStep(next.Name)

	if err := w.broker.Publish(ctx, chained); err != nil {
		return fmt.Errorf("failed to publish chained extract message for step %s: %w", next.Name, err)
	}
	return nil
}
