// Package orchestrator drives the Job Registry's poll loop: it finds jobs
// whose schedule is due, wins the begin_run compare-and-swap, discovers the
// containers a Source Adapter should extract, and enqueues the extract
// queue messages that kick off a run, carrying the first_item/last_item/
// last_job_item bracket flags that downstream workers rely on.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/etlplatform/internal/interfaces"
	"github.com/ternarybob/etlplatform/internal/models"
	"github.com/ternarybob/etlplatform/internal/workers/extract"
)

// Config tunes the orchestrator's poll loop and runaway-job detection.
type Config struct {
	TickInterval     time.Duration
	RunawayThreshold time.Duration
	MaxReceiveCount  int
	BatchSize        int
}

// Orchestrator ticks on a fixed interval, evaluating each READY job's
// schedule (a Go duration, or a cron expression parsed with robfig/cron) and,
// for due jobs, winning begin_run before publishing the first extract message.
type Orchestrator struct {
	registry     interfaces.JobRegistry
	broker       interfaces.QueueBroker
	adapters     map[models.SourceType]interfaces.SourceAdapter
	integrations interfaces.IntegrationStorage
	progress     interfaces.ProgressChannel
	config       Config
	logger       arbor.ILogger

	cronParser cron.Parser

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(
	registry interfaces.JobRegistry,
	broker interfaces.QueueBroker,
	integrations interfaces.IntegrationStorage,
	adapters map[models.SourceType]interfaces.SourceAdapter,
	progress interfaces.ProgressChannel,
	config Config,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		registry:     registry,
		broker:       broker,
		adapters:     adapters,
		integrations: integrations,
		progress:     progress,
		config:       config,
		logger:       logger,
		cronParser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start runs the tick loop until ctx is cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	go o.run(ctx)
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.doneCh)

	ticker := time.NewTicker(o.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			if err := o.Tick(ctx); err != nil {
				o.logger.Error().Err(err).Msg("orchestrator tick failed")
			}
			if err := o.reconcileRunaway(ctx); err != nil {
				o.logger.Error().Err(err).Msg("runaway job reconciliation failed")
			}
		}
	}
}

// Stop signals the tick loop to exit and waits for it to finish.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	<-o.doneCh
}

// Tick evaluates every READY job's schedule and starts the ones that are due.
func (o *Orchestrator) Tick(ctx context.Context) error {
	due, err := o.registry.ListDue(ctx)
	if err != nil {
		return fmt.Errorf("failed to list due jobs: %w", err)
	}

	now := time.Now().UTC()
	for _, job := range due {
		if !o.isDue(job, now) {
			continue
		}
		if err := o.startJob(ctx, job); err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to start job")
		}
	}
	return nil
}

// isDue reports whether a trigger-only job (no schedule) or a scheduled job
// should run now. A ScheduleInterval that parses as a Go duration is added to
// the reference time; anything else is read as a cron expression. The
// reference is the job's last CompletedAt, or CreatedAt before its first run.
// Trigger-only jobs (ScheduleInterval == "") are only
// started by an explicit Control API trigger, which calls startJob directly
// rather than going through Tick -- so Tick skips them here.
func (o *Orchestrator) isDue(job *models.Job, now time.Time) bool {
	if job.ScheduleInterval == "" {
		return false
	}
	reference := job.CreatedAt
	if job.CompletedAt != nil {
		reference = *job.CompletedAt
	}
	if interval, err := time.ParseDuration(job.ScheduleInterval); err == nil {
		return !reference.Add(interval).After(now)
	}
	schedule, err := o.cronParser.Parse(job.ScheduleInterval)
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Str("schedule", job.ScheduleInterval).
			Msg("invalid cron schedule, skipping")
		return false
	}
	return !schedule.Next(reference).After(now)
}

// StartJob wins begin_run for job and enqueues its extract messages. Exposed
// for the Control API's manual-trigger endpoint, in addition to Tick's
// scheduled use.
func (o *Orchestrator) StartJob(ctx context.Context, job *models.Job) error {
	return o.startJob(ctx, job)
}

func (o *Orchestrator) startJob(ctx context.Context, job *models.Job) error {
	started, err := o.registry.BeginRun(ctx, job.TenantID, job.ID, job.Version)
	if err != nil {
		if err == interfaces.ErrConflict {
			o.logger.Debug().Str("job_id", job.ID).Msg("begin_run lost race, another tick already started this job")
			return nil
		}
		return fmt.Errorf("failed to begin run for job %s: %w", job.ID, err)
	}

	integration, err := o.integrations.Get(ctx, started.TenantID, started.IntegrationID)
	if err != nil {
		o.failJob(ctx, started, fmt.Errorf("failed to load integration %s: %w", started.IntegrationID, err))
		return nil
	}

	adapter, ok := o.adapters[integration.Type]
	if !ok {
		o.failJob(ctx, started, fmt.Errorf("no source adapter registered for type %s", integration.Type))
		return nil
	}

	if len(started.Steps) == 0 {
		o.failJob(ctx, started, fmt.Errorf("job %s has no steps configured", started.ID))
		return nil
	}

	discovered, err := adapter.Discover(ctx, integration)
	if err != nil {
		o.failJob(ctx, started, fmt.Errorf("discover failed: %w", err))
		return nil
	}
	if len(discovered.Containers) == 0 {
		o.logger.Warn().Str("job_id", started.ID).Msg("discover returned no containers, completing job immediately")
		return o.registry.Complete(ctx, started.TenantID, started.ID, models.JobStatusCompleted, "")
	}

	firstStep := started.Steps[0]

	if err := o.registry.SetStepStatus(ctx, started.TenantID, started.ID, firstStep.Name, models.WorkerTypeExtract, models.SubStatusRunning); err != nil {
		return fmt.Errorf("failed to mark step %s extract running: %w", firstStep.Name, err)
	}

	payload := extract.TaskPayload{Step: firstStep.Name, Containers: discovered.Containers, Cursor: started.Watermarks[firstStep.Name]}
	data, err := payload.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal extract task payload: %w", err)
	}

	// Only one extract message exists per (job, step) at a time: containers
	// are carried together and the extract worker iterates them
	// sequentially, chaining to the next step once the whole list drains.
	msg := models.NewQueueMessage(uuid.NewString(), started.TenantID, started.ID, models.WorkerTypeExtract,
		models.PriorityNormal, data, o.config.MaxReceiveCount)
	msg.Step = firstStep.Name
	msg.FirstItem = true
	msg.LastItem = true
	msg.LastJobItem = started.IsLastStep(firstStep.Name)

	if err := o.broker.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish extract message for step %s: %w", firstStep.Name, err)
	}

	_ = o.progress.Publish(ctx, interfaces.ProgressEvent{
		TenantID: started.TenantID,
		JobID:    started.ID,
		Step:     string(firstStep.Name),
		Kind:     "status_changed",
		Data:     map[string]interface{}{"containers": len(discovered.Containers)},
	})

	return nil
}

func (o *Orchestrator) failJob(ctx context.Context, job *models.Job, cause error) {
	o.logger.Error().Err(cause).Str("job_id", job.ID).Msg("job failed during startup")
	if err := o.registry.Complete(ctx, job.TenantID, job.ID, models.JobStatusFailed, cause.Error()); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to record job failure")
	}
}

// reconcileRunaway aborts jobs stuck RUNNING longer than RunawayThreshold.
func (o *Orchestrator) reconcileRunaway(ctx context.Context) error {
	stuck, err := o.registry.ListRunaway(ctx, int64(o.config.RunawayThreshold.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to list runaway jobs: %w", err)
	}
	for _, job := range stuck {
		o.logger.Warn().Str("job_id", job.ID).Dur("threshold", o.config.RunawayThreshold).
			Msg("reconciler aborting runaway job")
		if err := o.registry.Complete(ctx, job.TenantID, job.ID, models.JobStatusFailed, "aborted by reconciler: exceeded runaway threshold"); err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to abort runaway job")
		}
	}
	return nil
}
