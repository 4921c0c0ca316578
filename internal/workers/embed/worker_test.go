package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/etlplatform/internal/interfaces"
	"github.com/ternarybob/etlplatform/internal/models"
)

type fakeProvider struct {
	dimension int
	calls     int
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return make([]float32, f.dimension), nil
}
func (f *fakeProvider) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (f *fakeProvider) Dimension() int { return f.dimension }

type fakeVectorStore struct {
	upserted []*models.VectorRecord
}

func (f *fakeVectorStore) Upsert(ctx context.Context, record *models.VectorRecord) error {
	f.upserted = append(f.upserted, record)
	return nil
}
func (f *fakeVectorStore) UpsertBatch(ctx context.Context, records []*models.VectorRecord) error {
	f.upserted = append(f.upserted, records...)
	return nil
}
func (f *fakeVectorStore) Get(ctx context.Context, tenantID, collection, externalID string) (*models.VectorRecord, error) {
	return nil, interfaces.ErrNotFound
}
func (f *fakeVectorStore) Delete(ctx context.Context, tenantID, collection, externalID string) error {
	return nil
}
func (f *fakeVectorStore) Search(ctx context.Context, tenantID, collection string, query []float32, topK int) ([]*models.VectorRecord, error) {
	return nil, nil
}

type stepStatusKey struct {
	step   models.StepName
	worker models.WorkerType
}

type fakeRegistry struct {
	job           *models.Job
	stepStatuses  map[stepStatusKey]models.SubStatus
	completeCalls []models.JobStatus
}

func (f *fakeRegistry) Create(ctx context.Context, job *models.Job) error { return nil }
func (f *fakeRegistry) Get(ctx context.Context, tenantID, jobID string) (*models.Job, error) {
	return f.job, nil
}
func (f *fakeRegistry) ListDue(ctx context.Context) ([]*models.Job, error) { return nil, nil }
func (f *fakeRegistry) ListByStatus(ctx context.Context, tenantID string, status models.JobStatus) ([]*models.Job, error) {
	return nil, nil
}
func (f *fakeRegistry) BeginRun(ctx context.Context, tenantID, jobID string, expectedVersion int64) (*models.Job, error) {
	return nil, nil
}
func (f *fakeRegistry) SetStepStatus(ctx context.Context, tenantID, jobID string, step models.StepName, worker models.WorkerType, status models.SubStatus) error {
	if f.stepStatuses == nil {
		f.stepStatuses = map[stepStatusKey]models.SubStatus{}
	}
	f.stepStatuses[stepStatusKey{step, worker}] = status
	if f.job != nil {
		if s, _, ok := f.job.StepByName(step); ok {
			s.SetSubStatus(worker, status)
		}
	}
	return nil
}
func (f *fakeRegistry) Complete(ctx context.Context, tenantID, jobID string, status models.JobStatus, lastError string) error {
	f.completeCalls = append(f.completeCalls, status)
	return nil
}
func (f *fakeRegistry) SetWatermark(ctx context.Context, tenantID, jobID string, step models.StepName, watermark string) error {
	return nil
}
func (f *fakeRegistry) ListRunaway(ctx context.Context, olderThanSeconds int64) ([]*models.Job, error) {
	return nil, nil
}

type fakeBroker struct{}

func (f *fakeBroker) Publish(ctx context.Context, msg *models.QueueMessage) error { return nil }
func (f *fakeBroker) Receive(ctx context.Context, queue models.WorkerType, visibilityTimeout int64) (*models.QueueMessage, error) {
	return nil, interfaces.ErrNoMessage
}
func (f *fakeBroker) Ack(ctx context.Context, messageID string) error          { return nil }
func (f *fakeBroker) Nack(ctx context.Context, messageID, reason string) error { return nil }
func (f *fakeBroker) Depth(ctx context.Context, queue models.WorkerType) (int, error) {
	return 0, nil
}
func (f *fakeBroker) ListDeadLetters(ctx context.Context, tenantID string) ([]*models.QueueMessage, error) {
	return nil, nil
}
func (f *fakeBroker) Replay(ctx context.Context, messageID string) error { return nil }

type fakeProgress struct{}

func (f *fakeProgress) Publish(ctx context.Context, event interfaces.ProgressEvent) error {
	return nil
}
func (f *fakeProgress) Subscribe(tenantID string) (<-chan interfaces.ProgressEvent, func()) {
	ch := make(chan interfaces.ProgressEvent)
	return ch, func() {}
}

func singleStepJob() *models.Job {
	return models.NewJob("job-1", "tenant-1", "integration-1", models.JobTypeFull,
		[]models.Step{models.NewStep("issues", 1, "Issues")})
}

func TestProcessEmbedsAndUpsertsVector(t *testing.T) {
	job := singleStepJob()
	registry := &fakeRegistry{job: job}
	provider := &fakeProvider{dimension: 4}
	store := &fakeVectorStore{}

	w := New(&fakeBroker{}, provider, store, registry, &fakeProgress{}, Config{Collection: "issues"}, arbor.NewLogger())

	msg := models.NewQueueMessage("msg-1", "tenant-1", "job-1", models.WorkerTypeEmbed, models.PriorityNormal,
		[]byte(`{"id":"ISSUE-1","fields":{"summary":"fix bug"}}`), 5)
	msg.Step = "issues"
	msg.FirstItem = true

	err := w.process(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, "ISSUE-1", store.upserted[0].ExternalID)
	assert.Equal(t, "issues", store.upserted[0].Collection)
	assert.Equal(t, models.SubStatusRunning, registry.stepStatuses[stepStatusKey{"issues", models.WorkerTypeEmbed}])
}

func TestProcessSkipsEmbeddingForZeroPayloadMarker(t *testing.T) {
	job := singleStepJob()
	registry := &fakeRegistry{job: job}
	provider := &fakeProvider{dimension: 4}
	store := &fakeVectorStore{}

	w := New(&fakeBroker{}, provider, store, registry, &fakeProgress{}, Config{Collection: "issues"}, arbor.NewLogger())

	msg := models.NewQueueMessage("msg-1", "tenant-1", "job-1", models.WorkerTypeEmbed, models.PriorityNormal, nil, 5)
	msg.Step = "issues"
	msg.LastJobItem = true

	err := w.process(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, 0, provider.calls)
	assert.Empty(t, store.upserted)
	assert.Equal(t, models.SubStatusFinished, registry.stepStatuses[stepStatusKey{"issues", models.WorkerTypeEmbed}])
	require.Len(t, registry.completeCalls, 1)
	assert.Equal(t, models.JobStatusCompleted, registry.completeCalls[0])
}

func TestFinishJobReportsFailedWhenAnyStepFailed(t *testing.T) {
	job := singleStepJob()
	job.Steps[0].Transform = models.SubStatusFailed
	registry := &fakeRegistry{job: job}

	w := New(&fakeBroker{}, &fakeProvider{dimension: 4}, &fakeVectorStore{}, registry, &fakeProgress{}, Config{}, arbor.NewLogger())

	msg := models.NewQueueMessage("msg-1", "tenant-1", "job-1", models.WorkerTypeEmbed, models.PriorityNormal, nil, 5)
	msg.Step = "issues"
	msg.LastJobItem = true

	err := w.process(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, registry.completeCalls, 1)
	assert.Equal(t, models.JobStatusFailed, registry.completeCalls[0])
}

func TestFinishJobWaitsForAllStepsEmbeddingBeforeCompleting(t *testing.T) {
	job := models.NewJob("job-1", "tenant-1", "integration-1", models.JobTypeFull, models.DefaultSteps(models.SourceTypeGitHub))
	registry := &fakeRegistry{job: job}

	w := New(&fakeBroker{}, &fakeProvider{dimension: 4}, &fakeVectorStore{}, registry, &fakeProgress{}, Config{}, arbor.NewLogger())

	// Only the last step ("comments") carries LastJobItem, but earlier steps
	// haven't finished embedding yet -- completion must wait.
	msg := models.NewQueueMessage("msg-1", "tenant-1", "job-1", models.WorkerTypeEmbed, models.PriorityNormal, nil, 5)
	msg.Step = "comments"
	msg.LastJobItem = true

	err := w.process(context.Background(), msg)
	require.NoError(t, err)

	assert.Empty(t, registry.completeCalls)
}
