package transform

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/etlplatform/internal/interfaces"
	"github.com/ternarybob/etlplatform/internal/models"
)

func TestMapFieldsRoutesConfiguredSlotAndPassesPlainFieldsThrough(t *testing.T) {
	record := &models.RawRecord{
		ID:         "rec-1",
		ExternalID: "ISSUE-1",
		Payload:    []byte(`{"summary": "fix the bug", "status": "open", "customfield_10010": 5}`),
	}

	fields, err := mapFields(record, map[string]string{"custom_field_01": "customfield_10010"})
	require.NoError(t, err)

	assert.Equal(t, "fix the bug", fields["summary"])
	assert.Equal(t, "open", fields["status"])
	assert.Equal(t, float64(5), fields["custom_field_01"])
	_, hasRaw := fields["customfield_10010"]
	assert.False(t, hasRaw, "a slotted custom field should not also appear under its source key")
}

func TestMapFieldsRoutesUnmappedCustomFieldsToOverflow(t *testing.T) {
	record := &models.RawRecord{
		ID:      "rec-1",
		Payload: []byte(`{"customfield_10010": 5, "customfield_99999": "unmapped"}`),
	}

	fields, err := mapFields(record, map[string]string{"custom_field_01": "customfield_10010"})
	require.NoError(t, err)

	assert.Equal(t, float64(5), fields["custom_field_01"])
	overflow, ok := fields[overflowColumn].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "unmapped", overflow["customfield_99999"])
}

func TestMapFieldsCollapsesArraysByJoiningAndObjectsByValueField(t *testing.T) {
	record := &models.RawRecord{
		ID: "rec-1",
		Payload: []byte(`{
			"customfield_labels": ["a", "b", "c"],
			"customfield_priority": {"id": "1", "value": "High"},
			"customfield_plain": {"id": "1"}
		}`),
	}

	fields, err := mapFields(record, nil)
	require.NoError(t, err)

	overflow, ok := fields[overflowColumn].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "a, b, c", overflow["customfield_labels"])
	assert.Equal(t, "High", overflow["customfield_priority"])
	assert.Equal(t, map[string]interface{}{"id": "1"}, overflow["customfield_plain"])
}

func TestMapFieldsRejectsInvalidPayload(t *testing.T) {
	record := &models.RawRecord{ID: "rec-1", Payload: []byte("not json")}

	_, err := mapFields(record, nil)
	assert.Error(t, err)
}

type fakeRawStore struct {
	pending      map[string][]*models.RawRecord
	marked       map[string]string // recordID -> "transformed" or "failed"
	countPending int
}

func (f *fakeRawStore) Insert(ctx context.Context, record *models.RawRecord) error { return nil }
func (f *fakeRawStore) InsertBatch(ctx context.Context, records []*models.RawRecord) error {
	return nil
}
func (f *fakeRawStore) ClaimPending(ctx context.Context, tenantID, jobID string, limit int) ([]*models.RawRecord, error) {
	key := tenantID + "/" + jobID
	records := f.pending[key]
	delete(f.pending, key)
	return records, nil
}
func (f *fakeRawStore) MarkTransformed(ctx context.Context, tenantID, recordID string) error {
	f.marked[recordID] = "transformed"
	return nil
}
func (f *fakeRawStore) MarkFailed(ctx context.Context, tenantID, recordID, reason string) error {
	f.marked[recordID] = "failed"
	return nil
}
func (f *fakeRawStore) ResetFailed(ctx context.Context, tenantID, jobID string) (int, error) {
	return 0, nil
}
func (f *fakeRawStore) CountPending(ctx context.Context, tenantID, jobID string) (int, error) {
	return f.countPending, nil
}

type fakeTargetStore struct {
	upserted []*models.TargetRow
}

func (f *fakeTargetStore) Upsert(ctx context.Context, row *models.TargetRow) error { return nil }
func (f *fakeTargetStore) UpsertBatch(ctx context.Context, rows []*models.TargetRow) error {
	f.upserted = append(f.upserted, rows...)
	return nil
}
func (f *fakeTargetStore) Get(ctx context.Context, tenantID, entityType, externalID string) (*models.TargetRow, error) {
	return nil, interfaces.ErrNotFound
}

type fakeBroker struct {
	published []*models.QueueMessage
}

func (f *fakeBroker) Publish(ctx context.Context, msg *models.QueueMessage) error {
	f.published = append(f.published, msg)
	return nil
}
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

type stepStatusKey struct {
	step   models.StepName
	worker models.WorkerType
}

type fakeRegistry struct {
	job          *models.Job
	stepStatuses map[stepStatusKey]models.SubStatus
	history      map[stepStatusKey][]models.SubStatus
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
	if f.history == nil {
		f.history = map[stepStatusKey][]models.SubStatus{}
	}
	f.history[stepStatusKey{step, worker}] = append(f.history[stepStatusKey{step, worker}], status)
	return nil
}
func (f *fakeRegistry) Complete(ctx context.Context, tenantID, jobID string, status models.JobStatus, lastError string) error {
	return nil
}
func (f *fakeRegistry) SetWatermark(ctx context.Context, tenantID, jobID string, step models.StepName, watermark string) error {
	return nil
}
func (f *fakeRegistry) ListRunaway(ctx context.Context, olderThanSeconds int64) ([]*models.Job, error) {
	return nil, nil
}

type fakeIntegrations struct {
	integration *models.Integration
}

func (f *fakeIntegrations) Create(ctx context.Context, integration *models.Integration) error {
	return nil
}
func (f *fakeIntegrations) Get(ctx context.Context, tenantID, id string) (*models.Integration, error) {
	return f.integration, nil
}
func (f *fakeIntegrations) List(ctx context.Context, tenantID string) ([]*models.Integration, error) {
	return nil, nil
}
func (f *fakeIntegrations) Update(ctx context.Context, integration *models.Integration) error {
	return nil
}
func (f *fakeIntegrations) Delete(ctx context.Context, tenantID, id string) error { return nil }

type fakeProgress struct{}

func (f *fakeProgress) Publish(ctx context.Context, event interfaces.ProgressEvent) error {
	return nil
}
func (f *fakeProgress) Subscribe(tenantID string) (<-chan interfaces.ProgressEvent, func()) {
	ch := make(chan interfaces.ProgressEvent)
	return ch, func() {}
}

func testJob() *models.Job {
	return models.NewJob("job-1", "tenant-1", "integration-1", models.JobTypeFull, models.DefaultSteps(models.SourceTypeJira))
}

func TestProcessPublishesEmbedMessagesAndMarksTransformed(t *testing.T) {
	job := testJob()
	rawStore := &fakeRawStore{
		pending: map[string][]*models.RawRecord{
			"tenant-1/job-1": {
				{ID: "rec-1", TenantID: "tenant-1", ExternalID: "A", Payload: []byte(`{"title":"a"}`)},
				{ID: "rec-2", TenantID: "tenant-1", ExternalID: "B", Payload: []byte(`{"title":"b"}`)},
			},
		},
		marked:       map[string]string{},
		countPending: 0,
	}
	targetStore := &fakeTargetStore{}
	broker := &fakeBroker{}
	registry := &fakeRegistry{job: job}
	integrations := &fakeIntegrations{integration: &models.Integration{ID: "integration-1", TenantID: "tenant-1"}}

	w := New(broker, rawStore, targetStore, registry, integrations, &fakeProgress{}, Config{BatchSize: 10, MaxReceiveCount: 5}, arbor.NewLogger())

	msg := models.NewQueueMessage("msg-1", "tenant-1", "job-1", models.WorkerTypeTransform, models.PriorityNormal, nil, 5)
	msg.Step = "issues"
	msg.FirstItem = true
	msg.LastItem = true
	msg.LastJobItem = true

	err := w.process(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, "transformed", rawStore.marked["rec-1"])
	assert.Equal(t, "transformed", rawStore.marked["rec-2"])
	require.Len(t, targetStore.upserted, 2)

	// Two real embed messages plus the trailing LastJobItem marker.
	require.Len(t, broker.published, 3)
	assert.True(t, broker.published[0].FirstItem)
	assert.False(t, broker.published[1].FirstItem)
	assert.True(t, broker.published[2].LastJobItem)
	assert.Nil(t, broker.published[2].Payload)
	for _, m := range broker.published {
		assert.Equal(t, models.StepName("issues"), m.Step)
	}

	transformHistory := registry.history[stepStatusKey{"issues", models.WorkerTypeTransform}]
	require.Len(t, transformHistory, 2)
	assert.Equal(t, models.SubStatusRunning, transformHistory[0])
	assert.Equal(t, models.SubStatusFinished, registry.stepStatuses[stepStatusKey{"issues", models.WorkerTypeTransform}])
}

func TestProcessDoesNotFinishStepWhilePendingRemains(t *testing.T) {
	job := testJob()
	rawStore := &fakeRawStore{
		pending:      map[string][]*models.RawRecord{},
		marked:       map[string]string{},
		countPending: 2, // more extraction still in flight
	}
	registry := &fakeRegistry{job: job}
	integrations := &fakeIntegrations{integration: &models.Integration{ID: "integration-1", TenantID: "tenant-1"}}

	w := New(&fakeBroker{}, rawStore, &fakeTargetStore{}, registry, integrations, &fakeProgress{}, Config{BatchSize: 10, MaxReceiveCount: 5}, arbor.NewLogger())

	msg := models.NewQueueMessage("msg-1", "tenant-1", "job-1", models.WorkerTypeTransform, models.PriorityNormal, nil, 5)
	msg.Step = "issues"
	msg.LastJobItem = true

	err := w.process(context.Background(), msg)
	require.NoError(t, err)

	_, ok := registry.stepStatuses[stepStatusKey{"issues", models.WorkerTypeTransform}]
	assert.False(t, ok, "step should not be marked finished while raw records are still pending")
}

func TestProcessSkipsFailedRecordsWhenPublishingEmbedMessages(t *testing.T) {
	job := testJob()
	rawStore := &fakeRawStore{
		pending: map[string][]*models.RawRecord{
			"tenant-1/job-1": {
				{ID: "rec-1", TenantID: "tenant-1", ExternalID: "A", Payload: []byte("not json")},
				{ID: "rec-2", TenantID: "tenant-1", ExternalID: "B", Payload: []byte(`{"title":"b"}`)},
			},
		},
		marked: map[string]string{},
	}
	broker := &fakeBroker{}
	registry := &fakeRegistry{job: job}
	integrations := &fakeIntegrations{integration: &models.Integration{ID: "integration-1", TenantID: "tenant-1"}}

	w := New(broker, rawStore, &fakeTargetStore{}, registry, integrations, &fakeProgress{}, Config{BatchSize: 10, MaxReceiveCount: 5}, arbor.NewLogger())

	msg := models.NewQueueMessage("msg-1", "tenant-1", "job-1", models.WorkerTypeTransform, models.PriorityNormal, nil, 5)
	msg.Step = "issues"

	err := w.process(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, "failed", rawStore.marked["rec-1"])
	assert.Equal(t, "transformed", rawStore.marked["rec-2"])
	require.Len(t, broker.published, 1, "only the successfully-mapped record should publish an embed message")

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(broker.published[0].Payload, &payload))
	assert.Equal(t, "b", payload["title"])
}
