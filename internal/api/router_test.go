package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/etlplatform/internal/interfaces"
	"github.com/ternarybob/etlplatform/internal/models"
	"github.com/ternarybob/etlplatform/internal/orchestrator"
	"github.com/ternarybob/etlplatform/internal/progress"
	"github.com/ternarybob/etlplatform/internal/services/kv"
)

type fakeTenants struct {
	created []*models.Tenant
	list    []*models.Tenant
}

func (f *fakeTenants) Create(ctx context.Context, tenant *models.Tenant) error {
	f.created = append(f.created, tenant)
	return nil
}
func (f *fakeTenants) Get(ctx context.Context, id string) (*models.Tenant, error) {
	for _, t := range f.list {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, interfaces.ErrNotFound
}
func (f *fakeTenants) List(ctx context.Context) ([]*models.Tenant, error) {
	return f.list, nil
}

type fakeIntegrations struct {
	created []*models.Integration
	list    []*models.Integration
	getOne  *models.Integration
}

func (f *fakeIntegrations) Create(ctx context.Context, integration *models.Integration) error {
	f.created = append(f.created, integration)
	return nil
}
func (f *fakeIntegrations) Get(ctx context.Context, tenantID, id string) (*models.Integration, error) {
	if f.getOne == nil {
		return nil, interfaces.ErrNotFound
	}
	return f.getOne, nil
}
func (f *fakeIntegrations) List(ctx context.Context, tenantID string) ([]*models.Integration, error) {
	return f.list, nil
}
func (f *fakeIntegrations) Update(ctx context.Context, integration *models.Integration) error { return nil }
func (f *fakeIntegrations) Delete(ctx context.Context, tenantID, id string) error              { return nil }

type fakeRegistry struct {
	jobs        map[string]*models.Job
	createCalls int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{jobs: map[string]*models.Job{}}
}

func (f *fakeRegistry) Create(ctx context.Context, job *models.Job) error {
	f.createCalls++
	f.jobs[job.ID] = job
	return nil
}
func (f *fakeRegistry) Get(ctx context.Context, tenantID, jobID string) (*models.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return job, nil
}
func (f *fakeRegistry) ListDue(ctx context.Context) ([]*models.Job, error) { return nil, nil }
func (f *fakeRegistry) ListByStatus(ctx context.Context, tenantID string, status models.JobStatus) ([]*models.Job, error) {
	var out []*models.Job
	for _, j := range f.jobs {
		if j.TenantID == tenantID && j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}
func (f *fakeRegistry) BeginRun(ctx context.Context, tenantID, jobID string, expectedVersion int64) (*models.Job, error) {
	return nil, interfaces.ErrConflict
}
func (f *fakeRegistry) SetStepStatus(ctx context.Context, tenantID, jobID string, step models.StepName, worker models.WorkerType, status models.SubStatus) error {
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

type fakeRawStore struct {
	resetCount int
}

func (f *fakeRawStore) Insert(ctx context.Context, record *models.RawRecord) error { return nil }
func (f *fakeRawStore) InsertBatch(ctx context.Context, records []*models.RawRecord) error {
	return nil
}
func (f *fakeRawStore) ClaimPending(ctx context.Context, tenantID, jobID string, limit int) ([]*models.RawRecord, error) {
	return nil, nil
}
func (f *fakeRawStore) MarkTransformed(ctx context.Context, tenantID, recordID string) error {
	return nil
}
func (f *fakeRawStore) MarkFailed(ctx context.Context, tenantID, recordID, reason string) error {
	return nil
}
func (f *fakeRawStore) ResetFailed(ctx context.Context, tenantID, jobID string) (int, error) {
	return f.resetCount, nil
}
func (f *fakeRawStore) CountPending(ctx context.Context, tenantID, jobID string) (int, error) {
	return 0, nil
}

type fakeBroker struct {
	deadLetters []*models.QueueMessage
	replayed    string
}

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
	return f.deadLetters, nil
}
func (f *fakeBroker) Replay(ctx context.Context, messageID string) error {
	f.replayed = messageID
	return nil
}

type fakeKVStorage struct {
	pairs map[string]interfaces.KeyValuePair
}

func newFakeKVStorage() *fakeKVStorage {
	return &fakeKVStorage{pairs: map[string]interfaces.KeyValuePair{}}
}

func (f *fakeKVStorage) Get(ctx context.Context, key string) (string, error) {
	pair, ok := f.pairs[key]
	if !ok {
		return "", interfaces.ErrNotFound
	}
	return pair.Value, nil
}
func (f *fakeKVStorage) GetPair(ctx context.Context, key string) (*interfaces.KeyValuePair, error) {
	pair, ok := f.pairs[key]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &pair, nil
}
func (f *fakeKVStorage) Set(ctx context.Context, key, value, description string) error {
	f.pairs[key] = interfaces.KeyValuePair{Key: key, Value: value, Description: description}
	return nil
}
func (f *fakeKVStorage) Delete(ctx context.Context, key string) error {
	delete(f.pairs, key)
	return nil
}
func (f *fakeKVStorage) List(ctx context.Context) ([]interfaces.KeyValuePair, error) {
	var out []interfaces.KeyValuePair
	for _, p := range f.pairs {
		out = append(out, p)
	}
	return out, nil
}
func (f *fakeKVStorage) GetAll(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(f.pairs))
	for k, p := range f.pairs {
		out[k] = p.Value
	}
	return out, nil
}

func newTestServer() (*Server, *fakeIntegrations, *fakeRegistry, *fakeRawStore, *fakeBroker, *fakeKVStorage) {
	logger := arbor.NewLogger()
	integrations := &fakeIntegrations{}
	registry := newFakeRegistry()
	rawStore := &fakeRawStore{}
	broker := &fakeBroker{}
	kvStorage := newFakeKVStorage()
	orch := orchestrator.New(registry, broker, integrations, nil, progress.NewChannel(logger), orchestrator.Config{}, logger)
	handler := progress.NewHandler(progress.NewChannel(logger), logger)
	kvService := kv.NewService(kvStorage, nil, logger)

	s := NewServer(&fakeTenants{}, integrations, registry, rawStore, broker, orch, handler, kvService, logger)
	return s, integrations, registry, rawStore, broker, kvStorage
}

func doRequest(s *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHandleIntegrationsRejectsUnknownType(t *testing.T) {
	s, _, _, _, _, _ := newTestServer()

	rec := doRequest(s, http.MethodPost, "/integrations", map[string]interface{}{
		"tenant_id": "tenant-1",
		"type":      "not-a-real-source",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIntegrationsRejectsTooManyFieldMappings(t *testing.T) {
	s, _, _, _, _, _ := newTestServer()

	mappings := map[string]string{}
	for i := 0; i < 21; i++ {
		mappings[string(rune('a'+i))] = "source"
	}

	rec := doRequest(s, http.MethodPost, "/integrations", map[string]interface{}{
		"tenant_id":             "tenant-1",
		"type":                  "jira",
		"custom_field_mappings": mappings,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIntegrationsCreatesValidIntegration(t *testing.T) {
	s, integrations, _, _, _, _ := newTestServer()

	rec := doRequest(s, http.MethodPost, "/integrations", map[string]interface{}{
		"tenant_id": "tenant-1",
		"type":      "jira",
		"name":      "prod jira",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, integrations.created, 1)
	assert.Equal(t, "tenant-1", integrations.created[0].TenantID)
}

func TestHandleIntegrationsListRequiresTenantID(t *testing.T) {
	s, _, _, _, _, _ := newTestServer()

	rec := doRequest(s, http.MethodGet, "/integrations", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleJobsCreateRejectsMissingBody(t *testing.T) {
	s, _, registry, _, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, registry.createCalls)
}

func TestHandleJobsCreateRejectsUnknownIntegration(t *testing.T) {
	s, _, registry, _, _, _ := newTestServer()

	rec := doRequest(s, http.MethodPost, "/jobs", map[string]interface{}{
		"tenant_id":      "tenant-1",
		"integration_id": "int-1",
		"type":           "full",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, registry.createCalls)
}

func TestHandleJobsCreatesJobWithoutTriggering(t *testing.T) {
	s, integrations, registry, _, _, _ := newTestServer()
	integrations.getOne = &models.Integration{ID: "int-1", TenantID: "tenant-1", Type: models.SourceTypeJira}

	rec := doRequest(s, http.MethodPost, "/jobs", map[string]interface{}{
		"tenant_id":      "tenant-1",
		"integration_id": "int-1",
		"type":           "full",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 1, registry.createCalls)

	var job models.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.Equal(t, models.DefaultSteps(models.SourceTypeJira), job.Steps)
}

func TestHandleJobsCreateAcceptsExplicitSteps(t *testing.T) {
	s, integrations, registry, _, _, _ := newTestServer()
	integrations.getOne = &models.Integration{ID: "int-1", TenantID: "tenant-1", Type: models.SourceTypeJira}

	rec := doRequest(s, http.MethodPost, "/jobs", map[string]interface{}{
		"tenant_id":      "tenant-1",
		"integration_id": "int-1",
		"type":           "full",
		"steps": []map[string]interface{}{
			{"name": "issues", "order": 1, "display_name": "Issues"},
		},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, registry.createCalls)

	var job models.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	require.Len(t, job.Steps, 1)
	assert.Equal(t, models.StepName("issues"), job.Steps[0].Name)
}

func TestHandleJobByIDRequiresTenantID(t *testing.T) {
	s, _, _, _, _, _ := newTestServer()

	rec := doRequest(s, http.MethodGet, "/jobs/job-1", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleJobByIDReturnsNotFoundForUnknownJob(t *testing.T) {
	s, _, _, _, _, _ := newTestServer()

	rec := doRequest(s, http.MethodGet, "/jobs/job-1?tenant_id=tenant-1", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDeadLetterListRequiresTenantID(t *testing.T) {
	s, _, _, _, _, _ := newTestServer()

	rec := doRequest(s, http.MethodGet, "/admin/dead-letter", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeadLetterReplayRoutesMessageID(t *testing.T) {
	s, _, _, _, broker, _ := newTestServer()

	rec := doRequest(s, http.MethodPost, "/admin/dead-letter/msg-1/replay", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "msg-1", broker.replayed)
}

func TestHandleRetriggerFailedRequiresTenantID(t *testing.T) {
	s, _, _, _, _, _ := newTestServer()

	rec := doRequest(s, http.MethodPost, "/admin/jobs/job-1/retrigger-failed", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRetriggerFailedResetsRawStore(t *testing.T) {
	s, _, _, rawStore, _, _ := newTestServer()
	rawStore.resetCount = 3

	rec := doRequest(s, http.MethodPost, "/admin/jobs/job-1/retrigger-failed?tenant_id=tenant-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 3, body["reset_count"])
}

func TestHandleConfigKVSetAndGet(t *testing.T) {
	s, _, _, _, _, _ := newTestServer()

	rec := doRequest(s, http.MethodPost, "/admin/config-kv", map[string]string{
		"key":         "jira_api_token",
		"value":       "secret-value",
		"description": "prod jira token",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(s, http.MethodGet, "/admin/config-kv/jira_api_token", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var pair interfaces.KeyValuePair
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pair))
	assert.Equal(t, "secret-value", pair.Value)
}

func TestHandleConfigKVRejectsEmptyKey(t *testing.T) {
	s, _, _, _, _, _ := newTestServer()

	rec := doRequest(s, http.MethodPost, "/admin/config-kv", map[string]string{"value": "v"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleConfigKVDelete(t *testing.T) {
	s, _, _, _, _, kvStorage := newTestServer()
	kvStorage.pairs["stale_key"] = interfaces.KeyValuePair{Key: "stale_key", Value: "v"}

	rec := doRequest(s, http.MethodDelete, "/admin/config-kv/stale_key", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/admin/config-kv/stale_key", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleConfigKVListReturnsAllPairs(t *testing.T) {
	s, _, _, _, _, kvStorage := newTestServer()
	kvStorage.pairs["a"] = interfaces.KeyValuePair{Key: "a", Value: "1"}
	kvStorage.pairs["b"] = interfaces.KeyValuePair{Key: "b", Value: "2"}

	rec := doRequest(s, http.MethodGet, "/admin/config-kv", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var pairs []interfaces.KeyValuePair
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pairs))
	assert.Len(t, pairs, 2)
}
