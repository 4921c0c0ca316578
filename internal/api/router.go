// Package api implements the Control API: the REST surface operators and
// the progress websocket use to create tenants/integrations/jobs, trigger
// and inspect runs, and manage the dead-letter queue.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/etlplatform/internal/common"
	"github.com/ternarybob/etlplatform/internal/interfaces"
	"github.com/ternarybob/etlplatform/internal/models"
	"github.com/ternarybob/etlplatform/internal/orchestrator"
	"github.com/ternarybob/etlplatform/internal/progress"
	"github.com/ternarybob/etlplatform/internal/services/kv"
)

// Server wires the Control API's HTTP handlers to the platform's storage and
// orchestration layers.
type Server struct {
	tenants      interfaces.TenantStorage
	integrations interfaces.IntegrationStorage
	registry     interfaces.JobRegistry
	rawStore     interfaces.RawStore
	broker       interfaces.QueueBroker
	orchestrator *orchestrator.Orchestrator
	progress     *progress.Handler
	kv           *kv.Service
	logger       arbor.ILogger

	mux *http.ServeMux
}

func NewServer(
	tenants interfaces.TenantStorage,
	integrations interfaces.IntegrationStorage,
	registry interfaces.JobRegistry,
	rawStore interfaces.RawStore,
	broker interfaces.QueueBroker,
	orch *orchestrator.Orchestrator,
	progressHandler *progress.Handler,
	kvService *kv.Service,
	logger arbor.ILogger,
) *Server {
	s := &Server{
		tenants:      tenants,
		integrations: integrations,
		registry:     registry,
		rawStore:     rawStore,
		broker:       broker,
		orchestrator: orch,
		progress:     progressHandler,
		kv:           kvService,
		logger:       logger,
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/tenants", s.handleTenants)
	s.mux.HandleFunc("/integrations", s.handleIntegrations)
	s.mux.HandleFunc("/jobs", s.handleJobs)
	s.mux.HandleFunc("/jobs/", s.handleJobByID)
	s.mux.HandleFunc("/admin/dead-letter", s.handleDeadLetterList)
	s.mux.HandleFunc("/admin/dead-letter/", s.handleDeadLetterReplay)
	s.mux.HandleFunc("/admin/jobs/", s.handleRetriggerFailed)
	s.mux.HandleFunc("/admin/config-kv", s.handleConfigKV)
	s.mux.HandleFunc("/admin/config-kv/", s.handleConfigKVByKey)
	s.mux.Handle("/ws/progress", s.progress)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleTenants: POST creates a tenant, GET lists all tenants.
func (s *Server) handleTenants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		tenant := &models.Tenant{ID: uuid.NewString(), Name: req.Name, CreatedAt: time.Now().UTC()}
		if err := s.tenants.Create(ctx, tenant); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, tenant)
	case http.MethodGet:
		tenants, err := s.tenants.List(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, tenants)
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
	}
}

// handleIntegrations: POST creates an integration, GET lists by tenant_id.
func (s *Server) handleIntegrations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost:
		var req struct {
			TenantID            string                 `json:"tenant_id"`
			Type                models.SourceType       `json:"type"`
			Name                string                 `json:"name"`
			Credentials         json.RawMessage        `json:"credentials"`
			Settings            map[string]interface{} `json:"settings"`
			CustomFieldMappings map[string]string      `json:"custom_field_mappings"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if !req.Type.IsValid() {
			writeError(w, http.StatusBadRequest, "unsupported integration type")
			return
		}
		if len(req.CustomFieldMappings) > 20 {
			writeError(w, http.StatusBadRequest, "custom_field_mappings accepts at most 20 entries")
			return
		}
		if baseURL, ok := req.Settings["base_url"].(string); ok && baseURL != "" {
			if _, isTestURL, warnings, err := common.ValidateBaseURL(baseURL, s.logger); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			} else if isTestURL {
				s.logger.Warn().Str("tenant_id", req.TenantID).Strs("warnings", warnings).Msg("integration created against a test-looking base_url")
			}
		}
		now := time.Now().UTC()
		integration := &models.Integration{
			ID:                  uuid.NewString(),
			TenantID:            req.TenantID,
			Type:                req.Type,
			Name:                req.Name,
			Credentials:         req.Credentials,
			Settings:            req.Settings,
			CustomFieldMappings: req.CustomFieldMappings,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := s.integrations.Create(ctx, integration); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, integration)
	case http.MethodGet:
		tenantID := r.URL.Query().Get("tenant_id")
		if tenantID == "" {
			writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
			return
		}
		list, err := s.integrations.List(ctx, tenantID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, list)
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
	}
}

// handleJobs: POST creates a job (and optionally triggers it immediately),
// GET lists jobs for a tenant, filterable by status.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost:
		var req struct {
			TenantID         string         `json:"tenant_id"`
			IntegrationID    string         `json:"integration_id"`
			Type             models.JobType `json:"type"`
			ScheduleInterval string         `json:"schedule_interval"`
			TriggerNow       bool           `json:"trigger_now"`
			Steps            []models.Step  `json:"steps,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		integration, err := s.integrations.Get(ctx, req.TenantID, req.IntegrationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown integration_id")
			return
		}

		steps := req.Steps
		if len(steps) == 0 {
			steps = models.DefaultSteps(integration.Type)
		}
		if err := models.ValidateStepOrder(steps); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		job := models.NewJob(uuid.NewString(), req.TenantID, req.IntegrationID, req.Type, steps)
		job.ScheduleInterval = req.ScheduleInterval
		if err := s.registry.Create(ctx, job); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if req.TriggerNow {
			if err := s.orchestrator.StartJob(ctx, job); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusCreated, job)
	case http.MethodGet:
		tenantID := r.URL.Query().Get("tenant_id")
		if tenantID == "" {
			writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
			return
		}
		status := r.URL.Query().Get("status")
		var (
			jobs []*models.Job
			err  error
		)
		if status != "" {
			jobs, err = s.registry.ListByStatus(ctx, tenantID, models.JobStatus(status))
		} else {
			for _, st := range []models.JobStatus{models.JobStatusReady, models.JobStatusRunning, models.JobStatusCompleted, models.JobStatusFailed} {
				var batch []*models.Job
				if batch, err = s.registry.ListByStatus(ctx, tenantID, st); err != nil {
					break
				}
				jobs = append(jobs, batch...)
			}
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
	}
}

// handleJobByID: GET /jobs/{id}?tenant_id=... returns one job, and
// POST /jobs/{id}/trigger manually starts it.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := strings.TrimPrefix(r.URL.Path, "/jobs/")
	parts := strings.Split(path, "/")
	jobID := parts[0]
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}

	if len(parts) == 2 && parts[1] == "trigger" && r.Method == http.MethodPost {
		job, err := s.registry.Get(ctx, tenantID, jobID)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err := s.orchestrator.StartJob(ctx, job); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
		return
	}
	job, err := s.registry.Get(ctx, tenantID, jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleDeadLetterList: GET /admin/dead-letter?tenant_id=...
func (s *Server) handleDeadLetterList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
		return
	}
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}
	messages, err := s.broker.ListDeadLetters(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// handleDeadLetterReplay: POST /admin/dead-letter/{message_id}/replay
func (s *Server) handleDeadLetterReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/admin/dead-letter/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "replay" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err := s.broker.Replay(r.Context(), parts[0]); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "replayed"})
}

// handleRetriggerFailed: POST /admin/jobs/{job_id}/retrigger-failed resets
// every failed raw record for a job back to pending, for the Transform
// worker pool to pick up again on its next poll.
func (s *Server) handleRetriggerFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/admin/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "retrigger-failed" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}
	count, err := s.rawStore.ResetFailed(r.Context(), tenantID, parts[0])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset_count": count})
}

// handleConfigKV: GET /admin/config-kv lists the operator-managed key/value
// pairs used for {key} substitution in config files, POST sets one.
func (s *Server) handleConfigKV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		pairs, err := s.kv.List(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, pairs)
	case http.MethodPost:
		var req interfaces.KeyValuePair
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := s.kv.Set(ctx, req.Key, req.Value, req.Description); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"key": req.Key})
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
	}
}

// handleConfigKVByKey: GET /admin/config-kv/{key} reads one pair, DELETE
// removes it.
func (s *Server) handleConfigKVByKey(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/admin/config-kv/")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		pair, err := s.kv.GetPair(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, pair)
	case http.MethodDelete:
		if err := s.kv.Delete(r.Context(), key); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
	}
}
