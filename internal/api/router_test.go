package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetflow/outreach/control-plane/internal/analytics"
	"github.com/fleetflow/outreach/control-plane/internal/api"
	"github.com/fleetflow/outreach/control-plane/internal/api/handlers"
	"github.com/fleetflow/outreach/control-plane/internal/auth"
	"github.com/fleetflow/outreach/control-plane/internal/channels"
	"github.com/fleetflow/outreach/control-plane/internal/config"
	"github.com/fleetflow/outreach/control-plane/internal/deriver"
	"github.com/fleetflow/outreach/control-plane/internal/executor"
	"github.com/fleetflow/outreach/control-plane/internal/intel"
	"github.com/fleetflow/outreach/control-plane/internal/orchestrator"
	"github.com/fleetflow/outreach/control-plane/internal/quota"
	"github.com/fleetflow/outreach/control-plane/internal/scheduler"
	"github.com/fleetflow/outreach/control-plane/internal/store"
	"github.com/fleetflow/outreach/control-plane/internal/templates"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

var monday = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T, keys string, requireAuth bool) http.Handler {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	clock := func() time.Time { return monday }

	engine := templates.NewEngine(s, templates.WithClock(clock))
	_, err := engine.Create(context.Background(), "t1", "u1", models.TemplateDraft{
		Name:     "Inquiry reply",
		Category: models.CategoryEmail,
		Content:  "Hi {{first_name}}, thanks for contacting us.",
		Variables: []models.TemplateVariable{
			{Name: "first_name", Type: models.VarString, Required: true},
		},
	})
	require.NoError(t, err)

	recorder := analytics.NewRecorder(0)
	exec := executor.New(s, s, engine, channels.Build(channels.Config{}), quota.NewMemoryCounter(), recorder,
		executor.WithClock(clock))
	sched := scheduler.New(s, s, exec, scheduler.Config{}, scheduler.WithClock(clock))
	scorer := intel.NewScorer(intel.LocalEnricher{}, intel.HeuristicAnalyzer{}, intel.WithClock(clock))
	orch := orchestrator.New(s, scorer, deriver.StaticDirectory{Company: models.CompanyData{Name: "FleetFlow"}},
		sched, recorder, orchestrator.Config{ImmediateDrain: true}, orchestrator.WithClock(clock))

	chain := auth.NewProviderChain()
	chain.RegisterProvider(auth.NewAPIKeyProvider(keys))
	cfg := &config.Config{Version: "test"}
	cfg.Auth.RequireAuth = requireAuth
	return api.NewRouter(cfg, handlers.New(orch, engine, sched), chain)
}

func do(t *testing.T, h http.Handler, method, path, tenant string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("X-Tenant-Id", tenant)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthAndVersion(t *testing.T) {
	h := newTestRouter(t, "", false)

	w := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = do(t, h, http.MethodGet, "/version", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"test"`)
}

func TestLeadFlowOverHTTP(t *testing.T) {
	h := newTestRouter(t, "", false)

	w := do(t, h, http.MethodPost, "/api/v1/agents", "t1", map[string]string{"contractor_id": "c1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var agent models.AgentConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &agent))
	assert.Equal(t, "t1", agent.TenantID)

	w = do(t, h, http.MethodPost, "/api/v1/leads", "t1", models.LeadData{
		Name:    "Dana Ortiz",
		Email:   "dana@ortizfarms.com",
		Message: "Need a reefer quote ASAP",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var res orchestrator.LeadResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Len(t, res.ActionIDs, 2)

	w = do(t, h, http.MethodGet, "/api/v1/agents/"+agent.AgentID+"/status", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status models.AgentStatusReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 1, status.QueueDepth)

	w = do(t, h, http.MethodGet, "/api/v1/agents/"+agent.AgentID+"/actions?status=completed", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var done []models.AgentAction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &done))
	require.Len(t, done, 1)

	// Completed actions cannot be cancelled.
	w = do(t, h, http.MethodPost, "/api/v1/agents/"+agent.AgentID+"/actions/"+done[0].ID+"/cancel", "t1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/leads?min_score=0", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var leads []models.LeadIntelligence
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &leads))
	assert.Len(t, leads, 1)
}

func TestErrorStatuses(t *testing.T) {
	h := newTestRouter(t, "", false)

	w := do(t, h, http.MethodPost, "/api/v1/agents", "t1", map[string]string{"contractor_id": "c1"})
	require.Equal(t, http.StatusCreated, w.Code)
	var agent models.AgentConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &agent))

	tests := []struct {
		name   string
		method string
		path   string
		tenant string
		body   interface{}
		want   int
	}{
		{"other tenant", http.MethodGet, "/api/v1/agents/" + agent.AgentID, "t2", nil, http.StatusForbidden},
		{"unknown agent", http.MethodGet, "/api/v1/agents/nope", "t1", nil, http.StatusNotFound},
		{"missing contractor", http.MethodPost, "/api/v1/agents", "t1", map[string]string{}, http.StatusUnprocessableEntity},
		{"bad status filter", http.MethodGet, "/api/v1/agents/" + agent.AgentID + "/actions?status=bogus", "t1", nil, http.StatusBadRequest},
		{"bad score filter", http.MethodGet, "/api/v1/leads?min_score=high", "t1", nil, http.StatusBadRequest},
		{"empty lead", http.MethodPost, "/api/v1/leads", "t1", map[string]string{}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.tenant, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestValidationErrorListsIssues(t *testing.T) {
	h := newTestRouter(t, "", false)
	w := do(t, h, http.MethodPost, "/api/v1/agents", "t1", map[string]string{})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body struct {
		Error  string   `json:"error"`
		Issues []string `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Issues, "contractor id is required")
}

func TestRequireAuthRejectsMissingKey(t *testing.T) {
	h := newTestRouter(t, "secret=t1", true)

	w := do(t, h, http.MethodGet, "/api/v1/agents", "t1", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	w = do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
