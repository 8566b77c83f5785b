package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartograph-io/cartograph/internal/config"
	"github.com/cartograph-io/cartograph/internal/ingest"
	"github.com/cartograph-io/cartograph/internal/orchestration"
	"github.com/cartograph-io/cartograph/internal/runtime"
	"github.com/cartograph-io/cartograph/internal/snapshot"
	"github.com/cartograph-io/cartograph/internal/storage"
	"github.com/cartograph-io/cartograph/models"
)

// testComponentSource adapts the storage layer to the context-free component
// lookups the services use.
type testComponentSource struct {
	store *storage.Storage
}

func (s testComponentSource) GetComponent(id string) (*models.Component, error) {
	return s.store.GetComponent(context.Background(), id)
}

func (s testComponentSource) ListComponents(mapID string) ([]*models.Component, error) {
	return s.store.ListComponents(context.Background(), mapID)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
		Database: config.DatabaseConfig{
			Path: filepath.Join(t.TempDir(), "cartograph.db"),
		},
		Security: config.SecurityConfig{
			AuthEnabled:      false,
			JWTSecret:        "test-secret",
			JWTExpiration:    time.Hour,
			AgentTokenSecret: "agent-test-secret",
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()

	store, err := storage.Open(context.Background(), cfg.Database.Path)
	require.NoError(t, err)

	registry := runtime.NewRegistry(runtime.DefaultConfig(), store)
	agents := orchestration.NewAgentRegistry()
	transport := orchestration.NewPollTransport(16)
	source := testComponentSource{store: store}
	orchestrator := orchestration.New(source, registry, agents, transport, store, orchestration.DefaultConfig())
	feed := ingest.NewFeed(registry, orchestrator, agents)
	snapshots := snapshot.New(source, registry, store, snapshot.DefaultConfig())

	t.Cleanup(func() {
		orchestrator.Close()
		registry.Close()
		store.Close()
	})

	return New(Deps{
		Config:       cfg,
		Storage:      store,
		Registry:     registry,
		Orchestrator: orchestrator,
		Agents:       agents,
		Transport:    transport,
		Feed:         feed,
		Snapshots:    snapshots,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func webComponent(externalID string) map[string]any {
	return map[string]any{
		"mapId":      "map-prod",
		"externalId": externalID,
		"name":       "Web " + externalID,
		"type":       "service",
		"config": map[string]any{
			"actions": []map[string]any{
				{"name": "restart", "transitionalHint": "starting", "async": true},
			},
			"agentSelector": map[string]any{"labels": map[string]string{"zone": "eu-1"}},
		},
	}
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}

func TestComponentLifecycle(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := doJSON(t, s, http.MethodPost, "/api/v1/components", webComponent("api"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[componentResponse](t, rec)
	require.NotEmpty(t, created.Component.ID)
	assert.Equal(t, models.StatusUnknown, created.State.Status)

	id := created.Component.ID

	rec = doJSON(t, s, http.MethodGet, "/api/v1/components/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/components/"+id+"/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[models.ComponentRuntimeState](t, rec)
	assert.Equal(t, models.StatusUnknown, state.Status)

	update := webComponent("api")
	update["name"] = "Web API renamed"
	rec = doJSON(t, s, http.MethodPut, "/api/v1/components/"+id, update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[models.Component](t, rec)
	assert.Equal(t, id, updated.ID)
	assert.Equal(t, "Web API renamed", updated.Name)

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/components/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/components/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateComponentValidation(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	invalid := webComponent("Bad ID With Spaces")
	rec := doJSON(t, s, http.MethodPost, "/api/v1/components", invalid)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	missing := map[string]any{"mapId": "map-prod", "externalId": "api"}
	rec = doJSON(t, s, http.MethodPost, "/api/v1/components", missing)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManualOverride(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := doJSON(t, s, http.MethodPost, "/api/v1/components", webComponent("api"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[componentResponse](t, rec).Component.ID

	rec = doJSON(t, s, http.MethodPut, "/api/v1/components/"+id+"/override",
		overrideRequest{Status: "error", TTL: "10m"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	state := decode[models.ComponentRuntimeState](t, rec)
	assert.Equal(t, models.StatusError, state.Status)

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/components/"+id+"/override", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state = decode[models.ComponentRuntimeState](t, rec)
	assert.Equal(t, models.StatusUnknown, state.Status)

	rec = doJSON(t, s, http.MethodPut, "/api/v1/components/"+id+"/override",
		overrideRequest{Status: "sideways"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func registerTestAgent(t *testing.T, s *Server) {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/v1/agents/register", agentRegisterRequest{
		ID:     "agent-1",
		Name:   "probe",
		Labels: map[string]string{"zone": "eu-1"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestInvokeDispatchAndAck(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	registerTestAgent(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/components", webComponent("api"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[componentResponse](t, rec).Component.ID

	// Invoke the async restart action.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/components/"+id+"/actions/restart", invokeRequest{})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	cmd := decode[models.Command](t, rec)
	assert.Equal(t, models.CommandRunning, cmd.Status)
	assert.Equal(t, "agent-1", cmd.AgentID)

	// The transitional hint shows while the command is in flight.
	rec = doJSON(t, s, http.MethodGet, "/api/v1/components/"+id+"/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusStarting, decode[models.ComponentRuntimeState](t, rec).Status)

	// A second invocation conflicts.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/components/"+id+"/actions/restart",
		invokeRequest{Nonce: "different"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// The agent polls and receives the dispatch.
	rec = doJSON(t, s, http.MethodGet, "/api/v1/agents/agent-1/dispatches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dispatches := decode[[]orchestration.Dispatch](t, rec)
	require.Len(t, dispatches, 1)
	assert.Equal(t, orchestration.DispatchInvoke, dispatches[0].Kind)
	assert.Equal(t, cmd.ID, dispatches[0].CommandID)

	// The agent acknowledges success.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/agents/agent-1/reports/acks",
		[]models.AckReport{{Sequence: 1, CommandID: cmd.ID, Success: true}})
	require.Equal(t, http.StatusOK, rec.Code)
	batch := decode[reportBatchResponse](t, rec)
	assert.Equal(t, 1, batch.Accepted)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/commands/"+cmd.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	final := decode[models.Command](t, rec)
	assert.Equal(t, models.CommandSucceeded, final.Status)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/components/"+id+"/commands", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]models.Command](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, models.CommandSucceeded, history[0].Status)
}

func TestInvokeWithoutAgent(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := doJSON(t, s, http.MethodPost, "/api/v1/components", webComponent("api"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[componentResponse](t, rec).Component.ID

	rec = doJSON(t, s, http.MethodPost, "/api/v1/components/"+id+"/actions/restart", invokeRequest{})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/components/"+id+"/actions/no-such-action", invokeRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelCommand(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	registerTestAgent(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/components", webComponent("api"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[componentResponse](t, rec).Component.ID

	rec = doJSON(t, s, http.MethodPost, "/api/v1/components/"+id+"/actions/restart", invokeRequest{})
	require.Equal(t, http.StatusAccepted, rec.Code)
	cmd := decode[models.Command](t, rec)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/commands/"+cmd.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decode[models.Command](t, rec)
	assert.Equal(t, models.CommandCancelled, cancelled.Status)

	// Cancelling a terminal command is rejected.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/commands/"+cmd.ID+"/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportChecks(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	registerTestAgent(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/components", webComponent("api"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[componentResponse](t, rec).Component.ID

	reports := []models.CheckReport{{
		Sequence:    1,
		ComponentID: id,
		CheckName:   "http",
		Severity:    models.SeverityWarning,
		Message:     "slow responses",
	}}
	rec = doJSON(t, s, http.MethodPost, "/api/v1/agents/agent-1/reports/checks", reports)
	require.Equal(t, http.StatusOK, rec.Code)
	batch := decode[reportBatchResponse](t, rec)
	assert.Equal(t, 1, batch.Accepted)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/components/"+id+"/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[models.ComponentRuntimeState](t, rec)
	assert.Equal(t, models.StatusWarning, state.Status)

	// Replaying the same sequence is rejected, not reapplied.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/agents/agent-1/reports/checks", reports)
	require.Equal(t, http.StatusOK, rec.Code)
	batch = decode[reportBatchResponse](t, rec)
	assert.Equal(t, 1, batch.Rejected)
}

const testDefinition = `mapId: map-prod
components:
  - id: api
    name: Web API
    type: service
  - id: db
    name: Payments DB
    type: database
`

func doYAML(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/yaml")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestDefinitionImportExportDiff(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := doYAML(t, s, http.MethodPut, "/api/v1/maps/map-prod/definition", testDefinition)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[importResult](t, rec)
	assert.Equal(t, 2, summary.Created)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/maps/map-prod/components", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	components := decode[[]models.Component](t, rec)
	require.Len(t, components, 2)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/maps/map-prod/definition", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "id: api")
	assert.Contains(t, rec.Body.String(), "id: db")

	// The unchanged definition diffs clean against a fresh capture.
	rec = doYAML(t, s, http.MethodPost, "/api/v1/maps/map-prod/diff", testDefinition)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[models.DiffReport](t, rec)
	require.Len(t, report.Entries, 2)
	for _, entry := range report.Entries {
		assert.Equal(t, models.DiffUnchanged, entry.State)
	}

	// Rename one entry, drop one, add one.
	changed := `mapId: map-prod
components:
  - id: api
    name: Web API v2
    type: service
  - id: cache
    name: Session Cache
    type: cache
`
	rec = doYAML(t, s, http.MethodPost, "/api/v1/maps/map-prod/diff", changed)
	require.Equal(t, http.StatusOK, rec.Code)
	report = decode[models.DiffReport](t, rec)
	states := map[string]models.DiffState{}
	for _, entry := range report.Entries {
		states[entry.ExternalID] = entry.State
	}
	assert.Equal(t, models.DiffModified, states["api"])
	assert.Equal(t, models.DiffAdded, states["cache"])
	assert.Equal(t, models.DiffRemoved, states["db"])

	// Importing the changed definition reconciles storage.
	rec = doYAML(t, s, http.MethodPut, "/api/v1/maps/map-prod/definition", changed)
	require.Equal(t, http.StatusOK, rec.Code)
	summary = decode[importResult](t, rec)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Removed)
}

func TestSnapshotEndpoints(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := doYAML(t, s, http.MethodPut, "/api/v1/maps/map-prod/definition", testDefinition)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/maps/map-prod/snapshots", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	snap := decode[models.Snapshot](t, rec)
	assert.Equal(t, models.SnapshotManual, snap.Reason)
	assert.Len(t, snap.Components, 2)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/maps/map-prod/snapshots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]models.Snapshot](t, rec)
	require.Len(t, list, 1)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/snapshots/"+snap.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/snapshots/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMaps(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := doYAML(t, s, http.MethodPut, "/api/v1/maps/map-prod/definition", testDefinition)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/maps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ids := decode[[]string](t, rec)
	assert.Equal(t, []string{"map-prod"}, ids)
}
