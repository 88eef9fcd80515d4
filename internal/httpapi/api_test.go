package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casehound/casehound/internal/domain"
	"github.com/casehound/casehound/internal/execution/executor"
	"github.com/casehound/casehound/internal/hunt"
	"github.com/casehound/casehound/internal/notify"
	"github.com/casehound/casehound/internal/plugin"
	"github.com/casehound/casehound/internal/repo/memory"
	"github.com/casehound/casehound/internal/service/hunts"
)

type apiFixture struct {
	mux     *http.ServeMux
	store   *memory.Store
	service *hunts.Service
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()

	registry := hunt.NewRegistry()
	err := registry.Register(func() domain.HuntDefinition {
		return domain.HuntDefinition{
			Name:        "simple",
			DisplayName: "Simple Hunt",
			Version:     "1.0.0",
			InitialParameterSchema: map[string]domain.ParameterSpec{
				"target": {Type: "string", Required: true},
			},
			Steps: []domain.HuntStepDefinition{
				{StepID: "a", PluginName: "ok"},
			},
		}
	})
	require.NoError(t, err)

	plugins := plugin.NewRegistry()
	plugins.Register("ok", plugin.HandleFunc(func(ctx context.Context, params domain.Metadata, emit func(plugin.Event)) error {
		emit(plugin.Event{Type: plugin.EventData, Data: domain.Metadata{"ok": true}})
		return nil
	}))

	store := memory.NewStore()
	logger := slog.New(slog.DiscardHandler)
	runner := executor.New(store, store, plugins, notify.Nop{}, logger)
	service, err := hunts.New(logger, registry, store, store, runner, hunts.Config{
		MaxConcurrentExecutions: 2,
		RunTimeout:              5 * time.Second,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	New(logger, service, notify.NewHub()).Register(mux)
	return &apiFixture{mux: mux, store: store, service: service}
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestListHunts(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/v1/hunts", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Hunts []huntView `json:"hunts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Hunts, 1)
	assert.Equal(t, "simple", out.Hunts[0].Name)
	assert.Len(t, out.Hunts[0].Steps, 1)
}

func TestGetHunt(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/v1/hunts/simple", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out huntView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Simple Hunt", out.DisplayName)
	require.Contains(t, out.Parameters, "target")
	assert.True(t, out.Parameters["target"].Required)

	rec = f.do(http.MethodGet, "/v1/hunts/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLaunchAccepted(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/hunts/simple/executions",
		`{"case_id":"case-1","parameters":{"target":"example.com"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var out executionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out.ExecutionID)
	assert.Equal(t, "simple", out.HuntID)
	assert.Equal(t, "case-1", out.CaseID)
	assert.Equal(t, string(domain.ExecutionPending), out.Status)

	f.service.Wait()
}

func TestLaunchValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/hunts/missing/executions",
		`{"case_id":"case-1","parameters":{"target":"x"}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/v1/hunts/simple/executions", `{"parameters":{"target":"x"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "case_id_required")

	rec = f.do(http.MethodPost, "/v1/hunts/simple/executions", `{"case_id":"case-1","parameters":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_parameters")

	rec = f.do(http.MethodPost, "/v1/hunts/simple/executions", `{"case_id":"case-1","bogus":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_json")
}

func TestGetExecution(t *testing.T) {
	f := newFixture(t)

	ctx := context.Background()
	require.NoError(t, f.store.CreateExecution(ctx, domain.HuntExecution{
		ID:     "exec-1",
		HuntID: "simple",
		CaseID: "case-1",
		Status: domain.ExecutionCompleted,
	}))
	require.NoError(t, f.store.CreateSteps(ctx, []domain.HuntStep{
		{ExecutionID: "exec-1", StepID: "a", PluginName: "ok", Status: domain.StepCompleted},
	}))

	rec := f.do(http.MethodGet, "/v1/executions/exec-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Execution executionView `json:"execution"`
		Steps     []stepView    `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "exec-1", out.Execution.ExecutionID)
	require.Len(t, out.Steps, 1)
	assert.Equal(t, "a", out.Steps[0].StepID)

	rec = f.do(http.MethodGet, "/v1/executions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListExecutionsFilters(t *testing.T) {
	f := newFixture(t)

	ctx := context.Background()
	require.NoError(t, f.store.CreateExecution(ctx, domain.HuntExecution{
		ID: "exec-1", HuntID: "simple", CaseID: "case-1", Status: domain.ExecutionCompleted,
	}))
	require.NoError(t, f.store.CreateExecution(ctx, domain.HuntExecution{
		ID: "exec-2", HuntID: "simple", CaseID: "case-2", Status: domain.ExecutionRunning,
	}))

	rec := f.do(http.MethodGet, "/v1/executions?case_id=case-2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Executions []executionView `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Executions, 1)
	assert.Equal(t, "exec-2", out.Executions[0].ExecutionID)

	rec = f.do(http.MethodGet, "/v1/executions?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/v1/executions?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelExecution(t *testing.T) {
	f := newFixture(t)

	ctx := context.Background()
	require.NoError(t, f.store.CreateExecution(ctx, domain.HuntExecution{
		ID: "exec-1", HuntID: "simple", CaseID: "case-1", Status: domain.ExecutionPending,
	}))

	rec := f.do(http.MethodPost, "/v1/executions/exec-1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out executionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, string(domain.ExecutionCancelled), out.Status)

	rec = f.do(http.MethodPost, "/v1/executions/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamTerminalExecutionSendsComplete(t *testing.T) {
	f := newFixture(t)

	ctx := context.Background()
	require.NoError(t, f.store.CreateExecution(ctx, domain.HuntExecution{
		ID: "exec-1", HuntID: "simple", CaseID: "case-1",
		Status: domain.ExecutionCompleted, Progress: 1.0,
	}))

	rec := f.do(http.MethodGet, "/v1/executions/exec-1/stream", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: connected")
	assert.Contains(t, body, "event: complete")
}

func TestStreamUnknownExecution(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/v1/executions/missing/stream", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
