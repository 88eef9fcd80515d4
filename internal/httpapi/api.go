// Package httpapi exposes the hunt engine over HTTP. Handlers stay thin:
// decode, delegate to the service layer, encode.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/casehound/casehound/internal/domain"
	"github.com/casehound/casehound/internal/notify"
	"github.com/casehound/casehound/internal/platform/auth"
	"github.com/casehound/casehound/internal/repo"
	"github.com/casehound/casehound/internal/service/hunts"
)

type API struct {
	logger  *slog.Logger
	service *hunts.Service
	hub     *notify.Hub
}

func New(logger *slog.Logger, service *hunts.Service, hub *notify.Hub) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		logger:  logger,
		service: service,
		hub:     hub,
	}
}

func (api *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/hunts", api.handleListHunts)
	mux.HandleFunc("GET /v1/hunts/{hunt_name}", api.handleGetHunt)
	mux.HandleFunc("POST /v1/hunts/{hunt_name}/executions", api.handleLaunch)

	mux.HandleFunc("GET /v1/executions", api.handleListExecutions)
	mux.HandleFunc("GET /v1/executions/{execution_id}", api.handleGetExecution)
	mux.HandleFunc("POST /v1/executions/{execution_id}/cancel", api.handleCancelExecution)
	mux.HandleFunc("GET /v1/executions/{execution_id}/stream", api.handleStreamExecution)
}

func (api *API) handleListHunts(w http.ResponseWriter, r *http.Request) {
	defs := api.service.Definitions()
	out := make([]huntView, 0, len(defs))
	for _, def := range defs {
		out = append(out, toHuntView(def))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"hunts": out})
}

func (api *API) handleGetHunt(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("hunt_name"))
	if name == "" {
		api.writeError(w, r, http.StatusBadRequest, "hunt_name_required")
		return
	}
	def, ok := api.service.Definition(name)
	if !ok {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}
	api.writeJSON(w, http.StatusOK, toHuntView(def))
}

type launchRequest struct {
	CaseID     string          `json:"case_id"`
	Parameters domain.Metadata `json:"parameters,omitempty"`
}

func (api *API) handleLaunch(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("hunt_name"))
	if name == "" {
		api.writeError(w, r, http.StatusBadRequest, "hunt_name_required")
		return
	}

	var req launchRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.CaseID) == "" {
		api.writeError(w, r, http.StatusBadRequest, "case_id_required")
		return
	}

	actor := ""
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		actor = identity.Subject
	}

	execution, err := api.service.Launch(r.Context(), hunts.LaunchRequest{
		HuntName:   name,
		CaseID:     strings.TrimSpace(req.CaseID),
		Parameters: req.Parameters,
		Actor:      actor,
		RequestID:  r.Header.Get("X-Request-Id"),
	})
	if err != nil {
		switch {
		case errors.Is(err, hunts.ErrUnknownHunt):
			api.writeError(w, r, http.StatusNotFound, "not_found")
		case errors.Is(err, hunts.ErrInvalidParameters):
			api.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "invalid_parameters",
				"detail":     err.Error(),
				"request_id": r.Header.Get("X-Request-Id"),
			})
		default:
			api.logger.Error("launch failed", "hunt", name, "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	api.writeJSON(w, http.StatusAccepted, toExecutionView(execution))
}

func (api *API) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := repo.ExecutionFilter{
		HuntID: strings.TrimSpace(r.URL.Query().Get("hunt_id")),
		CaseID: strings.TrimSpace(r.URL.Query().Get("case_id")),
		Limit:  50,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := domain.NormalizeExecutionStatus(raw)
		if status == "" {
			api.writeError(w, r, http.StatusBadRequest, "invalid_status")
			return
		}
		filter.Status = string(status)
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
			return
		}
		filter.Limit = parsed
	}

	executions, err := api.service.List(r.Context(), filter)
	if err != nil {
		api.logger.Error("list executions failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]executionView, 0, len(executions))
	for _, execution := range executions {
		out = append(out, toExecutionView(execution))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"executions": out})
}

func (api *API) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	executionID := strings.TrimSpace(r.PathValue("execution_id"))
	if executionID == "" {
		api.writeError(w, r, http.StatusBadRequest, "execution_id_required")
		return
	}

	execution, steps, err := api.service.Get(r.Context(), executionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.logger.Error("get execution failed", "execution_id", executionID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	view := toExecutionView(execution)
	stepViews := make([]stepView, 0, len(steps))
	for _, step := range steps {
		stepViews = append(stepViews, toStepView(step))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"execution": view,
		"steps":     stepViews,
	})
}

func (api *API) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	executionID := strings.TrimSpace(r.PathValue("execution_id"))
	if executionID == "" {
		api.writeError(w, r, http.StatusBadRequest, "execution_id_required")
		return
	}

	actor := ""
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		actor = identity.Subject
	}

	execution, err := api.service.Cancel(r.Context(), executionID, actor, r.Header.Get("X-Request-Id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.logger.Error("cancel execution failed", "execution_id", executionID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.writeJSON(w, http.StatusOK, toExecutionView(execution))
}
