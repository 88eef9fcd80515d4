package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/casehound/casehound/internal/notify"
	"github.com/casehound/casehound/internal/repo"
)

const streamHeartbeatInterval = 15 * time.Second

func writeSSE(w http.ResponseWriter, event string, payload any) error {
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", blob); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// handleStreamExecution streams live progress events for one execution over
// SSE. For an already-terminal execution the stream replays nothing: it
// sends the connected snapshot and a final event, then closes.
func (api *API) handleStreamExecution(w http.ResponseWriter, r *http.Request) {
	executionID := strings.TrimSpace(r.PathValue("execution_id"))
	if executionID == "" {
		api.writeError(w, r, http.StatusBadRequest, "execution_id_required")
		return
	}

	execution, _, err := api.service.Get(r.Context(), executionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.logger.Error("stream lookup failed", "execution_id", executionID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	if api.hub == nil {
		api.writeError(w, r, http.StatusNotImplemented, "streaming_disabled")
		return
	}

	// Subscribe before reporting the snapshot so no transition between the
	// two is lost.
	events, cancel := api.hub.Subscribe(executionID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}
	flusher.Flush()

	progress := execution.Progress
	_ = writeSSE(w, notify.EventConnected, notify.StreamMessage{
		ExecutionID: executionID,
		EventType:   notify.EventConnected,
		Progress:    &progress,
		Message:     string(execution.Status),
		Timestamp:   time.Now().UTC(),
	})

	if execution.Status.Terminal() {
		_ = writeSSE(w, notify.EventComplete, notify.StreamMessage{
			ExecutionID: executionID,
			EventType:   notify.EventComplete,
			Message:     string(execution.Status),
			Timestamp:   time.Now().UTC(),
		})
		return
	}

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg := <-events:
			if err := writeSSE(w, msg.EventType, msg); err != nil {
				return
			}
			if msg.EventType == notify.EventComplete || msg.EventType == notify.EventError {
				return
			}
		}
	}
}
