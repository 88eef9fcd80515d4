package notify

import (
	"context"
	"sync"
	"time"

	"github.com/casehound/casehound/internal/domain"
)

// Hub is an in-process Notifier that fans stream messages out to per-execution
// subscribers (the SSE transport). Slow subscribers are skipped rather than
// blocking the executor.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan StreamMessage]struct{}
	now  func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan StreamMessage]struct{}),
		now:  time.Now,
	}
}

// Subscribe registers a live subscriber for one execution. The returned
// cancel function must be called when the subscriber goes away.
func (h *Hub) Subscribe(executionID string) (<-chan StreamMessage, func()) {
	ch := make(chan StreamMessage, 64)
	h.mu.Lock()
	if h.subs[executionID] == nil {
		h.subs[executionID] = make(map[chan StreamMessage]struct{})
	}
	h.subs[executionID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[executionID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, executionID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *Hub) publish(msg StreamMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[msg.ExecutionID] {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) SendProgressUpdate(_ context.Context, executionID, stepID string, progress float64) error {
	p := progress
	h.publish(StreamMessage{
		ExecutionID: executionID,
		EventType:   EventProgress,
		StepID:      stepID,
		Progress:    &p,
		Timestamp:   h.now().UTC(),
	})
	return nil
}

func (h *Hub) SendStepComplete(_ context.Context, executionID, stepID string, output domain.Metadata) error {
	h.publish(StreamMessage{
		ExecutionID: executionID,
		EventType:   EventStepComplete,
		StepID:      stepID,
		Data:        output,
		Timestamp:   h.now().UTC(),
	})
	return nil
}

func (h *Hub) SendStepFailed(_ context.Context, executionID, stepID string, progress float64, stepErr error) error {
	p := progress
	message := ""
	if stepErr != nil {
		message = stepErr.Error()
	}
	h.publish(StreamMessage{
		ExecutionID: executionID,
		EventType:   EventStepFailed,
		StepID:      stepID,
		Progress:    &p,
		Message:     message,
		Timestamp:   h.now().UTC(),
	})
	return nil
}

func (h *Hub) SendExecutionComplete(_ context.Context, executionID string) error {
	h.publish(StreamMessage{
		ExecutionID: executionID,
		EventType:   EventComplete,
		Timestamp:   h.now().UTC(),
	})
	return nil
}
