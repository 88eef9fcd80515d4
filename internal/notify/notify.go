// Package notify fans out execution and step lifecycle events to live
// subscribers. Notifier calls are fire-and-forget relative to the executor's
// own state transitions: a failing notifier never aborts a run.
package notify

import (
	"context"
	"time"

	"github.com/casehound/casehound/internal/domain"
)

// Stream message event types.
const (
	EventConnected    = "connected"
	EventStepStart    = "step_start"
	EventStepComplete = "step_complete"
	EventStepFailed   = "step_failed"
	EventProgress     = "progress"
	EventComplete     = "complete"
	EventError        = "error"
)

// StreamMessage is the JSON shape delivered to live subscribers.
type StreamMessage struct {
	ExecutionID string          `json:"execution_id"`
	EventType   string          `json:"event_type"`
	StepID      string          `json:"step_id,omitempty"`
	Progress    *float64        `json:"progress,omitempty"`
	Message     string          `json:"message,omitempty"`
	Data        domain.Metadata `json:"data,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Notifier is the progress notification contract consumed by the executor.
type Notifier interface {
	SendProgressUpdate(ctx context.Context, executionID, stepID string, progress float64) error
	SendStepComplete(ctx context.Context, executionID, stepID string, output domain.Metadata) error
	SendStepFailed(ctx context.Context, executionID, stepID string, progress float64, stepErr error) error
	SendExecutionComplete(ctx context.Context, executionID string) error
}

// Nop is a Notifier that discards everything.
type Nop struct{}

func (Nop) SendProgressUpdate(context.Context, string, string, float64) error { return nil }
func (Nop) SendStepComplete(context.Context, string, string, domain.Metadata) error {
	return nil
}
func (Nop) SendStepFailed(context.Context, string, string, float64, error) error { return nil }
func (Nop) SendExecutionComplete(context.Context, string) error                  { return nil }

// Multi forwards each notification to every member, returning the first
// error encountered after all members have been invoked.
type Multi []Notifier

func (m Multi) SendProgressUpdate(ctx context.Context, executionID, stepID string, progress float64) error {
	var firstErr error
	for _, n := range m {
		if err := n.SendProgressUpdate(ctx, executionID, stepID, progress); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m Multi) SendStepComplete(ctx context.Context, executionID, stepID string, output domain.Metadata) error {
	var firstErr error
	for _, n := range m {
		if err := n.SendStepComplete(ctx, executionID, stepID, output); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m Multi) SendStepFailed(ctx context.Context, executionID, stepID string, progress float64, stepErr error) error {
	var firstErr error
	for _, n := range m {
		if err := n.SendStepFailed(ctx, executionID, stepID, progress, stepErr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m Multi) SendExecutionComplete(ctx context.Context, executionID string) error {
	var firstErr error
	for _, n := range m {
		if err := n.SendExecutionComplete(ctx, executionID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
