package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/casehound/casehound/internal/domain"
)

// NATSPublisher is a Notifier publishing stream messages to a per-execution
// NATS subject so external consumers can follow a run without holding an SSE
// connection to this process.
type NATSPublisher struct {
	nc            *nats.Conn
	subjectPrefix string
	now           func() time.Time
}

// NewNATSPublisher wraps an established NATS connection. subjectPrefix
// defaults to "casehound.executions".
func NewNATSPublisher(nc *nats.Conn, subjectPrefix string) (*NATSPublisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if subjectPrefix == "" {
		subjectPrefix = "casehound.executions"
	}
	return &NATSPublisher{nc: nc, subjectPrefix: subjectPrefix, now: time.Now}, nil
}

func (p *NATSPublisher) publish(msg StreamMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal stream message: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", p.subjectPrefix, msg.ExecutionID)
	if err := p.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) SendProgressUpdate(_ context.Context, executionID, stepID string, progress float64) error {
	v := progress
	return p.publish(StreamMessage{
		ExecutionID: executionID,
		EventType:   EventProgress,
		StepID:      stepID,
		Progress:    &v,
		Timestamp:   p.now().UTC(),
	})
}

func (p *NATSPublisher) SendStepComplete(_ context.Context, executionID, stepID string, output domain.Metadata) error {
	return p.publish(StreamMessage{
		ExecutionID: executionID,
		EventType:   EventStepComplete,
		StepID:      stepID,
		Data:        output,
		Timestamp:   p.now().UTC(),
	})
}

func (p *NATSPublisher) SendStepFailed(_ context.Context, executionID, stepID string, progress float64, stepErr error) error {
	v := progress
	message := ""
	if stepErr != nil {
		message = stepErr.Error()
	}
	return p.publish(StreamMessage{
		ExecutionID: executionID,
		EventType:   EventStepFailed,
		StepID:      stepID,
		Progress:    &v,
		Message:     message,
		Timestamp:   p.now().UTC(),
	})
}

func (p *NATSPublisher) SendExecutionComplete(_ context.Context, executionID string) error {
	return p.publish(StreamMessage{
		ExecutionID: executionID,
		EventType:   EventComplete,
		Timestamp:   p.now().UTC(),
	})
}
