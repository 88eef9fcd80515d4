package notify

import (
	"context"
	"testing"

	"github.com/casehound/casehound/internal/domain"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := NewHub()
	events, cancel := hub.Subscribe("exec-1")
	defer cancel()

	if err := hub.SendProgressUpdate(context.Background(), "exec-1", "a", 0.5); err != nil {
		t.Fatalf("send: %v", err)
	}

	msg := <-events
	if msg.EventType != EventProgress || msg.StepID != "a" {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Progress == nil || *msg.Progress != 0.5 {
		t.Fatalf("progress = %v", msg.Progress)
	}
}

func TestHubIsolatesExecutions(t *testing.T) {
	hub := NewHub()
	events, cancel := hub.Subscribe("exec-1")
	defer cancel()

	if err := hub.SendExecutionComplete(context.Background(), "exec-2"); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case msg := <-events:
		t.Fatalf("unexpected message: %+v", msg)
	default:
	}
}

func TestHubDoesNotBlockOnSlowSubscribers(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("exec-1")
	defer cancel()

	// Exceed the subscriber buffer; publishes must not block.
	for i := 0; i < 200; i++ {
		if err := hub.SendStepComplete(context.Background(), "exec-1", "a", domain.Metadata{"i": i}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
}

func TestHubCancelStopsDelivery(t *testing.T) {
	hub := NewHub()
	events, cancel := hub.Subscribe("exec-1")
	cancel()

	if err := hub.SendExecutionComplete(context.Background(), "exec-1"); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case msg := <-events:
		t.Fatalf("delivered after cancel: %+v", msg)
	default:
	}
}

func TestMultiForwardsToAllMembers(t *testing.T) {
	hub1 := NewHub()
	hub2 := NewHub()
	events1, cancel1 := hub1.Subscribe("exec-1")
	defer cancel1()
	events2, cancel2 := hub2.Subscribe("exec-1")
	defer cancel2()

	multi := Multi{hub1, hub2}
	if err := multi.SendStepFailed(context.Background(), "exec-1", "a", 0.25, context.DeadlineExceeded); err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, events := range []<-chan StreamMessage{events1, events2} {
		msg := <-events
		if msg.EventType != EventStepFailed || msg.Message == "" {
			t.Fatalf("msg = %+v", msg)
		}
	}
}
