package auditlog

import (
	"encoding/json"
	"testing"
	"time"
)

func validEvent() Event {
	return Event{
		OccurredAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Actor:        "analyst-1",
		Action:       "hunt.launch",
		ResourceType: "hunt_execution",
		ResourceID:   "exec-1",
		RequestID:    "req-1",
		Payload:      map[string]any{"hunt": "domain-recon"},
	}
}

func TestEventValidate(t *testing.T) {
	if err := validEvent().Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	mutations := []func(*Event){
		func(e *Event) { e.OccurredAt = time.Time{} },
		func(e *Event) { e.Actor = " " },
		func(e *Event) { e.Action = "" },
		func(e *Event) { e.ResourceType = "" },
		func(e *Event) { e.ResourceID = "" },
	}
	for i, mutate := range mutations {
		event := validEvent()
		mutate(&event)
		if err := event.Validate(); err == nil {
			t.Fatalf("mutation %d accepted", i)
		}
	}
}

func TestComputeIntegritySHA256IsStable(t *testing.T) {
	event := validEvent()
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		t.Fatal(err)
	}

	first, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	second, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if first != second {
		t.Fatalf("hash not stable: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("hash length = %d", len(first))
	}

	event.ResourceID = "exec-2"
	changed, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if changed == first {
		t.Fatal("hash did not change with event fields")
	}
}
