package executor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/casehound/casehound/internal/domain"
	"github.com/casehound/casehound/internal/execution/huntctx"
	"github.com/casehound/casehound/internal/notify"
	"github.com/casehound/casehound/internal/plugin"
	"github.com/casehound/casehound/internal/repo/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func seedExecution(t *testing.T, store *memory.Store, def domain.HuntDefinition, params domain.Metadata) domain.HuntExecution {
	t.Helper()
	execution := domain.HuntExecution{
		ID:                "exec-1",
		HuntID:            def.Name,
		CaseID:            "case-1",
		Status:            domain.ExecutionPending,
		InitialParameters: params,
	}
	if err := store.CreateExecution(context.Background(), execution); err != nil {
		t.Fatalf("create execution: %v", err)
	}
	steps := make([]domain.HuntStep, 0, len(def.Steps))
	for _, step := range def.Steps {
		steps = append(steps, domain.HuntStep{
			ExecutionID: execution.ID,
			StepID:      step.StepID,
			PluginName:  step.PluginName,
			Status:      domain.StepPending,
		})
	}
	if err := store.CreateSteps(context.Background(), steps); err != nil {
		t.Fatalf("create steps: %v", err)
	}
	return execution
}

func succeedWith(data domain.Metadata) plugin.HandleFunc {
	return func(ctx context.Context, params domain.Metadata, emit func(plugin.Event)) error {
		emit(plugin.Event{Type: plugin.EventData, Data: data})
		return nil
	}
}

func failWith(msg string) plugin.HandleFunc {
	return func(ctx context.Context, params domain.Metadata, emit func(plugin.Event)) error {
		return errors.New(msg)
	}
}

func linearDefinition() domain.HuntDefinition {
	return domain.HuntDefinition{
		Name:    "linear",
		Version: "1.0.0",
		Steps: []domain.HuntStepDefinition{
			{StepID: "a", PluginName: "pa"},
			{
				StepID:     "b",
				PluginName: "pb",
				DependsOn:  []string{"a"},
				ParameterMapping: map[string]string{
					"upstream": "a.results.0.value",
				},
			},
		},
	}
}

func TestRunCompletesLinearHunt(t *testing.T) {
	store := memory.NewStore()
	def := linearDefinition()
	execution := seedExecution(t, store, def, domain.Metadata{"indicator": "example.com"})

	var bParams domain.Metadata
	plugins := plugin.NewRegistry()
	plugins.Register("pa", succeedWith(domain.Metadata{"value": "from-a"}))
	plugins.Register("pb", plugin.HandleFunc(func(ctx context.Context, params domain.Metadata, emit func(plugin.Event)) error {
		bParams = params
		emit(plugin.Event{Type: plugin.EventData, Data: domain.Metadata{"done": true}})
		return nil
	}))

	exec := New(store, store, plugins, notify.Nop{}, quietLogger())
	if err := exec.Run(context.Background(), def, execution.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := store.GetExecution(context.Background(), execution.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if got.Status != domain.ExecutionCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.Progress != 1.0 {
		t.Fatalf("progress = %v, want 1.0", got.Progress)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not stamped")
	}
	if len(got.ContextData) == 0 {
		t.Fatal("context_data not persisted")
	}

	// b received a's output through the mapping expression.
	if bParams["upstream"] != "from-a" {
		t.Fatalf("upstream = %v, want from-a", bParams["upstream"])
	}
	if bParams["case_id"] != "case-1" {
		t.Fatalf("case_id = %v", bParams["case_id"])
	}

	hctx, err := huntctx.FromJSON(got.ContextData)
	if err != nil {
		t.Fatalf("restore context: %v", err)
	}
	if _, ok := hctx.StepOutput("a"); !ok {
		t.Fatal("context missing output for step a")
	}

	stepA, _ := store.GetStep(context.Background(), execution.ID, "a")
	if stepA.Status != domain.StepCompleted {
		t.Fatalf("step a status = %s", stepA.Status)
	}
	if stepA.Output["result_count"] != 1 {
		t.Fatalf("step a result_count = %v", stepA.Output["result_count"])
	}
}

func TestRunOptionalFailureDoesNotBlockDependents(t *testing.T) {
	def := domain.HuntDefinition{
		Name:    "optional-branch",
		Version: "1.0.0",
		Steps: []domain.HuntStepDefinition{
			{StepID: "a", PluginName: "pa", Optional: true},
			{StepID: "b", PluginName: "pb", DependsOn: []string{"a"}},
			{StepID: "c", PluginName: "pc"},
		},
	}
	store := memory.NewStore()
	execution := seedExecution(t, store, def, nil)

	plugins := plugin.NewRegistry()
	plugins.Register("pa", failWith("upstream unavailable"))
	plugins.Register("pb", succeedWith(domain.Metadata{"ok": true}))
	plugins.Register("pc", succeedWith(domain.Metadata{"ok": true}))

	exec := New(store, store, plugins, notify.Nop{}, quietLogger())
	if err := exec.Run(context.Background(), def, execution.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := store.GetExecution(context.Background(), execution.ID)
	if got.Status != domain.ExecutionCompleted {
		t.Fatalf("status = %s, want completed (optional failure is isolated)", got.Status)
	}

	stepA, _ := store.GetStep(context.Background(), execution.ID, "a")
	if stepA.Status != domain.StepFailed {
		t.Fatalf("step a status = %s, want failed", stepA.Status)
	}
	if stepA.ErrorDetails == "" {
		t.Fatal("step a error details empty")
	}
	stepB, _ := store.GetStep(context.Background(), execution.ID, "b")
	if stepB.Status != domain.StepCompleted {
		t.Fatalf("step b status = %s, want completed (dependency failed optional)", stepB.Status)
	}

	hctx, err := huntctx.FromJSON(got.ContextData)
	if err != nil {
		t.Fatalf("restore context: %v", err)
	}
	if !hctx.StepFailed("a") {
		t.Fatal("context does not record a as failed")
	}
}

func TestRunRequiredFailureSkipsDownstream(t *testing.T) {
	def := domain.HuntDefinition{
		Name:    "required-chain",
		Version: "1.0.0",
		Steps: []domain.HuntStepDefinition{
			{StepID: "a", PluginName: "pa"},
			{StepID: "b", PluginName: "pb", DependsOn: []string{"a"}},
			{StepID: "c", PluginName: "pc", DependsOn: []string{"b"}},
			{StepID: "d", PluginName: "pd"},
		},
	}
	store := memory.NewStore()
	execution := seedExecution(t, store, def, nil)

	calls := map[string]int{}
	plugins := plugin.NewRegistry()
	plugins.Register("pa", failWith("boom"))
	for _, name := range []string{"pb", "pc", "pd"} {
		name := name
		plugins.Register(name, plugin.HandleFunc(func(ctx context.Context, params domain.Metadata, emit func(plugin.Event)) error {
			calls[name]++
			emit(plugin.Event{Type: plugin.EventData, Data: domain.Metadata{"ok": true}})
			return nil
		}))
	}

	exec := New(store, store, plugins, notify.Nop{}, quietLogger())
	if err := exec.Run(context.Background(), def, execution.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := store.GetExecution(context.Background(), execution.ID)
	if got.Status != domain.ExecutionPartial {
		t.Fatalf("status = %s, want partial", got.Status)
	}
	// 1 of 4 steps completed.
	if got.Progress != 0.25 {
		t.Fatalf("progress = %v, want 0.25", got.Progress)
	}

	for _, id := range []string{"b", "c"} {
		step, _ := store.GetStep(context.Background(), execution.ID, id)
		if step.Status != domain.StepSkipped {
			t.Fatalf("step %s status = %s, want skipped", id, step.Status)
		}
	}
	if calls["pb"] != 0 || calls["pc"] != 0 {
		t.Fatalf("skipped steps were invoked: %v", calls)
	}
	if calls["pd"] != 1 {
		t.Fatalf("independent step d invoked %d times, want 1", calls["pd"])
	}

	hctx, err := huntctx.FromJSON(got.ContextData)
	if err != nil {
		t.Fatalf("restore context: %v", err)
	}
	if !hctx.StepSkipped("b") || !hctx.StepSkipped("c") {
		t.Fatalf("context skip records missing: %v", hctx.SkippedSteps())
	}
}

func TestRunEachStepInvokedAtMostOnce(t *testing.T) {
	def := domain.HuntDefinition{
		Name:    "diamond",
		Version: "1.0.0",
		Steps: []domain.HuntStepDefinition{
			{StepID: "a", PluginName: "p"},
			{StepID: "b", PluginName: "p", DependsOn: []string{"a"}},
			{StepID: "c", PluginName: "p", DependsOn: []string{"a"}},
			{StepID: "d", PluginName: "p", DependsOn: []string{"b", "c"}},
		},
	}
	store := memory.NewStore()
	execution := seedExecution(t, store, def, nil)

	calls := map[string]int{}
	plugins := plugin.NewRegistry()
	plugins.Register("p", plugin.HandleFunc(func(ctx context.Context, params domain.Metadata, emit func(plugin.Event)) error {
		calls["total"]++
		emit(plugin.Event{Type: plugin.EventData, Data: domain.Metadata{"ok": true}})
		return nil
	}))

	exec := New(store, store, plugins, notify.Nop{}, quietLogger())
	if err := exec.Run(context.Background(), def, execution.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls["total"] != len(def.Steps) {
		t.Fatalf("plugin invoked %d times, want %d", calls["total"], len(def.Steps))
	}
	got, _ := store.GetExecution(context.Background(), execution.ID)
	if got.Status != domain.ExecutionCompleted {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestRunProgressIsMonotonic(t *testing.T) {
	def := domain.HuntDefinition{
		Name:    "chain",
		Version: "1.0.0",
		Steps: []domain.HuntStepDefinition{
			{StepID: "a", PluginName: "p"},
			{StepID: "b", PluginName: "p", DependsOn: []string{"a"}},
			{StepID: "c", PluginName: "p", DependsOn: []string{"b"}},
		},
	}
	store := memory.NewStore()
	execution := seedExecution(t, store, def, nil)

	plugins := plugin.NewRegistry()
	plugins.Register("p", succeedWith(domain.Metadata{"ok": true}))

	hub := notify.NewHub()
	events, cancel := hub.Subscribe(execution.ID)
	defer cancel()

	exec := New(store, store, plugins, hub, quietLogger())
	if err := exec.Run(context.Background(), def, execution.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	last := -1.0
	for {
		select {
		case msg := <-events:
			if msg.Progress == nil {
				continue
			}
			if *msg.Progress < last {
				t.Fatalf("progress regressed: %v after %v", *msg.Progress, last)
			}
			last = *msg.Progress
		default:
			return
		}
	}
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	def := domain.HuntDefinition{
		Name:    "flaky",
		Version: "1.0.0",
		Steps: []domain.HuntStepDefinition{
			{StepID: "a", PluginName: "p", MaxRetries: 2},
		},
	}
	store := memory.NewStore()
	execution := seedExecution(t, store, def, nil)

	attempts := 0
	plugins := plugin.NewRegistry()
	plugins.Register("p", plugin.HandleFunc(func(ctx context.Context, params domain.Metadata, emit func(plugin.Event)) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		emit(plugin.Event{Type: plugin.EventData, Data: domain.Metadata{"ok": true}})
		return nil
	}))

	exec := New(store, store, plugins, notify.Nop{}, quietLogger())
	if err := exec.Run(context.Background(), def, execution.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	step, _ := store.GetStep(context.Background(), execution.ID, "a")
	if step.Status != domain.StepCompleted {
		t.Fatalf("status = %s", step.Status)
	}
	if step.RetryCount != 2 {
		t.Fatalf("retry_count = %d, want 2", step.RetryCount)
	}
}

func TestRunRetriesExhaustedRecordsFailure(t *testing.T) {
	def := domain.HuntDefinition{
		Name:    "always-broken",
		Version: "1.0.0",
		Steps: []domain.HuntStepDefinition{
			{StepID: "a", PluginName: "p", MaxRetries: 1},
		},
	}
	store := memory.NewStore()
	execution := seedExecution(t, store, def, nil)

	attempts := 0
	plugins := plugin.NewRegistry()
	plugins.Register("p", plugin.HandleFunc(func(ctx context.Context, params domain.Metadata, emit func(plugin.Event)) error {
		attempts++
		return errors.New("permanent")
	}))

	exec := New(store, store, plugins, notify.Nop{}, quietLogger())
	if err := exec.Run(context.Background(), def, execution.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	step, _ := store.GetStep(context.Background(), execution.ID, "a")
	if step.Status != domain.StepFailed {
		t.Fatalf("status = %s", step.Status)
	}
	got, _ := store.GetExecution(context.Background(), execution.ID)
	if got.Status != domain.ExecutionPartial {
		t.Fatalf("execution status = %s, want partial", got.Status)
	}
}

func TestRunUnknownPluginIsStepFailure(t *testing.T) {
	def := domain.HuntDefinition{
		Name:    "missing-plugin",
		Version: "1.0.0",
		Steps: []domain.HuntStepDefinition{
			{StepID: "a", PluginName: "nope"},
		},
	}
	store := memory.NewStore()
	execution := seedExecution(t, store, def, nil)

	exec := New(store, store, plugin.NewRegistry(), notify.Nop{}, quietLogger())
	if err := exec.Run(context.Background(), def, execution.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	step, _ := store.GetStep(context.Background(), execution.ID, "a")
	if step.Status != domain.StepFailed {
		t.Fatalf("status = %s, want failed", step.Status)
	}
	got, _ := store.GetExecution(context.Background(), execution.ID)
	if got.Status != domain.ExecutionPartial {
		t.Fatalf("execution status = %s, want partial", got.Status)
	}
}

func TestRunMappingToUnknownStepPreservesStaticDefault(t *testing.T) {
	def := domain.HuntDefinition{
		Name:    "defaults",
		Version: "1.0.0",
		Steps: []domain.HuntStepDefinition{
			{
				StepID:     "a",
				PluginName: "p",
				ParameterMapping: map[string]string{
					"source": "nonexistent.results",
				},
				StaticParameters: domain.Metadata{"source": "fallback"},
			},
		},
	}
	store := memory.NewStore()
	execution := seedExecution(t, store, def, nil)

	var seen domain.Metadata
	plugins := plugin.NewRegistry()
	plugins.Register("p", plugin.HandleFunc(func(ctx context.Context, params domain.Metadata, emit func(plugin.Event)) error {
		seen = params
		emit(plugin.Event{Type: plugin.EventData, Data: domain.Metadata{"ok": true}})
		return nil
	}))

	exec := New(store, store, plugins, notify.Nop{}, quietLogger())
	if err := exec.Run(context.Background(), def, execution.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if seen["source"] != "fallback" {
		t.Fatalf("source = %v, want fallback", seen["source"])
	}
}

func TestRunObservesCooperativeCancellation(t *testing.T) {
	def := domain.HuntDefinition{
		Name:    "cancellable",
		Version: "1.0.0",
		Steps: []domain.HuntStepDefinition{
			{StepID: "a", PluginName: "p"},
			{StepID: "b", PluginName: "p", DependsOn: []string{"a"}},
		},
	}
	store := memory.NewStore()
	execution := seedExecution(t, store, def, nil)

	plugins := plugin.NewRegistry()
	plugins.Register("p", plugin.HandleFunc(func(ctx context.Context, params domain.Metadata, emit func(plugin.Event)) error {
		// Cancel mid-run, after the first step started: the executor samples
		// the status before the next frontier.
		completedAt := time.Now().UTC()
		_ = store.UpdateExecutionStatus(context.Background(), execution.ID, domain.ExecutionCancelled, nil, &completedAt)
		emit(plugin.Event{Type: plugin.EventData, Data: domain.Metadata{"ok": true}})
		return nil
	}))

	exec := New(store, store, plugins, notify.Nop{}, quietLogger())
	if err := exec.Run(context.Background(), def, execution.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := store.GetExecution(context.Background(), execution.ID)
	if got.Status != domain.ExecutionCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	stepB, _ := store.GetStep(context.Background(), execution.ID, "b")
	if stepB.Status != domain.StepPending {
		t.Fatalf("step b status = %s, want pending (never started)", stepB.Status)
	}
}

func TestRunRejectsTerminalExecution(t *testing.T) {
	def := linearDefinition()
	store := memory.NewStore()
	execution := seedExecution(t, store, def, nil)
	completedAt := time.Now().UTC()
	if err := store.FinalizeExecution(context.Background(), execution.ID, domain.ExecutionCompleted, completedAt, 1.0, nil); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	exec := New(store, store, plugin.NewRegistry(), notify.Nop{}, quietLogger())
	if err := exec.Run(context.Background(), def, execution.ID); err == nil {
		t.Fatal("expected error for terminal execution")
	}
}

func TestRunSavesEvidenceForFlaggedSteps(t *testing.T) {
	def := domain.HuntDefinition{
		Name:    "evidence",
		Version: "1.0.0",
		Steps: []domain.HuntStepDefinition{
			{StepID: "a", PluginName: "p", SaveToCase: true},
		},
	}
	store := memory.NewStore()
	execution := seedExecution(t, store, def, nil)

	plugins := plugin.NewRegistry()
	plugins.Register("p", succeedWith(domain.Metadata{"finding": "x"}))

	saver := &fakeEvidenceSaver{ref: "cases/case-1/evidence.json"}
	exec := New(store, store, plugins, notify.Nop{}, quietLogger()).WithEvidenceSaver(saver)
	if err := exec.Run(context.Background(), def, execution.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if saver.calls != 1 {
		t.Fatalf("saver called %d times, want 1", saver.calls)
	}

	got, _ := store.GetExecution(context.Background(), execution.ID)
	hctx, err := huntctx.FromJSON(got.ContextData)
	if err != nil {
		t.Fatalf("restore context: %v", err)
	}
	refs := hctx.EvidenceRefs()
	if len(refs) != 1 || refs[0] != saver.ref {
		t.Fatalf("evidence refs = %v", refs)
	}
}

type fakeEvidenceSaver struct {
	ref   string
	calls int
}

func (f *fakeEvidenceSaver) SaveStepOutput(_ context.Context, _, _, _ string, _ domain.Metadata) (string, error) {
	f.calls++
	return f.ref, nil
}
