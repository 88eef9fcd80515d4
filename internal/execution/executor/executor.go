// Package executor drives hunt executions: it computes the executable
// frontier from the step dependency graph, invokes the plugin runner per
// step, propagates outputs through the hunt context, keeps the persisted
// execution and step records current, and emits progress notifications.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/casehound/casehound/internal/domain"
	"github.com/casehound/casehound/internal/execution/huntctx"
	"github.com/casehound/casehound/internal/notify"
	"github.com/casehound/casehound/internal/plugin"
	"github.com/casehound/casehound/internal/repo"
)

// EvidenceSaver persists a step's output as case evidence and returns the
// reference recorded in the hunt context.
type EvidenceSaver interface {
	SaveStepOutput(ctx context.Context, caseID, executionID, stepID string, output domain.Metadata) (string, error)
}

// Executor owns exactly one execution for the duration of Run. No concurrent
// executor may drive the same execution id.
type Executor struct {
	executions repo.ExecutionRepository
	steps      repo.StepRepository
	plugins    plugin.Runner
	notifier   notify.Notifier
	evidence   EvidenceSaver
	logger     *slog.Logger
	now        func() time.Time
}

func New(executions repo.ExecutionRepository, steps repo.StepRepository, plugins plugin.Runner, notifier notify.Notifier, logger *slog.Logger) *Executor {
	if executions == nil || steps == nil || plugins == nil {
		return nil
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		executions: executions,
		steps:      steps,
		plugins:    plugins,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
	}
}

// WithEvidenceSaver attaches an evidence saver for steps declaring
// save_to_case.
func (e *Executor) WithEvidenceSaver(saver EvidenceSaver) *Executor {
	e.evidence = saver
	return e
}

// Run drives one execution to a terminal status. Per-step failures are
// recorded, never returned; only catastrophic failures (persistence outages
// and the like) surface as a non-nil error, after the execution has been
// forced to failed.
func (e *Executor) Run(ctx context.Context, def domain.HuntDefinition, executionID string) error {
	execution, err := e.executions.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution: %w", err)
	}
	if execution.Status.Terminal() {
		return fmt.Errorf("execution %s already terminal (%s)", executionID, execution.Status)
	}

	hctx := huntctx.New(execution.InitialParameters)
	total := len(def.Steps)
	completed := make(map[string]struct{}, total)
	failedRequired := make(map[string]struct{})

	startedAt := e.now().UTC()
	if err := e.executions.UpdateExecutionStatus(ctx, executionID, domain.ExecutionRunning, &startedAt, nil); err != nil {
		return e.catastrophic(ctx, executionID, hctx, 0, fmt.Errorf("mark running: %w", err))
	}

	progress := 0.0
	for len(completed)+len(failedRequired) < total {
		// Cancellation is cooperative and sampled only here, between
		// frontier iterations; an in-flight step always runs to completion.
		current, err := e.executions.GetExecution(ctx, executionID)
		if err != nil {
			return e.catastrophic(ctx, executionID, hctx, progress, fmt.Errorf("reload execution: %w", err))
		}
		if current.Status == domain.ExecutionCancelled {
			e.persistCancelledContext(ctx, current, hctx, progress)
			return nil
		}

		frontier := e.computeFrontier(def, hctx, completed, failedRequired)
		if len(frontier) == 0 {
			break
		}

		for _, step := range frontier {
			stepErr, fatal := e.runStep(ctx, execution, step, hctx, progress)
			if fatal != nil {
				return e.catastrophic(ctx, executionID, hctx, progress, fatal)
			}
			if stepErr != nil {
				hctx.MarkStepFailed(step.StepID)
				if !step.Optional {
					failedRequired[step.StepID] = struct{}{}
				}
				continue
			}
			completed[step.StepID] = struct{}{}
		}

		progress = float64(len(completed)) / float64(total)
		if err := e.executions.UpdateExecutionProgress(ctx, executionID, progress); err != nil {
			return e.catastrophic(ctx, executionID, hctx, progress, fmt.Errorf("update progress: %w", err))
		}
	}

	// Steps that never became executable are skipped, in the context and on
	// their persisted records.
	for _, step := range def.Steps {
		if _, ok := completed[step.StepID]; ok {
			continue
		}
		if hctx.StepFailed(step.StepID) {
			continue
		}
		hctx.MarkStepSkipped(step.StepID)
		if err := e.steps.MarkStepSkipped(ctx, executionID, step.StepID); err != nil {
			return e.catastrophic(ctx, executionID, hctx, progress, fmt.Errorf("mark step skipped: %w", err))
		}
	}

	status := domain.ExecutionCompleted
	if len(failedRequired) > 0 {
		status = domain.ExecutionPartial
	}
	contextData, err := json.Marshal(hctx)
	if err != nil {
		return e.catastrophic(ctx, executionID, hctx, progress, fmt.Errorf("serialize context: %w", err))
	}
	if err := e.executions.FinalizeExecution(ctx, executionID, status, e.now().UTC(), progress, contextData); err != nil {
		return e.catastrophic(ctx, executionID, hctx, progress, fmt.Errorf("finalize execution: %w", err))
	}
	if err := e.notifier.SendExecutionComplete(ctx, executionID); err != nil {
		e.logger.Warn("execution complete notification failed", "execution_id", executionID, "error", err)
	}
	return nil
}

// computeFrontier returns the steps whose dependencies are all settled and
// none failed-required. A dependency that failed while optional still
// satisfies its dependents; a failed-required dependency blocks them, and
// blocked steps are marked skipped in the context and excluded from further
// consideration.
func (e *Executor) computeFrontier(def domain.HuntDefinition, hctx *huntctx.Context, completed, failedRequired map[string]struct{}) []domain.HuntStepDefinition {
	frontier := make([]domain.HuntStepDefinition, 0)
	for _, step := range def.Steps {
		if _, ok := completed[step.StepID]; ok {
			continue
		}
		if hctx.StepFailed(step.StepID) || hctx.StepSkipped(step.StepID) {
			continue
		}

		blocked := false
		ready := true
		for _, dep := range step.DependsOn {
			if _, ok := failedRequired[dep]; ok {
				blocked = true
				break
			}
			if _, ok := completed[dep]; ok {
				continue
			}
			// Optional-step failure does not block dependents.
			if !hctx.StepFailed(dep) {
				ready = false
			}
		}
		if blocked {
			hctx.MarkStepSkipped(step.StepID)
			continue
		}
		if ready {
			frontier = append(frontier, step)
		}
	}
	return frontier
}

// runStep executes one frontier step. The first return value is the step's
// own failure (recorded, never re-raised); the second is a catastrophic
// failure of the surrounding bookkeeping.
func (e *Executor) runStep(ctx context.Context, execution domain.HuntExecution, step domain.HuntStepDefinition, hctx *huntctx.Context, progress float64) (error, error) {
	startedAt := e.now().UTC()

	params := hctx.ResolveParameters(step)
	params["case_id"] = execution.CaseID
	params["save_to_case"] = step.SaveToCase

	if err := e.steps.MarkStepRunning(ctx, execution.ID, step.StepID, startedAt, params); err != nil {
		return nil, fmt.Errorf("mark step running: %w", err)
	}
	if err := e.notifier.SendProgressUpdate(ctx, execution.ID, step.StepID, progress); err != nil {
		e.logger.Warn("progress notification failed", "execution_id", execution.ID, "step_id", step.StepID, "error", err)
	}

	output, retries, stepErr := e.invokePlugin(ctx, step, params)
	if stepErr != nil {
		if err := e.steps.MarkStepFailed(ctx, execution.ID, step.StepID, stepErr.Error(), retries, e.now().UTC()); err != nil {
			return nil, fmt.Errorf("mark step failed: %w", err)
		}
		if err := e.notifier.SendStepFailed(ctx, execution.ID, step.StepID, progress, stepErr); err != nil {
			e.logger.Warn("step failed notification failed", "execution_id", execution.ID, "step_id", step.StepID, "error", err)
		}
		return stepErr, nil
	}

	hctx.SetStepOutput(step.StepID, output)
	if step.SaveToCase && e.evidence != nil {
		ref, err := e.evidence.SaveStepOutput(ctx, execution.CaseID, execution.ID, step.StepID, output)
		if err != nil {
			e.logger.Warn("evidence save failed", "execution_id", execution.ID, "step_id", step.StepID, "error", err)
		} else {
			hctx.AddEvidenceRef(ref)
		}
	}

	if err := e.steps.MarkStepCompleted(ctx, execution.ID, step.StepID, output, retries, e.now().UTC()); err != nil {
		return nil, fmt.Errorf("mark step completed: %w", err)
	}
	if err := e.notifier.SendStepComplete(ctx, execution.ID, step.StepID, output); err != nil {
		e.logger.Warn("step complete notification failed", "execution_id", execution.ID, "step_id", step.StepID, "error", err)
	}
	return nil, nil
}

// invokePlugin resolves the step's capability and consumes its result
// stream, retrying up to the step's declared max_retries with the declared
// timeout applied per attempt. Only data-tagged events contribute to the
// output record.
func (e *Executor) invokePlugin(ctx context.Context, step domain.HuntStepDefinition, params domain.Metadata) (domain.Metadata, int, error) {
	handle, err := e.plugins.Get(step.PluginName)
	if err != nil {
		return nil, 0, err
	}

	maxRetries := step.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		results := make([]domain.Metadata, 0)
		emit := func(event plugin.Event) {
			if event.Type == plugin.EventData {
				results = append(results, event.Data)
			}
		}

		attemptCtx := ctx
		cancel := func() {}
		if step.TimeoutSeconds > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		}
		err := handle.Execute(attemptCtx, params, emit)
		cancel()

		if err == nil {
			output := domain.Metadata{
				"results":      results,
				"result_count": len(results),
				"plugin_name":  step.PluginName,
			}
			return output, attempt, nil
		}
		lastErr = err
	}
	return nil, maxRetries, lastErr
}

// catastrophic forces the execution to failed, persists what it can, and
// hands the cause back to the caller.
func (e *Executor) catastrophic(ctx context.Context, executionID string, hctx *huntctx.Context, progress float64, cause error) error {
	contextData, marshalErr := json.Marshal(hctx)
	if marshalErr != nil {
		contextData = nil
	}
	if err := e.executions.FinalizeExecution(ctx, executionID, domain.ExecutionFailed, e.now().UTC(), progress, contextData); err != nil {
		e.logger.Error("failed to persist catastrophic failure", "execution_id", executionID, "error", err)
	}
	e.logger.Error("execution failed", "execution_id", executionID, "error", cause)
	return cause
}

// persistCancelledContext writes the context accumulated so far after a
// cooperative cancellation was observed. The cancel operation already
// stamped the terminal status and transitioned pending steps.
func (e *Executor) persistCancelledContext(ctx context.Context, execution domain.HuntExecution, hctx *huntctx.Context, progress float64) {
	completedAt := e.now().UTC()
	if execution.CompletedAt != nil {
		completedAt = *execution.CompletedAt
	}
	contextData, err := json.Marshal(hctx)
	if err != nil {
		e.logger.Warn("serialize cancelled context", "execution_id", execution.ID, "error", err)
		return
	}
	if err := e.executions.FinalizeExecution(ctx, execution.ID, domain.ExecutionCancelled, completedAt, progress, contextData); err != nil {
		e.logger.Warn("persist cancelled context", "execution_id", execution.ID, "error", err)
	}
}
