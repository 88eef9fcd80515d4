// Package hunts is the application service in front of the execution
// engine: it validates launch requests, creates the pending execution and
// step records, hands the execution to a bounded background runner pool,
// and serves cancellation and read operations.
package hunts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/casehound/casehound/internal/domain"
	"github.com/casehound/casehound/internal/execution/executor"
	"github.com/casehound/casehound/internal/hunt"
	"github.com/casehound/casehound/internal/platform/auditlog"
	"github.com/casehound/casehound/internal/repo"
)

var (
	// ErrUnknownHunt is returned when the requested hunt name is not
	// registered.
	ErrUnknownHunt = errors.New("unknown hunt")
	// ErrInvalidParameters is returned when the supplied initial parameters
	// fail the definition's schema.
	ErrInvalidParameters = errors.New("invalid parameters")
)

type Config struct {
	// MaxConcurrentExecutions bounds how many executions run at once;
	// launches beyond the bound queue on the semaphore.
	MaxConcurrentExecutions int64
	// RunTimeout caps the wall-clock time of one background execution.
	RunTimeout time.Duration
}

type Service struct {
	logger     *slog.Logger
	registry   *hunt.Registry
	executions repo.ExecutionRepository
	steps      repo.StepRepository
	runner     *executor.Executor
	audit      auditlog.QueryRower
	sem        *semaphore.Weighted
	runTimeout time.Duration
	now        func() time.Time

	wg sync.WaitGroup
}

func New(logger *slog.Logger, registry *hunt.Registry, executions repo.ExecutionRepository, steps repo.StepRepository, runner *executor.Executor, cfg Config) (*Service, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if executions == nil || steps == nil {
		return nil, errors.New("repositories are required")
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrentExecutions <= 0 {
		cfg.MaxConcurrentExecutions = 8
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	return &Service{
		logger:     logger,
		registry:   registry,
		executions: executions,
		steps:      steps,
		runner:     runner,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrentExecutions),
		runTimeout: cfg.RunTimeout,
		now:        time.Now,
	}, nil
}

// WithAuditLog attaches the audit event sink.
func (s *Service) WithAuditLog(q auditlog.QueryRower) *Service {
	s.audit = q
	return s
}

type LaunchRequest struct {
	HuntName   string
	CaseID     string
	Parameters domain.Metadata
	Actor      string
	RequestID  string
}

// Launch validates the request synchronously, persists the pending
// execution with its step records, and schedules the run in the background.
// Validation failures never create records.
func (s *Service) Launch(ctx context.Context, req LaunchRequest) (domain.HuntExecution, error) {
	def, ok := s.registry.Get(req.HuntName)
	if !ok {
		return domain.HuntExecution{}, fmt.Errorf("%w: %s", ErrUnknownHunt, req.HuntName)
	}
	if strings.TrimSpace(req.CaseID) == "" {
		return domain.HuntExecution{}, fmt.Errorf("%w: case id is required", ErrInvalidParameters)
	}

	params, err := def.ValidateInitialParameters(req.Parameters)
	if err != nil {
		return domain.HuntExecution{}, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}

	execution := domain.HuntExecution{
		ID:                uuid.NewString(),
		HuntID:            def.Name,
		CaseID:            req.CaseID,
		Status:            domain.ExecutionPending,
		Progress:          0,
		InitialParameters: params,
		CreatedByID:       req.Actor,
	}
	if err := s.executions.CreateExecution(ctx, execution); err != nil {
		return domain.HuntExecution{}, fmt.Errorf("create execution: %w", err)
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
	if err := s.steps.CreateSteps(ctx, steps); err != nil {
		return domain.HuntExecution{}, fmt.Errorf("create steps: %w", err)
	}

	s.appendAudit(ctx, req.Actor, "hunt.launch", execution.ID, req.RequestID, map[string]any{
		"hunt_id": def.Name,
		"case_id": req.CaseID,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(def, execution.ID)
	}()

	return execution, nil
}

// run executes one launched hunt, bounded by the concurrency semaphore.
// Detached from the request context so the run outlives the HTTP request.
func (s *Service) run(def domain.HuntDefinition, executionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.logger.Error("execution slot acquire failed", "execution_id", executionID, "error", err)
		return
	}
	defer s.sem.Release(1)

	if err := s.runner.Run(ctx, def, executionID); err != nil {
		s.logger.Error("execution run failed", "execution_id", executionID, "error", err)
	}
}

// Cancel requests cancellation of a running or pending execution. Cancelling
// an already-terminal execution is an idempotent no-op that returns the
// current record unchanged.
func (s *Service) Cancel(ctx context.Context, executionID, actor, requestID string) (domain.HuntExecution, error) {
	execution, err := s.executions.GetExecution(ctx, executionID)
	if err != nil {
		return domain.HuntExecution{}, err
	}
	if execution.Status.Terminal() {
		return execution, nil
	}

	completedAt := s.now().UTC()
	if err := s.executions.UpdateExecutionStatus(ctx, executionID, domain.ExecutionCancelled, nil, &completedAt); err != nil {
		return domain.HuntExecution{}, fmt.Errorf("mark cancelled: %w", err)
	}
	cancelled, err := s.steps.CancelPendingSteps(ctx, executionID)
	if err != nil {
		return domain.HuntExecution{}, fmt.Errorf("cancel pending steps: %w", err)
	}

	s.appendAudit(ctx, actor, "hunt.cancel", executionID, requestID, map[string]any{
		"cancelled_steps": cancelled,
	})
	s.logger.Info("execution cancelled", "execution_id", executionID, "cancelled_steps", cancelled)

	return s.executions.GetExecution(ctx, executionID)
}

// Get returns the execution with its step records.
func (s *Service) Get(ctx context.Context, executionID string) (domain.HuntExecution, []domain.HuntStep, error) {
	execution, err := s.executions.GetExecution(ctx, executionID)
	if err != nil {
		return domain.HuntExecution{}, nil, err
	}
	steps, err := s.steps.ListStepsByExecution(ctx, executionID)
	if err != nil {
		return domain.HuntExecution{}, nil, err
	}
	return execution, steps, nil
}

func (s *Service) List(ctx context.Context, filter repo.ExecutionFilter) ([]domain.HuntExecution, error) {
	return s.executions.ListExecutions(ctx, filter)
}

// Definitions returns the registered hunt catalog.
func (s *Service) Definitions() []domain.HuntDefinition {
	return s.registry.List()
}

// Definition returns one registered hunt by name.
func (s *Service) Definition(name string) (domain.HuntDefinition, bool) {
	return s.registry.Get(name)
}

// Wait blocks until all background runs have finished. For shutdown and
// tests.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) appendAudit(ctx context.Context, actor, action, resourceID, requestID string, payload map[string]any) {
	if s.audit == nil {
		return
	}
	if strings.TrimSpace(actor) == "" {
		actor = "system"
	}
	_, err := auditlog.Insert(ctx, s.audit, auditlog.Event{
		OccurredAt:   s.now().UTC(),
		Actor:        actor,
		Action:       action,
		ResourceType: "hunt_execution",
		ResourceID:   resourceID,
		RequestID:    requestID,
		Payload:      payload,
	})
	if err != nil {
		s.logger.Warn("audit append failed", "action", action, "resource_id", resourceID, "error", err)
	}
}
