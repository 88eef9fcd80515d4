// Package memory provides in-memory implementations of the repo contracts,
// used by tests and by embedders that do not need durable persistence.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/casehound/casehound/internal/domain"
	"github.com/casehound/casehound/internal/repo"
)

type stepKey struct {
	executionID string
	stepID      string
}

// Store implements repo.ExecutionRepository and repo.StepRepository over
// mutex-guarded maps.
type Store struct {
	mu         sync.Mutex
	executions map[string]domain.HuntExecution
	steps      map[stepKey]domain.HuntStep
	stepOrder  []stepKey
}

func NewStore() *Store {
	return &Store{
		executions: make(map[string]domain.HuntExecution),
		steps:      make(map[stepKey]domain.HuntStep),
	}
}

func (s *Store) CreateExecution(_ context.Context, execution domain.HuntExecution) error {
	if err := execution.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[execution.ID] = execution
	return nil
}

func (s *Store) GetExecution(_ context.Context, id string) (domain.HuntExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	execution, ok := s.executions[id]
	if !ok {
		return domain.HuntExecution{}, repo.ErrNotFound
	}
	return execution, nil
}

func (s *Store) ListExecutions(_ context.Context, filter repo.ExecutionFilter) ([]domain.HuntExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.HuntExecution, 0, len(s.executions))
	for _, execution := range s.executions {
		if filter.HuntID != "" && execution.HuntID != filter.HuntID {
			continue
		}
		if filter.CaseID != "" && execution.CaseID != filter.CaseID {
			continue
		}
		if filter.Status != "" && string(execution.Status) != filter.Status {
			continue
		}
		out = append(out, execution)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) UpdateExecutionStatus(_ context.Context, id string, status domain.ExecutionStatus, startedAt, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	execution, ok := s.executions[id]
	if !ok {
		return repo.ErrNotFound
	}
	execution.Status = status
	if startedAt != nil {
		execution.StartedAt = startedAt
	}
	if completedAt != nil {
		execution.CompletedAt = completedAt
	}
	s.executions[id] = execution
	return nil
}

func (s *Store) UpdateExecutionProgress(_ context.Context, id string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	execution, ok := s.executions[id]
	if !ok {
		return repo.ErrNotFound
	}
	execution.Progress = progress
	s.executions[id] = execution
	return nil
}

func (s *Store) FinalizeExecution(_ context.Context, id string, status domain.ExecutionStatus, completedAt time.Time, progress float64, contextData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	execution, ok := s.executions[id]
	if !ok {
		return repo.ErrNotFound
	}
	execution.Status = status
	execution.CompletedAt = &completedAt
	execution.Progress = progress
	execution.ContextData = contextData
	s.executions[id] = execution
	return nil
}

func (s *Store) CreateSteps(_ context.Context, steps []domain.HuntStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, step := range steps {
		if err := step.Validate(); err != nil {
			return err
		}
		key := stepKey{executionID: step.ExecutionID, stepID: step.StepID}
		if _, exists := s.steps[key]; !exists {
			s.stepOrder = append(s.stepOrder, key)
		}
		s.steps[key] = step
	}
	return nil
}

func (s *Store) GetStep(_ context.Context, executionID, stepID string) (domain.HuntStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[stepKey{executionID: executionID, stepID: stepID}]
	if !ok {
		return domain.HuntStep{}, repo.ErrNotFound
	}
	return step, nil
}

func (s *Store) ListStepsByExecution(_ context.Context, executionID string) ([]domain.HuntStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.HuntStep, 0)
	for _, key := range s.stepOrder {
		if key.executionID != executionID {
			continue
		}
		out = append(out, s.steps[key])
	}
	return out, nil
}

func (s *Store) MarkStepRunning(_ context.Context, executionID, stepID string, startedAt time.Time, parameters domain.Metadata) error {
	return s.updateStep(executionID, stepID, func(step *domain.HuntStep) {
		step.Status = domain.StepRunning
		step.StartedAt = &startedAt
		step.Parameters = parameters
	})
}

func (s *Store) MarkStepCompleted(_ context.Context, executionID, stepID string, output domain.Metadata, retryCount int, completedAt time.Time) error {
	return s.updateStep(executionID, stepID, func(step *domain.HuntStep) {
		step.Status = domain.StepCompleted
		step.Output = output
		step.RetryCount = retryCount
		step.CompletedAt = &completedAt
	})
}

func (s *Store) MarkStepFailed(_ context.Context, executionID, stepID string, errorDetails string, retryCount int, completedAt time.Time) error {
	return s.updateStep(executionID, stepID, func(step *domain.HuntStep) {
		step.Status = domain.StepFailed
		step.ErrorDetails = errorDetails
		step.RetryCount = retryCount
		step.CompletedAt = &completedAt
	})
}

func (s *Store) MarkStepSkipped(_ context.Context, executionID, stepID string) error {
	return s.updateStep(executionID, stepID, func(step *domain.HuntStep) {
		step.Status = domain.StepSkipped
	})
}

func (s *Store) CancelPendingSteps(_ context.Context, executionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	for key, step := range s.steps {
		if key.executionID != executionID || step.Status != domain.StepPending {
			continue
		}
		step.Status = domain.StepCancelled
		s.steps[key] = step
		affected++
	}
	return affected, nil
}

func (s *Store) updateStep(executionID, stepID string, apply func(*domain.HuntStep)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stepKey{executionID: executionID, stepID: stepID}
	step, ok := s.steps[key]
	if !ok {
		return repo.ErrNotFound
	}
	apply(&step)
	s.steps[key] = step
	return nil
}
