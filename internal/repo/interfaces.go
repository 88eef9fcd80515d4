// Package repo declares the persistence contracts the engine consumes. The
// engine only needs get-by-id, bulk-create, and field-level updates; record
// shapes are owned by an external store.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/casehound/casehound/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type ExecutionFilter struct {
	HuntID string
	CaseID string
	Status string
	Limit  int
}

// ExecutionRepository manages HuntExecution records. A given execution is
// mutated by exactly one executor at a time.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution domain.HuntExecution) error
	GetExecution(ctx context.Context, id string) (domain.HuntExecution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]domain.HuntExecution, error)
	UpdateExecutionStatus(ctx context.Context, id string, status domain.ExecutionStatus, startedAt, completedAt *time.Time) error
	UpdateExecutionProgress(ctx context.Context, id string, progress float64) error
	// FinalizeExecution stamps the terminal status, completion time, final
	// progress and the serialized context in one write.
	FinalizeExecution(ctx context.Context, id string, status domain.ExecutionStatus, completedAt time.Time, progress float64, contextData []byte) error
}

// StepRepository manages the per-step records of an execution.
type StepRepository interface {
	CreateSteps(ctx context.Context, steps []domain.HuntStep) error
	GetStep(ctx context.Context, executionID, stepID string) (domain.HuntStep, error)
	ListStepsByExecution(ctx context.Context, executionID string) ([]domain.HuntStep, error)
	MarkStepRunning(ctx context.Context, executionID, stepID string, startedAt time.Time, parameters domain.Metadata) error
	MarkStepCompleted(ctx context.Context, executionID, stepID string, output domain.Metadata, retryCount int, completedAt time.Time) error
	MarkStepFailed(ctx context.Context, executionID, stepID string, errorDetails string, retryCount int, completedAt time.Time) error
	MarkStepSkipped(ctx context.Context, executionID, stepID string) error
	// CancelPendingSteps transitions every still-pending step of the
	// execution to cancelled and returns how many were affected.
	CancelPendingSteps(ctx context.Context, executionID string) (int64, error)
}
