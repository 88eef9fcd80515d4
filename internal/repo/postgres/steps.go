package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/casehound/casehound/internal/domain"
)

// StepStore persists the per-step records of hunt executions. One row per
// definition step per execution, keyed by (execution_id, step_id).
type StepStore struct {
	db DB
}

func NewStepStore(db DB) *StepStore {
	if db == nil {
		return nil
	}
	return &StepStore{db: db}
}

const stepColumns = `execution_id, step_id, plugin_name, status, parameters,
	output, error_details, retry_count, started_at, completed_at`

func (s *StepStore) CreateSteps(ctx context.Context, steps []domain.HuntStep) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("step store not initialized")
	}
	for _, step := range steps {
		if err := step.Validate(); err != nil {
			return err
		}
		paramsJSON, err := encodeMetadata(step.Parameters)
		if err != nil {
			return fmt.Errorf("encode step parameters: %w", err)
		}
		outputJSON, err := encodeMetadata(step.Output)
		if err != nil {
			return fmt.Errorf("encode step output: %w", err)
		}
		_, err = s.db.ExecContext(
			ctx,
			`INSERT INTO hunt_steps (`+stepColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			strings.TrimSpace(step.ExecutionID),
			strings.TrimSpace(step.StepID),
			strings.TrimSpace(step.PluginName),
			string(step.Status),
			paramsJSON,
			outputJSON,
			nullIfEmpty(step.ErrorDetails),
			step.RetryCount,
			nullableTime(step.StartedAt),
			nullableTime(step.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("insert step %s/%s: %w", step.ExecutionID, step.StepID, err)
		}
	}
	return nil
}

func (s *StepStore) GetStep(ctx context.Context, executionID, stepID string) (domain.HuntStep, error) {
	if s == nil || s.db == nil {
		return domain.HuntStep{}, fmt.Errorf("step store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+stepColumns+` FROM hunt_steps WHERE execution_id = $1 AND step_id = $2`,
		strings.TrimSpace(executionID),
		strings.TrimSpace(stepID),
	)
	return scanStep(row)
}

func (s *StepStore) ListStepsByExecution(ctx context.Context, executionID string) ([]domain.HuntStep, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("step store not initialized")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+stepColumns+` FROM hunt_steps
		 WHERE execution_id = $1
		 ORDER BY started_at ASC NULLS LAST, step_id ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	steps := make([]domain.HuntStep, 0)
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return steps, nil
}

func (s *StepStore) MarkStepRunning(ctx context.Context, executionID, stepID string, startedAt time.Time, parameters domain.Metadata) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("step store not initialized")
	}
	paramsJSON, err := encodeMetadata(parameters)
	if err != nil {
		return fmt.Errorf("encode step parameters: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE hunt_steps
		 SET status = $1, started_at = $2, parameters = $3
		 WHERE execution_id = $4 AND step_id = $5`,
		string(domain.StepRunning),
		startedAt.UTC(),
		paramsJSON,
		strings.TrimSpace(executionID),
		strings.TrimSpace(stepID),
	)
	if err != nil {
		return fmt.Errorf("mark step running: %w", err)
	}
	return requireRowAffected(res, "mark step running")
}

func (s *StepStore) MarkStepCompleted(ctx context.Context, executionID, stepID string, output domain.Metadata, retryCount int, completedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("step store not initialized")
	}
	outputJSON, err := encodeMetadata(output)
	if err != nil {
		return fmt.Errorf("encode step output: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE hunt_steps
		 SET status = $1, output = $2, retry_count = $3, completed_at = $4, error_details = NULL
		 WHERE execution_id = $5 AND step_id = $6`,
		string(domain.StepCompleted),
		outputJSON,
		retryCount,
		completedAt.UTC(),
		strings.TrimSpace(executionID),
		strings.TrimSpace(stepID),
	)
	if err != nil {
		return fmt.Errorf("mark step completed: %w", err)
	}
	return requireRowAffected(res, "mark step completed")
}

func (s *StepStore) MarkStepFailed(ctx context.Context, executionID, stepID string, errorDetails string, retryCount int, completedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("step store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE hunt_steps
		 SET status = $1, error_details = $2, retry_count = $3, completed_at = $4
		 WHERE execution_id = $5 AND step_id = $6`,
		string(domain.StepFailed),
		nullIfEmpty(errorDetails),
		retryCount,
		completedAt.UTC(),
		strings.TrimSpace(executionID),
		strings.TrimSpace(stepID),
	)
	if err != nil {
		return fmt.Errorf("mark step failed: %w", err)
	}
	return requireRowAffected(res, "mark step failed")
}

func (s *StepStore) MarkStepSkipped(ctx context.Context, executionID, stepID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("step store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE hunt_steps SET status = $1 WHERE execution_id = $2 AND step_id = $3`,
		string(domain.StepSkipped),
		strings.TrimSpace(executionID),
		strings.TrimSpace(stepID),
	)
	if err != nil {
		return fmt.Errorf("mark step skipped: %w", err)
	}
	return requireRowAffected(res, "mark step skipped")
}

func (s *StepStore) CancelPendingSteps(ctx context.Context, executionID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("step store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE hunt_steps SET status = $1 WHERE execution_id = $2 AND status = $3`,
		string(domain.StepCancelled),
		strings.TrimSpace(executionID),
		string(domain.StepPending),
	)
	if err != nil {
		return 0, fmt.Errorf("cancel pending steps: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel pending steps: %w", err)
	}
	return rows, nil
}

type stepScanner interface {
	Scan(dest ...any) error
}

func scanStep(scanner stepScanner) (domain.HuntStep, error) {
	var step domain.HuntStep
	var status string
	var paramsJSON []byte
	var outputJSON []byte
	var errorDetails sql.NullString
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	if err := scanner.Scan(
		&step.ExecutionID,
		&step.StepID,
		&step.PluginName,
		&status,
		&paramsJSON,
		&outputJSON,
		&errorDetails,
		&step.RetryCount,
		&startedAt,
		&completedAt,
	); err != nil {
		return domain.HuntStep{}, handleNotFound(err)
	}
	step.Status = domain.StepStatus(status)
	if errorDetails.Valid {
		step.ErrorDetails = errorDetails.String
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		step.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		step.CompletedAt = &t
	}
	params, err := decodeMetadata(paramsJSON)
	if err != nil {
		return domain.HuntStep{}, fmt.Errorf("decode step parameters: %w", err)
	}
	output, err := decodeMetadata(outputJSON)
	if err != nil {
		return domain.HuntStep{}, fmt.Errorf("decode step output: %w", err)
	}
	step.Parameters = params
	step.Output = output
	return step, nil
}
