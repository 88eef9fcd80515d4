package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/casehound/casehound/internal/domain"
	"github.com/casehound/casehound/internal/repo"
)

// ExecutionStore persists HuntExecution records.
type ExecutionStore struct {
	db DB
}

func NewExecutionStore(db DB) *ExecutionStore {
	if db == nil {
		return nil
	}
	return &ExecutionStore{db: db}
}

const executionColumns = `execution_id, hunt_id, case_id, status, progress,
	initial_parameters, context_data, started_at, completed_at, created_by_id`

func (s *ExecutionStore) CreateExecution(ctx context.Context, execution domain.HuntExecution) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	if err := execution.Validate(); err != nil {
		return err
	}
	paramsJSON, err := encodeMetadata(execution.InitialParameters)
	if err != nil {
		return fmt.Errorf("encode initial parameters: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO hunt_executions (`+executionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		strings.TrimSpace(execution.ID),
		strings.TrimSpace(execution.HuntID),
		strings.TrimSpace(execution.CaseID),
		string(execution.Status),
		execution.Progress,
		paramsJSON,
		execution.ContextData,
		nullableTime(execution.StartedAt),
		nullableTime(execution.CompletedAt),
		nullIfEmpty(execution.CreatedByID),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *ExecutionStore) GetExecution(ctx context.Context, id string) (domain.HuntExecution, error) {
	if s == nil || s.db == nil {
		return domain.HuntExecution{}, fmt.Errorf("execution store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.HuntExecution{}, fmt.Errorf("execution id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+executionColumns+` FROM hunt_executions WHERE execution_id = $1`,
		id,
	)
	return scanExecution(row)
}

func (s *ExecutionStore) ListExecutions(ctx context.Context, filter repo.ExecutionFilter) ([]domain.HuntExecution, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("execution store not initialized")
	}
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if strings.TrimSpace(filter.HuntID) != "" {
		args = append(args, strings.TrimSpace(filter.HuntID))
		clauses = append(clauses, fmt.Sprintf("hunt_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.CaseID) != "" {
		args = append(args, strings.TrimSpace(filter.CaseID))
		clauses = append(clauses, fmt.Sprintf("case_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Status) != "" {
		args = append(args, strings.TrimSpace(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + executionColumns + ` FROM hunt_executions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at DESC NULLS LAST, execution_id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	executions := make([]domain.HuntExecution, 0)
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return executions, nil
}

func (s *ExecutionStore) UpdateExecutionStatus(ctx context.Context, id string, status domain.ExecutionStatus, startedAt, completedAt *time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("execution id is required")
	}
	if strings.TrimSpace(string(status)) == "" {
		return fmt.Errorf("status is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE hunt_executions
		 SET status = $1,
		     started_at = COALESCE($2, started_at),
		     completed_at = COALESCE($3, completed_at)
		 WHERE execution_id = $4`,
		string(status),
		nullableTime(startedAt),
		nullableTime(completedAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	return requireRowAffected(res, "update execution status")
}

func (s *ExecutionStore) UpdateExecutionProgress(ctx context.Context, id string, progress float64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE hunt_executions SET progress = $1 WHERE execution_id = $2`,
		progress,
		strings.TrimSpace(id),
	)
	if err != nil {
		return fmt.Errorf("update execution progress: %w", err)
	}
	return requireRowAffected(res, "update execution progress")
}

func (s *ExecutionStore) FinalizeExecution(ctx context.Context, id string, status domain.ExecutionStatus, completedAt time.Time, progress float64, contextData []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("execution id is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE hunt_executions
		 SET status = $1, completed_at = $2, progress = $3, context_data = $4
		 WHERE execution_id = $5`,
		string(status),
		completedAt.UTC(),
		progress,
		contextData,
		id,
	)
	if err != nil {
		return fmt.Errorf("finalize execution: %w", err)
	}
	return requireRowAffected(res, "finalize execution")
}

type executionScanner interface {
	Scan(dest ...any) error
}

func scanExecution(scanner executionScanner) (domain.HuntExecution, error) {
	var execution domain.HuntExecution
	var status string
	var paramsJSON []byte
	var contextData []byte
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	var createdBy sql.NullString
	if err := scanner.Scan(
		&execution.ID,
		&execution.HuntID,
		&execution.CaseID,
		&status,
		&execution.Progress,
		&paramsJSON,
		&contextData,
		&startedAt,
		&completedAt,
		&createdBy,
	); err != nil {
		return domain.HuntExecution{}, handleNotFound(err)
	}
	execution.Status = domain.ExecutionStatus(status)
	execution.ContextData = contextData
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		execution.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		execution.CompletedAt = &t
	}
	if createdBy.Valid {
		execution.CreatedByID = createdBy.String
	}
	params, err := decodeMetadata(paramsJSON)
	if err != nil {
		return domain.HuntExecution{}, fmt.Errorf("decode initial parameters: %w", err)
	}
	execution.InitialParameters = params
	return execution, nil
}

func requireRowAffected(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}
