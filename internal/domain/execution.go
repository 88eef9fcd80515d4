package domain

import (
	"errors"
	"strings"
	"time"
)

// ExecutionStatus is the lifecycle state of a HuntExecution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionPartial   ExecutionStatus = "partial"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionPartial, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// StepStatus is the lifecycle state of a HuntStep record.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
)

func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped, StepCancelled:
		return true
	default:
		return false
	}
}

// HuntExecution is one run of a hunt against a case. Mutated exclusively by
// the executor driving it; terminal once status reaches a terminal value.
type HuntExecution struct {
	ID                string
	HuntID            string
	CaseID            string
	Status            ExecutionStatus
	Progress          float64
	InitialParameters Metadata
	ContextData       []byte
	StartedAt         *time.Time
	CompletedAt       *time.Time
	CreatedByID       string
}

func (e HuntExecution) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("execution id is required")
	}
	if strings.TrimSpace(e.HuntID) == "" {
		return errors.New("hunt id is required")
	}
	if strings.TrimSpace(e.CaseID) == "" {
		return errors.New("case id is required")
	}
	if strings.TrimSpace(string(e.Status)) == "" {
		return errors.New("status is required")
	}
	return nil
}

// HuntStep is the persisted record for one definition step within one
// execution. Created in bulk at launch with status pending.
type HuntStep struct {
	ExecutionID  string
	StepID       string
	PluginName   string
	Status       StepStatus
	Parameters   Metadata
	Output       Metadata
	ErrorDetails string
	RetryCount   int
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

func (s HuntStep) Validate() error {
	if strings.TrimSpace(s.ExecutionID) == "" {
		return errors.New("execution id is required")
	}
	if strings.TrimSpace(s.StepID) == "" {
		return errors.New("step id is required")
	}
	if strings.TrimSpace(s.PluginName) == "" {
		return errors.New("plugin name is required")
	}
	if strings.TrimSpace(string(s.Status)) == "" {
		return errors.New("status is required")
	}
	return nil
}

// NormalizeExecutionStatus maps free-form status values to canonical ones.
func NormalizeExecutionStatus(value string) ExecutionStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(ExecutionPending):
		return ExecutionPending
	case string(ExecutionRunning):
		return ExecutionRunning
	case string(ExecutionCompleted):
		return ExecutionCompleted
	case string(ExecutionPartial):
		return ExecutionPartial
	case string(ExecutionFailed):
		return ExecutionFailed
	case string(ExecutionCancelled):
		return ExecutionCancelled
	default:
		return ""
	}
}
