package httpapi

import (
	"time"

	"github.com/casehound/casehound/internal/domain"
)

type huntView struct {
	Name        string                   `json:"name"`
	DisplayName string                   `json:"display_name,omitempty"`
	Description string                   `json:"description,omitempty"`
	Category    string                   `json:"category,omitempty"`
	Version     string                   `json:"version"`
	Parameters  map[string]parameterView `json:"parameters,omitempty"`
	Steps       []huntStepView           `json:"steps"`
}

type parameterView struct {
	Type        string `json:"type,omitempty"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

type huntStepView struct {
	StepID      string   `json:"step_id"`
	PluginName  string   `json:"plugin_name"`
	DisplayName string   `json:"display_name,omitempty"`
	Description string   `json:"description,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Optional    bool     `json:"optional"`
	SaveToCase  bool     `json:"save_to_case"`
}

func toHuntView(def domain.HuntDefinition) huntView {
	view := huntView{
		Name:        def.Name,
		DisplayName: def.DisplayName,
		Description: def.Description,
		Category:    def.Category,
		Version:     def.Version,
		Steps:       make([]huntStepView, 0, len(def.Steps)),
	}
	if len(def.InitialParameterSchema) > 0 {
		view.Parameters = make(map[string]parameterView, len(def.InitialParameterSchema))
		for name, spec := range def.InitialParameterSchema {
			pv := parameterView{
				Type:        spec.Type,
				Required:    spec.Required,
				Description: spec.Description,
			}
			if spec.HasDefault {
				pv.Default = spec.Default
			}
			view.Parameters[name] = pv
		}
	}
	for _, step := range def.Steps {
		view.Steps = append(view.Steps, huntStepView{
			StepID:      step.StepID,
			PluginName:  step.PluginName,
			DisplayName: step.DisplayName,
			Description: step.Description,
			DependsOn:   step.DependsOn,
			Optional:    step.Optional,
			SaveToCase:  step.SaveToCase,
		})
	}
	return view
}

type executionView struct {
	ExecutionID       string          `json:"execution_id"`
	HuntID            string          `json:"hunt_id"`
	CaseID            string          `json:"case_id"`
	Status            string          `json:"status"`
	Progress          float64         `json:"progress"`
	InitialParameters domain.Metadata `json:"initial_parameters,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CreatedByID       string          `json:"created_by_id,omitempty"`
}

func toExecutionView(execution domain.HuntExecution) executionView {
	return executionView{
		ExecutionID:       execution.ID,
		HuntID:            execution.HuntID,
		CaseID:            execution.CaseID,
		Status:            string(execution.Status),
		Progress:          execution.Progress,
		InitialParameters: execution.InitialParameters,
		StartedAt:         execution.StartedAt,
		CompletedAt:       execution.CompletedAt,
		CreatedByID:       execution.CreatedByID,
	}
}

type stepView struct {
	StepID       string          `json:"step_id"`
	PluginName   string          `json:"plugin_name"`
	Status       string          `json:"status"`
	Parameters   domain.Metadata `json:"parameters,omitempty"`
	Output       domain.Metadata `json:"output,omitempty"`
	ErrorDetails string          `json:"error_details,omitempty"`
	RetryCount   int             `json:"retry_count"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

func toStepView(step domain.HuntStep) stepView {
	return stepView{
		StepID:       step.StepID,
		PluginName:   step.PluginName,
		Status:       string(step.Status),
		Parameters:   step.Parameters,
		Output:       step.Output,
		ErrorDetails: step.ErrorDetails,
		RetryCount:   step.RetryCount,
		StartedAt:    step.StartedAt,
		CompletedAt:  step.CompletedAt,
	}
}
