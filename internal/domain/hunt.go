package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// HuntDefinition is a static, versioned workflow template. Definitions are
// immutable once registered; executions reference them by name.
type HuntDefinition struct {
	Name                   string
	DisplayName            string
	Description            string
	Category               string
	Version                string
	InitialParameterSchema map[string]ParameterSpec
	Steps                  []HuntStepDefinition
}

// ParameterSpec describes one entry of a definition's initial parameter schema.
type ParameterSpec struct {
	Type        string
	Required    bool
	Default     any
	HasDefault  bool
	Description string
}

// HuntStepDefinition is one node of a hunt's dependency graph.
type HuntStepDefinition struct {
	StepID           string
	PluginName       string
	DisplayName      string
	Description      string
	DependsOn        []string
	ParameterMapping map[string]string
	StaticParameters Metadata
	Optional         bool
	TimeoutSeconds   int
	MaxRetries       int
	SaveToCase       bool
}

// Validate checks structural invariants: non-empty identity, unique step ids,
// dependencies referencing sibling steps only, and an acyclic step graph.
func (d HuntDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("hunt name is required")
	}
	if strings.TrimSpace(d.Version) == "" {
		return errors.New("hunt version is required")
	}
	if len(d.Steps) == 0 {
		return errors.New("hunt must declare at least one step")
	}

	ids := make(map[string]struct{}, len(d.Steps))
	for i, step := range d.Steps {
		id := strings.TrimSpace(step.StepID)
		if id == "" {
			return fmt.Errorf("step[%d] id is required", i)
		}
		if strings.TrimSpace(step.PluginName) == "" {
			return fmt.Errorf("step %q plugin name is required", id)
		}
		if _, exists := ids[id]; exists {
			return fmt.Errorf("duplicate step id %q", id)
		}
		ids[id] = struct{}{}
	}

	for _, step := range d.Steps {
		for _, dep := range step.DependsOn {
			if dep == step.StepID {
				return fmt.Errorf("step %q depends on itself", step.StepID)
			}
			if _, exists := ids[dep]; !exists {
				return fmt.Errorf("step %q depends on unknown step %q", step.StepID, dep)
			}
		}
	}

	if _, err := d.TopologicalOrder(); err != nil {
		return err
	}
	return nil
}

// TopologicalOrder returns the step ids in a deterministic dependency order,
// or an error when the graph contains a cycle.
func (d HuntDefinition) TopologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(d.Steps))
	dependents := make(map[string][]string, len(d.Steps))
	for _, step := range d.Steps {
		inDegree[step.StepID] = len(step.DependsOn)
		for _, dep := range step.DependsOn {
			dependents[dep] = append(dependents[dep], step.StepID)
		}
	}

	ready := make([]string, 0, len(d.Steps))
	for id, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	ordered := make([]string, 0, len(d.Steps))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, id)
		for _, next := range dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
				sort.Strings(ready)
			}
		}
	}

	if len(ordered) != len(d.Steps) {
		return nil, errors.New("step graph contains a cycle")
	}
	return ordered, nil
}

// Step returns the step definition for the given id.
func (d HuntDefinition) Step(stepID string) (HuntStepDefinition, bool) {
	for _, step := range d.Steps {
		if step.StepID == stepID {
			return step, true
		}
	}
	return HuntStepDefinition{}, false
}

// ValidateInitialParameters checks a caller-supplied parameter set against the
// definition's schema and returns the effective set: caller values win, absent
// entries fall back to schema defaults, and a required parameter with neither
// is an error. Types beyond presence are not enforced.
func (d HuntDefinition) ValidateInitialParameters(supplied Metadata) (Metadata, error) {
	resolved := make(Metadata, len(d.InitialParameterSchema))
	for name, spec := range d.InitialParameterSchema {
		if value, ok := supplied[name]; ok {
			resolved[name] = value
			continue
		}
		if spec.HasDefault {
			resolved[name] = spec.Default
			continue
		}
		if spec.Required {
			return nil, fmt.Errorf("required parameter %q is missing", name)
		}
	}
	// Pass through extras the schema does not mention; plugins may use them.
	for name, value := range supplied {
		if _, ok := resolved[name]; !ok {
			resolved[name] = value
		}
	}
	return resolved, nil
}
