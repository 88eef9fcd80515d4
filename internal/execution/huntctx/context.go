// Package huntctx holds the per-execution runtime state threading data
// between the steps of one hunt execution: initial parameters, accumulated
// step outputs, failure and skip bookkeeping, and evidence references.
package huntctx

import (
	"encoding/json"

	"github.com/casehound/casehound/internal/domain"
)

// Context is owned by exactly one executor for the duration of a run. It is
// mutated in memory during the run and persisted once, at finalization.
type Context struct {
	initialParameters domain.Metadata
	stepOutputs       map[string]domain.Metadata
	metadata          domain.Metadata
	evidenceRefs      []string
	failedSteps       []string
	skippedSteps      []string
}

// New builds a fresh Context from the execution's initial parameters.
func New(initialParameters domain.Metadata) *Context {
	return &Context{
		initialParameters: normalizeMetadata(initialParameters),
		stepOutputs:       make(map[string]domain.Metadata),
		metadata:          domain.Metadata{},
		evidenceRefs:      make([]string, 0),
		failedSteps:       make([]string, 0),
		skippedSteps:      make([]string, 0),
	}
}

// SetStepOutput records a step's output, normalized to plain JSON shapes so
// mapping expressions can traverse it uniformly.
func (c *Context) SetStepOutput(stepID string, output domain.Metadata) {
	c.stepOutputs[stepID] = normalizeMetadata(output)
}

// StepOutput returns the recorded output for a step, if any.
func (c *Context) StepOutput(stepID string) (domain.Metadata, bool) {
	output, ok := c.stepOutputs[stepID]
	return output, ok
}

// AddEvidenceRef appends an evidence reference, preserving insertion order
// and dropping duplicates.
func (c *Context) AddEvidenceRef(ref string) {
	c.evidenceRefs = appendUnique(c.evidenceRefs, ref)
}

// MarkStepFailed records a step failure. Idempotent.
func (c *Context) MarkStepFailed(stepID string) {
	c.failedSteps = appendUnique(c.failedSteps, stepID)
}

// MarkStepSkipped records a step skip. Idempotent.
func (c *Context) MarkStepSkipped(stepID string) {
	c.skippedSteps = appendUnique(c.skippedSteps, stepID)
}

func (c *Context) EvidenceRefs() []string { return append([]string(nil), c.evidenceRefs...) }
func (c *Context) FailedSteps() []string  { return append([]string(nil), c.failedSteps...) }
func (c *Context) SkippedSteps() []string { return append([]string(nil), c.skippedSteps...) }

// StepFailed reports whether the step was marked failed.
func (c *Context) StepFailed(stepID string) bool {
	for _, id := range c.failedSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// StepSkipped reports whether the step was marked skipped.
func (c *Context) StepSkipped(stepID string) bool {
	for _, id := range c.skippedSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// SetMetadata records a free-form context annotation.
func (c *Context) SetMetadata(key string, value any) {
	c.metadata[key] = value
}

// ResolveParameters computes a step's effective parameter map: a copy of its
// static parameters, overlaid with each mapping expression that resolves to a
// present value. Absent resolutions leave any static default untouched.
func (c *Context) ResolveParameters(step domain.HuntStepDefinition) domain.Metadata {
	resolved := step.StaticParameters.Clone()
	for param, expr := range step.ParameterMapping {
		value, ok := c.resolve(ParseMapping(expr))
		if !ok {
			continue
		}
		resolved[param] = value
	}
	return resolved
}

func (c *Context) resolve(m Mapping) (any, bool) {
	switch m.source {
	case sourceInitial:
		return traversePath(map[string]any(c.initialParameters), m.path)
	case sourceStepOutput:
		output, ok := c.stepOutputs[m.stepID]
		if !ok {
			return nil, false
		}
		if len(m.path) == 0 {
			return map[string]any(output), true
		}
		return traversePath(map[string]any(output), m.path)
	default:
		return nil, false
	}
}

type contextPayload struct {
	InitialParameters domain.Metadata            `json:"initial_parameters"`
	StepOutputs       map[string]domain.Metadata `json:"step_outputs"`
	Metadata          domain.Metadata            `json:"metadata"`
	EvidenceRefs      []string                   `json:"evidence_refs"`
	FailedSteps       []string                   `json:"failed_steps"`
	SkippedSteps      []string                   `json:"skipped_steps"`
}

// MarshalJSON serializes the Context with stable field names for persistence
// as the execution's context_data.
func (c *Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(contextPayload{
		InitialParameters: c.initialParameters,
		StepOutputs:       c.stepOutputs,
		Metadata:          c.metadata,
		EvidenceRefs:      c.evidenceRefs,
		FailedSteps:       c.failedSteps,
		SkippedSteps:      c.skippedSteps,
	})
}

// FromJSON restores a Context persisted by MarshalJSON.
func FromJSON(raw []byte) (*Context, error) {
	var payload contextPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	ctx := New(payload.InitialParameters)
	if payload.StepOutputs != nil {
		ctx.stepOutputs = payload.StepOutputs
	}
	if payload.Metadata != nil {
		ctx.metadata = payload.Metadata
	}
	if payload.EvidenceRefs != nil {
		ctx.evidenceRefs = payload.EvidenceRefs
	}
	if payload.FailedSteps != nil {
		ctx.failedSteps = payload.FailedSteps
	}
	if payload.SkippedSteps != nil {
		ctx.skippedSteps = payload.SkippedSteps
	}
	return ctx, nil
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

// normalizeMetadata round-trips a value bag through JSON so nested structs
// and typed slices collapse into map[string]any / []any shapes.
func normalizeMetadata(meta domain.Metadata) domain.Metadata {
	if meta == nil {
		return domain.Metadata{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return meta.Clone()
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return meta.Clone()
	}
	if out == nil {
		out = map[string]any{}
	}
	return domain.Metadata(out)
}
