package hunt

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/casehound/casehound/internal/domain"
)

//go:embed definition_schema.json
var definitionSchemaJSON []byte

type definitionDoc struct {
	Name              string                  `yaml:"name"`
	DisplayName       string                  `yaml:"display_name"`
	Description       string                  `yaml:"description"`
	Category          string                  `yaml:"category"`
	Version           string                  `yaml:"version"`
	InitialParameters map[string]parameterDoc `yaml:"initial_parameters"`
	Steps             []stepDoc               `yaml:"steps"`
}

type parameterDoc struct {
	Type        string `yaml:"type"`
	Required    bool   `yaml:"required"`
	Default     any    `yaml:"default"`
	Description string `yaml:"description"`
}

type stepDoc struct {
	StepID           string            `yaml:"step_id"`
	PluginName       string            `yaml:"plugin_name"`
	DisplayName      string            `yaml:"display_name"`
	Description      string            `yaml:"description"`
	DependsOn        []string          `yaml:"depends_on"`
	ParameterMapping map[string]string `yaml:"parameter_mapping"`
	StaticParameters map[string]any    `yaml:"static_parameters"`
	Optional         bool              `yaml:"optional"`
	TimeoutSeconds   int               `yaml:"timeout_seconds"`
	MaxRetries       int               `yaml:"max_retries"`
	SaveToCase       bool              `yaml:"save_to_case"`
}

// LoadDefinition parses, schema-validates and structurally validates one YAML
// hunt definition document.
func LoadDefinition(raw []byte) (domain.HuntDefinition, error) {
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return domain.HuntDefinition{}, fmt.Errorf("parse definition: %w", err)
	}
	if err := validateDocument(generic); err != nil {
		return domain.HuntDefinition{}, err
	}

	var doc definitionDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return domain.HuntDefinition{}, fmt.Errorf("decode definition: %w", err)
	}
	def := doc.toDomain(generic)
	if err := def.Validate(); err != nil {
		return domain.HuntDefinition{}, err
	}
	return def, nil
}

// LoadDirectory registers every *.yaml/*.yml definition found in dir.
func LoadDirectory(registry *Registry, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read definitions dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	loaded := 0
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return loaded, fmt.Errorf("read %s: %w", name, err)
		}
		def, err := LoadDefinition(raw)
		if err != nil {
			return loaded, fmt.Errorf("%s: %w", name, err)
		}
		if err := registry.Register(func() domain.HuntDefinition { return def }); err != nil {
			return loaded, fmt.Errorf("%s: %w", name, err)
		}
		loaded++
	}
	return loaded, nil
}

func validateDocument(generic map[string]any) error {
	docJSON, err := json.Marshal(generic)
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	schemaLoader := gojsonschema.NewBytesLoader(definitionSchemaJSON)
	documentLoader := gojsonschema.NewBytesLoader(docJSON)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validate definition: %w", err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, issue := range result.Errors() {
			issues = append(issues, issue.String())
		}
		return fmt.Errorf("invalid definition: %s", strings.Join(issues, "; "))
	}
	return nil
}

func (d definitionDoc) toDomain(generic map[string]any) domain.HuntDefinition {
	schema := make(map[string]domain.ParameterSpec, len(d.InitialParameters))
	declaredDefaults := defaultKeys(generic)
	for name, param := range d.InitialParameters {
		_, hasDefault := declaredDefaults[name]
		schema[name] = domain.ParameterSpec{
			Type:        param.Type,
			Required:    param.Required,
			Default:     param.Default,
			HasDefault:  hasDefault,
			Description: param.Description,
		}
	}

	steps := make([]domain.HuntStepDefinition, 0, len(d.Steps))
	for _, step := range d.Steps {
		steps = append(steps, domain.HuntStepDefinition{
			StepID:           step.StepID,
			PluginName:       step.PluginName,
			DisplayName:      step.DisplayName,
			Description:      step.Description,
			DependsOn:        step.DependsOn,
			ParameterMapping: step.ParameterMapping,
			StaticParameters: domain.Metadata(step.StaticParameters),
			Optional:         step.Optional,
			TimeoutSeconds:   step.TimeoutSeconds,
			MaxRetries:       step.MaxRetries,
			SaveToCase:       step.SaveToCase,
		})
	}

	return domain.HuntDefinition{
		Name:                   d.Name,
		DisplayName:            d.DisplayName,
		Description:            d.Description,
		Category:               d.Category,
		Version:                d.Version,
		InitialParameterSchema: schema,
		Steps:                  steps,
	}
}

// defaultKeys reports which parameters declare a default entry, so an
// explicit `default: null` is distinguishable from no default at all.
func defaultKeys(generic map[string]any) map[string]struct{} {
	out := make(map[string]struct{})
	params, ok := generic["initial_parameters"].(map[string]any)
	if !ok {
		return out
	}
	for name, value := range params {
		spec, ok := value.(map[string]any)
		if !ok {
			continue
		}
		if _, declared := spec["default"]; declared {
			out[name] = struct{}{}
		}
	}
	return out
}
