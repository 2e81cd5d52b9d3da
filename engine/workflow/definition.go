package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"github.com/runloom/runloom/engine/core"
)

// Scope says where a definition was discovered from.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
)

// Schema is a JSON-schema document kept in its map form until compiled.
type Schema map[string]any

func (s Schema) Compile() (*jsonschema.Schema, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiled, err := compiler.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return compiled, nil
}

// Definition is the reusable workflow template discovered from a YAML file.
// It is never mutated by a run; re-scans replace the registry entry.
type Definition struct {
	Scope       Scope    `yaml:"scope"       json:"scope"`
	ID          string   `yaml:"id"          json:"id"`
	Name        string   `yaml:"name"        json:"name"`
	Description string   `yaml:"description" json:"description"`
	Phases      []string `yaml:"phases"      json:"phases"`
	ArgsSchema  Schema   `yaml:"args_schema" json:"args_schema,omitempty"`

	filePath string
}

func (d *Definition) FilePath() string {
	return d.filePath
}

func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("workflow definition %q has no id", d.filePath)
	}
	if len(d.Phases) == 0 {
		return fmt.Errorf("workflow definition %q declares no phases", d.ID)
	}
	switch d.Scope {
	case ScopeGlobal, ScopeProject, "":
	default:
		return fmt.Errorf("workflow definition %q has invalid scope %q", d.ID, d.Scope)
	}
	if d.Scope == "" {
		d.Scope = ScopeProject
	}
	return nil
}

// ValidateArgs checks the provided run arguments against the definition's
// argument schema. A definition without a schema accepts anything.
func (d *Definition) ValidateArgs(_ context.Context, args core.Input) error {
	if d.ArgsSchema == nil {
		return nil
	}
	compiled, err := d.ArgsSchema.Compile()
	if err != nil {
		return err
	}
	if args == nil {
		args = core.Input{}
	}
	result := compiled.Validate(args.AsMap())
	if result.Valid {
		return nil
	}
	return core.NewError(
		fmt.Errorf("arguments do not match schema for workflow %q", d.ID),
		"INVALID_ARGUMENTS",
		map[string]any{"errors": result.Errors},
	)
}

// HasPhase reports whether the phase name belongs to the definition.
func (d *Definition) HasPhase(phase string) bool {
	for _, p := range d.Phases {
		if p == phase {
			return true
		}
	}
	return false
}
