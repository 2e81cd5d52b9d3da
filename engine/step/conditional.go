package step

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/run"
)

// runConditional evaluates a CEL expression against the run's arguments, the
// outputs of completed steps and the run metadata. The expression must yield
// a boolean; the value is recorded, branching happens in the workflow body.
func (e *Executor) runConditional(ctx context.Context, rc *run.Context, c ConditionalConfig) (json.RawMessage, error) {
	if c.Expression == "" {
		return nil, fmt.Errorf("conditional step requires an expression")
	}
	mapType := cel.MapType(cel.StringType, cel.DynType)
	env, err := cel.NewEnv(
		cel.Variable("args", mapType),
		cel.Variable("outputs", mapType),
		cel.Variable("run", mapType),
		cel.Variable("vars", mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("building expression environment: %w", err)
	}
	ast, issues := env.Compile(c.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compiling expression %q: %w", c.Expression, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("preparing expression %q: %w", c.Expression, err)
	}
	outputs, err := e.completedOutputs(ctx, rc)
	if err != nil {
		return nil, err
	}
	vars := c.Vars
	if vars == nil {
		vars = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"args":    rc.Run.Args.AsMap(),
		"outputs": outputs,
		"run": map[string]any{
			"id":     string(rc.Run.ID),
			"status": string(rc.Run.Status),
			"phase":  rc.Phase(),
			"branch": rc.Run.BranchName,
		},
		"vars": vars,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluating expression %q: %w", c.Expression, err)
	}
	value, ok := out.Value().(bool)
	if !ok {
		return nil, fmt.Errorf("expression %q produced %T, want bool", c.Expression, out.Value())
	}
	return core.RawJSON(&ConditionalResult{Success: true, Value: value, Expression: c.Expression})
}

// completedOutputs decodes every completed step's output, keyed by step key.
func (e *Executor) completedOutputs(ctx context.Context, rc *run.Context) (map[string]any, error) {
	steps, err := e.Steps.ListByRun(ctx, rc.RunID())
	if err != nil {
		return nil, fmt.Errorf("listing run steps: %w", err)
	}
	outputs := make(map[string]any, len(steps))
	for _, s := range steps {
		if s.Status != StatusCompleted || len(s.Output) == 0 {
			continue
		}
		var decoded map[string]any
		if err := json.Unmarshal(s.Output, &decoded); err != nil {
			continue
		}
		outputs[s.Key] = decoded
	}
	return outputs, nil
}
