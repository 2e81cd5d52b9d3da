package uc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/runloom/runloom/engine/run"
	"github.com/runloom/runloom/engine/step"
)

const defaultSpecType = "feature"

// commandsDir holds the per-project generation prompt templates, one
// generate-<type>.md per spec type.
const commandsDir = ".runloom/commands"

// -----------------------------------------------------------------------------
// ResolveSpec
// -----------------------------------------------------------------------------

// ResolveSpec makes sure the run has a confirmed spec document before the
// build phases start. A provided path is read and pinned; without one, a
// coding agent generates the spec from the project's generation template,
// resuming the planning session when the run carries one. A run whose spec
// is already confirmed is left untouched.
type ResolveSpec struct {
	executor *step.Executor
	// agent is the configured agent name used for generation.
	agent string
}

func NewResolveSpec(executor *step.Executor, agent string) *ResolveSpec {
	return &ResolveSpec{executor: executor, agent: agent}
}

func (uc *ResolveSpec) Execute(ctx context.Context, rc *run.Context) error {
	r := rc.Run
	if r.SpecContent != "" {
		return nil
	}
	if r.SpecFilePath != "" {
		return uc.pinProvided(ctx, rc)
	}
	return uc.generate(ctx, rc)
}

// pinProvided reads the user-supplied spec file and freezes its content on
// the run row.
func (uc *ResolveSpec) pinProvided(ctx context.Context, rc *run.Context) error {
	r := rc.Run
	path := r.SpecFilePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(rc.ProjectRoot, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("spec file %s: %w", r.SpecFilePath, err)
	}
	r.SpecContent = string(content)
	if err := rc.Runs.Update(ctx, r); err != nil {
		return fmt.Errorf("pinning spec content: %w", err)
	}
	return nil
}

func (uc *ResolveSpec) generate(ctx context.Context, rc *run.Context) error {
	r := rc.Run
	if r.SpecType == "" {
		r.SpecType = defaultSpecType
	}
	templatePath := filepath.Join(rc.ProjectRoot, commandsDir, "generate-"+r.SpecType+".md")
	template, err := os.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("no generation template for spec type %q: expected %s: %w",
			r.SpecType, templatePath, err)
	}
	prompt := string(template)
	if len(r.Args) > 0 {
		args, merr := json.MarshalIndent(r.Args.AsMap(), "", "  ")
		if merr != nil {
			return fmt.Errorf("encoding run arguments: %w", merr)
		}
		prompt = fmt.Sprintf("%s\n\n## Run arguments\n\n```json\n%s\n```\n", prompt, args)
	}
	// The generation goes through the facade, so a replayed invocation
	// reuses the recorded output instead of calling the agent again.
	res, err := uc.executor.Agent(ctx, rc, "Generate Spec", step.AgentConfig{
		Agent:           uc.agent,
		Prompt:          prompt,
		WorkDir:         rc.ProjectRoot,
		Mode:            step.PermissionPlan,
		ResumeSessionID: r.PlanningSessionID,
	})
	if err != nil {
		return err
	}
	if !res.Success || res.Output == "" {
		return fmt.Errorf("spec generation produced no document (exit %d)", res.ExitCode)
	}
	specRel := filepath.Join(".runloom", "runs", string(r.ID), "spec.md")
	specAbs := filepath.Join(rc.ProjectRoot, specRel)
	if err := os.MkdirAll(filepath.Dir(specAbs), 0o755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}
	if err := os.WriteFile(specAbs, []byte(res.Output), 0o644); err != nil {
		return fmt.Errorf("writing generated spec: %w", err)
	}
	r.SpecFilePath = specRel
	r.SpecContent = res.Output
	if res.SessionID != "" {
		r.PlanningSessionID = res.SessionID
	}
	if err := rc.Runs.Update(ctx, r); err != nil {
		return fmt.Errorf("recording generated spec: %w", err)
	}
	return nil
}
