package step

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/durable"
	"github.com/runloom/runloom/engine/event"
	"github.com/runloom/runloom/engine/run"
	"github.com/runloom/runloom/pkg/logger"
)

const defaultPauseInterval = 2 * time.Second

// Executor is the single entry point workflow bodies use to run steps. It
// wraps every step body in the durable substrate's RunOnce, persists the step
// row through its lifecycle, and enforces pause and cancel at step
// boundaries. Side effects behind an already-completed key are never
// re-executed, even across process restarts.
type Executor struct {
	Steps     Repository
	Substrate durable.Substrate

	// Agents runs coding-agent sessions for agent steps.
	Agents AgentRunner
	// Models builds chat models for ai steps.
	Models ModelFactory
	// GitHubToken authorizes pull-request creation for git pr steps.
	GitHubToken string

	// PauseInterval is how often a paused run is re-checked.
	PauseInterval time.Duration
}

func (e *Executor) pauseInterval() time.Duration {
	if e.PauseInterval > 0 {
		return e.PauseInterval
	}
	return defaultPauseInterval
}

// Execute runs one named step within the run's current phase. The returned
// payload is the step's typed result as JSON; callers that want the typed
// form use the Git/CLI/AI/... wrappers instead.
//
// The key derived from (phase, name) is the idempotency boundary: a second
// Execute with the same name in the same phase observes the recorded output
// without re-running the body.
func (e *Executor) Execute(ctx context.Context, rc *run.Context, name string, cfg Config) (json.RawMessage, error) {
	key, err := core.StepKey(rc.Phase(), name)
	if err != nil {
		return nil, fmt.Errorf("deriving step key for %q: %w", name, err)
	}
	s, err := e.findOrCreate(ctx, rc.RunID(), key, name, rc.Phase(), cfg)
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case StatusCompleted:
		// Replay: the work already happened, possibly before a crash that
		// lost the substrate's memo. Hand back the recorded output.
		return s.Output, nil
	case StatusSkipped, StatusCancelled:
		return nil, ErrSkipped
	}
	if err := e.waitWhilePaused(ctx, rc, s); err != nil {
		return nil, err
	}
	if err := e.begin(ctx, rc, s); err != nil {
		return nil, err
	}
	output, err := e.Substrate.RunOnce(ctx, rc.RunID(), key, func(ctx context.Context) (json.RawMessage, error) {
		return e.dispatch(ctx, rc, s, cfg)
	})
	if err != nil {
		s.markFailed(err)
		if uerr := e.Steps.Update(ctx, s); uerr != nil {
			logger.FromContext(ctx).Error("Recording step failure", "step_key", key, "error", uerr)
		}
		return nil, fmt.Errorf("step %s: %w", key, err)
	}
	s.markCompleted(output)
	if err := e.Steps.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("recording step %s completion: %w", key, err)
	}
	return output, nil
}

// findOrCreate converges concurrent replays on one row per (run, key).
func (e *Executor) findOrCreate(ctx context.Context, runID core.ID, key, name, phase string, cfg Config) (*Step, error) {
	s, err := e.Steps.GetByKey(ctx, runID, key)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("loading step %s: %w", key, err)
	}
	s, err = newStep(runID, key, name, phase, cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding step %s args: %w", key, err)
	}
	if err := e.Steps.Create(ctx, s); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return e.Steps.GetByKey(ctx, runID, key)
		}
		return nil, fmt.Errorf("creating step %s: %w", key, err)
	}
	return s, nil
}

// waitWhilePaused blocks between steps while the run is paused and converts
// cancellation into a skip. The in-flight step is never interrupted; this is
// the only enforcement point.
func (e *Executor) waitWhilePaused(ctx context.Context, rc *run.Context, s *Step) error {
	for {
		status, err := rc.Runs.GetStatus(ctx, rc.RunID())
		if err != nil {
			return fmt.Errorf("reading run status: %w", err)
		}
		switch status {
		case run.StatusCancelled:
			s.markSkipped()
			if err := e.Steps.Update(ctx, s); err != nil {
				return fmt.Errorf("recording skipped step %s: %w", s.Key, err)
			}
			return ErrSkipped
		case run.StatusPaused:
			logger.FromContext(ctx).Debug("Run paused, holding before step",
				"run_id", rc.RunID(), "step_key", s.Key)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.pauseInterval()):
			}
		default:
			return nil
		}
	}
}

// begin transitions the row to running and emits step_started. A row already
// running is a replay after a crash mid-step; it keeps its original
// started_at and does not emit a second event.
func (e *Executor) begin(ctx context.Context, rc *run.Context, s *Step) error {
	if err := rc.SetCurrentStep(ctx, s.Name); err != nil {
		return fmt.Errorf("recording current step: %w", err)
	}
	if s.Status == StatusRunning {
		return nil
	}
	s.markRunning()
	if err := e.Steps.Update(ctx, s); err != nil {
		return fmt.Errorf("starting step %s: %w", s.Key, err)
	}
	ev := event.New(s.RunID, event.TypeStepStarted, event.Data{
		Title: fmt.Sprintf("Step started: %s", s.Name),
		Extra: map[string]any{"step_type": s.Type, "step_key": s.Key},
	})
	ev.Phase = s.Phase
	ev.StepID = s.ID
	return rc.Events.Emit(ctx, ev)
}

func (e *Executor) dispatch(ctx context.Context, rc *run.Context, s *Step, cfg Config) (json.RawMessage, error) {
	switch c := cfg.(type) {
	case GitConfig:
		return e.runGit(ctx, rc, c)
	case CLIConfig:
		return e.runCLI(ctx, rc, c)
	case AIConfig:
		return e.runAI(ctx, c)
	case AgentConfig:
		return e.runAgent(ctx, rc, s, c)
	case ArtifactConfig:
		return e.runArtifact(ctx, rc, s, c)
	case AnnotationConfig:
		return e.runAnnotation(ctx, rc, s, c)
	case ConditionalConfig:
		return e.runConditional(ctx, rc, c)
	case LoopConfig:
		return e.runLoop(ctx, c)
	case PreviewConfig:
		return e.runPreview(ctx, rc, c)
	default:
		return nil, fmt.Errorf("unsupported step config %T", cfg)
	}
}

// runStep is the typed front half of Execute: it runs the step and decodes
// the recorded payload into the protocol's result type.
func runStep[R any](ctx context.Context, e *Executor, rc *run.Context, name string, cfg Config) (*R, error) {
	raw, err := e.Execute(ctx, rc, name, cfg)
	if err != nil {
		return nil, err
	}
	out := new(R)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decoding %s step output: %w", cfg.StepType(), err)
	}
	return out, nil
}

func (e *Executor) Git(ctx context.Context, rc *run.Context, name string, cfg GitConfig) (*GitResult, error) {
	return runStep[GitResult](ctx, e, rc, name, cfg)
}

func (e *Executor) CLI(ctx context.Context, rc *run.Context, name string, cfg CLIConfig) (*CLIResult, error) {
	return runStep[CLIResult](ctx, e, rc, name, cfg)
}

func (e *Executor) AI(ctx context.Context, rc *run.Context, name string, cfg AIConfig) (*AIResult, error) {
	return runStep[AIResult](ctx, e, rc, name, cfg)
}

func (e *Executor) Agent(ctx context.Context, rc *run.Context, name string, cfg AgentConfig) (*AgentResult, error) {
	return runStep[AgentResult](ctx, e, rc, name, cfg)
}

func (e *Executor) Artifact(ctx context.Context, rc *run.Context, name string, cfg ArtifactConfig) (*ArtifactResult, error) {
	return runStep[ArtifactResult](ctx, e, rc, name, cfg)
}

func (e *Executor) Annotate(ctx context.Context, rc *run.Context, name string, cfg AnnotationConfig) (*AnnotationResult, error) {
	return runStep[AnnotationResult](ctx, e, rc, name, cfg)
}

func (e *Executor) Conditional(ctx context.Context, rc *run.Context, name string, cfg ConditionalConfig) (*ConditionalResult, error) {
	return runStep[ConditionalResult](ctx, e, rc, name, cfg)
}

func (e *Executor) Loop(ctx context.Context, rc *run.Context, name string, cfg LoopConfig) (*LoopResult, error) {
	return runStep[LoopResult](ctx, e, rc, name, cfg)
}

func (e *Executor) Preview(ctx context.Context, rc *run.Context, name string, cfg PreviewConfig) (*PreviewResult, error) {
	return runStep[PreviewResult](ctx, e, rc, name, cfg)
}
