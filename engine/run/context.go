package run

import (
	"context"
	"fmt"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/event"
)

// Context carries the per-invocation state a workflow body needs. The
// durable substrate may invoke the body several times; each invocation
// rebuilds a Context from the run row, so nothing here survives a crash
// except through the repositories.
type Context struct {
	Run         *Run
	ProjectRoot string

	Runs   Repository
	Events *event.Emitter

	phase string
}

func NewContext(r *Run, projectRoot string, runs Repository, events *event.Emitter) *Context {
	return &Context{Run: r, ProjectRoot: projectRoot, Runs: runs, Events: events, phase: r.CurrentPhase}
}

func (c *Context) RunID() core.ID {
	return c.Run.ID
}

func (c *Context) Phase() string {
	return c.phase
}

// EnterPhase closes the previous phase, updates the denormalized current
// phase on the run row and emits the phase boundary events. A phase whose
// phase_started event already exists is re-entered silently, so substrate
// replays do not duplicate events.
func (c *Context) EnterPhase(ctx context.Context, phase string) error {
	if phase == "" {
		return fmt.Errorf("phase name must not be empty")
	}
	if c.phase == phase {
		return nil
	}
	started, err := c.Events.Seen(ctx, c.Run.ID, event.TypePhaseStarted, phase)
	if err != nil {
		return fmt.Errorf("checking phase history: %w", err)
	}
	if c.phase != "" && !started {
		ev := event.New(c.Run.ID, event.TypePhaseCompleted, event.Data{
			Title: fmt.Sprintf("Phase completed: %s", c.phase),
		})
		ev.Phase = c.phase
		if err := c.Events.Emit(ctx, ev); err != nil {
			return err
		}
	}
	c.phase = phase
	c.Run.CurrentPhase = phase
	if err := c.Runs.Update(ctx, c.Run); err != nil {
		return fmt.Errorf("updating current phase: %w", err)
	}
	if started {
		return nil
	}
	ev := event.New(c.Run.ID, event.TypePhaseStarted, event.Data{
		Title: fmt.Sprintf("Phase started: %s", phase),
	})
	ev.Phase = phase
	return c.Events.Emit(ctx, ev)
}

// ClosePhase emits phase_completed for the current phase. The driver calls
// it when the body finishes, so the last phase of a run does not stay open.
// A phase whose completion event already exists is left alone.
func (c *Context) ClosePhase(ctx context.Context) error {
	if c.phase == "" {
		return nil
	}
	done, err := c.Events.Seen(ctx, c.Run.ID, event.TypePhaseCompleted, c.phase)
	if err != nil {
		return fmt.Errorf("checking phase history: %w", err)
	}
	if done {
		return nil
	}
	ev := event.New(c.Run.ID, event.TypePhaseCompleted, event.Data{
		Title: fmt.Sprintf("Phase completed: %s", c.phase),
	})
	ev.Phase = c.phase
	return c.Events.Emit(ctx, ev)
}

// SetCurrentStep records the step now executing, for display only.
func (c *Context) SetCurrentStep(ctx context.Context, name string) error {
	c.Run.CurrentStep = name
	return c.Runs.Update(ctx, c.Run)
}
