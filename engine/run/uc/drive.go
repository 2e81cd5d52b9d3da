package uc

import (
	"context"
	"errors"
	"fmt"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/durable"
	"github.com/runloom/runloom/engine/event"
	"github.com/runloom/runloom/engine/run"
	"github.com/runloom/runloom/engine/step"
	"github.com/runloom/runloom/pkg/logger"
)

// Body is a workflow implementation: plain Go code that moves through phases
// on the run context and performs work through the execution facade. The
// substrate may invoke it several times; everything it does must go through
// facade steps so replays are safe.
type Body func(ctx context.Context, rc *run.Context, exec *step.Executor) error

// Driver owns the run lifecycle around a workflow body for one project: it
// transitions the run, emits the workflow boundary events and rebuilds the
// run context on every substrate invocation.
type Driver struct {
	Runs        run.Repository
	Executor    *step.Executor
	Events      *event.Emitter
	ProjectRoot string
}

// WorkflowFunc adapts a body for substrate registration:
//
//	local.RegisterFunction(uc.TriggerName("feature-build"), driver.WorkflowFunc(body))
func (d *Driver) WorkflowFunc(body Body) durable.WorkflowFunc {
	return func(ctx context.Context, payload map[string]any) error {
		rawID, _ := payload["run_id"].(string)
		runID, err := core.ParseID(rawID)
		if err != nil {
			return fmt.Errorf("trigger payload: %w", err)
		}
		return d.Run(ctx, runID, body)
	}
}

// Run executes the body once within the run's lifecycle. Re-invocations of
// an already-terminal run are no-ops, so substrate retries converge. A body
// error fails the run only on the substrate's final attempt; earlier
// attempts leave it running for the next re-invocation.
func (d *Driver) Run(ctx context.Context, runID core.ID, body Body) error {
	r, err := d.Runs.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run %s: %w", runID, err)
	}
	if r.Status.IsTerminal() {
		return nil
	}
	if r.Status == run.StatusPending {
		if r, err = d.Runs.Transition(ctx, runID, run.StatusRunning, ""); err != nil {
			return fmt.Errorf("starting run %s: %w", runID, err)
		}
		d.emitOnce(ctx, r.ID, event.TypeWorkflowStarted, "Workflow started")
	}
	rc := run.NewContext(r, d.ProjectRoot, d.Runs, d.Events)
	bodyErr := body(ctx, rc, d.Executor)
	switch {
	case bodyErr == nil:
		if err := rc.ClosePhase(ctx); err != nil {
			logger.FromContext(ctx).Error("Closing final phase", "run_id", runID, "error", err)
		}
		if _, err := d.Runs.Transition(ctx, runID, run.StatusCompleted, ""); err != nil {
			return fmt.Errorf("completing run %s: %w", runID, err)
		}
		d.emitOnce(ctx, runID, event.TypeWorkflowCompleted, "Workflow completed")
		return nil
	case errors.Is(bodyErr, step.ErrSkipped):
		// Cancellation already transitioned the run and emitted its event.
		return nil
	default:
		if attempt := durable.AttemptFromContext(ctx); !attempt.Final {
			// The substrate will re-invoke; the run stays running so the
			// retry does not short-circuit on a terminal status.
			logger.FromContext(ctx).Warn("Workflow body failed, awaiting substrate retry",
				"run_id", runID, "attempt", attempt.Number, "error", bodyErr)
			return bodyErr
		}
		if _, err := d.Runs.Transition(ctx, runID, run.StatusFailed, bodyErr.Error()); err != nil {
			return fmt.Errorf("failing run %s after %q: %w", runID, bodyErr, err)
		}
		d.emitFailure(ctx, runID, bodyErr)
		return bodyErr
	}
}

// emitOnce guards workflow boundary events against substrate replays.
func (d *Driver) emitOnce(ctx context.Context, runID core.ID, typ event.Type, title string) {
	seen, err := d.Events.Seen(ctx, runID, typ, "")
	if err != nil {
		logger.FromContext(ctx).Error("Checking event history", "event_type", typ, "error", err)
		return
	}
	if seen {
		return
	}
	if err := d.Events.Emit(ctx, event.New(runID, typ, event.Data{Title: title})); err != nil {
		logger.FromContext(ctx).Error("Emitting run event", "event_type", typ, "error", err)
	}
}

func (d *Driver) emitFailure(ctx context.Context, runID core.ID, cause error) {
	ev := event.New(runID, event.TypeWorkflowFailed, event.Data{
		Title: "Workflow failed",
		Body:  cause.Error(),
	})
	if err := d.Events.Emit(ctx, ev); err != nil {
		logger.FromContext(ctx).Error("Emitting failure event", "error", err)
	}
}
