package uc

import (
	"context"
	"fmt"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/event"
	"github.com/runloom/runloom/engine/run"
	"github.com/runloom/runloom/engine/step"
	"github.com/runloom/runloom/pkg/logger"
)

// -----------------------------------------------------------------------------
// PauseRun
// -----------------------------------------------------------------------------

// PauseRun asks a running run to hold at its next step boundary. The step
// already in flight finishes; the execution facade is what actually waits.
type PauseRun struct {
	runs   run.Repository
	events *event.Emitter
	runID  core.ID
}

func NewPauseRun(runs run.Repository, events *event.Emitter, runID core.ID) *PauseRun {
	return &PauseRun{runs: runs, events: events, runID: runID}
}

func (uc *PauseRun) Execute(ctx context.Context) (*run.Run, error) {
	r, err := uc.runs.Transition(ctx, uc.runID, run.StatusPaused, "")
	if err != nil {
		return nil, fmt.Errorf("pausing run %s: %w", uc.runID, err)
	}
	emitControl(ctx, uc.events, r.ID, event.TypeWorkflowPaused, "Workflow paused", "")
	return r, nil
}

// -----------------------------------------------------------------------------
// ResumeRun
// -----------------------------------------------------------------------------

type ResumeRun struct {
	runs   run.Repository
	events *event.Emitter
	runID  core.ID
}

func NewResumeRun(runs run.Repository, events *event.Emitter, runID core.ID) *ResumeRun {
	return &ResumeRun{runs: runs, events: events, runID: runID}
}

func (uc *ResumeRun) Execute(ctx context.Context) (*run.Run, error) {
	r, err := uc.runs.Transition(ctx, uc.runID, run.StatusRunning, "")
	if err != nil {
		return nil, fmt.Errorf("resuming run %s: %w", uc.runID, err)
	}
	emitControl(ctx, uc.events, r.ID, event.TypeWorkflowResumed, "Workflow resumed", "")
	return r, nil
}

// -----------------------------------------------------------------------------
// CancelRun
// -----------------------------------------------------------------------------

// CancelRun moves the run to cancelled and marks every step still pending or
// running as cancelled. Steps whose work already completed keep their
// recorded output. An optional reason is recorded on the run and carried in
// the cancellation event.
type CancelRun struct {
	runs   run.Repository
	steps  step.Repository
	events *event.Emitter
	runID  core.ID
	reason string
}

func NewCancelRun(runs run.Repository, steps step.Repository, events *event.Emitter, runID core.ID, reason string) *CancelRun {
	return &CancelRun{runs: runs, steps: steps, events: events, runID: runID, reason: reason}
}

func (uc *CancelRun) Execute(ctx context.Context) (*run.Run, error) {
	r, err := uc.runs.Transition(ctx, uc.runID, run.StatusCancelled, uc.reason)
	if err != nil {
		return nil, fmt.Errorf("cancelling run %s: %w", uc.runID, err)
	}
	if err := uc.cancelOpenSteps(ctx); err != nil {
		return nil, err
	}
	emitControl(ctx, uc.events, r.ID, event.TypeWorkflowCancelled, "Workflow cancelled", uc.reason)
	return r, nil
}

func (uc *CancelRun) cancelOpenSteps(ctx context.Context) error {
	steps, err := uc.steps.ListByRun(ctx, uc.runID)
	if err != nil {
		return fmt.Errorf("listing steps of %s: %w", uc.runID, err)
	}
	for _, s := range steps {
		if s.Status != step.StatusPending && s.Status != step.StatusRunning {
			continue
		}
		s.Status = step.StatusCancelled
		if err := uc.steps.Update(ctx, s); err != nil {
			return fmt.Errorf("cancelling step %s: %w", s.Key, err)
		}
	}
	return nil
}

func emitControl(ctx context.Context, events *event.Emitter, runID core.ID, typ event.Type, title, body string) {
	if err := events.Emit(ctx, event.New(runID, typ, event.Data{Title: title, Body: body})); err != nil {
		logger.FromContext(ctx).Error("Emitting run event", "event_type", typ, "error", err)
	}
}
