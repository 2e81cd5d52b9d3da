package step_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/durable"
	"github.com/runloom/runloom/engine/event"
	"github.com/runloom/runloom/engine/infra/store"
	"github.com/runloom/runloom/engine/run"
	"github.com/runloom/runloom/engine/step"
)

type harness struct {
	runs      *store.Runs
	steps     *store.Steps
	events    *store.Events
	artifacts *store.Artifacts
	substrate *durable.Local
	executor  *step.Executor
	rc        *run.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		runs:      store.NewRuns(),
		steps:     store.NewSteps(),
		events:    store.NewEvents(),
		artifacts: store.NewArtifacts(),
		substrate: durable.NewLocal(),
	}
	r := run.New("feature-build", core.MustNewID(), core.MustNewID(), core.Input{"goal": "demo"})
	require.NoError(t, h.runs.Create(ctx, r))
	r, err := h.runs.Transition(ctx, r.ID, run.StatusRunning, "")
	require.NoError(t, err)
	emitter := event.NewEmitter(h.events, h.artifacts, nil, r.ProjectID)
	h.rc = run.NewContext(r, t.TempDir(), h.runs, emitter)
	require.NoError(t, h.rc.EnterPhase(ctx, "build"))
	h.executor = &step.Executor{
		Steps:         h.steps,
		Substrate:     h.substrate,
		PauseInterval: 10 * time.Millisecond,
	}
	return h
}

func (h *harness) eventsOfType(t *testing.T, typ event.Type) []*event.Event {
	t.Helper()
	all, err := h.events.ListByRun(context.Background(), h.rc.RunID())
	require.NoError(t, err)
	var out []*event.Event
	for _, ev := range all {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func Test_Executor_Execute(t *testing.T) {
	ctx := context.Background()
	t.Run("Should run a step's side effects at most once per key", func(t *testing.T) {
		h := newHarness(t)
		cfg := step.AnnotationConfig{Message: "first pass done"}
		first, err := h.executor.Annotate(ctx, h.rc, "Note Progress", cfg)
		require.NoError(t, err)
		second, err := h.executor.Annotate(ctx, h.rc, "Note Progress", cfg)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Len(t, h.eventsOfType(t, event.TypeAnnotationAdded), 1)
		assert.Len(t, h.eventsOfType(t, event.TypeStepStarted), 1)
		steps, err := h.steps.ListByRun(ctx, h.rc.RunID())
		require.NoError(t, err)
		require.Len(t, steps, 1)
		assert.Equal(t, "build.note-progress", steps[0].Key)
		assert.Equal(t, step.StatusCompleted, steps[0].Status)
	})
	t.Run("Should replay recorded output after the substrate loses its memo", func(t *testing.T) {
		h := newHarness(t)
		cfg := step.AnnotationConfig{Message: "survives restarts"}
		first, err := h.executor.Annotate(ctx, h.rc, "Durable Note", cfg)
		require.NoError(t, err)
		// A restarted process arrives with an empty substrate memo; the
		// completed row is the source of truth.
		h.executor.Substrate = durable.NewLocal()
		second, err := h.executor.Annotate(ctx, h.rc, "Durable Note", cfg)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Len(t, h.eventsOfType(t, event.TypeAnnotationAdded), 1)
	})
	t.Run("Should skip new steps once the run is cancelled", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runs.Transition(ctx, h.rc.RunID(), run.StatusCancelled, "")
		require.NoError(t, err)
		_, err = h.executor.Annotate(ctx, h.rc, "After Cancel", step.AnnotationConfig{Message: "x"})
		require.ErrorIs(t, err, step.ErrSkipped)
		steps, err := h.steps.ListByRun(ctx, h.rc.RunID())
		require.NoError(t, err)
		require.Len(t, steps, 1)
		assert.Equal(t, step.StatusSkipped, steps[0].Status)
		assert.Empty(t, h.eventsOfType(t, event.TypeStepStarted))
	})
	t.Run("Should hold before the step while the run is paused", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runs.Transition(ctx, h.rc.RunID(), run.StatusPaused, "")
		require.NoError(t, err)
		done := make(chan error, 1)
		go func() {
			_, execErr := h.executor.Annotate(ctx, h.rc, "Paused Note", step.AnnotationConfig{Message: "x"})
			done <- execErr
		}()
		select {
		case err := <-done:
			t.Fatalf("step ran while paused: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
		_, err = h.runs.Transition(ctx, h.rc.RunID(), run.StatusRunning, "")
		require.NoError(t, err)
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("step did not resume after unpausing")
		}
	})
	t.Run("Should record failures on the step row and propagate the error", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.executor.Annotate(ctx, h.rc, "Broken", step.AnnotationConfig{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, step.ErrSkipped)
		steps, lerr := h.steps.ListByRun(ctx, h.rc.RunID())
		require.NoError(t, lerr)
		require.Len(t, steps, 1)
		assert.Equal(t, step.StatusFailed, steps[0].Status)
		assert.NotEmpty(t, steps[0].ErrorMessage)
	})
	t.Run("Should derive distinct keys per phase", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.executor.Annotate(ctx, h.rc, "Checkpoint", step.AnnotationConfig{Message: "a"})
		require.NoError(t, err)
		require.NoError(t, h.rc.EnterPhase(ctx, "review"))
		_, err = h.executor.Annotate(ctx, h.rc, "Checkpoint", step.AnnotationConfig{Message: "b"})
		require.NoError(t, err)
		steps, err := h.steps.ListByRun(ctx, h.rc.RunID())
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, "build.checkpoint", steps[0].Key)
		assert.Equal(t, "review.checkpoint", steps[1].Key)
	})
	t.Run("Should reject step names that slugify to nothing", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.executor.Annotate(ctx, h.rc, "!!!", step.AnnotationConfig{Message: "x"})
		require.Error(t, err)
	})
}

func Test_Executor_ErrSkipped(t *testing.T) {
	t.Run("Should be distinguishable with errors.Is", func(t *testing.T) {
		wrapped := errors.Join(step.ErrSkipped)
		assert.ErrorIs(t, wrapped, step.ErrSkipped)
	})
}
