package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/infra/store"
	"github.com/runloom/runloom/engine/run"
	"github.com/runloom/runloom/engine/step"
)

func Test_Runs_Transition(t *testing.T) {
	ctx := context.Background()
	t.Run("Should apply a legal transition and stamp it", func(t *testing.T) {
		runs := store.NewRuns()
		r := run.New("feature-build", core.MustNewID(), core.MustNewID(), nil)
		require.NoError(t, runs.Create(ctx, r))
		updated, err := runs.Transition(ctx, r.ID, run.StatusRunning, "")
		require.NoError(t, err)
		assert.Equal(t, run.StatusRunning, updated.Status)
		assert.NotNil(t, updated.StartedAt)
	})
	t.Run("Should reject an illegal transition", func(t *testing.T) {
		runs := store.NewRuns()
		r := run.New("feature-build", core.MustNewID(), core.MustNewID(), nil)
		require.NoError(t, runs.Create(ctx, r))
		_, err := runs.Transition(ctx, r.ID, run.StatusCompleted, "")
		require.ErrorIs(t, err, run.ErrIllegalTransition)
	})
	t.Run("Should report a missing run", func(t *testing.T) {
		runs := store.NewRuns()
		_, err := runs.Transition(ctx, core.MustNewID(), run.StatusRunning, "")
		require.ErrorIs(t, err, run.ErrNotFound)
	})
}

func Test_Runs_Update(t *testing.T) {
	ctx := context.Background()
	t.Run("Should never change status through Update", func(t *testing.T) {
		runs := store.NewRuns()
		r := run.New("feature-build", core.MustNewID(), core.MustNewID(), nil)
		require.NoError(t, runs.Create(ctx, r))
		_, err := runs.Transition(ctx, r.ID, run.StatusRunning, "")
		require.NoError(t, err)

		r.Status = run.StatusCompleted
		r.CurrentPhase = "build"
		require.NoError(t, runs.Update(ctx, r))

		got, err := runs.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, run.StatusRunning, got.Status)
		assert.Equal(t, "build", got.CurrentPhase)
	})
}

func Test_Steps_KeyUniqueness(t *testing.T) {
	ctx := context.Background()
	t.Run("Should reject a second row for the same (run, key)", func(t *testing.T) {
		steps := store.NewSteps()
		runID := core.MustNewID()
		first := stepRow(runID, "build.compile")
		require.NoError(t, steps.Create(ctx, first))
		require.ErrorIs(t, steps.Create(ctx, stepRow(runID, "build.compile")), step.ErrDuplicateKey)

		got, err := steps.GetByKey(ctx, runID, "build.compile")
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
	})
	t.Run("Should allow the same key on a different run", func(t *testing.T) {
		steps := store.NewSteps()
		require.NoError(t, steps.Create(ctx, stepRow(core.MustNewID(), "build.compile")))
		require.NoError(t, steps.Create(ctx, stepRow(core.MustNewID(), "build.compile")))
	})
	t.Run("Should list steps in creation order", func(t *testing.T) {
		steps := store.NewSteps()
		runID := core.MustNewID()
		require.NoError(t, steps.Create(ctx, stepRow(runID, "build.one")))
		require.NoError(t, steps.Create(ctx, stepRow(runID, "build.two")))
		require.NoError(t, steps.Create(ctx, stepRow(runID, "build.three")))
		listed, err := steps.ListByRun(ctx, runID)
		require.NoError(t, err)
		require.Len(t, listed, 3)
		assert.Equal(t, "build.one", listed[0].Key)
		assert.Equal(t, "build.three", listed[2].Key)
	})
}

func stepRow(runID core.ID, key string) *step.Step {
	return &step.Step{
		ID:     core.MustNewID(),
		RunID:  runID,
		Key:    key,
		Name:   key,
		Type:   step.TypeCLI,
		Phase:  "build",
		Status: step.StatusPending,
	}
}
