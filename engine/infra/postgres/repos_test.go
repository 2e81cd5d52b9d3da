package postgres_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/event"
	"github.com/runloom/runloom/engine/infra/postgres"
	"github.com/runloom/runloom/engine/run"
	"github.com/runloom/runloom/engine/step"
)

var runCols = []string{
	"id", "definition_id", "project_id", "user_id", "status",
	"current_phase", "current_step", "args",
	"spec_file_path", "spec_content", "spec_type", "planning_session_id",
	"branch_name", "worktree_path", "error_message",
	"started_at", "paused_at", "cancelled_at", "completed_at",
	"created_at", "updated_at",
}

func runRow(pool pgxmock.PgxPoolIface, r *run.Run) *pgxmock.Rows {
	return pool.NewRows(runCols).AddRow(
		r.ID, r.DefinitionID, r.ProjectID, r.UserID, r.Status,
		r.CurrentPhase, r.CurrentStep, r.Args,
		r.SpecFilePath, r.SpecContent, r.SpecType, r.PlanningSessionID,
		r.BranchName, r.WorktreePath, r.ErrorMessage,
		r.StartedAt, r.PausedAt, r.CancelledAt, r.CompletedAt,
		r.CreatedAt, r.UpdatedAt,
	)
}

func Test_RunRepo_Transition(t *testing.T) {
	ctx := context.Background()
	t.Run("Should lock the row and apply a legal transition", func(t *testing.T) {
		pool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer pool.Close()
		repo := postgres.NewRunRepo(pool)
		r := run.New("feature-build", core.MustNewID(), core.MustNewID(), core.Input{"goal": "x"})

		pool.ExpectBegin()
		pool.ExpectQuery("SELECT (.+) FROM workflow_runs WHERE id = \\$1 FOR UPDATE").
			WithArgs(r.ID).
			WillReturnRows(runRow(pool, r))
		pool.ExpectExec("UPDATE workflow_runs SET").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), r.ID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		pool.ExpectCommit()

		updated, err := repo.Transition(ctx, r.ID, run.StatusRunning, "")
		require.NoError(t, err)
		assert.Equal(t, run.StatusRunning, updated.Status)
		assert.NotNil(t, updated.StartedAt)
		assert.NoError(t, pool.ExpectationsWereMet())
	})
	t.Run("Should roll back an illegal transition", func(t *testing.T) {
		pool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer pool.Close()
		repo := postgres.NewRunRepo(pool)
		r := run.New("feature-build", core.MustNewID(), core.MustNewID(), nil)
		r.ApplyTransition(run.StatusRunning, "")
		r.ApplyTransition(run.StatusCompleted, "")

		pool.ExpectBegin()
		pool.ExpectQuery("SELECT (.+) FROM workflow_runs WHERE id = \\$1 FOR UPDATE").
			WithArgs(r.ID).
			WillReturnRows(runRow(pool, r))
		pool.ExpectRollback()

		_, err = repo.Transition(ctx, r.ID, run.StatusRunning, "")
		require.ErrorIs(t, err, run.ErrIllegalTransition)
		assert.NoError(t, pool.ExpectationsWereMet())
	})
	t.Run("Should report a missing run", func(t *testing.T) {
		pool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer pool.Close()
		repo := postgres.NewRunRepo(pool)
		id := core.MustNewID()

		pool.ExpectBegin()
		pool.ExpectQuery("SELECT (.+) FROM workflow_runs WHERE id = \\$1 FOR UPDATE").
			WithArgs(id).
			WillReturnRows(pool.NewRows(runCols))
		pool.ExpectRollback()

		_, err = repo.Transition(ctx, id, run.StatusRunning, "")
		require.ErrorIs(t, err, run.ErrNotFound)
	})
}

func Test_RunRepo_GetStatus(t *testing.T) {
	t.Run("Should read the status column only", func(t *testing.T) {
		pool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer pool.Close()
		repo := postgres.NewRunRepo(pool)
		id := core.MustNewID()
		pool.ExpectQuery("SELECT status FROM workflow_runs WHERE id = \\$1").
			WithArgs(id).
			WillReturnRows(pool.NewRows([]string{"status"}).AddRow(run.StatusPaused))
		status, err := repo.GetStatus(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, run.StatusPaused, status)
	})
}

func Test_StepRepo_Create(t *testing.T) {
	ctx := context.Background()
	t.Run("Should map a violated step key constraint onto ErrDuplicateKey", func(t *testing.T) {
		pool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer pool.Close()
		repo := postgres.NewStepRepo(pool)
		now := time.Now().UTC()
		s := &step.Step{
			ID:        core.MustNewID(),
			RunID:     core.MustNewID(),
			Key:       "build.compile",
			Name:      "Compile",
			Type:      step.TypeCLI,
			Phase:     "build",
			Status:    step.StatusPending,
			Args:      json.RawMessage(`{}`),
			CreatedAt: now,
			UpdatedAt: now,
		}
		pool.ExpectExec("INSERT INTO workflow_run_steps").
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(&pgconn.PgError{
				Code:           "23505",
				ConstraintName: "workflow_run_steps_run_key_uniq",
			})
		err = repo.Create(ctx, s)
		require.ErrorIs(t, err, step.ErrDuplicateKey)
		assert.NoError(t, pool.ExpectationsWereMet())
	})
}

func Test_StepRepo_GetByKey(t *testing.T) {
	t.Run("Should report a missing key as ErrNotFound", func(t *testing.T) {
		pool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer pool.Close()
		repo := postgres.NewStepRepo(pool)
		runID := core.MustNewID()
		pool.ExpectQuery("SELECT (.+) FROM workflow_run_steps").
			WithArgs(runID, "build.compile").
			WillReturnRows(pool.NewRows([]string{"id"}))
		_, err = repo.GetByKey(context.Background(), runID, "build.compile")
		require.ErrorIs(t, err, step.ErrNotFound)
	})
}

func Test_EventRepo_Create(t *testing.T) {
	t.Run("Should insert the event row append-only", func(t *testing.T) {
		pool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer pool.Close()
		repo := postgres.NewEventRepo(pool)
		ev := event.New(core.MustNewID(), event.TypeStepStarted, event.Data{Title: "Step started: Compile"})
		ev.Phase = "build"
		pool.ExpectExec("INSERT INTO workflow_events").
			WithArgs(ev.ID, ev.RunID, ev.Type, ev.Data, ev.Phase, ev.StepID, ev.UserID, ev.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		require.NoError(t, repo.Create(context.Background(), ev))
		assert.NoError(t, pool.ExpectationsWereMet())
	})
}
