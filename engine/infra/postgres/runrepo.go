package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/run"
)

var runColumns = []string{
	"id", "definition_id", "project_id", "user_id", "status",
	"current_phase", "current_step", "args",
	"spec_file_path", "spec_content", "spec_type", "planning_session_id",
	"branch_name", "worktree_path", "error_message",
	"started_at", "paused_at", "cancelled_at", "completed_at",
	"created_at", "updated_at",
}

// RunRepo implements run.Repository on postgres.
type RunRepo struct {
	db DB
}

func NewRunRepo(db DB) *RunRepo {
	return &RunRepo{db: db}
}

func (r *RunRepo) Create(ctx context.Context, rn *run.Run) error {
	sql, args, err := squirrel.Insert("workflow_runs").
		Columns(runColumns...).
		Values(
			rn.ID, rn.DefinitionID, rn.ProjectID, rn.UserID, rn.Status,
			rn.CurrentPhase, rn.CurrentStep, rn.Args,
			rn.SpecFilePath, rn.SpecContent, rn.SpecType, rn.PlanningSessionID,
			rn.BranchName, rn.WorktreePath, rn.ErrorMessage,
			rn.StartedAt, rn.PausedAt, rn.CancelledAt, rn.CompletedAt,
			rn.CreatedAt, rn.UpdatedAt,
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building run insert: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

func (r *RunRepo) Get(ctx context.Context, id core.ID) (*run.Run, error) {
	sql, args, err := squirrel.Select(runColumns...).
		From("workflow_runs").
		Where("id = ?", id).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building run select: %w", err)
	}
	var rn run.Run
	if err := pgxscan.Get(ctx, r.db, &rn, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, run.ErrNotFound
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	return &rn, nil
}

func (r *RunRepo) GetStatus(ctx context.Context, id core.ID) (run.Status, error) {
	var status run.Status
	err := r.db.QueryRow(ctx, "SELECT status FROM workflow_runs WHERE id = $1", id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", run.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading run status: %w", err)
	}
	return status, nil
}

// Transition locks the row, re-checks the state machine and applies the
// change in one transaction, so concurrent controls cannot race past it.
func (r *RunRepo) Transition(ctx context.Context, id core.ID, to run.Status, errMsg string) (*run.Run, error) {
	var rn run.Run
	err := withTransaction(ctx, r.db, func(tx pgx.Tx) error {
		sql, args, err := squirrel.Select(runColumns...).
			From("workflow_runs").
			Where("id = ?", id).
			Suffix("FOR UPDATE").
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("building run lock select: %w", err)
		}
		if err := pgxscan.Get(ctx, tx, &rn, sql, args...); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return run.ErrNotFound
			}
			return fmt.Errorf("locking run: %w", err)
		}
		if !run.CanTransition(rn.Status, to) {
			return core.NewError(run.ErrIllegalTransition, "ILLEGAL_TRANSITION", map[string]any{
				"from": rn.Status, "to": to,
			})
		}
		rn.ApplyTransition(to, errMsg)
		sql, args, err = squirrel.Update("workflow_runs").
			Set("status", rn.Status).
			Set("error_message", rn.ErrorMessage).
			Set("started_at", rn.StartedAt).
			Set("paused_at", rn.PausedAt).
			Set("cancelled_at", rn.CancelledAt).
			Set("completed_at", rn.CompletedAt).
			Set("updated_at", rn.UpdatedAt).
			Where("id = ?", id).
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("building run transition update: %w", err)
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("transitioning run to %s: %w", to, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rn, nil
}

func (r *RunRepo) Update(ctx context.Context, rn *run.Run) error {
	sql, args, err := squirrel.Update("workflow_runs").
		Set("current_phase", rn.CurrentPhase).
		Set("current_step", rn.CurrentStep).
		Set("spec_file_path", rn.SpecFilePath).
		Set("spec_content", rn.SpecContent).
		Set("spec_type", rn.SpecType).
		Set("planning_session_id", rn.PlanningSessionID).
		Set("branch_name", rn.BranchName).
		Set("worktree_path", rn.WorktreePath).
		Set("updated_at", squirrel.Expr("now()")).
		Where("id = ?", rn.ID).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building run update: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return run.ErrNotFound
	}
	return nil
}
