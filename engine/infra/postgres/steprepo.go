package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/step"
)

// stepKeyConstraint backs the at-most-once guarantee: concurrent replays of
// the same (run, key) collapse onto one row.
const stepKeyConstraint = "workflow_run_steps_run_key_uniq"

var stepColumns = []string{
	"id", "workflow_run_id", "step_key", "name", "step_type", "phase", "status",
	"args", "output", "agent_session_id", "error_message",
	"started_at", "completed_at", "created_at", "updated_at",
}

// StepRepo implements step.Repository on postgres.
type StepRepo struct {
	db DB
}

func NewStepRepo(db DB) *StepRepo {
	return &StepRepo{db: db}
}

func (r *StepRepo) Create(ctx context.Context, s *step.Step) error {
	sql, args, err := squirrel.Insert("workflow_run_steps").
		Columns(stepColumns...).
		Values(
			s.ID, s.RunID, s.Key, s.Name, s.Type, s.Phase, s.Status,
			s.Args, s.Output, s.AgentSessionID, s.ErrorMessage,
			s.StartedAt, s.CompletedAt, s.CreatedAt, s.UpdatedAt,
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building step insert: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err, stepKeyConstraint) {
			return step.ErrDuplicateKey
		}
		return fmt.Errorf("inserting step %s: %w", s.Key, err)
	}
	return nil
}

func (r *StepRepo) GetByKey(ctx context.Context, runID core.ID, key string) (*step.Step, error) {
	sql, args, err := squirrel.Select(stepColumns...).
		From("workflow_run_steps").
		Where("workflow_run_id = ?", runID).
		Where("step_key = ?", key).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building step select: %w", err)
	}
	var s step.Step
	if err := pgxscan.Get(ctx, r.db, &s, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, step.ErrNotFound
		}
		return nil, fmt.Errorf("scanning step: %w", err)
	}
	return &s, nil
}

func (r *StepRepo) Update(ctx context.Context, s *step.Step) error {
	sql, args, err := squirrel.Update("workflow_run_steps").
		Set("status", s.Status).
		Set("output", s.Output).
		Set("agent_session_id", s.AgentSessionID).
		Set("error_message", s.ErrorMessage).
		Set("started_at", s.StartedAt).
		Set("completed_at", s.CompletedAt).
		Set("updated_at", s.UpdatedAt).
		Where("id = ?", s.ID).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building step update: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("updating step %s: %w", s.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return step.ErrNotFound
	}
	return nil
}

func (r *StepRepo) ListByRun(ctx context.Context, runID core.ID) ([]*step.Step, error) {
	sql, args, err := squirrel.Select(stepColumns...).
		From("workflow_run_steps").
		Where("workflow_run_id = ?", runID).
		OrderBy("created_at", "id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building step list: %w", err)
	}
	var steps []*step.Step
	if err := pgxscan.Select(ctx, r.db, &steps, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning steps: %w", err)
	}
	return steps, nil
}
