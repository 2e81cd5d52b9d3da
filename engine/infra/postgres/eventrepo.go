package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/runloom/runloom/engine/artifact"
	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/event"
)

var eventColumns = []string{
	"id", "workflow_run_id", "event_type", "event_data",
	"phase", "step_id", "user_id", "created_at",
}

// EventRepo implements event.Repository. Events are append-only; there is
// deliberately no update or delete.
type EventRepo struct {
	db DB
}

func NewEventRepo(db DB) *EventRepo {
	return &EventRepo{db: db}
}

func (r *EventRepo) Create(ctx context.Context, ev *event.Event) error {
	sql, args, err := squirrel.Insert("workflow_events").
		Columns(eventColumns...).
		Values(
			ev.ID, ev.RunID, ev.Type, ev.Data,
			ev.Phase, ev.StepID, ev.UserID, ev.CreatedAt,
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building event insert: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting %s event: %w", ev.Type, err)
	}
	return nil
}

func (r *EventRepo) ListByRun(ctx context.Context, runID core.ID) ([]*event.Event, error) {
	sql, args, err := squirrel.Select(eventColumns...).
		From("workflow_events").
		Where("workflow_run_id = ?", runID).
		OrderBy("created_at", "id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building event list: %w", err)
	}
	var events []*event.Event
	if err := pgxscan.Select(ctx, r.db, &events, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning events: %w", err)
	}
	return events, nil
}

var artifactColumns = []string{
	"id", "workflow_run_id", "step_id", "event_id", "name",
	"file_path", "file_type", "mime_type", "size_bytes", "phase", "created_at",
}

// ArtifactRepo implements artifact.Repository.
type ArtifactRepo struct {
	db DB
}

func NewArtifactRepo(db DB) *ArtifactRepo {
	return &ArtifactRepo{db: db}
}

func (r *ArtifactRepo) Create(ctx context.Context, a *artifact.Artifact) error {
	sql, args, err := squirrel.Insert("workflow_artifacts").
		Columns(artifactColumns...).
		Values(
			a.ID, a.RunID, a.StepID, a.EventID, a.Name,
			a.FilePath, a.FileType, a.MimeType, a.Size, a.Phase, a.CreatedAt,
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building artifact insert: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting artifact %s: %w", a.Name, err)
	}
	return nil
}

func (r *ArtifactRepo) ListByRun(ctx context.Context, runID core.ID) ([]*artifact.Artifact, error) {
	sql, args, err := squirrel.Select(artifactColumns...).
		From("workflow_artifacts").
		Where("workflow_run_id = ?", runID).
		OrderBy("created_at", "id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building artifact list: %w", err)
	}
	var artifacts []*artifact.Artifact
	if err := pgxscan.Select(ctx, r.db, &artifacts, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning artifacts: %w", err)
	}
	return artifacts, nil
}
