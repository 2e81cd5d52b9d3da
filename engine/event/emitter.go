package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/runloom/runloom/engine/artifact"
	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/pkg/logger"
)

// Publisher is the live notification channel the emitter fans out to.
// Delivery is at-most-once and non-durable: observers that miss a message
// re-fetch state from the store.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Envelope is the wire format published per persisted event or artifact.
type Envelope struct {
	Kind     string             `json:"kind"` // "event" or "artifact"
	RunID    core.ID            `json:"workflow_run_id"`
	Event    *Event             `json:"event,omitempty"`
	Artifact *artifact.Artifact `json:"artifact,omitempty"`
}

// Emitter persists events and artifacts and publishes one message per row on
// the owning project's channel. Persistence failures are returned; publish
// failures are only logged, because the store remains the source of truth.
type Emitter struct {
	events    Repository
	artifacts artifact.Repository
	publisher Publisher
	projectID core.ID
}

func NewEmitter(events Repository, artifacts artifact.Repository, pub Publisher, projectID core.ID) *Emitter {
	return &Emitter{events: events, artifacts: artifacts, publisher: pub, projectID: projectID}
}

// Channel returns the project-scoped pub/sub topic.
func (e *Emitter) Channel() string {
	return fmt.Sprintf("project:%s:workflow", e.projectID)
}

func (e *Emitter) Emit(ctx context.Context, ev *Event) error {
	if err := e.events.Create(ctx, ev); err != nil {
		return fmt.Errorf("persisting %s event: %w", ev.Type, err)
	}
	e.publish(ctx, &Envelope{Kind: "event", RunID: ev.RunID, Event: ev})
	return nil
}

// EmitArtifact persists the artifact row, publishes it, and appends the
// matching artifact_created event.
func (e *Emitter) EmitArtifact(ctx context.Context, a *artifact.Artifact) error {
	ev := New(a.RunID, TypeArtifactCreated, Data{
		Title: fmt.Sprintf("Artifact created: %s", a.Name),
		Body:  a.FilePath,
		Extra: map[string]any{
			"artifact_id": a.ID,
			"file_type":   a.FileType,
			"mime_type":   a.MimeType,
			"size_bytes":  a.Size,
		},
	})
	ev.Phase = a.Phase
	ev.StepID = a.StepID
	a.EventID = ev.ID
	if err := e.artifacts.Create(ctx, a); err != nil {
		return fmt.Errorf("persisting artifact %s: %w", a.Name, err)
	}
	e.publish(ctx, &Envelope{Kind: "artifact", RunID: a.RunID, Artifact: a})
	return e.Emit(ctx, ev)
}

// Seen reports whether an event of the given type (optionally scoped to a
// phase) was already appended for the run. Used to keep replayed workflow
// bodies from duplicating boundary events.
func (e *Emitter) Seen(ctx context.Context, runID core.ID, typ Type, phase string) (bool, error) {
	evs, err := e.events.ListByRun(ctx, runID)
	if err != nil {
		return false, err
	}
	for _, ev := range evs {
		if ev.Type == typ && (phase == "" || ev.Phase == phase) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Emitter) publish(ctx context.Context, env *Envelope) {
	if e.publisher == nil {
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		logger.FromContext(ctx).Warn("Dropping unmarshalable envelope", "kind", env.Kind, "error", err)
		return
	}
	if err := e.publisher.Publish(ctx, e.Channel(), payload); err != nil {
		logger.FromContext(ctx).Warn("Publish failed, observers must re-fetch",
			"channel", e.Channel(), "kind", env.Kind, "error", err)
	}
}
