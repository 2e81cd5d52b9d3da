package event

import (
	"context"
	"errors"
	"time"

	"github.com/runloom/runloom/engine/core"
)

var ErrNotFound = errors.New("workflow event not found")

// Type tags the append-only notes attached to a run.
type Type string

const (
	TypeWorkflowStarted   Type = "workflow_started"
	TypeWorkflowCompleted Type = "workflow_completed"
	TypeWorkflowFailed    Type = "workflow_failed"
	TypeWorkflowPaused    Type = "workflow_paused"
	TypeWorkflowResumed   Type = "workflow_resumed"
	TypeWorkflowCancelled Type = "workflow_cancelled"
	TypePhaseStarted      Type = "phase_started"
	TypePhaseCompleted    Type = "phase_completed"
	TypeStepStarted       Type = "step_started"
	TypeStepLog           Type = "step_log"
	TypeAnnotationAdded   Type = "annotation_added"
	TypeArtifactCreated   Type = "artifact_created"
)

// Data is the event payload. Title and Body are always present so the event
// history alone can reconstruct why a run ended where it did; Extra carries
// type-specific fields.
type Data struct {
	Title string         `json:"title"`
	Body  string         `json:"body,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// Event is one append-only note attached to a run. Events are never updated
// or deleted and are ordered by (created_at, id).
type Event struct {
	ID     core.ID `json:"id"                 db:"id"`
	RunID  core.ID `json:"workflow_run_id"    db:"workflow_run_id"`
	Type   Type    `json:"event_type"         db:"event_type"`
	Data   Data    `json:"event_data"         db:"event_data"`
	Phase  string  `json:"phase,omitempty"    db:"phase"`
	StepID core.ID `json:"step_id,omitempty"  db:"step_id"`
	// UserID is zero for system-generated events.
	UserID core.ID `json:"user_id,omitempty" db:"user_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func New(runID core.ID, typ Type, data Data) *Event {
	return &Event{
		ID:        core.MustNewID(),
		RunID:     runID,
		Type:      typ,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// Repository persists event rows append-only.
type Repository interface {
	Create(ctx context.Context, ev *Event) error
	ListByRun(ctx context.Context, runID core.ID) ([]*Event, error)
}
