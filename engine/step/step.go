package step

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/runloom/runloom/engine/core"
)

var (
	ErrNotFound = errors.New("workflow run step not found")
	// ErrDuplicateKey reports a violated (run_id, step_key) unique constraint.
	ErrDuplicateKey = errors.New("workflow run step key already exists")
	// ErrSkipped is returned by the execution facade when the owning run was
	// cancelled before the step could start. Workflow bodies treat it as
	// "stop executing remaining steps".
	ErrSkipped = errors.New("step skipped: run is cancelled")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// Step is one unit of work inside a run. (RunID, Key) is unique; that
// constraint is what makes substrate replays safe. Rows are created lazily
// on first execution of a key and updated on every transition, never
// deleted.
type Step struct {
	ID    core.ID `json:"id"              db:"id"`
	RunID core.ID `json:"workflow_run_id" db:"workflow_run_id"`
	// Key is the phase-prefixed idempotency key derived from the display
	// name, e.g. "planning.analyze-requirements".
	Key    string  `json:"step_key"  db:"step_key"`
	Name   string  `json:"name"      db:"name"`
	Type   Type    `json:"step_type" db:"step_type"`
	Phase  string  `json:"phase"     db:"phase"`
	Status Status  `json:"status"    db:"status"`

	Args   json.RawMessage `json:"args,omitempty"   db:"args"`
	Output json.RawMessage `json:"output,omitempty" db:"output"`

	// AgentSessionID links the step to a recorded coding-agent session for
	// multi-turn continuity.
	AgentSessionID string `json:"agent_session_id,omitempty" db:"agent_session_id"`
	ErrorMessage   string `json:"error_message,omitempty"    db:"error_message"`

	StartedAt   *time.Time `json:"started_at,omitempty"   db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"             db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"             db:"updated_at"`
}

func newStep(runID core.ID, key, name, phase string, cfg Config) (*Step, error) {
	args, err := core.RawJSON(cfg)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Step{
		ID:        core.MustNewID(),
		RunID:     runID,
		Key:       key,
		Name:      name,
		Type:      cfg.StepType(),
		Phase:     phase,
		Status:    StatusPending,
		Args:      args,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Step) markRunning() {
	now := time.Now().UTC()
	s.Status = StatusRunning
	s.StartedAt = &now
	s.UpdatedAt = now
}

func (s *Step) markCompleted(output json.RawMessage) {
	now := time.Now().UTC()
	s.Status = StatusCompleted
	s.Output = output
	s.CompletedAt = &now
	s.UpdatedAt = now
}

func (s *Step) markFailed(err error) {
	now := time.Now().UTC()
	s.Status = StatusFailed
	if err != nil {
		s.ErrorMessage = err.Error()
	}
	s.CompletedAt = &now
	s.UpdatedAt = now
}

func (s *Step) markSkipped() {
	s.Status = StatusSkipped
	s.UpdatedAt = time.Now().UTC()
}

// Repository persists run steps. Create returns ErrDuplicateKey when the
// (run, key) pair already exists so concurrent replays converge on one row.
type Repository interface {
	Create(ctx context.Context, s *Step) error
	GetByKey(ctx context.Context, runID core.ID, key string) (*Step, error)
	Update(ctx context.Context, s *Step) error
	ListByRun(ctx context.Context, runID core.ID) ([]*Step, error)
}
