package run

import (
	"errors"
	"time"

	"github.com/runloom/runloom/engine/core"
)

var (
	ErrNotFound = errors.New("workflow run not found")
	// ErrIllegalTransition reports a status change the state machine forbids.
	ErrIllegalTransition = errors.New("illegal workflow run transition")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// transitions is the closed adjacency of the run state machine:
// pending → running|failed, running ⇄ paused, running → terminal,
// paused → cancelled. Terminal states absorb.
var transitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusFailed},
	StatusRunning:   {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:    {StatusRunning, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Run is one execution instance of a workflow definition. Only the engine
// mutates it; step handlers mutate steps, events and artifacts instead.
type Run struct {
	ID           core.ID `json:"id"             db:"id"`
	DefinitionID string  `json:"definition_id"  db:"definition_id"`
	ProjectID    core.ID `json:"project_id"     db:"project_id"`
	UserID       core.ID `json:"user_id"        db:"user_id"`
	Status       Status  `json:"status"         db:"status"`

	// CurrentPhase and CurrentStep are denormalized for quick display.
	CurrentPhase string `json:"current_phase,omitempty" db:"current_phase"`
	CurrentStep  string `json:"current_step,omitempty"  db:"current_step"`

	Args core.Input `json:"args,omitempty" db:"args"`

	SpecFilePath      string `json:"spec_file_path,omitempty"      db:"spec_file_path"`
	SpecContent       string `json:"spec_content,omitempty"        db:"spec_content"`
	SpecType          string `json:"spec_type,omitempty"           db:"spec_type"`
	PlanningSessionID string `json:"planning_session_id,omitempty" db:"planning_session_id"`

	BranchName   string `json:"branch_name,omitempty"   db:"branch_name"`
	WorktreePath string `json:"worktree_path,omitempty" db:"worktree_path"`

	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	StartedAt   *time.Time `json:"started_at,omitempty"   db:"started_at"`
	PausedAt    *time.Time `json:"paused_at,omitempty"    db:"paused_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"             db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"             db:"updated_at"`
}

func New(definitionID string, projectID, userID core.ID, args core.Input) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:           core.MustNewID(),
		DefinitionID: definitionID,
		ProjectID:    projectID,
		UserID:       userID,
		Status:       StatusPending,
		Args:         args,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ApplyTransition mutates the run for a validated status change, stamping
// started_at on first entry to running and completed_at exactly once on
// entering any terminal state. Callers must have checked CanTransition.
func (r *Run) ApplyTransition(to Status, errMsg string) {
	now := time.Now().UTC()
	r.Status = to
	r.UpdatedAt = now
	switch to {
	case StatusRunning:
		if r.StartedAt == nil {
			r.StartedAt = &now
		}
		r.PausedAt = nil
	case StatusPaused:
		r.PausedAt = &now
	case StatusCancelled:
		r.CancelledAt = &now
	}
	if to.IsTerminal() && r.CompletedAt == nil {
		r.CompletedAt = &now
	}
	if errMsg != "" {
		r.ErrorMessage = errMsg
	}
}
