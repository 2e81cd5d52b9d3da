package run

import (
	"context"

	"github.com/runloom/runloom/engine/core"
)

// Repository persists workflow runs. Transition must be atomic: it re-reads
// the current status, rejects illegal transitions with ErrIllegalTransition,
// applies the change and persists it in one critical section.
type Repository interface {
	Create(ctx context.Context, r *Run) error
	Get(ctx context.Context, id core.ID) (*Run, error)
	GetStatus(ctx context.Context, id core.ID) (Status, error)
	Transition(ctx context.Context, id core.ID, to Status, errMsg string) (*Run, error)
	// Update persists the denormalized bookkeeping fields (current phase and
	// step, spec references, branch/worktree). It never changes status.
	Update(ctx context.Context, r *Run) error
}
