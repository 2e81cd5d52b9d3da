package durable

import (
	"context"
	"encoding/json"

	"github.com/runloom/runloom/engine/core"
)

// BodyFunc is one step body. It must be safe to define once and have its
// result replayed without re-running: all side effects happen inside the
// function, and the returned payload is what later replays observe.
type BodyFunc func(ctx context.Context) (json.RawMessage, error)

// Substrate is the durable execution layer the engine consumes. It may
// invoke a workflow function any number of times (at-least-once); RunOnce
// guarantees the body itself executes at most once per (run, key) and that
// every later call returns the memoized payload.
type Substrate interface {
	RunOnce(ctx context.Context, runID core.ID, key string, body BodyFunc) (json.RawMessage, error)
	// Trigger delivers a named event with a payload to start or signal a
	// workflow function.
	Trigger(ctx context.Context, name string, payload map[string]any) error
}

// WorkflowFunc is the body registered for a trigger event.
type WorkflowFunc func(ctx context.Context, payload map[string]any) error

type attemptCtxKey struct{}

// Attempt describes where an invocation stands in the substrate's retry
// schedule. Final means the substrate will not re-invoke after a failure,
// so the caller must treat this attempt's error as definitive.
type Attempt struct {
	Number int
	Final  bool
}

// ContextWithAttempt marks a workflow invocation with its retry position.
func ContextWithAttempt(ctx context.Context, a Attempt) context.Context {
	return context.WithValue(ctx, attemptCtxKey{}, a)
}

// AttemptFromContext returns the invocation's retry position. Invocations a
// substrate did not mark count as a single, final attempt.
func AttemptFromContext(ctx context.Context) Attempt {
	if a, ok := ctx.Value(attemptCtxKey{}).(Attempt); ok {
		return a
	}
	return Attempt{Number: 1, Final: true}
}
