package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/pkg/logger"
)

type memoKey struct {
	runID core.ID
	key   string
}

// Local is an in-process substrate for tests and single-node deployments.
// It memoizes successful step results per (run, key) and re-invokes a
// failing workflow function with exponential backoff, which reproduces the
// external substrate's at-least-once/replay contract. Crash recovery across
// process restarts is the step store's job: the execution facade
// short-circuits keys whose rows are already completed.
type Local struct {
	mu        sync.Mutex
	memo      map[memoKey]json.RawMessage
	functions map[string]WorkflowFunc

	maxAttempts uint64
	baseBackoff time.Duration
	synchronous bool
}

type LocalOption func(*Local)

// WithMaxAttempts bounds how often a failing workflow function is re-invoked.
func WithMaxAttempts(n uint64) LocalOption {
	return func(l *Local) { l.maxAttempts = n }
}

func WithBaseBackoff(d time.Duration) LocalOption {
	return func(l *Local) { l.baseBackoff = d }
}

// WithSynchronousTrigger makes Trigger run the workflow function inline
// instead of on a goroutine. Tests rely on this.
func WithSynchronousTrigger() LocalOption {
	return func(l *Local) { l.synchronous = true }
}

func NewLocal(opts ...LocalOption) *Local {
	l := &Local{
		memo:        make(map[memoKey]json.RawMessage),
		functions:   make(map[string]WorkflowFunc),
		maxAttempts: 3,
		baseBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RegisterFunction binds a workflow function to a trigger event name.
func (l *Local) RegisterFunction(name string, fn WorkflowFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.functions[name] = fn
}

func (l *Local) RunOnce(ctx context.Context, runID core.ID, key string, body BodyFunc) (json.RawMessage, error) {
	l.mu.Lock()
	if cached, ok := l.memo[memoKey{runID: runID, key: key}]; ok {
		l.mu.Unlock()
		return cached, nil
	}
	l.mu.Unlock()
	result, err := body(ctx)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.memo[memoKey{runID: runID, key: key}] = result
	l.mu.Unlock()
	return result, nil
}

// Seed pre-populates the memo for a key, letting a restarted process adopt
// results recovered from the step store.
func (l *Local) Seed(runID core.ID, key string, result json.RawMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.memo[memoKey{runID: runID, key: key}] = result
}

func (l *Local) Trigger(ctx context.Context, name string, payload map[string]any) error {
	l.mu.Lock()
	fn, ok := l.functions[name]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("no workflow function registered for trigger %q", name)
	}
	if l.synchronous {
		return l.invoke(ctx, name, fn, payload)
	}
	go func() {
		if err := l.invoke(context.WithoutCancel(ctx), name, fn, payload); err != nil {
			logger.FromContext(ctx).Error("Workflow function gave up", "trigger", name, "error", err)
		}
	}()
	return nil
}

// invoke re-runs the whole workflow function on failure; completed step
// bodies are not re-executed because RunOnce replays their memoized results.
func (l *Local) invoke(ctx context.Context, name string, fn WorkflowFunc, payload map[string]any) error {
	backoff := retry.WithMaxRetries(l.maxAttempts-1, retry.NewExponential(l.baseBackoff))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		ctx = ContextWithAttempt(ctx, Attempt{
			Number: attempt,
			Final:  uint64(attempt) >= l.maxAttempts,
		})
		err := fn(ctx, payload)
		if err == nil {
			return nil
		}
		logger.FromContext(ctx).Warn("Workflow function failed, re-invoking",
			"trigger", name, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
}
