package durable

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runloom/runloom/engine/core"
)

func Test_Local_RunOnce(t *testing.T) {
	ctx := context.Background()
	t.Run("Should execute the body exactly once per key", func(t *testing.T) {
		sub := NewLocal()
		runID := core.MustNewID()
		calls := 0
		body := func(context.Context) (json.RawMessage, error) {
			calls++
			return json.RawMessage(`{"n":1}`), nil
		}
		first, err := sub.RunOnce(ctx, runID, "plan.analyze", body)
		require.NoError(t, err)
		second, err := sub.RunOnce(ctx, runID, "plan.analyze", body)
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.JSONEq(t, string(first), string(second))
	})
	t.Run("Should not memoize failures", func(t *testing.T) {
		sub := NewLocal()
		runID := core.MustNewID()
		calls := 0
		body := func(context.Context) (json.RawMessage, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("boom")
			}
			return json.RawMessage(`{}`), nil
		}
		_, err := sub.RunOnce(ctx, runID, "k", body)
		require.Error(t, err)
		_, err = sub.RunOnce(ctx, runID, "k", body)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})
	t.Run("Should scope memoization to the run", func(t *testing.T) {
		sub := NewLocal()
		calls := 0
		body := func(context.Context) (json.RawMessage, error) {
			calls++
			return json.RawMessage(`{}`), nil
		}
		_, err := sub.RunOnce(ctx, core.MustNewID(), "k", body)
		require.NoError(t, err)
		_, err = sub.RunOnce(ctx, core.MustNewID(), "k", body)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})
	t.Run("Should adopt seeded results without executing", func(t *testing.T) {
		sub := NewLocal()
		runID := core.MustNewID()
		sub.Seed(runID, "k", json.RawMessage(`{"recovered":true}`))
		out, err := sub.RunOnce(ctx, runID, "k", func(context.Context) (json.RawMessage, error) {
			t.Fatal("body must not run for a seeded key")
			return nil, nil
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"recovered":true}`, string(out))
	})
}

func Test_Local_Trigger(t *testing.T) {
	ctx := context.Background()
	t.Run("Should re-invoke a failing function with memoized steps intact", func(t *testing.T) {
		sub := NewLocal(
			WithSynchronousTrigger(),
			WithMaxAttempts(3),
			WithBaseBackoff(time.Millisecond),
		)
		runID := core.MustNewID()
		bodyRuns := 0
		invocations := 0
		sub.RegisterFunction("workflow.run", func(ctx context.Context, _ map[string]any) error {
			invocations++
			_, err := sub.RunOnce(ctx, runID, "k", func(context.Context) (json.RawMessage, error) {
				bodyRuns++
				return json.RawMessage(`{}`), nil
			})
			if err != nil {
				return err
			}
			if invocations < 2 {
				return errors.New("transient crash after the step")
			}
			return nil
		})
		require.NoError(t, sub.Trigger(ctx, "workflow.run", nil))
		assert.Equal(t, 2, invocations)
		assert.Equal(t, 1, bodyRuns)
	})
	t.Run("Should mark each invocation with its retry position", func(t *testing.T) {
		sub := NewLocal(
			WithSynchronousTrigger(),
			WithMaxAttempts(2),
			WithBaseBackoff(time.Millisecond),
		)
		var attempts []Attempt
		sub.RegisterFunction("workflow.run", func(ctx context.Context, _ map[string]any) error {
			attempts = append(attempts, AttemptFromContext(ctx))
			return errors.New("always failing")
		})
		require.Error(t, sub.Trigger(ctx, "workflow.run", nil))
		require.Len(t, attempts, 2)
		assert.Equal(t, Attempt{Number: 1, Final: false}, attempts[0])
		assert.Equal(t, Attempt{Number: 2, Final: true}, attempts[1])
	})
	t.Run("Should treat an unmarked context as a single final attempt", func(t *testing.T) {
		assert.Equal(t, Attempt{Number: 1, Final: true}, AttemptFromContext(ctx))
	})
	t.Run("Should reject unknown triggers", func(t *testing.T) {
		sub := NewLocal(WithSynchronousTrigger())
		assert.Error(t, sub.Trigger(ctx, "missing", nil))
	})
}
