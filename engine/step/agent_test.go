package step_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runloom/runloom/engine/step"
)

type stubAgent struct {
	invocations []step.AgentInvocation
	outcome     *step.AgentOutcome
}

func (s *stubAgent) Run(_ context.Context, inv step.AgentInvocation) (*step.AgentOutcome, error) {
	s.invocations = append(s.invocations, inv)
	return s.outcome, nil
}

func Test_AgentStep(t *testing.T) {
	ctx := context.Background()
	t.Run("Should record the agent session on the step row", func(t *testing.T) {
		h := newHarness(t)
		agent := &stubAgent{outcome: &step.AgentOutcome{
			Output:    "implemented the feature",
			SessionID: "sess-42",
		}}
		h.executor.Agents = agent
		res, err := h.executor.Agent(ctx, h.rc, "Implement Feature", step.AgentConfig{
			Agent:  "claude",
			Prompt: "implement the feature",
			Mode:   step.PermissionAcceptEdits,
		})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "sess-42", res.SessionID)

		row, err := h.steps.GetByKey(ctx, h.rc.RunID(), "build.implement-feature")
		require.NoError(t, err)
		assert.Equal(t, "sess-42", row.AgentSessionID)
		require.Len(t, agent.invocations, 1)
		assert.Equal(t, step.PermissionAcceptEdits, agent.invocations[0].Mode)
		assert.Equal(t, h.rc.ProjectRoot, agent.invocations[0].WorkDir)
	})
	t.Run("Should pass the resume session through", func(t *testing.T) {
		h := newHarness(t)
		agent := &stubAgent{outcome: &step.AgentOutcome{SessionID: "sess-43"}}
		h.executor.Agents = agent
		_, err := h.executor.Agent(ctx, h.rc, "Continue Work", step.AgentConfig{
			Agent:           "claude",
			Prompt:          "keep going",
			ResumeSessionID: "sess-42",
		})
		require.NoError(t, err)
		require.Len(t, agent.invocations, 1)
		assert.Equal(t, "sess-42", agent.invocations[0].ResumeSessionID)
	})
	t.Run("Should surface a non-zero agent exit as data", func(t *testing.T) {
		h := newHarness(t)
		h.executor.Agents = &stubAgent{outcome: &step.AgentOutcome{
			Output:   "permission denied",
			ExitCode: 2,
		}}
		res, err := h.executor.Agent(ctx, h.rc, "Blocked Work", step.AgentConfig{
			Agent:  "claude",
			Prompt: "do the thing",
		})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, 2, res.ExitCode)
	})
	t.Run("Should fail without a configured runner", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.executor.Agent(ctx, h.rc, "No Runner", step.AgentConfig{
			Agent:  "claude",
			Prompt: "anything",
		})
		require.Error(t, err)
	})
}
