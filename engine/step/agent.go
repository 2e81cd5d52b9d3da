package step

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/run"
	"github.com/runloom/runloom/pkg/logger"
)

const defaultAgentTimeout = 30 * time.Minute

// AgentInvocation is one coding-agent session request.
type AgentInvocation struct {
	Agent           string
	Prompt          string
	WorkDir         string
	Mode            PermissionMode
	ResumeSessionID string
	JSONOutput      bool
	Timeout         time.Duration
}

// AgentOutcome is what a finished session produced. SessionID, when present,
// lets a later step resume the same conversation.
type AgentOutcome struct {
	Output     string
	Structured map[string]any
	SessionID  string
	ExitCode   int
}

// AgentRunner drives an interactive coding agent non-interactively.
type AgentRunner interface {
	Run(ctx context.Context, inv AgentInvocation) (*AgentOutcome, error)
}

// ExecAgentRunner shells out to locally installed agent CLIs. Binaries maps
// the agent name used in workflows to the executable to invoke.
type ExecAgentRunner struct {
	Binaries map[string]string
}

func (r *ExecAgentRunner) Run(ctx context.Context, inv AgentInvocation) (*AgentOutcome, error) {
	bin, ok := r.Binaries[inv.Agent]
	if !ok {
		return nil, fmt.Errorf("no binary configured for agent %q", inv.Agent)
	}
	args := []string{"-p", inv.Prompt}
	if inv.Mode != "" {
		args = append(args, "--permission-mode", string(inv.Mode))
	}
	if inv.ResumeSessionID != "" {
		args = append(args, "--resume", inv.ResumeSessionID)
	}
	if inv.JSONOutput {
		args = append(args, "--output-format", "json")
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = inv.WorkDir
	var stdout, stderr limitedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	outcome := &AgentOutcome{Output: stdout.String()}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("running agent %q: %w", inv.Agent, runErr)
		}
		outcome.ExitCode = exitErr.ExitCode()
		if outcome.Output == "" {
			outcome.Output = stderr.String()
		}
		return outcome, nil
	}
	if inv.JSONOutput {
		r.decodeJSONOutput(ctx, outcome)
	}
	return outcome, nil
}

// decodeJSONOutput pulls the structured payload and session id out of the
// agent's JSON report. Unparseable output is kept verbatim rather than
// dropped.
func (r *ExecAgentRunner) decodeJSONOutput(ctx context.Context, outcome *AgentOutcome) {
	var report map[string]any
	if err := json.Unmarshal([]byte(outcome.Output), &report); err != nil {
		logger.FromContext(ctx).Warn("Agent JSON output is not parseable, keeping raw text", "error", err)
		return
	}
	outcome.Structured = report
	if sid, ok := report["session_id"].(string); ok {
		outcome.SessionID = sid
	}
	if result, ok := report["result"].(string); ok {
		outcome.Output = result
	}
}

func (e *Executor) runAgent(ctx context.Context, rc *run.Context, s *Step, c AgentConfig) (json.RawMessage, error) {
	if e.Agents == nil {
		return nil, fmt.Errorf("agent step requires a configured agent runner")
	}
	if c.Prompt == "" {
		return nil, fmt.Errorf("agent step requires a prompt")
	}
	timeout := defaultAgentTimeout
	if c.Timeout != "" {
		parsed, err := core.ParseHumanDuration(c.Timeout)
		if err != nil {
			return nil, fmt.Errorf("parsing agent timeout: %w", err)
		}
		timeout = parsed
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workDir := c.WorkDir
	if workDir == "" {
		workDir = rc.ProjectRoot
	}
	outcome, err := e.Agents.Run(cctx, AgentInvocation{
		Agent:           c.Agent,
		Prompt:          c.Prompt,
		WorkDir:         workDir,
		Mode:            c.Mode,
		ResumeSessionID: c.ResumeSessionID,
		JSONOutput:      c.JSONOutput,
		Timeout:         timeout,
	})
	if err != nil {
		return nil, err
	}
	// Persisted with the row when Execute records completion.
	s.AgentSessionID = outcome.SessionID
	res := &AgentResult{
		Success:    outcome.ExitCode == 0,
		Output:     outcome.Output,
		Structured: outcome.Structured,
		SessionID:  outcome.SessionID,
		ExitCode:   outcome.ExitCode,
	}
	return core.RawJSON(res)
}
