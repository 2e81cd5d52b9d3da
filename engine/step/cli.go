package step

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/shlex"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/run"
)

const (
	defaultCLITimeout = 5 * time.Minute
	// maxCaptureBytes caps each captured stream so a chatty command cannot
	// bloat the step row.
	maxCaptureBytes = 1 << 20
)

// limitedBuffer keeps the first maxCaptureBytes of a stream and silently
// drops the rest.
type limitedBuffer struct {
	buf       []byte
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if remaining := maxCaptureBytes - len(b.buf); remaining > 0 {
		if len(p) > remaining {
			b.buf = append(b.buf, p[:remaining]...)
			b.truncated = true
		} else {
			b.buf = append(b.buf, p...)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return string(b.buf) + "\n[output truncated]"
	}
	return string(b.buf)
}

// runCLI executes an arbitrary command. Non-zero exit is data, not an error:
// the step completes with Success=false so workflows can branch on it.
func (e *Executor) runCLI(ctx context.Context, rc *run.Context, c CLIConfig) (json.RawMessage, error) {
	if c.Command == "" {
		return nil, fmt.Errorf("cli step requires a command")
	}
	timeout := defaultCLITimeout
	if c.Timeout != "" {
		parsed, err := core.ParseHumanDuration(c.Timeout)
		if err != nil {
			return nil, fmt.Errorf("parsing cli timeout: %w", err)
		}
		timeout = parsed
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if c.Shell != "" {
		cmd = exec.CommandContext(cctx, c.Shell, "-c", c.Command)
	} else {
		argv, err := shlex.Split(c.Command)
		if err != nil {
			return nil, fmt.Errorf("tokenizing command: %w", err)
		}
		if len(argv) == 0 {
			return nil, fmt.Errorf("cli step requires a command")
		}
		cmd = exec.CommandContext(cctx, argv[0], argv[1:]...)
	}
	cmd.Dir = c.WorkDir
	if cmd.Dir == "" {
		cmd.Dir = rc.ProjectRoot
	}
	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout, stderr limitedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	res := &CLIResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: time.Since(start).Milliseconds(),
	}
	switch {
	case runErr == nil:
		res.Success = true
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.ExitCode = -1
	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("running command: %w", runErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return core.RawJSON(res)
}
