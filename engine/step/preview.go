package step

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/google/shlex"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/run"
	"github.com/runloom/runloom/pkg/logger"
)

// runPreview spawns a long-lived preview process (dev server, container) and
// records how to reach it. The process is detached from the step: it keeps
// running after the step completes, and the recorded result is what the UI
// links to. Resource ceilings are exported to the process environment for
// the runtime wrapper to enforce.
func (e *Executor) runPreview(ctx context.Context, rc *run.Context, c PreviewConfig) (json.RawMessage, error) {
	if c.Command == "" {
		return nil, fmt.Errorf("preview step requires a command")
	}
	argv, err := shlex.Split(c.Command)
	if err != nil {
		return nil, fmt.Errorf("tokenizing preview command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("preview step requires a command")
	}
	// Deliberately not CommandContext: the preview outlives the step.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = c.WorkDir
	if cmd.Dir == "" {
		cmd.Dir = rc.ProjectRoot
	}
	cmd.Env = previewEnv(c)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting preview: %w", err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			logger.FromContext(ctx).Warn("Preview process exited",
				"run_id", rc.RunID(), "pid", cmd.Process.Pid, "error", err)
		}
	}()
	res := &PreviewResult{
		Success: true,
		Ports:   c.Ports,
		PID:     cmd.Process.Pid,
	}
	if len(c.Ports) > 0 {
		res.URL = fmt.Sprintf("http://localhost:%d", c.Ports[0].Host)
	}
	return core.RawJSON(res)
}

func previewEnv(c PreviewConfig) []string {
	env := os.Environ()
	for k, v := range c.Env {
		env = append(env, k+"="+v)
	}
	for _, p := range c.Ports {
		name := p.Name
		if name == "" {
			name = "PORT"
		}
		env = append(env, fmt.Sprintf("%s=%d", name, p.Container))
	}
	if c.MaxMemoryMB > 0 {
		env = append(env, "PREVIEW_MAX_MEMORY_MB="+strconv.Itoa(c.MaxMemoryMB))
	}
	if c.MaxCPU > 0 {
		env = append(env, "PREVIEW_MAX_CPU="+strconv.Itoa(c.MaxCPU))
	}
	return env
}
