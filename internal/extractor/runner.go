package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"framegrab/internal/logging"
	"framegrab/internal/metrics"
)

// Runner executes an external tool and returns its stdout. Tests swap in a
// fake that never spawns a process.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs tools with os/exec and tracks live processes so they can
// be killed on shutdown. Cancelling ctx kills the process.
type ExecRunner struct {
	mu    sync.Mutex
	procs map[*exec.Cmd]struct{}
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{procs: make(map[*exec.Cmd]struct{})}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.procs[cmd] = struct{}{}
	r.mu.Unlock()
	metrics.ExtractorProcessesRunning.Inc()

	err := cmd.Wait()

	r.mu.Lock()
	delete(r.procs, cmd)
	r.mu.Unlock()
	metrics.ExtractorProcessesRunning.Dec()

	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", filepath.Base(name), err, msg)
	}
	return stdout.Bytes(), nil
}

// Cleanup kills every running process.
func (r *ExecRunner) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for cmd := range r.procs {
		if cmd.Process == nil {
			continue
		}
		logging.Info("Killing %s process (pid %d)", filepath.Base(cmd.Path), cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil {
			logging.Warn("failed to kill process %d: %v", cmd.Process.Pid, err)
		}
	}
}
