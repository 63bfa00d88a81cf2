// Package venv implements the isolated execution channel: one-shot worker
// processes run against self-contained interpreter trees (venv-style
// layouts), spoken to over stdin/stdout with a wall-clock timeout.
package venv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

const (
	// maxDiagnostic bounds stderr captured into error messages.
	maxDiagnostic = 512

	// waitDelay bounds how long we wait for worker I/O after the kill on
	// timeout, so a child holding the pipes cannot stall the call.
	waitDelay = 100 * time.Millisecond
)

// Channel executes one request per worker process against a named runtime.
// No state is retained between calls.
type Channel struct {
	baseDir string
	script  string
	logger  *slog.Logger
}

// RuntimeInfo describes one runtime directory under the base dir.
type RuntimeInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// NewChannel creates a channel rooted at baseDir. script is the worker
// request-loop script, resolved relative to baseDir unless absolute.
func NewChannel(baseDir, script string, logger *slog.Logger) *Channel {
	if !filepath.IsAbs(script) {
		script = filepath.Join(baseDir, script)
	}
	return &Channel{
		baseDir: baseDir,
		script:  script,
		logger:  logger,
	}
}

// Entrypoint returns the expected interpreter path for a runtime on the
// current platform.
func (c *Channel) Entrypoint(runtimeName string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(c.baseDir, runtimeName, "Scripts", "python.exe")
	}
	return filepath.Join(c.baseDir, runtimeName, "bin", "python")
}

// IsAvailable reports whether the runtime's entry-point executable exists.
func (c *Channel) IsAvailable(runtimeName string) bool {
	info, err := os.Stat(c.Entrypoint(runtimeName))
	return err == nil && !info.IsDir()
}

// ListRuntimes enumerates runtime directories under the base dir, sorted by
// name for a stable API response.
func (c *Channel) ListRuntimes() ([]RuntimeInfo, error) {
	entries, err := os.ReadDir(c.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read runtimes dir: %w", err)
	}

	var infos []RuntimeInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		infos = append(infos, RuntimeInfo{
			Name:      e.Name(),
			Available: c.IsAvailable(e.Name()),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Execute runs one request against the named runtime: the request is
// serialized to the worker's stdin, one response is read from its stdout,
// and the process is killed if it outlives timeout.
//
// Failures carry the package's sentinel errors for errors.Is branching.
// Unparseable stdout is not a failure: it is returned as a successful opaque
// string result.
func (c *Channel) Execute(ctx context.Context, runtimeName string, req Request, timeout time.Duration) (*Result, error) {
	if !knownActions[req.Action] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	if !c.IsAvailable(runtimeName) {
		execFailures.WithLabelValues(req.Action, kindUnavailable).Inc()
		return nil, fmt.Errorf("%w: %s (no entrypoint at %s)", ErrUnavailable, runtimeName, c.Entrypoint(runtimeName))
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrTransport, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Entrypoint(runtimeName), c.script)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	runErr := cmd.Run()
	execDuration.WithLabelValues(req.Action).Observe(time.Since(start).Seconds())

	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			execFailures.WithLabelValues(req.Action, kindTimeout).Inc()
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			execFailures.WithLabelValues(req.Action, kindWorker).Inc()
			diag := truncate(strings.TrimSpace(stderr.String()), maxDiagnostic)
			if diag == "" {
				diag = runErr.Error()
			}
			return nil, fmt.Errorf("%w: exit %d: %s", ErrWorker, exitErr.ExitCode(), diag)
		}
		execFailures.WithLabelValues(req.Action, kindTransport).Inc()
		return nil, fmt.Errorf("%w: %v", ErrTransport, runErr)
	}

	out := strings.TrimSpace(stdout.String())

	var resp Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		// Unstructured output is a formatting detail, not an execution
		// failure. Return the raw text as an opaque success.
		c.logger.Debug("worker output not parseable, returning raw",
			"runtime", runtimeName, "action", req.Action, "bytes", len(out))
		return &Result{Raw: out}, nil
	}

	if !resp.Success {
		execFailures.WithLabelValues(req.Action, kindWorker).Inc()
		msg := resp.Error
		if msg == "" {
			msg = "worker reported failure without a message"
		}
		return nil, fmt.Errorf("%w: %s", ErrWorker, truncate(msg, maxDiagnostic))
	}

	return &Result{Value: resp.Result}, nil
}

// truncate caps s at n bytes, marking the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}
