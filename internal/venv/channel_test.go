package venv

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newTestChannel builds a runtimes dir containing one fake runtime whose
// interpreter is a shell script, so worker behavior can be scripted per test.
func newTestChannel(t *testing.T, runtimeName, script string) *Channel {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake shell-script runtimes require a unix platform")
	}

	baseDir := t.TempDir()
	binDir := filepath.Join(baseDir, runtimeName, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir runtime bin: %v", err)
	}
	entrypoint := filepath.Join(binDir, "python")
	if err := os.WriteFile(entrypoint, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake interpreter: %v", err)
	}
	if err := os.WriteFile(filepath.Join(baseDir, "worker.py"), []byte("# worker stub\n"), 0o644); err != nil {
		t.Fatalf("write worker script: %v", err)
	}

	return NewChannel(baseDir, "worker.py", testLogger())
}

func TestIsAvailable(t *testing.T) {
	c := newTestChannel(t, "ml", "#!/bin/sh\nexit 0\n")

	if !c.IsAvailable("ml") {
		t.Error("IsAvailable(ml) = false, want true")
	}
	if c.IsAvailable("missing") {
		t.Error("IsAvailable(missing) = true, want false")
	}
}

func TestListRuntimes(t *testing.T) {
	c := newTestChannel(t, "ml", "#!/bin/sh\nexit 0\n")

	// A second runtime directory without an interpreter.
	if err := os.MkdirAll(filepath.Join(c.baseDir, "broken"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	infos, err := c.ListRuntimes()
	if err != nil {
		t.Fatalf("ListRuntimes: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("ListRuntimes = %d entries, want 2", len(infos))
	}
	// Sorted by name: broken, ml.
	if infos[0].Name != "broken" || infos[0].Available {
		t.Errorf("infos[0] = %+v, want broken/unavailable", infos[0])
	}
	if infos[1].Name != "ml" || !infos[1].Available {
		t.Errorf("infos[1] = %+v, want ml/available", infos[1])
	}
}

func TestExecuteSuccess(t *testing.T) {
	c := newTestChannel(t, "ml", `#!/bin/sh
cat > /dev/null
echo '{"success": true, "result": {"installed": 3}}'
`)

	res, err := c.Execute(context.Background(), "ml", Request{Action: ActionInstall, Packages: []string{"torch"}}, 5*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var result map[string]int
	if err := json.Unmarshal(res.Value, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["installed"] != 3 {
		t.Errorf("result = %v, want installed=3", result)
	}
}

func TestExecuteReceivesRequestOnStdin(t *testing.T) {
	// The fake worker echoes its stdin back inside the result, proving the
	// request was serialized to stdin.
	c := newTestChannel(t, "ml", `#!/bin/sh
req=$(cat)
printf '{"success": true, "result": %s}\n' "$req"
`)

	res, err := c.Execute(context.Background(), "ml", Request{Action: ActionProbe, Capability: "embeddings"}, 5*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var echoed Request
	if err := json.Unmarshal(res.Value, &echoed); err != nil {
		t.Fatalf("unmarshal echoed request: %v", err)
	}
	if echoed.Action != ActionProbe || echoed.Capability != "embeddings" {
		t.Errorf("worker saw request %+v, want probe/embeddings", echoed)
	}
}

func TestExecuteUnknownAction(t *testing.T) {
	c := newTestChannel(t, "ml", "#!/bin/sh\nexit 0\n")

	_, err := c.Execute(context.Background(), "ml", Request{Action: "format_disk"}, time.Second)
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("err = %v, want ErrUnknownAction", err)
	}
}

func TestExecuteUnavailableRuntime(t *testing.T) {
	c := newTestChannel(t, "ml", "#!/bin/sh\nexit 0\n")

	_, err := c.Execute(context.Background(), "missing", Request{Action: ActionProbe}, time.Second)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestExecuteTimeoutKillsWorker(t *testing.T) {
	c := newTestChannel(t, "ml", "#!/bin/sh\nexec sleep 5\n")

	timeout := 200 * time.Millisecond
	start := time.Now()
	_, err := c.Execute(context.Background(), "ml", Request{Action: ActionProbe}, timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if !strings.Contains(err.Error(), "timeout after 200ms") {
		t.Errorf("err = %q, want it to mention %q", err, "timeout after 200ms")
	}
	// The call must return promptly after the budget, not after the worker's
	// natural 5s runtime.
	if elapsed > 2*time.Second {
		t.Errorf("Execute took %v, want well under the worker's 5s sleep", elapsed)
	}
}

func TestExecuteWorkerNonZeroExit(t *testing.T) {
	c := newTestChannel(t, "ml", `#!/bin/sh
echo "ImportError: no module named torch" >&2
exit 3
`)

	_, err := c.Execute(context.Background(), "ml", Request{Action: ActionProbe}, 5*time.Second)
	if !errors.Is(err, ErrWorker) {
		t.Fatalf("err = %v, want ErrWorker", err)
	}
	if !strings.Contains(err.Error(), "ImportError") {
		t.Errorf("err = %q, want stderr diagnostic included", err)
	}
}

func TestExecuteWorkerReportedFailure(t *testing.T) {
	c := newTestChannel(t, "ml", `#!/bin/sh
cat > /dev/null
echo '{"success": false, "error": "model file corrupt"}'
`)

	_, err := c.Execute(context.Background(), "ml", Request{Action: ActionLoadModel, ModelPath: "/models/m1"}, 5*time.Second)
	if !errors.Is(err, ErrWorker) {
		t.Fatalf("err = %v, want ErrWorker", err)
	}
	if !strings.Contains(err.Error(), "model file corrupt") {
		t.Errorf("err = %q, want worker message included", err)
	}
}

func TestExecuteUnparsableOutputIsOpaqueSuccess(t *testing.T) {
	c := newTestChannel(t, "ml", `#!/bin/sh
cat > /dev/null
echo "epoch 1/3 loss=0.42"
`)

	res, err := c.Execute(context.Background(), "ml", Request{Action: ActionEmbed, Texts: []string{"hi"}}, 5*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Raw != "epoch 1/3 loss=0.42" {
		t.Errorf("Raw = %q, want the worker's literal output", res.Raw)
	}
	if res.Value != nil {
		t.Errorf("Value = %s, want nil for unparsable output", res.Value)
	}
}

func TestExecuteStderrNotParsedAsProtocol(t *testing.T) {
	c := newTestChannel(t, "ml", `#!/bin/sh
cat > /dev/null
echo '{"success": false, "error": "fake"}' >&2
echo '{"success": true, "result": 7}'
`)

	res, err := c.Execute(context.Background(), "ml", Request{Action: ActionProbe}, 5*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(res.Value) != "7" {
		t.Errorf("Value = %s, want 7 (stdout response, not stderr noise)", res.Value)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is far too long", 7, "this is... (truncated)"},
	}

	for _, tt := range tests {
		if got := truncate(tt.input, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}
