package venv

import (
	"encoding/json"
	"errors"
)

// Worker actions form a closed set. Unknown actions are rejected before a
// process is spawned.
const (
	ActionInstall   = "install"
	ActionProbe     = "probe"
	ActionLoadModel = "load_model"
	ActionEmbed     = "embed"
)

var knownActions = map[string]bool{
	ActionInstall:   true,
	ActionProbe:     true,
	ActionLoadModel: true,
	ActionEmbed:     true,
}

// Failure taxonomy for execution channel calls. Callers branch with
// errors.Is rather than matching strings.
var (
	// ErrUnknownAction is returned for actions outside the closed set.
	ErrUnknownAction = errors.New("unknown worker action")
	// ErrUnavailable means the runtime's entry-point executable is missing.
	ErrUnavailable = errors.New("runtime unavailable")
	// ErrTimeout means the worker exceeded its wall-clock budget and was killed.
	ErrTimeout = errors.New("timeout")
	// ErrWorker means the worker ran but reported or implied failure.
	ErrWorker = errors.New("worker error")
	// ErrTransport means the worker process could not be invoked at all.
	ErrTransport = errors.New("transport error")
)

// Request is the single structured object written to the worker's stdin.
// Action is always present; the remaining fields are action-specific.
type Request struct {
	Action     string   `json:"action"`
	Packages   []string `json:"packages,omitempty"`
	Capability string   `json:"capability,omitempty"`
	ModelPath  string   `json:"model_path,omitempty"`
	Texts      []string `json:"texts,omitempty"`
}

// Response is the single structured object the worker writes to stdout
// before exiting. Stderr carries diagnostics and is never parsed as
// protocol data.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// Result is a successful execution outcome. Exactly one of Value or Raw is
// meaningful: Raw carries worker output that was not parseable as a protocol
// response, preserved as an opaque string rather than treated as a failure.
type Result struct {
	Value json.RawMessage
	Raw   string
}
