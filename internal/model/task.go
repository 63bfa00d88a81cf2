package model

import "time"

// Task status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Step status constants. Steps never become cancelled; a cancelled task
// simply leaves its remaining steps pending.
const (
	StepPending   = "pending"
	StepRunning   = "running"
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// validTransitions maps each task status to the set of statuses it may
// transition to. Terminal statuses have no entry: nothing leaves them.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one task status to
// another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether the given task status is terminal.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// validStepStatus is the closed set of statuses a step may hold.
var validStepStatus = map[string]bool{
	StepPending:   true,
	StepRunning:   true,
	StepCompleted: true,
	StepFailed:    true,
}

// ValidStepStatus reports whether s is an allowed step status.
func ValidStepStatus(s string) bool {
	return validStepStatus[s]
}

// Step is one named phase within a task. Steps are addressed by their index
// in the task's step list; the index is fixed at creation and never changes,
// so duplicate step names are unambiguous.
type Step struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Task represents one tracked asynchronous multi-step operation.
//
// A task is mutated only through the registry, by the goroutine that owns
// its execution. Result is set only on completion, Error only on failure.
type Task struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Message   string `json:"message,omitempty"`
	Steps     []Step `json:"steps"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the task. Registry reads hand out clones so
// callers can never race with the owning goroutine's writes.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Steps = make([]Step, len(t.Steps))
	copy(cp.Steps, t.Steps)
	if t.StartedAt != nil {
		st := *t.StartedAt
		cp.StartedAt = &st
	}
	if t.CompletedAt != nil {
		ct := *t.CompletedAt
		cp.CompletedAt = &ct
	}
	return &cp
}
