// Package task implements the in-memory task registry: creation, step and
// progress updates, observer notification, and reaping of finished tasks.
package task

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/stackmesh/loom/internal/model"
)

// Observer receives a snapshot of a task after every mutation. Observers run
// synchronously on the mutating goroutine; a panicking observer is recovered
// and discarded so it cannot break other observers or the registry.
type Observer func(t *model.Task)

// Registry is a thread-safe registry of asynchronous multi-step tasks.
// Tasks live in memory only; history does not survive a restart.
type Registry struct {
	mu        sync.RWMutex
	tasks     map[string]*model.Task
	seq       map[string]uint64 // creation order, for newest-first listing
	nextSeq   uint64
	observers map[string]map[int]Observer
	nextObsID int
	logger    *slog.Logger
}

// NewRegistry creates an empty task registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tasks:     make(map[string]*model.Task),
		seq:       make(map[string]uint64),
		observers: make(map[string]map[int]Observer),
		logger:    logger,
	}
}

// Create allocates a new pending task with the given fixed step list and
// returns a snapshot of it. The step list size never changes afterwards.
func (r *Registry) Create(name, category string, stepNames []string) *model.Task {
	steps := make([]model.Step, len(stepNames))
	for i, sn := range stepNames {
		steps[i] = model.Step{Name: sn, Status: model.StepPending}
	}

	t := &model.Task{
		ID:        model.NewID(),
		Name:      name,
		Category:  category,
		Status:    model.StatusPending,
		Steps:     steps,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.tasks[t.ID] = t
	r.seq[t.ID] = r.nextSeq
	r.nextSeq++
	r.mu.Unlock()

	tasksCreated.Inc()
	return t.Clone()
}

// Start transitions a task from pending to running and records started_at.
// Unknown ids and terminal tasks are ignored.
func (r *Registry) Start(id string) {
	r.mutate(id, func(t *model.Task) bool {
		if !model.ValidTransition(t.Status, model.StatusRunning) {
			return false
		}
		now := time.Now().UTC()
		t.Status = model.StatusRunning
		t.StartedAt = &now
		return true
	})
}

// AdvanceStep updates one step of a task. An out-of-range index or invalid
// step status is logged and ignored so that a buggy caller cannot corrupt
// the task. Steps on terminal tasks are not touched.
func (r *Registry) AdvanceStep(id string, index int, status, message string) {
	if !model.ValidStepStatus(status) {
		r.logger.Warn("ignoring invalid step status", "task_id", id, "status", status)
		return
	}
	r.mutate(id, func(t *model.Task) bool {
		if model.Terminal(t.Status) {
			return false
		}
		if index < 0 || index >= len(t.Steps) {
			r.logger.Warn("ignoring out-of-range step index",
				"task_id", id, "step_index", index, "steps", len(t.Steps))
			return false
		}
		now := time.Now().UTC()
		step := &t.Steps[index]
		step.Status = status
		step.Message = message
		switch status {
		case model.StepRunning:
			if step.StartedAt == nil {
				step.StartedAt = &now
			}
		case model.StepCompleted, model.StepFailed:
			step.CompletedAt = &now
		}
		return true
	})
}

// UpdateProgress sets a task's progress, clamped to [0, 100].
func (r *Registry) UpdateProgress(id string, percent int, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	r.mutate(id, func(t *model.Task) bool {
		if model.Terminal(t.Status) {
			return false
		}
		t.Progress = percent
		t.Message = message
		return true
	})
}

// Complete transitions a task to completed with the given result and full
// progress. No-op on unknown or already-terminal tasks.
func (r *Registry) Complete(id string, result any) {
	r.finish(id, model.StatusCompleted, func(t *model.Task) {
		t.Result = result
		t.Progress = 100
	})
}

// Fail transitions a task to failed with a human-readable error message.
func (r *Registry) Fail(id string, errMsg string) {
	r.finish(id, model.StatusFailed, func(t *model.Task) {
		t.Error = errMsg
	})
}

// Cancel transitions a pending or running task to cancelled. Workflows check
// for this between steps; an in-flight worker call is not interrupted.
func (r *Registry) Cancel(id string) {
	r.finish(id, model.StatusCancelled, func(t *model.Task) {})
}

// finish applies a terminal transition plus status-specific mutation.
func (r *Registry) finish(id, status string, apply func(t *model.Task)) {
	r.mutate(id, func(t *model.Task) bool {
		if !model.ValidTransition(t.Status, status) {
			return false
		}
		now := time.Now().UTC()
		t.Status = status
		t.CompletedAt = &now
		apply(t)
		tasksFinished.WithLabelValues(status).Inc()
		if t.StartedAt != nil {
			taskDuration.Observe(now.Sub(*t.StartedAt).Seconds())
		}
		return true
	})
}

// IsCancelled reports whether the task has been cancelled. Unknown tasks
// report true so that orphaned workflow runs stop early.
func (r *Registry) IsCancelled(id string) bool {
	r.mu.RLock()
	t, ok := r.tasks[id]
	cancelled := !ok || t.Status == model.StatusCancelled
	r.mu.RUnlock()
	return cancelled
}

// Get returns a snapshot of the task, or nil if it does not exist.
func (r *Registry) Get(id string) *model.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil
	}
	return t.Clone()
}

// List returns snapshots of up to limit tasks, newest first. A non-positive
// limit returns all tasks.
func (r *Registry) List(limit int) []*model.Task {
	r.mu.RLock()
	tasks := make([]*model.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t.Clone())
	}
	seqs := make(map[string]uint64, len(r.seq))
	for id, s := range r.seq {
		seqs[id] = s
	}
	r.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		return seqs[tasks[i].ID] > seqs[tasks[j].ID]
	})
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks
}

// Subscribe registers an observer for one task and returns an unsubscribe
// function. Observers registered for unknown tasks are accepted and simply
// never fire; they are dropped when the id is reaped.
func (r *Registry) Subscribe(id string, obs Observer) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.observers[id]
	if !ok {
		subs = make(map[int]Observer)
		r.observers[id] = subs
	}
	obsID := r.nextObsID
	r.nextObsID++
	subs[obsID] = obs

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if subs, ok := r.observers[id]; ok {
			delete(subs, obsID)
			if len(subs) == 0 {
				delete(r.observers, id)
			}
		}
	}
}

// Reap removes terminal tasks whose completion is older than maxAge, along
// with their observers, and returns how many were removed.
func (r *Registry) Reap(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, t := range r.tasks {
		if !model.Terminal(t.Status) {
			continue
		}
		if t.CompletedAt == nil || t.CompletedAt.After(cutoff) {
			continue
		}
		delete(r.tasks, id)
		delete(r.seq, id)
		delete(r.observers, id)
		removed++
	}

	if removed > 0 {
		r.logger.Debug("reaped finished tasks", "count", removed)
	}
	return removed
}

// mutate applies fn to the named task under the write lock, then notifies
// observers with a snapshot outside the lock. The single-writer discipline
// per task keeps the notification order equal to the mutation order.
func (r *Registry) mutate(id string, fn func(t *model.Task) bool) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("ignoring mutation of unknown task", "task_id", id)
		return
	}
	if !fn(t) {
		r.mu.Unlock()
		return
	}
	snapshot := t.Clone()
	var observers []Observer
	for _, obs := range r.observers[id] {
		observers = append(observers, obs)
	}
	r.mu.Unlock()

	for _, obs := range observers {
		r.notify(obs, snapshot)
	}
}

// notify invokes one observer, swallowing panics.
func (r *Registry) notify(obs Observer, t *model.Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("task observer panicked", "task_id", t.ID, "panic", rec)
		}
	}()
	obs(t)
}
