// Package workflow composes the task registry, execution channel, model
// cache, slot registry, and association store into named multi-step
// operations reported through tasks.
package workflow

import (
	"log/slog"
	"time"

	"github.com/stackmesh/loom/internal/model"
	"github.com/stackmesh/loom/internal/modelcache"
	"github.com/stackmesh/loom/internal/slot"
	"github.com/stackmesh/loom/internal/store"
	"github.com/stackmesh/loom/internal/task"
	"github.com/stackmesh/loom/internal/venv"
)

// maxTaskError bounds the diagnostic copied into a failed task. Pollers see
// a readable message, not a dump.
const maxTaskError = 300

// Engine launches workflow compositions onto the bounded pool. Each workflow
// owns exactly one task and is that task's only writer.
type Engine struct {
	tasks        *task.Registry
	channel      *venv.Channel
	cache        *modelcache.Cache
	slots        *slot.Registry
	associations store.Associations
	pool         *Pool
	logger       *slog.Logger

	execTimeout    time.Duration
	installTimeout time.Duration
}

// NewEngine wires the workflow engine over its collaborators.
func NewEngine(
	tasks *task.Registry,
	channel *venv.Channel,
	cache *modelcache.Cache,
	slots *slot.Registry,
	associations store.Associations,
	pool *Pool,
	execTimeout, installTimeout time.Duration,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		tasks:          tasks,
		channel:        channel,
		cache:          cache,
		slots:          slots,
		associations:   associations,
		pool:           pool,
		logger:         logger,
		execTimeout:    execTimeout,
		installTimeout: installTimeout,
	}
}

// Close drains the pool, waiting for in-flight workflows.
func (e *Engine) Close() {
	e.pool.Close()
}

// submit creates the workflow's task and queues run. When the pool rejects
// the job the task is failed immediately, so callers polling the returned
// task id always reach a terminal answer.
func (e *Engine) submit(name, category string, steps []string, run func(taskID string)) (*model.Task, error) {
	t := e.tasks.Create(name, category, steps)

	if err := e.pool.Submit(func() { run(t.ID) }); err != nil {
		e.logger.Warn("workflow rejected", "task_id", t.ID, "name", name, "error", err)
		e.tasks.Fail(t.ID, "workflow queue is full, try again later")
		return e.tasks.Get(t.ID), err
	}

	return t, nil
}

// cancelled checks for cooperative cancellation between steps. An in-flight
// worker call is never interrupted; the check runs only at step boundaries.
func (e *Engine) cancelled(taskID string) bool {
	if e.tasks.IsCancelled(taskID) {
		e.logger.Info("workflow stopping at step boundary, task cancelled", "task_id", taskID)
		return true
	}
	return false
}

// failStep marks the step failed and the whole task failed with a truncated
// diagnostic.
func (e *Engine) failStep(taskID string, stepIndex int, err error) {
	msg := truncateError(err)
	e.tasks.AdvanceStep(taskID, stepIndex, model.StepFailed, msg)
	e.tasks.Fail(taskID, msg)
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxTaskError {
		msg = msg[:maxTaskError] + "... (truncated)"
	}
	return msg
}

func progressFor(step, totalSteps int) int {
	if totalSteps == 0 {
		return 100
	}
	return step * 100 / totalSteps
}
