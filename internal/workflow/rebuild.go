package workflow

import (
	"context"
	"fmt"

	"github.com/stackmesh/loom/internal/model"
	"github.com/stackmesh/loom/internal/venv"
)

// Rebuild step indices. The step list is fixed at task creation.
const (
	rebuildStepPrepare = iota
	rebuildStepInstall
	rebuildStepVerify
	rebuildStepReconcile
	rebuildStepCount
)

var rebuildSteps = []string{"prepare", "install", "verify", "reconcile"}

// RebuildRequest describes a runtime rebuild: reinstall the given packages
// into the runtime and repoint every model it backs at the new backend.
type RebuildRequest struct {
	Runtime    string   `json:"runtime"`
	Packages   []string `json:"packages"`
	Capability string   `json:"capability"`
	BackendID  string   `json:"backend_id"`
}

// RebuildResult is the completion payload of a rebuild task. The caller uses
// the counts to tell end users which loaded models must be reloaded.
type RebuildResult struct {
	Runtime       string `json:"runtime"`
	BackendID     string `json:"backend_id"`
	ModelsUpdated int    `json:"models_updated"`
	SlotsReleased int    `json:"slots_released"`
	CacheEvicted  int    `json:"cache_evicted"`
}

// SubmitRebuild queues a runtime rebuild and returns its tracking task
// immediately. Progress is observed through the task registry.
func (e *Engine) SubmitRebuild(req RebuildRequest) (*model.Task, error) {
	name := "rebuild " + req.Runtime
	return e.submit(name, "runtime", rebuildSteps, func(taskID string) {
		e.runRebuild(taskID, req)
	})
}

// runRebuild executes the rebuild on a pool worker. It is the task's single
// writer; failures land in the task, never on the submitting goroutine.
func (e *Engine) runRebuild(taskID string, req RebuildRequest) {
	e.tasks.Start(taskID)
	ctx := context.Background()

	// Prepare: the runtime must exist before anything is installed into it.
	e.tasks.AdvanceStep(taskID, rebuildStepPrepare, model.StepRunning, "")
	if !e.channel.IsAvailable(req.Runtime) {
		e.failStep(taskID, rebuildStepPrepare, fmt.Errorf("runtime %q is not available", req.Runtime))
		return
	}
	e.tasks.AdvanceStep(taskID, rebuildStepPrepare, model.StepCompleted, "")
	e.tasks.UpdateProgress(taskID, progressFor(1, rebuildStepCount), "runtime located")

	if e.cancelled(taskID) {
		return
	}

	// Install: package installation runs on the install budget, minutes not
	// seconds.
	e.tasks.AdvanceStep(taskID, rebuildStepInstall, model.StepRunning,
		fmt.Sprintf("installing %d packages", len(req.Packages)))
	if _, err := e.channel.Execute(ctx, req.Runtime, venv.Request{
		Action:   venv.ActionInstall,
		Packages: req.Packages,
	}, e.installTimeout); err != nil {
		e.failStep(taskID, rebuildStepInstall, err)
		return
	}
	e.tasks.AdvanceStep(taskID, rebuildStepInstall, model.StepCompleted, "")
	e.tasks.UpdateProgress(taskID, progressFor(2, rebuildStepCount), "packages installed")

	if e.cancelled(taskID) {
		return
	}

	// Verify: re-probe the runtime for the expected capability; a rebuild
	// that does not confirm it is a failed rebuild.
	e.tasks.AdvanceStep(taskID, rebuildStepVerify, model.StepRunning, "")
	if _, err := e.channel.Execute(ctx, req.Runtime, venv.Request{
		Action:     venv.ActionProbe,
		Capability: req.Capability,
	}, e.execTimeout); err != nil {
		e.failStep(taskID, rebuildStepVerify, fmt.Errorf("capability %q not confirmed: %w", req.Capability, err))
		return
	}
	e.tasks.AdvanceStep(taskID, rebuildStepVerify, model.StepCompleted, "")
	e.tasks.UpdateProgress(taskID, progressFor(3, rebuildStepCount), "capability verified")

	if e.cancelled(taskID) {
		return
	}

	// Reconcile: every loaded model backed by the rebuilt runtime is stale.
	// The workflow owns this invalidation pass: release slots, drop cached
	// handles, then repoint the persisted association at the new backend.
	e.tasks.AdvanceStep(taskID, rebuildStepReconcile, model.StepRunning, "")

	associations, err := e.associations.ListByRuntime(ctx, req.Runtime)
	if err != nil {
		e.failStep(taskID, rebuildStepReconcile, fmt.Errorf("list models for runtime: %w", err))
		return
	}

	result := RebuildResult{Runtime: req.Runtime, BackendID: req.BackendID}
	for _, assoc := range associations {
		result.SlotsReleased += len(e.slots.ReleaseResource(assoc.ModelID))
		result.CacheEvicted += e.cache.RemoveModel(assoc.ModelID)

		if err := e.associations.Associate(ctx, assoc.ModelID, req.Runtime, req.BackendID); err != nil {
			e.failStep(taskID, rebuildStepReconcile, fmt.Errorf("update association for %s: %w", assoc.ModelID, err))
			return
		}
		result.ModelsUpdated++
	}

	e.tasks.AdvanceStep(taskID, rebuildStepReconcile, model.StepCompleted,
		fmt.Sprintf("%d models repointed", result.ModelsUpdated))
	e.tasks.Complete(taskID, result)

	e.logger.Info("runtime rebuild completed",
		"task_id", taskID,
		"runtime", req.Runtime,
		"models_updated", result.ModelsUpdated,
		"slots_released", result.SlotsReleased,
		"cache_evicted", result.CacheEvicted,
	)
}
