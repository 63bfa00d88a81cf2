package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stackmesh/loom/internal/model"
	"github.com/stackmesh/loom/internal/venv"
)

// Load step indices.
const (
	loadStepResolve = iota
	loadStepLoad
	loadStepRegister
	loadStepCount
)

var loadSteps = []string{"resolve", "load", "register"}

// LoadModelRequest asks for a model version to be loaded into its category's
// exclusive slot, evicting whatever held the slot before.
type LoadModelRequest struct {
	ModelID    string `json:"model_id"`
	VersionID  string `json:"version_id"`
	Category   string `json:"category"`
	Runtime    string `json:"runtime"`
	SourcePath string `json:"source_path"`
}

// LoadModelResult is the completion payload of a load task.
type LoadModelResult struct {
	ModelID   string `json:"model_id"`
	VersionID string `json:"version_id"`
	Category  string `json:"category"`
	CacheHit  bool   `json:"cache_hit"`
	// Evicted names the model pushed out of the category slot, if any.
	Evicted string `json:"evicted,omitempty"`
}

// loadedModel is the cache handle for a model loaded through the channel.
// The worker process that performed the load has exited; the handle records
// what the load produced so a later eviction is observable and loggable.
type loadedModel struct {
	modelID   string
	versionID string
	info      json.RawMessage
}

func (m *loadedModel) Close() error { return nil }

// SubmitLoadModel queues a model load and returns its tracking task.
func (e *Engine) SubmitLoadModel(req LoadModelRequest) (*model.Task, error) {
	name := "load " + req.ModelID
	return e.submit(name, "model", loadSteps, func(taskID string) {
		e.runLoadModel(taskID, req)
	})
}

func (e *Engine) runLoadModel(taskID string, req LoadModelRequest) {
	e.tasks.Start(taskID)
	ctx := context.Background()

	// Resolve: a cached handle makes the load step a no-op.
	e.tasks.AdvanceStep(taskID, loadStepResolve, model.StepRunning, "")
	if !e.channel.IsAvailable(req.Runtime) {
		e.failStep(taskID, loadStepResolve, fmt.Errorf("runtime %q is not available", req.Runtime))
		return
	}
	_, cacheHit := e.cache.Get(req.ModelID, req.VersionID)
	e.tasks.AdvanceStep(taskID, loadStepResolve, model.StepCompleted, "")
	e.tasks.UpdateProgress(taskID, progressFor(1, loadStepCount), "")

	if e.cancelled(taskID) {
		return
	}

	// Load: only when the cache could not serve the handle.
	if cacheHit {
		e.tasks.AdvanceStep(taskID, loadStepLoad, model.StepCompleted, "cache hit")
	} else {
		e.tasks.AdvanceStep(taskID, loadStepLoad, model.StepRunning, "")
		res, err := e.channel.Execute(ctx, req.Runtime, venv.Request{
			Action:    venv.ActionLoadModel,
			ModelPath: req.SourcePath,
		}, e.execTimeout)
		if err != nil {
			e.failStep(taskID, loadStepLoad, err)
			return
		}
		e.cache.Put(req.ModelID, req.VersionID, req.SourcePath, &loadedModel{
			modelID:   req.ModelID,
			versionID: req.VersionID,
			info:      res.Value,
		})
		e.tasks.AdvanceStep(taskID, loadStepLoad, model.StepCompleted, "")
	}
	e.tasks.UpdateProgress(taskID, progressFor(2, loadStepCount), "")

	if e.cancelled(taskID) {
		return
	}

	// Register: take the category slot. The previous occupant loses both its
	// slot and its cached handles; the slot registry and cache are separate
	// lock domains, so the two evictions are sequenced here rather than done
	// in one transaction. A reader between the two re-validates on its next
	// cache get.
	e.tasks.AdvanceStep(taskID, loadStepRegister, model.StepRunning, "")
	result := LoadModelResult{
		ModelID:   req.ModelID,
		VersionID: req.VersionID,
		Category:  req.Category,
		CacheHit:  cacheHit,
	}
	if previous, evicted := e.slots.Acquire(req.Category, req.ModelID); evicted {
		e.cache.RemoveModel(previous)
		result.Evicted = previous
		e.logger.Info("model evicted from category slot",
			"task_id", taskID, "category", req.Category, "evicted", previous, "loaded", req.ModelID)
	}
	e.tasks.AdvanceStep(taskID, loadStepRegister, model.StepCompleted, "")

	e.tasks.Complete(taskID, result)
}
