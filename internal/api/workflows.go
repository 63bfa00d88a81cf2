package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stackmesh/loom/internal/workflow"
)

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req workflow.RebuildRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Runtime == "" {
		s.writeError(w, http.StatusBadRequest, "runtime is required")
		return
	}
	if req.BackendID == "" {
		s.writeError(w, http.StatusBadRequest, "backend_id is required")
		return
	}

	t, err := s.engine.SubmitRebuild(req)
	if errors.Is(err, workflow.ErrQueueFull) {
		s.writeError(w, http.StatusServiceUnavailable, "workflow queue is full, try again later")
		return
	}
	if err != nil {
		s.logger.Error("submit rebuild", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit rebuild")
		return
	}

	s.writeJSON(w, http.StatusAccepted, t)
}

func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	var req workflow.LoadModelRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.ModelID == "" {
		s.writeError(w, http.StatusBadRequest, "model_id is required")
		return
	}
	if req.VersionID == "" {
		s.writeError(w, http.StatusBadRequest, "version_id is required")
		return
	}
	if req.Category == "" {
		s.writeError(w, http.StatusBadRequest, "category is required")
		return
	}
	if req.Runtime == "" {
		s.writeError(w, http.StatusBadRequest, "runtime is required")
		return
	}

	t, err := s.engine.SubmitLoadModel(req)
	if errors.Is(err, workflow.ErrQueueFull) {
		s.writeError(w, http.StatusServiceUnavailable, "workflow queue is full, try again later")
		return
	}
	if err != nil {
		s.logger.Error("submit model load", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit model load")
		return
	}

	s.writeJSON(w, http.StatusAccepted, t)
}
