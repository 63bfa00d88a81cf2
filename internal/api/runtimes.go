package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stackmesh/loom/internal/venv"
)

// listRuntimesResponse wraps the runtime list response.
type listRuntimesResponse struct {
	Runtimes []venv.RuntimeInfo `json:"runtimes"`
}

func (s *Server) handleListRuntimes(w http.ResponseWriter, r *http.Request) {
	runtimes, err := s.channel.ListRuntimes()
	if err != nil {
		s.logger.Error("list runtimes", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runtimes")
		return
	}
	if runtimes == nil {
		runtimes = []venv.RuntimeInfo{}
	}

	s.writeJSON(w, http.StatusOK, listRuntimesResponse{Runtimes: runtimes})
}

func (s *Server) handleGetRuntime(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	runtimes, err := s.channel.ListRuntimes()
	if err != nil {
		s.logger.Error("get runtime", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to inspect runtime")
		return
	}
	for _, info := range runtimes {
		if info.Name == name {
			s.writeJSON(w, http.StatusOK, info)
			return
		}
	}

	s.writeError(w, http.StatusNotFound, "runtime not found")
}
