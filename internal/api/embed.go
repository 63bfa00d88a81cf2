package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stackmesh/loom/internal/venv"
)

// embedRequest is the JSON body for POST /v1/runtimes/{name}/embed.
type embedRequest struct {
	ModelPath string   `json:"model_path"`
	Texts     []string `json:"texts"`
}

type embedResponse struct {
	Runtime string          `json:"runtime"`
	Result  json.RawMessage `json:"result,omitempty"`
	Raw     string          `json:"raw,omitempty"`
}

// handleEmbed runs an embed call synchronously on the named runtime. Unlike
// workflows, the caller waits for the worker; the channel's failure taxonomy
// maps onto HTTP status codes.
func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req embedRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Texts) == 0 {
		s.writeError(w, http.StatusBadRequest, "texts is required")
		return
	}

	res, err := s.channel.Execute(r.Context(), name, venv.Request{
		Action:    venv.ActionEmbed,
		ModelPath: req.ModelPath,
		Texts:     req.Texts,
	}, s.execTimeout)
	if err != nil {
		switch {
		case errors.Is(err, venv.ErrUnavailable):
			s.writeError(w, http.StatusNotFound, "runtime not found")
		case errors.Is(err, venv.ErrTimeout):
			s.writeError(w, http.StatusGatewayTimeout, "embed timed out")
		case errors.Is(err, venv.ErrWorker):
			s.writeError(w, http.StatusBadGateway, err.Error())
		default:
			s.logger.Error("embed", "runtime", name, "error", err)
			s.writeError(w, http.StatusInternalServerError, "embed failed")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, embedResponse{
		Runtime: name,
		Result:  res.Value,
		Raw:     res.Raw,
	})
}
