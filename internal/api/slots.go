package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stackmesh/loom/internal/slot"
)

// listSlotsResponse wraps the slot occupancy response.
type listSlotsResponse struct {
	Slots []slot.Occupant `json:"slots"`
}

// releaseSlotResponse reports what an unload removed.
type releaseSlotResponse struct {
	Category     string `json:"category"`
	ResourceID   string `json:"resource_id"`
	CacheEvicted int    `json:"cache_evicted"`
}

func (s *Server) handleListSlots(w http.ResponseWriter, r *http.Request) {
	slots := s.slots.List()
	if slots == nil {
		slots = []slot.Occupant{}
	}
	s.writeJSON(w, http.StatusOK, listSlotsResponse{Slots: slots})
}

// handleReleaseSlot unloads whatever occupies the category: the slot is
// released and the occupant's cached handles are closed and dropped.
func (s *Server) handleReleaseSlot(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")

	resourceID, ok := s.slots.Current(category)
	if !ok {
		s.writeError(w, http.StatusNotFound, "slot is not occupied")
		return
	}

	s.slots.Release(category)
	evicted := s.cache.RemoveModel(resourceID)

	s.logger.Info("slot released",
		"category", category, "resource_id", resourceID, "cache_evicted", evicted)

	s.writeJSON(w, http.StatusOK, releaseSlotResponse{
		Category:     category,
		ResourceID:   resourceID,
		CacheEvicted: evicted,
	})
}
