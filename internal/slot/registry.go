// Package slot implements the exclusive slot registry: at most one loaded
// resource per category, with atomic replace-and-report-eviction semantics.
package slot

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Occupant describes what currently holds a category slot.
type Occupant struct {
	Category   string    `json:"category"`
	ResourceID string    `json:"resource_id"`
	LoadedAt   time.Time `json:"loaded_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Registry maps each resource category to zero or one occupant. All
// operations on a category are atomic: two concurrent acquires can never
// both believe they won, and an eviction is observed by exactly one caller.
type Registry struct {
	mu     sync.Mutex
	slots  map[string]*Occupant
	logger *slog.Logger
}

// NewRegistry creates an empty slot registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		slots:  make(map[string]*Occupant),
		logger: logger,
	}
}

// Acquire assigns resourceID to category and returns the resource id that
// was evicted to make room, if any. Re-acquiring the id already in the slot
// refreshes last_used_at and reports no eviction.
func (r *Registry) Acquire(category, resourceID string) (previous string, evicted bool) {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	occ, ok := r.slots[category]
	if ok && occ.ResourceID == resourceID {
		occ.LastUsedAt = now
		return "", false
	}

	r.slots[category] = &Occupant{
		Category:   category,
		ResourceID: resourceID,
		LoadedAt:   now,
		LastUsedAt: now,
	}

	if !ok {
		return "", false
	}

	slotEvictions.WithLabelValues(category).Inc()
	r.logger.Info("slot occupant replaced",
		"category", category, "evicted", occ.ResourceID, "loaded", resourceID)
	return occ.ResourceID, true
}

// Release clears the category's slot and reports whether it was occupied.
func (r *Registry) Release(category string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slots[category]; !ok {
		return false
	}
	delete(r.slots, category)
	return true
}

// Current returns the resource id occupying the category, if any.
func (r *Registry) Current(category string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	occ, ok := r.slots[category]
	if !ok {
		return "", false
	}
	return occ.ResourceID, true
}

// Touch refreshes the occupant's last_used_at without changing occupancy.
// It reports whether the category was occupied.
func (r *Registry) Touch(category string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	occ, ok := r.slots[category]
	if !ok {
		return false
	}
	occ.LastUsedAt = time.Now().UTC()
	return true
}

// List returns a snapshot of all occupants, sorted by category for a stable
// API response.
func (r *Registry) List() []Occupant {
	r.mu.Lock()
	occupants := make([]Occupant, 0, len(r.slots))
	for _, occ := range r.slots {
		occupants = append(occupants, *occ)
	}
	r.mu.Unlock()

	sort.Slice(occupants, func(i, j int) bool {
		return occupants[i].Category < occupants[j].Category
	})
	return occupants
}

// ReleaseResource clears every slot occupied by resourceID, across all
// categories, and returns the categories that were released. Workflows use
// this when a resource's backing runtime is rebuilt.
func (r *Registry) ReleaseResource(resourceID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var released []string
	for category, occ := range r.slots {
		if occ.ResourceID == resourceID {
			delete(r.slots, category)
			released = append(released, category)
		}
	}
	sort.Strings(released)
	return released
}
