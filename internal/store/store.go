// Package store persists model-to-runtime associations. This is the narrow
// collaborator surface workflows write through; the orchestration core does
// not own any other durable state.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no association exists for a model.
var ErrNotFound = errors.New("association not found")

// Association records which runtime and backend currently serve a model.
type Association struct {
	ModelID   string    `json:"model_id"`
	Runtime   string    `json:"runtime"`
	BackendID string    `json:"backend_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Associations is the persistence contract consumed by workflows.
type Associations interface {
	// Associate inserts or replaces the association for a model.
	Associate(ctx context.Context, modelID, runtime, backendID string) error
	// Get returns the association for one model.
	Get(ctx context.Context, modelID string) (*Association, error)
	// ListByRuntime returns every association backed by the given runtime,
	// ordered by model id.
	ListByRuntime(ctx context.Context, runtime string) ([]Association, error)
	Close() error
}
