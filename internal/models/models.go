// package models defines the data model for the tracker mirror
package models

import (
	"context"
)

// Model defines the base interface for all persistent models.
type Model interface {
	Validate() error // Validate checks if the model's data is valid and returns an error if not
}

// Mirrored is implemented by entities whose source of truth is the remote tracker.
type Mirrored interface {
	Model
	LocalID() string   // LocalID returns the local primary key, empty before creation
	RemoteKey() string // RemoteKey returns the remote service identifier
}

// FieldChange is a single column assignment produced when a mirrored entity differs from its remote record.
type FieldChange struct {
	Column string
	Value  any
}

// EntityStore defines data access for mirrored entities keyed by remote identifier.
//
// Implementations live in the repositories package; the sync engine is the only writer.
type EntityStore[T Mirrored] interface {
	GetByRemoteID(ctx context.Context, remoteID string) (T, error)            // GetByRemoteID returns [shared.ErrEntityNotFound] when absent
	Create(ctx context.Context, model T) error                                // Create inserts a new entity and assigns its local ID
	UpdateFields(ctx context.Context, id string, changes []FieldChange) error // UpdateFields writes only the given columns
}
