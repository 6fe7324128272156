// Package persistence defines the durable storage boundary for identity
// records.
//
// The backend stores records only; index structures are never persisted.
// After a restart the engine replays LoadAll into the store and rebuilds the
// index from it, so the backend is the single source of durability.
package persistence

import (
	"context"

	"github.com/facegate/facematch/identity"
)

// Backend stores identity records durably.
//
// Implementations must make Save atomic with respect to crashes: a record is
// either fully persisted or absent, never torn.
type Backend interface {
	// Save persists one record.
	Save(ctx context.Context, rec identity.Record) error

	// LoadAll returns every persisted record.
	LoadAll(ctx context.Context) ([]identity.Record, error)

	// Remove deletes the record with the given id.
	// Removing a missing id is a no-op.
	Remove(ctx context.Context, id identity.ID) error

	// Close releases backend resources.
	Close() error
}
