// Package identity provides the canonical store for registered identities.
//
// The store is the single authority for identity records: the similarity
// index only holds a derived projection (id + vector) and must always be
// reconstructible from the store's contents.
package identity

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ID is the stable, user-facing identifier of a registered identity.
// IDs are assigned monotonically at insertion and are never reused,
// even after deletion.
type ID uint64

// Record represents one registered identity.
//
// All fields are immutable after creation: re-registering a face requires
// delete-then-insert, a deliberate choice to avoid silent drift of biometric
// reference data.
type Record struct {
	ID        ID
	Name      string
	Embedding []float32
	CreatedAt time.Time
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	r.Embedding = slices.Clone(r.Embedding)
	return r
}

var (
	// ErrDuplicateName is returned when a name is already registered.
	ErrDuplicateName = errors.New("identity: name already registered")

	// ErrEmptyName is returned when a name is empty.
	ErrEmptyName = errors.New("identity: name must not be empty")

	// ErrDuplicateID is returned by Restore when an id is already present.
	ErrDuplicateID = errors.New("identity: id already present")
)

// ErrDimensionMismatch indicates an embedding whose length does not match
// the store's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

// Error returns the error message for dimension mismatch.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("identity: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
