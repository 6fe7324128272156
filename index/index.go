// Package index defines the similarity index abstraction and its result
// types.
//
// An index holds a derived projection (id + vector) of the canonical
// identity store. It is never authoritative: every implementation must be
// fully reconstructible from a Source at any time via Rebuild.
package index

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
)

var (
	// ErrEmptyVector is returned when an empty vector is inserted or queried.
	ErrEmptyVector = errors.New("index: vector must not be empty")

	// ErrZeroVector is returned when a vector has zero L2 norm; cosine
	// distance is undefined for the zero vector.
	ErrZeroVector = errors.New("index: cannot normalize zero vector")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("index: k must be positive")

	// ErrUnavailable is returned when the index cannot serve queries,
	// e.g. because it has been closed or a fail-fast rebuild is in flight.
	ErrUnavailable = errors.New("index: unavailable")
)

// ErrDimensionMismatch indicates a vector whose length does not match the
// index's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

// Error returns the error message for dimension mismatch.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("index: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// SearchResult is one (id, distance) pair returned by a query.
type SearchResult struct {
	// ID is the identity id of the stored vector.
	ID uint64

	// Distance is the cosine distance between the query and the stored
	// vector, in [0, 2].
	Distance float32
}

// Source supplies the canonical vectors an index is rebuilt from.
// It is implemented by the identity store.
type Source interface {
	// Dimension returns the fixed vector dimension.
	Dimension() int

	// Vectors iterates over all (id, vector) pairs.
	Vectors() iter.Seq2[uint64, []float32]
}

// Index answers nearest-neighbor queries over the stored vectors.
//
// Implementations must be safe for concurrent use: queries never block on
// writes or rebuilds, and a rebuild replaces the visible state atomically.
type Index interface {
	// Insert adds a vector under the given id.
	Insert(id uint64, vector []float32) error

	// Delete makes the given id unreachable for subsequent queries.
	// Returns whether the id was present.
	Delete(id uint64) bool

	// Query returns up to k results with distance strictly below
	// maxDistance, ordered ascending by distance, ties broken by
	// ascending id.
	Query(ctx context.Context, query []float32, k int, maxDistance float32) ([]SearchResult, error)

	// Rebuild reconstructs the index from scratch out of the source's
	// current contents. Readers keep seeing the previous complete state
	// until the replacement is swapped in.
	Rebuild(ctx context.Context, src Source) error

	// Len returns the number of vectors reachable by queries.
	Len() int

	// Name identifies the index strategy ("flat", "ivf").
	Name() string
}

// SortResults orders results ascending by distance, breaking ties by
// ascending id for deterministic output.
func SortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
}
