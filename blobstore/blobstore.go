// Package blobstore abstracts the archival storage used for gallery
// snapshots. Snapshots are small, immutable, write-once blobs, so the
// interface is deliberately whole-blob: no ranged reads, no streaming.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations must return an error that satisfies
// `errors.Is(err, ErrNotFound)`.
var ErrNotFound = errors.New("blobstore: blob not found")

// Store is an abstraction for reading and writing immutable blobs.
type Store interface {
	// Put writes a blob atomically. An existing blob of the same name is
	// replaced.
	Put(ctx context.Context, name string, data []byte) error

	// Get reads a blob in full.
	Get(ctx context.Context, name string) ([]byte, error)

	// Delete removes a blob. Deleting a missing blob is a no-op.
	Delete(ctx context.Context, name string) error

	// List returns all blob names with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
