package identity

import (
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"
)

// Store is an in-memory identity store guarded by a single RWMutex.
//
// The uniqueness check and the insert execute as one critical section, so
// two concurrent inserts of the same name can never both succeed. Readers
// see either the pre-insert or post-insert state, never a partial record.
type Store struct {
	mu        sync.RWMutex
	dimension int
	byID      map[ID]Record
	byName    map[string]ID
	order     []ID // insertion order, for deterministic listing
	nextID    ID
}

// NewStore creates an empty store for embeddings of the given dimension.
func NewStore(dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("identity: dimension must be positive, got %d", dimension)
	}
	return &Store{
		dimension: dimension,
		byID:      make(map[ID]Record),
		byName:    make(map[string]ID),
	}, nil
}

// Dimension returns the fixed embedding dimension of the store.
func (s *Store) Dimension() int {
	return s.dimension
}

// Insert registers a new identity under a fresh id.
//
// The name uniqueness check and the insert are atomic: exactly one of any
// set of concurrent inserts with the same name succeeds, the rest fail with
// ErrDuplicateName and the store is left untouched.
func (s *Store) Insert(name string, embedding []float32, now time.Time) (Record, error) {
	if name == "" {
		return Record{}, ErrEmptyName
	}
	if len(embedding) != s.dimension {
		return Record{}, &ErrDimensionMismatch{Expected: s.dimension, Actual: len(embedding)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return Record{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}

	s.nextID++
	rec := Record{
		ID:        s.nextID,
		Name:      name,
		Embedding: slices.Clone(embedding),
		CreatedAt: now,
	}

	s.byID[rec.ID] = rec
	s.byName[rec.Name] = rec.ID
	s.order = append(s.order, rec.ID)

	return rec.Clone(), nil
}

// Restore re-inserts a previously persisted record under its original id.
// It is used during startup recovery and enforces the same invariants as
// Insert. The id counter advances past every restored id so ids are never
// reused across restarts.
func (s *Store) Restore(rec Record) error {
	if rec.Name == "" {
		return ErrEmptyName
	}
	if rec.ID == 0 {
		return fmt.Errorf("identity: cannot restore record without id")
	}
	if len(rec.Embedding) != s.dimension {
		return &ErrDimensionMismatch{Expected: s.dimension, Actual: len(rec.Embedding)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[rec.ID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateID, rec.ID)
	}
	if _, exists := s.byName[rec.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateName, rec.Name)
	}

	stored := rec.Clone()
	s.byID[stored.ID] = stored
	s.byName[stored.Name] = stored.ID
	s.order = append(s.order, stored.ID)
	if stored.ID > s.nextID {
		s.nextID = stored.ID
	}

	return nil
}

// Delete removes the record with the given id.
// Returns whether anything was removed; deleting a missing id is a no-op.
func (s *Store) Delete(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return false
	}

	delete(s.byID, id)
	delete(s.byName, rec.Name)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}

	return true
}

// Get retrieves the record with the given id.
func (s *Store) Get(id ID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// FindByName retrieves the record registered under the given name.
// Names are case-sensitive.
func (s *Store) FindByName(name string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return Record{}, false
	}
	return s.byID[id].Clone(), true
}

// List returns up to limit records in insertion order, skipping offset.
// A non-positive limit returns an empty slice.
func (s *Store) List(offset, limit int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.order) || limit <= 0 {
		return nil
	}

	end := offset + limit
	if end > len(s.order) {
		end = len(s.order)
	}

	out := make([]Record, 0, end-offset)
	for _, id := range s.order[offset:end] {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

// Count returns the number of registered identities.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.byID)
}

// Contains reports whether the given id is registered.
func (s *Store) Contains(id ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byID[id]
	return ok
}

// Vectors iterates over (id, embedding) pairs in insertion order.
//
// The iteration works on a snapshot taken under the read lock, so it is safe
// to mutate the store while iterating. The yielded slices are copies.
func (s *Store) Vectors() iter.Seq2[uint64, []float32] {
	s.mu.RLock()
	snapshot := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		snapshot = append(snapshot, s.byID[id].Clone())
	}
	s.mu.RUnlock()

	return func(yield func(uint64, []float32) bool) {
		for _, rec := range snapshot {
			if !yield(uint64(rec.ID), rec.Embedding) {
				return
			}
		}
	}
}
