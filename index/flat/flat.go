// Package flat provides the exact similarity index: a brute-force scan over
// every stored vector. It is the correctness baseline the clustered index is
// measured against and the default strategy for small galleries.
package flat

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/facegate/facematch/distance"
	"github.com/facegate/facematch/index"
)

// Compile-time check to ensure Flat satisfies the index interface.
var _ index.Index = (*Flat)(nil)

// entry is one stored (id, normalized vector) pair.
type entry struct {
	id  uint64
	vec []float32
}

// indexState holds the immutable state of the index for lock-free reads.
type indexState struct {
	entries []entry        // ordered by ascending id
	byID    map[uint64]int // id -> position in entries
}

// Flat is an exact nearest-neighbor index over L2-normalized vectors.
// It uses a copy-on-write pattern for lock-free concurrent reads.
type Flat struct {
	state     atomic.Value // holds *indexState for lock-free reads
	writeMu   sync.Mutex   // serializes writes only
	dimension int
}

// New creates an empty flat index for vectors of the given dimension.
func New(dimension int) (*Flat, error) {
	if dimension <= 0 {
		return nil, &index.ErrDimensionMismatch{Expected: 1, Actual: dimension}
	}

	f := &Flat{dimension: dimension}
	f.state.Store(&indexState{byID: make(map[uint64]int)})
	return f, nil
}

// Name identifies the index strategy.
func (*Flat) Name() string { return "flat" }

// getState returns the current immutable state (lock-free read).
func (f *Flat) getState() *indexState {
	return f.state.Load().(*indexState)
}

// cloneState creates a copy of the current state for copy-on-write.
func (f *Flat) cloneState(st *indexState) *indexState {
	entries := make([]entry, len(st.entries))
	copy(entries, st.entries)

	byID := make(map[uint64]int, len(st.byID))
	for id, pos := range st.byID {
		byID[id] = pos
	}

	return &indexState{entries: entries, byID: byID}
}

// Insert adds a vector under the given id. The vector is L2-normalized on the
// way in so queries reduce to a dot product. Inserting an existing id replaces
// its vector.
func (f *Flat) Insert(id uint64, vector []float32) error {
	if len(vector) == 0 {
		return index.ErrEmptyVector
	}
	if len(vector) != f.dimension {
		return &index.ErrDimensionMismatch{Expected: f.dimension, Actual: len(vector)}
	}

	norm, ok := distance.NormalizeL2Copy(vector)
	if !ok {
		return index.ErrZeroVector
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	oldState := f.getState()
	newState := f.cloneState(oldState)

	if pos, exists := newState.byID[id]; exists {
		newState.entries[pos] = entry{id: id, vec: norm}
		f.state.Store(newState)
		return nil
	}

	// Keep entries ordered by id so equal-distance results come out in
	// ascending id order without re-sorting the whole candidate set.
	pos := len(newState.entries)
	for pos > 0 && newState.entries[pos-1].id > id {
		pos--
	}
	newState.entries = append(newState.entries, entry{})
	copy(newState.entries[pos+1:], newState.entries[pos:])
	newState.entries[pos] = entry{id: id, vec: norm}

	for i := pos; i < len(newState.entries); i++ {
		newState.byID[newState.entries[i].id] = i
	}

	f.state.Store(newState)
	return nil
}

// Delete removes the vector stored under id.
// Returns whether the id was present.
func (f *Flat) Delete(id uint64) bool {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	oldState := f.getState()
	pos, exists := oldState.byID[id]
	if !exists {
		return false
	}

	newState := f.cloneState(oldState)
	newState.entries = append(newState.entries[:pos], newState.entries[pos+1:]...)
	delete(newState.byID, id)
	for i := pos; i < len(newState.entries); i++ {
		newState.byID[newState.entries[i].id] = i
	}

	f.state.Store(newState)
	return true
}

// Query scans every stored vector and returns up to k results with cosine
// distance strictly below maxDistance, nearest first, ties broken by
// ascending id. Reads are lock-free.
func (f *Flat) Query(ctx context.Context, query []float32, k int, maxDistance float32) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if len(query) == 0 {
		return nil, index.ErrEmptyVector
	}
	if len(query) != f.dimension {
		return nil, &index.ErrDimensionMismatch{Expected: f.dimension, Actual: len(query)}
	}

	q, ok := distance.NormalizeL2Copy(query)
	if !ok {
		return nil, index.ErrZeroVector
	}

	st := f.getState()
	if len(st.entries) == 0 {
		return nil, nil
	}

	results := make([]index.SearchResult, 0, k)
	for _, e := range st.entries {
		d := distance.CosineNormalized(q, e.vec)
		if d >= maxDistance {
			continue
		}
		results = append(results, index.SearchResult{ID: e.id, Distance: d})
	}

	index.SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Rebuild reconstructs the index from the source's current contents.
// Readers see the previous state until the new one is swapped in.
func (f *Flat) Rebuild(ctx context.Context, src index.Source) error {
	if src.Dimension() != f.dimension {
		return &index.ErrDimensionMismatch{Expected: f.dimension, Actual: src.Dimension()}
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	newState := &indexState{byID: make(map[uint64]int)}
	for id, vec := range src.Vectors() {
		if err := ctx.Err(); err != nil {
			return err
		}
		norm, ok := distance.NormalizeL2Copy(vec)
		if !ok {
			return index.ErrZeroVector
		}
		newState.entries = append(newState.entries, entry{id: id, vec: norm})
	}

	// Source iteration order is insertion order, which matches ascending id
	// for the identity store, but a restored store may not guarantee it.
	slices.SortFunc(newState.entries, func(a, b entry) int {
		return cmp.Compare(a.id, b.id)
	})
	for i, e := range newState.entries {
		newState.byID[e.id] = i
	}

	f.state.Store(newState)
	return nil
}

// Len returns the number of stored vectors.
func (f *Flat) Len() int {
	return len(f.getState().entries)
}
