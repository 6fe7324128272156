// Package ivf provides the clustered (inverted-file) similarity index.
//
// Vectors are partitioned into lists around k-means centroids; a query only
// scans the few lists whose centroids are closest, trading a small amount of
// recall for sub-linear scan cost. The index is a rebuildable projection:
// clustering quality degrades as vectors are added or removed, and a rebuild
// re-trains the centroids from the canonical store.
package ivf

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/facegate/facematch/distance"
	"github.com/facegate/facematch/index"
)

// Compile-time check to ensure IVF satisfies the index interface.
var _ index.Index = (*IVF)(nil)

// Options contains configuration options for the clustered index.
type Options struct {
	// Lists is the number of inverted lists (clusters). Zero selects
	// sqrt(n) at rebuild time, the usual IVF sizing heuristic.
	Lists int

	// Probes is the number of closest lists scanned per query.
	// Higher values raise recall at the cost of scan time.
	Probes int

	// MaxIterations bounds the k-means training loop.
	MaxIterations int

	// Seed makes centroid initialization deterministic for a given
	// store content. Useful in tests; any value is fine in production.
	Seed int64
}

// DefaultOptions contains the default configuration options for the
// clustered index.
var DefaultOptions = Options{
	Lists:         0,
	Probes:        8,
	MaxIterations: 25,
	Seed:          1,
}

type listEntry struct {
	id  uint64
	vec []float32
}

// indexState holds the immutable state of the index for lock-free reads.
//
// centroids is nil until the first rebuild: in that untrained state every
// vector sits in pending and queries degenerate to an exact scan, which is
// slower but never wrong.
type indexState struct {
	centroids []float32    // flattened lists*dim, nil when untrained
	lists     [][]listEntry
	pending   []listEntry // inserted since the last rebuild (or never trained)
	members   *roaring64.Bitmap
}

// IVF is an inverted-file index over L2-normalized vectors.
// It uses a copy-on-write pattern for lock-free concurrent reads; a rebuild
// swaps in a freshly trained state atomically.
type IVF struct {
	state     atomic.Value // holds *indexState for lock-free reads
	writeMu   sync.Mutex   // serializes writes and rebuilds
	dimension int
	opts      Options
}

// New creates an empty clustered index for vectors of the given dimension.
func New(dimension int, optFns ...func(o *Options)) (*IVF, error) {
	if dimension <= 0 {
		return nil, &index.ErrDimensionMismatch{Expected: 1, Actual: dimension}
	}

	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Probes <= 0 {
		opts.Probes = DefaultOptions.Probes
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions.MaxIterations
	}

	ivf := &IVF{dimension: dimension, opts: opts}
	ivf.state.Store(&indexState{members: roaring64.New()})
	return ivf, nil
}

// WithLists sets a fixed number of inverted lists instead of the sqrt(n)
// heuristic.
func WithLists(lists int) func(o *Options) {
	return func(o *Options) { o.Lists = lists }
}

// WithProbes sets the number of lists scanned per query.
func WithProbes(probes int) func(o *Options) {
	return func(o *Options) { o.Probes = probes }
}

// WithMaxIterations bounds the k-means training loop.
func WithMaxIterations(n int) func(o *Options) {
	return func(o *Options) { o.MaxIterations = n }
}

// WithSeed fixes the centroid initialization seed.
func WithSeed(seed int64) func(o *Options) {
	return func(o *Options) { o.Seed = seed }
}

// Name identifies the index strategy.
func (*IVF) Name() string { return "ivf" }

// getState returns the current immutable state (lock-free read).
func (ivf *IVF) getState() *indexState {
	return ivf.state.Load().(*indexState)
}

// cloneState creates a copy of the current state for copy-on-write.
// List contents are shared (entries are immutable); only the slice headers
// and the membership bitmap are copied.
func (ivf *IVF) cloneState(st *indexState) *indexState {
	lists := make([][]listEntry, len(st.lists))
	copy(lists, st.lists)

	pending := make([]listEntry, len(st.pending))
	copy(pending, st.pending)

	return &indexState{
		centroids: st.centroids,
		lists:     lists,
		pending:   pending,
		members:   st.members.Clone(),
	}
}

// Insert adds a vector under the given id. Once the index is trained the
// vector goes straight into its nearest list; before training it accumulates
// in pending. Either way it is immediately visible to queries.
func (ivf *IVF) Insert(id uint64, vector []float32) error {
	if len(vector) == 0 {
		return index.ErrEmptyVector
	}
	if len(vector) != ivf.dimension {
		return &index.ErrDimensionMismatch{Expected: ivf.dimension, Actual: len(vector)}
	}

	norm, ok := distance.NormalizeL2Copy(vector)
	if !ok {
		return index.ErrZeroVector
	}

	ivf.writeMu.Lock()
	defer ivf.writeMu.Unlock()

	oldState := ivf.getState()
	newState := ivf.cloneState(oldState)

	e := listEntry{id: id, vec: norm}
	if newState.centroids == nil {
		newState.pending = append(newState.pending, e)
	} else {
		list := assignCluster(norm, newState.centroids, ivf.dimension)
		// Append to a fresh slice so readers of the old state never see
		// the new entry through a shared backing array.
		entries := make([]listEntry, len(newState.lists[list]), len(newState.lists[list])+1)
		copy(entries, newState.lists[list])
		newState.lists[list] = append(entries, e)
	}
	newState.members.Add(id)

	ivf.state.Store(newState)
	return nil
}

// Delete makes the given id unreachable for queries. The stored vector stays
// in its list as a tombstone until the next rebuild compacts it away.
func (ivf *IVF) Delete(id uint64) bool {
	ivf.writeMu.Lock()
	defer ivf.writeMu.Unlock()

	oldState := ivf.getState()
	if !oldState.members.Contains(id) {
		return false
	}

	newState := ivf.cloneState(oldState)
	newState.members.Remove(id)

	ivf.state.Store(newState)
	return true
}

// Query probes the closest lists plus any untrained pending entries and
// returns up to k live results with cosine distance strictly below
// maxDistance, nearest first, ties broken by ascending id.
func (ivf *IVF) Query(ctx context.Context, query []float32, k int, maxDistance float32) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if len(query) == 0 {
		return nil, index.ErrEmptyVector
	}
	if len(query) != ivf.dimension {
		return nil, &index.ErrDimensionMismatch{Expected: ivf.dimension, Actual: len(query)}
	}

	q, ok := distance.NormalizeL2Copy(query)
	if !ok {
		return nil, index.ErrZeroVector
	}

	st := ivf.getState()
	if st.members.IsEmpty() {
		return nil, nil
	}

	scan := func(entries []listEntry, out *[]index.SearchResult) {
		for _, e := range entries {
			if !st.members.Contains(e.id) {
				continue
			}
			d := distance.CosineNormalized(q, e.vec)
			if d >= maxDistance {
				continue
			}
			*out = append(*out, index.SearchResult{ID: e.id, Distance: d})
		}
	}

	var results []index.SearchResult
	scan(st.pending, &results)

	if st.centroids != nil {
		probe := closestCentroids(q, st.centroids, ivf.dimension, ivf.opts.Probes)

		// Scan probed lists in parallel when there are enough of them to
		// pay for the goroutines.
		if len(probe) >= 4 && runtime.GOMAXPROCS(0) > 1 {
			perList := make([][]index.SearchResult, len(probe))
			g, gctx := errgroup.WithContext(ctx)
			for i, li := range probe {
				g.Go(func() error {
					if err := gctx.Err(); err != nil {
						return err
					}
					scan(st.lists[li], &perList[i])
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return nil, err
			}
			for _, part := range perList {
				results = append(results, part...)
			}
		} else {
			for _, li := range probe {
				scan(st.lists[li], &results)
			}
		}
	}

	index.SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Rebuild re-trains the centroids from the source's current contents and
// repartitions every vector. Writers block for the duration; readers keep
// serving from the previous state until the new one is swapped in.
func (ivf *IVF) Rebuild(ctx context.Context, src index.Source) error {
	if src.Dimension() != ivf.dimension {
		return &index.ErrDimensionMismatch{Expected: ivf.dimension, Actual: src.Dimension()}
	}

	ivf.writeMu.Lock()
	defer ivf.writeMu.Unlock()

	dim := ivf.dimension
	var ids []uint64
	var flat []float32
	for id, vec := range src.Vectors() {
		if err := ctx.Err(); err != nil {
			return err
		}
		norm, ok := distance.NormalizeL2Copy(vec)
		if !ok {
			return index.ErrZeroVector
		}
		ids = append(ids, id)
		flat = append(flat, norm...)
	}

	n := len(ids)
	members := roaring64.New()
	members.AddMany(ids)

	lists := ivf.opts.Lists
	if lists <= 0 {
		lists = int(math.Sqrt(float64(n)))
	}

	newState := &indexState{members: members}

	if n == 0 || lists < 2 || n < lists {
		// Too small to cluster: fall back to a single pending scan.
		newState.pending = make([]listEntry, n)
		for i, id := range ids {
			newState.pending[i] = listEntry{id: id, vec: flat[i*dim : (i+1)*dim]}
		}
		ivf.state.Store(newState)
		return nil
	}

	rng := rand.New(rand.NewSource(ivf.opts.Seed))
	centroids := trainKMeans(flat, dim, lists, ivf.opts.MaxIterations, rng)
	if centroids == nil {
		newState.pending = make([]listEntry, n)
		for i, id := range ids {
			newState.pending[i] = listEntry{id: id, vec: flat[i*dim : (i+1)*dim]}
		}
		ivf.state.Store(newState)
		return nil
	}

	newState.centroids = centroids
	newState.lists = make([][]listEntry, lists)
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec := flat[i*dim : (i+1)*dim]
		li := assignCluster(vec, centroids, dim)
		newState.lists[li] = append(newState.lists[li], listEntry{id: id, vec: vec})
	}

	ivf.state.Store(newState)
	return nil
}

// Len returns the number of vectors reachable by queries.
func (ivf *IVF) Len() int {
	return int(ivf.getState().members.GetCardinality())
}

// Trained reports whether centroids exist, i.e. whether queries are routed
// through lists instead of scanning everything.
func (ivf *IVF) Trained() bool {
	return ivf.getState().centroids != nil
}

// Pending returns the number of vectors not yet assigned to a list.
// A large pending count relative to Len is the main rebuild signal.
func (ivf *IVF) Pending() int {
	st := ivf.getState()
	n := 0
	for _, e := range st.pending {
		if st.members.Contains(e.id) {
			n++
		}
	}
	return n
}
