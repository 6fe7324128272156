package flat

import (
	"context"
	"iter"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facegate/facematch/index"
	"github.com/facegate/facematch/testutil"
)

type sliceSource struct {
	dim     int
	vectors map[uint64][]float32
}

func (s *sliceSource) Dimension() int { return s.dim }

func (s *sliceSource) Vectors() iter.Seq2[uint64, []float32] {
	return func(yield func(uint64, []float32) bool) {
		for id, v := range s.vectors {
			if !yield(id, v) {
				return
			}
		}
	}
}

func TestFlatInsertAndQuery(t *testing.T) {
	ctx := context.Background()

	f, err := New(3)
	require.NoError(t, err)

	require.NoError(t, f.Insert(1, []float32{1, 0, 0}))
	require.NoError(t, f.Insert(2, []float32{0, 1, 0}))
	require.NoError(t, f.Insert(3, []float32{0.9, 0.1, 0}))
	assert.Equal(t, 3, f.Len())

	results, err := f.Query(ctx, []float32{1, 0, 0}, 10, 2.0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, uint64(1), results[0].ID)
	assert.InDelta(t, 0.0, float64(results[0].Distance), 1e-6)
	assert.Equal(t, uint64(3), results[1].ID)
	assert.Equal(t, uint64(2), results[2].ID)
}

func TestFlatQueryValidation(t *testing.T) {
	ctx := context.Background()

	f, err := New(3)
	require.NoError(t, err)
	require.NoError(t, f.Insert(1, []float32{1, 0, 0}))

	t.Run("invalid k", func(t *testing.T) {
		_, err := f.Query(ctx, []float32{1, 0, 0}, 0, 2.0)
		assert.ErrorIs(t, err, index.ErrInvalidK)
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := f.Query(ctx, nil, 1, 2.0)
		assert.ErrorIs(t, err, index.ErrEmptyVector)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := f.Query(ctx, []float32{1, 0}, 1, 2.0)
		var dm *index.ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 3, dm.Expected)
	})

	t.Run("zero query", func(t *testing.T) {
		_, err := f.Query(ctx, []float32{0, 0, 0}, 1, 2.0)
		assert.ErrorIs(t, err, index.ErrZeroVector)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := f.Query(cancelled, []float32{1, 0, 0}, 1, 2.0)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFlatInsertValidation(t *testing.T) {
	f, err := New(3)
	require.NoError(t, err)

	assert.ErrorIs(t, f.Insert(1, nil), index.ErrEmptyVector)
	assert.ErrorIs(t, f.Insert(1, []float32{0, 0, 0}), index.ErrZeroVector)

	var dm *index.ErrDimensionMismatch
	assert.ErrorAs(t, f.Insert(1, []float32{1, 0}), &dm)
}

func TestFlatMaxDistanceIsExclusive(t *testing.T) {
	ctx := context.Background()

	f, err := New(2)
	require.NoError(t, err)

	// Orthogonal to the query: cosine distance exactly 1.0.
	require.NoError(t, f.Insert(1, []float32{0, 1}))

	results, err := f.Query(ctx, []float32{1, 0}, 1, 1.0)
	require.NoError(t, err)
	assert.Empty(t, results, "distance equal to the cutoff must be excluded")

	results, err = f.Query(ctx, []float32{1, 0}, 1, float32(math.Nextafter32(1.0, 2.0)))
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestFlatTieBreaksByID(t *testing.T) {
	ctx := context.Background()

	f, err := New(2)
	require.NoError(t, err)

	// Identical vectors inserted out of id order.
	require.NoError(t, f.Insert(7, []float32{1, 0}))
	require.NoError(t, f.Insert(2, []float32{1, 0}))
	require.NoError(t, f.Insert(5, []float32{1, 0}))

	results, err := f.Query(ctx, []float32{1, 0}, 10, 2.0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, uint64(2), results[0].ID)
	assert.Equal(t, uint64(5), results[1].ID)
	assert.Equal(t, uint64(7), results[2].ID)
}

func TestFlatDelete(t *testing.T) {
	ctx := context.Background()

	f, err := New(2)
	require.NoError(t, err)

	require.NoError(t, f.Insert(1, []float32{1, 0}))
	require.NoError(t, f.Insert(2, []float32{0, 1}))

	assert.True(t, f.Delete(1))
	assert.False(t, f.Delete(1))
	assert.False(t, f.Delete(99))
	assert.Equal(t, 1, f.Len())

	results, err := f.Query(ctx, []float32{1, 0}, 10, 2.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(2), results[0].ID)
}

func TestFlatInsertReplacesExistingID(t *testing.T) {
	ctx := context.Background()

	f, err := New(2)
	require.NoError(t, err)

	require.NoError(t, f.Insert(1, []float32{1, 0}))
	require.NoError(t, f.Insert(1, []float32{0, 1}))
	assert.Equal(t, 1, f.Len())

	results, err := f.Query(ctx, []float32{0, 1}, 1, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.0, float64(results[0].Distance), 1e-6)
}

func TestFlatRebuild(t *testing.T) {
	ctx := context.Background()

	f, err := New(2)
	require.NoError(t, err)
	require.NoError(t, f.Insert(1, []float32{1, 0}))

	src := &sliceSource{dim: 2, vectors: map[uint64][]float32{
		10: {1, 0},
		11: {0, 1},
		12: {1, 1},
	}}
	require.NoError(t, f.Rebuild(ctx, src))
	assert.Equal(t, 3, f.Len())

	// Vector from before the rebuild is gone.
	results, err := f.Query(ctx, []float32{1, 0}, 10, 2.0)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, uint64(1), r.ID)
	}
}

func TestFlatMatchesBruteForce(t *testing.T) {
	ctx := context.Background()
	const (
		dim = 16
		n   = 300
	)

	f, err := New(dim)
	require.NoError(t, err)

	rng := testutil.NewRNG(7)
	vecs := rng.UnitVectors(n, dim)
	ids := make([]uint64, n)
	for i, v := range vecs {
		ids[i] = uint64(i + 1)
		require.NoError(t, f.Insert(ids[i], v))
	}

	for range 20 {
		q := rng.UnitVector(dim)

		got, err := f.Query(ctx, q, 10, 2.0)
		require.NoError(t, err)

		want := testutil.BruteForceSearch(ids, vecs, q, 10, 2.0)
		require.Equal(t, len(want), len(got))
		for i := range want {
			assert.Equal(t, want[i].ID, got[i].ID)
			assert.InDelta(t, float64(want[i].Distance), float64(got[i].Distance), 1e-6)
		}
	}
}

func TestFlatQueryEmptyIndex(t *testing.T) {
	f, err := New(2)
	require.NoError(t, err)

	results, err := f.Query(context.Background(), []float32{1, 0}, 5, 2.0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFlatConcurrentReadsDuringWrites(t *testing.T) {
	ctx := context.Background()

	f, err := New(2)
	require.NoError(t, err)
	require.NoError(t, f.Insert(1, []float32{1, 0}))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		id := uint64(2)
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = f.Insert(id, []float32{0, 1})
			f.Delete(id)
			id++
		}
	}()

	for range 200 {
		results, err := f.Query(ctx, []float32{1, 0}, 5, 2.0)
		require.NoError(t, err)
		// ID 1 is never deleted, so every snapshot must contain it.
		found := false
		for _, r := range results {
			if r.ID == 1 {
				found = true
			}
		}
		assert.True(t, found)
	}

	close(stop)
	wg.Wait()
}
