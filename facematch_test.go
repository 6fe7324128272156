package facematch

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facegate/facematch/confidence"
	"github.com/facegate/facematch/extractor"
	"github.com/facegate/facematch/identity"
	"github.com/facegate/facematch/index"
	"github.com/facegate/facematch/index/flat"
	"github.com/facegate/facematch/persistence"
	"github.com/facegate/facematch/testutil"
)

func TestRegisterAndRecognizeSelf(t *testing.T) {
	ctx := context.Background()
	e := Exact(3).MustBuild()
	defer e.Close()

	rec, err := e.Register(ctx, "alice", []float32{1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, identity.ID(1), rec.ID)

	out, err := e.Recognize(ctx, []float32{1, 0, 0})
	require.NoError(t, err)
	require.True(t, out.Matched)

	best, ok := out.Best()
	require.True(t, ok)
	assert.Equal(t, rec.ID, best.ID)
	assert.Equal(t, "alice", best.Name)
	assert.InDelta(t, 0.0, float64(best.Distance), 1e-6)
	assert.Equal(t, confidence.LevelHigh, best.Confidence)
}

func TestRecognizeEmptyGalleryIsNoMatch(t *testing.T) {
	ctx := context.Background()
	e := Exact(3).MustBuild()
	defer e.Close()

	out, err := e.Recognize(ctx, []float32{1, 0, 0})
	require.NoError(t, err, "an empty gallery is a NoMatch outcome, not an error")
	assert.False(t, out.Matched)
	assert.Empty(t, out.Matches)

	_, ok := out.Best()
	assert.False(t, ok)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	e := Exact(3).MustBuild()
	defer e.Close()

	t.Run("duplicate name", func(t *testing.T) {
		_, err := e.Register(ctx, "bob", []float32{1, 0, 0})
		require.NoError(t, err)

		_, err = e.Register(ctx, "bob", []float32{0, 1, 0})
		assert.ErrorIs(t, err, ErrDuplicateIdentity)
		assert.Equal(t, 1, e.Count())
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := e.Register(ctx, "", []float32{1, 0, 0})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := e.Register(ctx, "carol", []float32{1, 0})
		assert.ErrorIs(t, err, ErrInvalidInput)

		var dm *ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 3, dm.Expected)
		assert.Equal(t, 2, dm.Actual)
	})

	t.Run("zero embedding", func(t *testing.T) {
		_, err := e.Register(ctx, "dave", []float32{0, 0, 0})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestRecognizeThresholdIsExclusive(t *testing.T) {
	ctx := context.Background()
	e := Exact(2).MustBuild()
	defer e.Close()

	// Orthogonal to the probe: cosine distance exactly 1.0.
	_, err := e.Register(ctx, "alice", []float32{0, 1})
	require.NoError(t, err)

	out, err := e.Recognize(ctx, []float32{1, 0}, WithThreshold(1.0))
	require.NoError(t, err)
	assert.False(t, out.Matched, "distance equal to the cutoff must be excluded")

	out, err = e.Recognize(ctx, []float32{1, 0}, WithThreshold(1.001))
	require.NoError(t, err)
	assert.True(t, out.Matched)
}

func TestRecognizeConfidenceBands(t *testing.T) {
	ctx := context.Background()
	e := Exact(2).MustBuild()
	defer e.Close()

	_, err := e.Register(ctx, "alice", []float32{1, 0})
	require.NoError(t, err)

	// Probe at angle θ against the stored vector: distance = 1 - cos(θ).
	tests := []struct {
		cos  float32
		want confidence.Level
	}{
		{0.99, confidence.LevelHigh},   // distance 0.01
		{0.70, confidence.LevelHigh},   // distance 0.30
		{0.60, confidence.LevelMedium}, // distance 0.40
	}
	for _, tt := range tests {
		sin := sqrt32(1 - tt.cos*tt.cos)
		out, err := e.Recognize(ctx, []float32{tt.cos, sin})
		require.NoError(t, err)
		require.True(t, out.Matched, "cos %g", tt.cos)
		assert.Equal(t, tt.want, out.Matches[0].Confidence, "cos %g", tt.cos)
	}

	// Distance 0.5 is beyond the default 0.45 cutoff.
	out, err := e.Recognize(ctx, []float32{0.5, sqrt32(0.75)})
	require.NoError(t, err)
	assert.False(t, out.Matched)
}

func TestRecognizeOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	e := Exact(2).MustBuild()
	defer e.Close()

	_, err := e.Register(ctx, "far", []float32{0.8, 0.6})
	require.NoError(t, err)
	_, err = e.Register(ctx, "near", []float32{0.99, sqrt32(1 - 0.99*0.99)})
	require.NoError(t, err)
	_, err = e.Register(ctx, "mid", []float32{0.9, sqrt32(1 - 0.81)})
	require.NoError(t, err)

	out, err := e.Recognize(ctx, []float32{1, 0}, WithLimit(3))
	require.NoError(t, err)
	require.Len(t, out.Matches, 3)
	assert.Equal(t, "near", out.Matches[0].Name)
	assert.Equal(t, "mid", out.Matches[1].Name)
	assert.Equal(t, "far", out.Matches[2].Name)

	// Default limit returns only the best candidate.
	out, err = e.Recognize(ctx, []float32{1, 0})
	require.NoError(t, err)
	assert.Len(t, out.Matches, 1)
}

func TestConcurrentRegisterSameName(t *testing.T) {
	ctx := context.Background()
	e := Exact(3).MustBuild()
	defer e.Close()

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.Register(ctx, "alice", []float32{1, 0, 0})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateIdentity)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, e.Count())
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	e := Exact(3).MustBuild()
	defer e.Close()

	rec, err := e.Register(ctx, "alice", []float32{1, 0, 0})
	require.NoError(t, err)

	require.NoError(t, e.Delete(ctx, rec.ID))

	out, err := e.Recognize(ctx, []float32{1, 0, 0})
	require.NoError(t, err)
	assert.False(t, out.Matched)

	assert.ErrorIs(t, e.Delete(ctx, rec.ID), ErrNotFound)
	_, err = e.Get(rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The name is free again but the id is never reused.
	rec2, err := e.Register(ctx, "alice", []float32{1, 0, 0})
	require.NoError(t, err)
	assert.Greater(t, rec2.ID, rec.ID)
}

func TestLookups(t *testing.T) {
	ctx := context.Background()
	e := Exact(3).MustBuild()
	defer e.Close()

	for i, name := range []string{"a", "b", "c"} {
		_, err := e.Register(ctx, name, []float32{float32(i + 1), 0, 0})
		require.NoError(t, err)
	}

	rec, err := e.FindByName("b")
	require.NoError(t, err)
	assert.Equal(t, identity.ID(2), rec.ID)

	_, err = e.FindByName("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	got := e.List(1, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Name)
	assert.Equal(t, "c", got[1].Name)
	assert.Equal(t, 3, e.Count())
}

func TestRestartReconstruction(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gallery.fm")

	backend, err := persistence.NewFile(path)
	require.NoError(t, err)

	e, err := Exact(3).Backend(backend).Build()
	require.NoError(t, err)

	alice, err := e.Register(ctx, "alice", []float32{1, 0, 0})
	require.NoError(t, err)
	bob, err := e.Register(ctx, "bob", []float32{0, 1, 0})
	require.NoError(t, err)
	require.NoError(t, e.Delete(ctx, bob.ID))
	require.NoError(t, e.Close())

	// Restart: store and index come back from the snapshot alone.
	backend2, err := persistence.NewFile(path)
	require.NoError(t, err)
	e2, err := Exact(3).Backend(backend2).Build()
	require.NoError(t, err)
	defer e2.Close()

	assert.Equal(t, 1, e2.Count())

	out, err := e2.Recognize(ctx, []float32{1, 0, 0})
	require.NoError(t, err)
	require.True(t, out.Matched)
	assert.Equal(t, alice.ID, out.Matches[0].ID)

	// The id counter resumes past the highest restored id.
	carol, err := e2.Register(ctx, "carol", []float32{0, 0, 1})
	require.NoError(t, err)
	assert.Greater(t, carol.ID, alice.ID)
}

func TestImageOperations(t *testing.T) {
	ctx := context.Background()

	ex := extractor.Func{
		Dim: 3,
		Fn: func(_ context.Context, image []byte) ([]float32, error) {
			switch string(image) {
			case "alice.jpg":
				return []float32{1, 0, 0}, nil
			case "empty.jpg":
				return nil, extractor.ErrNoFaceDetected
			case "crowd.jpg":
				return nil, extractor.ErrMultipleFacesDetected
			default:
				return nil, extractor.ErrInvalidImage
			}
		},
	}

	e, err := Exact(3).Extractor(ex).Build()
	require.NoError(t, err)
	defer e.Close()

	rec, err := e.RegisterImage(ctx, "alice", []byte("alice.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Name)

	out, err := e.RecognizeImage(ctx, []byte("alice.jpg"))
	require.NoError(t, err)
	assert.True(t, out.Matched)

	t.Run("extractor errors keep their sentinel", func(t *testing.T) {
		_, err := e.RecognizeImage(ctx, []byte("empty.jpg"))
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.ErrorIs(t, err, extractor.ErrNoFaceDetected)

		_, err = e.RegisterImage(ctx, "x", []byte("crowd.jpg"))
		assert.ErrorIs(t, err, extractor.ErrMultipleFacesDetected)

		_, err = e.RecognizeImage(ctx, []byte("noise.bin"))
		assert.ErrorIs(t, err, extractor.ErrInvalidImage)
	})

	t.Run("without extractor", func(t *testing.T) {
		plain := Exact(3).MustBuild()
		defer plain.Close()

		_, err := plain.RegisterImage(ctx, "alice", []byte("alice.jpg"))
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestStatsAndRebuild(t *testing.T) {
	ctx := context.Background()

	e, err := Clustered(8).Lists(2).Probes(2).Seed(1).Build()
	require.NoError(t, err)
	defer e.Close()

	rng := testutil.NewRNG(1)
	for i, vec := range rng.UnitVectors(10, 8) {
		_, err := e.Register(ctx, fmt.Sprintf("person-%d", i), vec)
		require.NoError(t, err)
	}

	s := e.Stats()
	assert.Equal(t, 10, s.Identities)
	assert.Equal(t, 8, s.Dimension)
	assert.Equal(t, "ivf", s.IndexName)
	assert.Equal(t, 10, s.IndexedVectors)
	assert.False(t, s.Trained)
	assert.Equal(t, 10, s.PendingVectors)

	require.NoError(t, e.Rebuild(ctx))

	s = e.Stats()
	assert.True(t, s.Trained)
	assert.Equal(t, 0, s.PendingVectors)
	assert.Equal(t, int64(1), s.Rebuilds)
}

func TestAutoRebuild(t *testing.T) {
	ctx := context.Background()

	e, err := Clustered(8).Lists(2).Probes(2).AutoRebuild(4, 0).Build()
	require.NoError(t, err)
	defer e.Close()

	rng := testutil.NewRNG(2)
	for i, vec := range rng.UnitVectors(8, 8) {
		_, err := e.Register(ctx, fmt.Sprintf("person-%d", i), vec)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		return e.Stats().Rebuilds >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

// gatedRebuildIndex signals when a rebuild starts and holds it open until
// released, so tests can observe the engine mid-rebuild.
type gatedRebuildIndex struct {
	*flat.Flat
	started chan struct{}
	release chan struct{}
}

func (g *gatedRebuildIndex) Rebuild(ctx context.Context, src index.Source) error {
	close(g.started)
	<-g.release
	return g.Flat.Rebuild(ctx, src)
}

func TestFailFastRejectsQueriesDuringRebuild(t *testing.T) {
	ctx := context.Background()

	inner, err := flat.New(3)
	require.NoError(t, err)
	idx := &gatedRebuildIndex{
		Flat:    inner,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	e, err := New(3, idx, WithRebuildPolicy(FailFast))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Register(ctx, "alice", []float32{1, 0, 0})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Rebuild(ctx) }()
	<-idx.started

	_, err = e.Recognize(ctx, []float32{1, 0, 0})
	assert.ErrorIs(t, err, ErrIndexUnavailable)

	close(idx.release)
	require.NoError(t, <-done)

	// Queries resume once the rebuild completes.
	out, err := e.Recognize(ctx, []float32{1, 0, 0})
	require.NoError(t, err)
	assert.True(t, out.Matched)
}

func TestClosedEngine(t *testing.T) {
	ctx := context.Background()
	e := Exact(3).MustBuild()
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Register(ctx, "alice", []float32{1, 0, 0})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = e.Recognize(ctx, []float32{1, 0, 0})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, e.Delete(ctx, 1), ErrClosed)
	assert.ErrorIs(t, e.Rebuild(ctx), ErrClosed)
	_, err = e.Get(1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = e.FindByName("alice")
	assert.ErrorIs(t, err, ErrClosed)

	assert.Nil(t, e.List(0, 10))
	assert.Zero(t, e.Count())
	assert.Equal(t, Stats{}, e.Stats())
}

func TestNewValidation(t *testing.T) {
	t.Run("bad thresholds", func(t *testing.T) {
		_, err := Exact(3).Thresholds(confidence.Thresholds{High: 0.5, Medium: 0.4}).Build()
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("bad match threshold", func(t *testing.T) {
		_, err := Exact(3).MatchThreshold(0).Build()
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("bad dimension", func(t *testing.T) {
		_, err := Exact(0).Build()
		assert.Error(t, err)
	})
}

func sqrt32(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}
