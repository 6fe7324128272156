package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	assert.Equal(t, float32(32), Dot([]float32{1, 2, 3}, []float32{4, 5, 6}))
	assert.Equal(t, float32(0), Dot([]float32{1, 0}, []float32{0, 1}))
}

func TestCosine(t *testing.T) {
	t.Run("identical direction", func(t *testing.T) {
		assert.InDelta(t, 0.0, Cosine([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-6)
	})

	t.Run("orthogonal", func(t *testing.T) {
		assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	})

	t.Run("opposite", func(t *testing.T) {
		assert.InDelta(t, 2.0, Cosine([]float32{1, 1}, []float32{-1, -1}), 1e-6)
	})

	t.Run("zero vector", func(t *testing.T) {
		// Zero-norm input yields similarity 0, distance 1.
		assert.InDelta(t, 1.0, Cosine([]float32{0, 0}, []float32{1, 2}), 1e-6)
	})
}

func TestCosineNormalized(t *testing.T) {
	a, ok := NormalizeL2Copy([]float32{3, 4})
	require.True(t, ok)
	b, ok := NormalizeL2Copy([]float32{4, 3})
	require.True(t, ok)

	// Must agree with the general form on normalized inputs.
	assert.InDelta(t, float64(Cosine(a, b)), float64(CosineNormalized(a, b)), 1e-6)
}

func TestNormalizeL2(t *testing.T) {
	t.Run("in place", func(t *testing.T) {
		v := []float32{3, 4}
		require.True(t, NormalizeL2InPlace(v))
		assert.InDelta(t, 0.6, v[0], 1e-6)
		assert.InDelta(t, 0.8, v[1], 1e-6)
		assert.InDelta(t, 1.0, Magnitude(v), 1e-6)
	})

	t.Run("zero norm", func(t *testing.T) {
		require.False(t, NormalizeL2InPlace([]float32{0, 0, 0}))

		_, ok := NormalizeL2Copy([]float32{0, 0})
		require.False(t, ok)
	})

	t.Run("copy does not mutate source", func(t *testing.T) {
		src := []float32{3, 4}
		dst, ok := NormalizeL2Copy(src)
		require.True(t, ok)
		assert.Equal(t, []float32{3, 4}, src)
		assert.NotEqual(t, src, dst)
	})
}
