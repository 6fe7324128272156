// Package distance provides the vector distance kernels used by the matching
// engine. Cosine distance (1 - cosine similarity, range [0,2]) is the
// system-wide metric: the confidence thresholds and the match cutoff are both
// defined in terms of it.
package distance

import (
	"math"
	"slices"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Magnitude calculates the L2 norm of a vector.
func Magnitude(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns 0 for zero-norm inputs.
// Assumes vectors are the same length (caller's responsibility).
func CosineSimilarity(a, b []float32) float32 {
	ma := Magnitude(a)
	mb := Magnitude(b)
	if ma == 0 || mb == 0 {
		return 0
	}
	return Dot(a, b) / (ma * mb)
}

// Cosine calculates the cosine distance between two vectors,
// defined as 1 - CosineSimilarity. Range [0, 2]: 0 means identical
// direction, 2 means exactly opposite.
func Cosine(a, b []float32) float32 {
	return 1 - CosineSimilarity(a, b)
}

// CosineNormalized calculates the cosine distance between two vectors that
// are already L2-normalized. This is the hot-path form used by the indexes:
// for unit vectors, 1 - dot(a, b) equals the cosine distance.
func CosineNormalized(a, b []float32) float32 {
	return 1 - Dot(a, b)
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / float32(math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}
