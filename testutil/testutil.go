// Package testutil provides testing utilities for facematch.
//
// This package is intended for use in tests and benchmarks only. It provides
// helpers for generating synthetic face embeddings, computing exact nearest
// neighbors, and verifying search recall.
package testutil

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/facegate/facematch/distance"
	"github.com/facegate/facematch/index"
)

// RNG encapsulates a seeded random number generator.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// UnitVector generates a single L2-normalized random vector.
// Gaussian components give a uniform distribution on the hypersphere.
func (r *RNG) UnitVector(dimensions int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unitVectorLocked(dimensions)
}

// UnitVectors generates num L2-normalized random vectors.
func (r *RNG) UnitVectors(num, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range num {
		vectors[i] = r.unitVectorLocked(dimensions)
	}
	return vectors
}

func (r *RNG) unitVectorLocked(dimensions int) []float32 {
	vec := make([]float32, dimensions)
	var norm float64
	for j := range vec {
		v := r.rand.NormFloat64()
		vec[j] = float32(v)
		norm += v * v
	}

	if norm == 0 {
		norm = 1
	}

	inv := float32(1.0 / math.Sqrt(norm))
	for j := range vec {
		vec[j] *= inv
	}
	return vec
}

// ClusteredVectors generates vectors clustered around random unit centroids,
// mimicking how face embeddings of distinct people group in embedding space.
// spread controls the Gaussian noise around each centroid (0.05 = tight
// same-person clusters, 0.3 = loose).
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	centroids := r.UnitVectors(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range num {
		centroid := centroids[i%clusters]
		vec := make([]float32, dim)
		for j := range dim {
			vec[j] = centroid[j] + float32(r.rand.NormFloat64())*spread
		}
		vectors[i] = vec
	}
	return vectors
}

// Perturb returns a copy of vec with Gaussian noise added, simulating a new
// photo of the same person.
func (r *RNG) Perturb(vec []float32, spread float32) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float32, len(vec))
	for j := range vec {
		out[j] = vec[j] + float32(r.rand.NormFloat64())*spread
	}
	return out
}

// BruteForceSearch performs an exact cosine-distance scan over (id, vector)
// pairs for ground truth. It applies the same strict maxDistance cutoff and
// (distance, id) ordering as the production indexes.
func BruteForceSearch(ids []uint64, vectors [][]float32, query []float32, k int, maxDistance float32) []index.SearchResult {
	q, ok := distance.NormalizeL2Copy(query)
	if !ok {
		return nil
	}

	results := make([]index.SearchResult, 0, len(vectors))
	for i, v := range vectors {
		nv, ok := distance.NormalizeL2Copy(v)
		if !ok {
			continue
		}
		d := distance.CosineNormalized(q, nv)
		if d >= maxDistance {
			continue
		}
		results = append(results, index.SearchResult{ID: ids[i], Distance: d})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}

// ComputeRecall computes recall@k by comparing approximate results against
// ground truth.
func ComputeRecall(groundTruth, approximate []index.SearchResult) float64 {
	if len(groundTruth) == 0 || len(approximate) == 0 {
		if len(groundTruth) == 0 && len(approximate) == 0 {
			return 1.0
		}
		return 0.0
	}

	k := min(len(approximate), len(groundTruth))

	truthSet := make(map[uint64]struct{}, k)
	for i := range k {
		truthSet[groundTruth[i].ID] = struct{}{}
	}

	hits := 0
	for _, r := range approximate {
		if _, ok := truthSet[r.ID]; ok {
			hits++
		}
	}

	return float64(hits) / float64(k)
}
