package ivf

import (
	"math"
	"math/rand"
	"sort"

	"github.com/facegate/facematch/distance"
)

// trainKMeans trains k centroids from the given vectors using Lloyd's
// algorithm and returns them flattened (k * dim). Vectors are expected to be
// L2-normalized; centroids are means and are NOT re-normalized, which is fine
// for nearest-centroid routing since we only compare relative distances.
//
// Returns nil when there are fewer vectors than clusters.
func trainKMeans(vectors []float32, dim, k, maxIter int, rng *rand.Rand) []float32 {
	n := len(vectors) / dim
	if n < k || k <= 0 {
		return nil
	}

	centroids := make([]float32, k*dim)

	// Initialize centroids from distinct random data points.
	perm := rng.Perm(n)
	for i := range k {
		copy(centroids[i*dim:(i+1)*dim], vectors[perm[i]*dim:(perm[i]+1)*dim])
	}

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for range maxIter {
		changed := false

		// Assignment step
		for i := range n {
			vec := vectors[i*dim : (i+1)*dim]
			best := -1
			minDist := float32(math.MaxFloat32)

			for j := range k {
				center := centroids[j*dim : (j+1)*dim]
				d := distance.CosineNormalized(vec, center)
				if d < minDist {
					minDist = d
					best = j
				}
			}

			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed {
			break
		}

		// Update step
		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}

		for i := range n {
			cluster := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			for d := range dim {
				sums[cluster*dim+d] += vec[d]
			}
			counts[cluster]++
		}

		for j := range k {
			if counts[j] > 0 {
				scale := 1.0 / float32(counts[j])
				for d := range dim {
					centroids[j*dim+d] = sums[j*dim+d] * scale
				}
			} else {
				// Re-seed an empty cluster with a random point.
				idx := rng.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
			}
		}
	}

	return centroids
}

// assignCluster finds the closest centroid for a vector.
func assignCluster(vec, centroids []float32, dim int) int {
	k := len(centroids) / dim

	best := 0
	minDist := float32(math.MaxFloat32)
	for j := range k {
		center := centroids[j*dim : (j+1)*dim]
		d := distance.CosineNormalized(vec, center)
		if d < minDist {
			minDist = d
			best = j
		}
	}
	return best
}

type centroidDist struct {
	id   int
	dist float32
}

// closestCentroids returns the indices of the n closest centroids to the
// query vector, nearest first.
func closestCentroids(query, centroids []float32, dim, n int) []int {
	k := len(centroids) / dim
	if n > k {
		n = k
	}

	dists := make([]centroidDist, k)
	for i := range k {
		center := centroids[i*dim : (i+1)*dim]
		dists[i] = centroidDist{id: i, dist: distance.CosineNormalized(query, center)}
	}

	sort.Slice(dists, func(i, j int) bool {
		return dists[i].dist < dists[j].dist
	})

	result := make([]int, n)
	for i := range n {
		result[i] = dists[i].id
	}
	return result
}
