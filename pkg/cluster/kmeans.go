// pkg/cluster/kmeans.go
package cluster

import (
	"fmt"
	"math"
	"math/rand"
)

// kmeansMaxIter bounds the Lloyd iterations per fit
const kmeansMaxIter = 300

// KMeans partitions points into K clusters with k-means++ seeding followed
// by Lloyd iterations. The same seed always yields the same partition
type KMeans struct {
	K         int
	Seed      int64
	Centroids [][]float64
}

// NewKMeans creates an unfitted model
func NewKMeans(k int, seed int64) *KMeans {
	return &KMeans{K: k, Seed: seed}
}

// Fit clusters the matrix and returns one cluster id per row
func (m *KMeans) Fit(x [][]float64) ([]int, error) {
	if m.K < 1 {
		return nil, fmt.Errorf("cluster count must be positive, got %d", m.K)
	}
	if len(x) < m.K {
		return nil, fmt.Errorf("cannot fit %d clusters on %d points", m.K, len(x))
	}

	rng := rand.New(rand.NewSource(m.Seed))
	m.Centroids = m.seedCentroids(x, rng)

	assignments := make([]int, len(x))
	for i := range assignments {
		assignments[i] = -1
	}

	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i, point := range x {
			best := nearestCentroid(point, m.Centroids)
			if best != assignments[i] {
				assignments[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		m.recomputeCentroids(x, assignments)
	}

	return assignments, nil
}

// seedCentroids runs k-means++: the first centroid is uniform, each later
// one is drawn with probability proportional to its squared distance from
// the nearest chosen centroid
func (m *KMeans) seedCentroids(x [][]float64, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, m.K)
	centroids = append(centroids, copyPoint(x[rng.Intn(len(x))]))

	minSq := make([]float64, len(x))
	for len(centroids) < m.K {
		total := 0.0
		for i, point := range x {
			minSq[i] = squaredDistance(point, centroids[0])
			for _, c := range centroids[1:] {
				if d := squaredDistance(point, c); d < minSq[i] {
					minSq[i] = d
				}
			}
			total += minSq[i]
		}

		if total == 0 {
			// All remaining points coincide with a centroid
			centroids = append(centroids, copyPoint(x[rng.Intn(len(x))]))
			continue
		}

		target := rng.Float64() * total
		cumulative := 0.0
		chosen := len(x) - 1
		for i := range x {
			cumulative += minSq[i]
			if cumulative >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, copyPoint(x[chosen]))
	}

	return centroids
}

// recomputeCentroids moves each centroid to its members' mean. An empty
// cluster steals the point farthest from its current centroid
func (m *KMeans) recomputeCentroids(x [][]float64, assignments []int) {
	d := len(x[0])
	sums := make([][]float64, m.K)
	counts := make([]int, m.K)
	for k := range sums {
		sums[k] = make([]float64, d)
	}

	for i, point := range x {
		k := assignments[i]
		counts[k]++
		for j, v := range point {
			sums[k][j] += v
		}
	}

	for k := 0; k < m.K; k++ {
		if counts[k] == 0 {
			far := farthestPoint(x, assignments, m.Centroids)
			assignments[far] = k
			m.Centroids[k] = copyPoint(x[far])
			continue
		}
		for j := 0; j < d; j++ {
			m.Centroids[k][j] = sums[k][j] / float64(counts[k])
		}
	}
}

func nearestCentroid(point []float64, centroids [][]float64) int {
	best := 0
	bestDist := squaredDistance(point, centroids[0])
	for k := 1; k < len(centroids); k++ {
		if d := squaredDistance(point, centroids[k]); d < bestDist {
			bestDist = d
			best = k
		}
	}
	return best
}

func farthestPoint(x [][]float64, assignments []int, centroids [][]float64) int {
	far := 0
	farDist := -1.0
	for i, point := range x {
		d := squaredDistance(point, centroids[assignments[i]])
		if d > farDist {
			farDist = d
			far = i
		}
	}
	return far
}

func squaredDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

func euclideanDistance(a, b []float64) float64 {
	return math.Sqrt(squaredDistance(a, b))
}

func copyPoint(p []float64) []float64 {
	out := make([]float64, len(p))
	copy(out, p)
	return out
}
