// pkg/cluster/dbscan.go
package cluster

// NoiseLabel marks points that belong to no density cluster
const NoiseLabel = -1

// DBSCAN groups points that are density-reachable within Eps. A point is a
// core point when at least MinSamples points, itself included, sit within
// Eps. Points are visited in index order, so the labeling is deterministic
type DBSCAN struct {
	Eps        float64
	MinSamples int
}

// NewDBSCAN creates a density clusterer
func NewDBSCAN(eps float64, minSamples int) *DBSCAN {
	return &DBSCAN{Eps: eps, MinSamples: minSamples}
}

// Fit labels every row. Noise points get NoiseLabel
func (d *DBSCAN) Fit(x [][]float64) []int {
	labels := make([]int, len(x))
	visited := make([]bool, len(x))
	for i := range labels {
		labels[i] = NoiseLabel
	}

	epsSq := d.Eps * d.Eps
	next := 0

	for i := range x {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := d.regionQuery(x, i, epsSq)
		if len(neighbors) < d.MinSamples {
			continue
		}

		labels[i] = next
		d.expand(x, neighbors, next, epsSq, labels, visited)
		next++
	}

	return labels
}

// expand grows one cluster from a core point's neighborhood. Border points
// join the cluster but only core points extend the frontier
func (d *DBSCAN) expand(x [][]float64, frontier []int, cluster int, epsSq float64, labels []int, visited []bool) {
	for cursor := 0; cursor < len(frontier); cursor++ {
		q := frontier[cursor]

		if !visited[q] {
			visited[q] = true
			neighbors := d.regionQuery(x, q, epsSq)
			if len(neighbors) >= d.MinSamples {
				frontier = append(frontier, neighbors...)
			}
		}

		if labels[q] == NoiseLabel {
			labels[q] = cluster
		}
	}
}

// regionQuery returns indices within Eps of point i, including i itself
func (d *DBSCAN) regionQuery(x [][]float64, i int, epsSq float64) []int {
	var neighbors []int
	for j := range x {
		if squaredDistance(x[i], x[j]) <= epsSq {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}
