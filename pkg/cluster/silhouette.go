// pkg/cluster/silhouette.go
package cluster

// Silhouette returns the mean silhouette coefficient over all points, in
// [-1, 1]. Returns 0 when fewer than two clusters exist. Points in singleton
// clusters contribute 0
func Silhouette(x [][]float64, labels []int) float64 {
	byCluster := make(map[int][]int)
	for i, label := range labels {
		byCluster[label] = append(byCluster[label], i)
	}
	if len(byCluster) < 2 {
		return 0
	}

	total := 0.0
	for i, label := range labels {
		own := byCluster[label]
		if len(own) < 2 {
			continue
		}

		// Mean distance to the rest of the point's own cluster
		a := 0.0
		for _, j := range own {
			if j != i {
				a += euclideanDistance(x[i], x[j])
			}
		}
		a /= float64(len(own) - 1)

		// Mean distance to the nearest other cluster
		b := -1.0
		for other, members := range byCluster {
			if other == label {
				continue
			}
			mean := 0.0
			for _, j := range members {
				mean += euclideanDistance(x[i], x[j])
			}
			mean /= float64(len(members))
			if b < 0 || mean < b {
				b = mean
			}
		}

		denom := a
		if b > denom {
			denom = b
		}
		if denom > 0 {
			total += (b - a) / denom
		}
	}

	return total / float64(len(labels))
}
