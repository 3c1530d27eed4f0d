// pkg/anomaly/isolation.go
package anomaly

import (
	"fmt"
	"math"
	"math/rand"
)

// eulerMascheroni is used by the average unsuccessful-search length of a
// binary search tree, the normalizer in the isolation forest score
const eulerMascheroni = 0.5772156649

// Native prediction polarity: positive for inliers, negative for outliers
const (
	PredictInlier  = 1
	PredictOutlier = -1
)

type isoNode struct {
	feature int
	split   float64
	left    int
	right   int
	size    int // external nodes only: training points that landed here
}

type isoTree struct {
	nodes []isoNode
}

// IsolationForest isolates points by recursive random splits. Anomalies
// need fewer splits to isolate, so shorter average paths mean higher scores.
// Each tree derives its generator from Seed plus the tree index, making a
// fitted forest independent of scheduling
type IsolationForest struct {
	numTrees    int
	subsample   int
	seed        int64
	trees       []isoTree
	sampleSize  int // realized subsample after clamping to the population
	heightLimit int
}

// NewIsolationForest creates an unfitted forest. subsample is clamped to the
// population size at fit time
func NewIsolationForest(numTrees, subsample int, seed int64) *IsolationForest {
	return &IsolationForest{numTrees: numTrees, subsample: subsample, seed: seed}
}

// Fit grows the forest over the feature matrix. Each tree sees its own
// random subsample drawn without replacement
func (f *IsolationForest) Fit(x [][]float64) error {
	if len(x) == 0 {
		return fmt.Errorf("feature matrix is empty")
	}
	if f.numTrees < 1 {
		return fmt.Errorf("forest needs at least one tree, got %d", f.numTrees)
	}

	f.sampleSize = f.subsample
	if f.sampleSize > len(x) {
		f.sampleSize = len(x)
	}
	if f.sampleSize < 1 {
		return fmt.Errorf("subsample must be positive, got %d", f.subsample)
	}
	f.heightLimit = int(math.Ceil(math.Log2(float64(f.sampleSize))))

	f.trees = make([]isoTree, f.numTrees)
	for i := 0; i < f.numTrees; i++ {
		rng := rand.New(rand.NewSource(f.seed + int64(i)))

		sample := rng.Perm(len(x))[:f.sampleSize]
		builder := &isoBuilder{x: x, rng: rng, heightLimit: f.heightLimit}
		builder.build(sample, 0)
		f.trees[i] = isoTree{nodes: builder.nodes}
	}

	return nil
}

// Score returns the anomaly score for one point, in (0, 1]. Scores near 1
// mean the point isolates quickly
func (f *IsolationForest) Score(x []float64) float64 {
	mean := 0.0
	for t := range f.trees {
		mean += f.pathLength(&f.trees[t], x)
	}
	mean /= float64(len(f.trees))

	return math.Exp2(-mean / averagePathLength(f.sampleSize))
}

// Scores scores a whole matrix
func (f *IsolationForest) Scores(x [][]float64) []float64 {
	scores := make([]float64, len(x))
	for i, row := range x {
		scores[i] = f.Score(row)
	}
	return scores
}

// pathLength walks one tree and returns the number of edges traversed plus
// the average-search adjustment for the external node's size
func (f *IsolationForest) pathLength(t *isoTree, x []float64) float64 {
	node := 0
	edges := 0
	for t.nodes[node].left >= 0 {
		if x[t.nodes[node].feature] < t.nodes[node].split {
			node = t.nodes[node].left
		} else {
			node = t.nodes[node].right
		}
		edges++
	}
	return float64(edges) + averagePathLength(t.nodes[node].size)
}

type isoBuilder struct {
	x           [][]float64
	rng         *rand.Rand
	heightLimit int
	nodes       []isoNode
}

func (b *isoBuilder) build(indices []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, isoNode{feature: -1, left: -1, right: -1, size: len(indices)})

	if depth >= b.heightLimit || len(indices) <= 1 {
		return id
	}

	feature, split, ok := b.randomSplit(indices)
	if !ok {
		return id
	}

	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, i := range indices {
		if b.x[i][feature] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	leftID := b.build(left, depth+1)
	rightID := b.build(right, depth+1)

	b.nodes[id].feature = feature
	b.nodes[id].split = split
	b.nodes[id].left = leftID
	b.nodes[id].right = rightID
	return id
}

// randomSplit picks a random feature with spread and a uniform split value
// inside its range. Constant blocks cannot be split and become external
// nodes
func (b *isoBuilder) randomSplit(indices []int) (int, float64, bool) {
	numFeatures := len(b.x[indices[0]])

	candidates := make([]int, 0, numFeatures)
	lows := make([]float64, numFeatures)
	highs := make([]float64, numFeatures)
	for j := 0; j < numFeatures; j++ {
		low, high := b.x[indices[0]][j], b.x[indices[0]][j]
		for _, i := range indices[1:] {
			v := b.x[i][j]
			if v < low {
				low = v
			}
			if v > high {
				high = v
			}
		}
		if high > low {
			candidates = append(candidates, j)
			lows[j], highs[j] = low, high
		}
	}
	if len(candidates) == 0 {
		return 0, 0, false
	}

	feature := candidates[b.rng.Intn(len(candidates))]
	split := lows[feature] + b.rng.Float64()*(highs[feature]-lows[feature])
	return feature, split, true
}

// averagePathLength is c(n), the expected unsuccessful-search path length in
// a binary search tree over n points
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		nf := float64(n)
		harmonic := math.Log(nf-1) + eulerMascheroni
		return 2*harmonic - 2*(nf-1)/nf
	}
}
