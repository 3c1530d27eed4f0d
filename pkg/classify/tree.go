// pkg/classify/tree.go
package classify

import (
	"math/rand"
	"sort"
)

// minImpurityGain is the smallest impurity improvement worth splitting on.
// Splits at or below it become leaves, which also bounds recursion on
// constant feature blocks
const minImpurityGain = 1e-12

// TreeNode is one node of a fitted decision tree. Leaves carry Feature -1.
// Value is the positive-class share of the training rows that reached the
// node and is recorded on internal nodes too, so path attribution can read
// the mean at every step
type TreeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

// DecisionTree is a CART classifier over a flat node array. Node 0 is the
// root; children always have larger indices
type DecisionTree struct {
	Nodes []TreeNode `json:"nodes"`
}

// PredictProb returns the positive-class probability for one feature vector
func (t *DecisionTree) PredictProb(x []float64) float64 {
	node := 0
	for t.Nodes[node].Feature >= 0 {
		if x[t.Nodes[node].Feature] <= t.Nodes[node].Threshold {
			node = t.Nodes[node].Left
		} else {
			node = t.Nodes[node].Right
		}
	}
	return t.Nodes[node].Value
}

// DecisionPath returns the node indices visited for one feature vector, from
// the root down to the leaf
func (t *DecisionTree) DecisionPath(x []float64) []int {
	path := []int{0}
	node := 0
	for t.Nodes[node].Feature >= 0 {
		if x[t.Nodes[node].Feature] <= t.Nodes[node].Threshold {
			node = t.Nodes[node].Left
		} else {
			node = t.Nodes[node].Right
		}
		path = append(path, node)
	}
	return path
}

type treeBuilder struct {
	x           [][]float64
	y           []int
	maxFeatures int
	rng         *rand.Rand
	nodes       []TreeNode
}

// growTree fits a CART tree on the rows named by indices. maxFeatures
// bounds how many features each split considers
func growTree(x [][]float64, y []int, indices []int, maxFeatures int, rng *rand.Rand) DecisionTree {
	b := &treeBuilder{x: x, y: y, maxFeatures: maxFeatures, rng: rng}
	b.build(indices)
	return DecisionTree{Nodes: b.nodes}
}

func (b *treeBuilder) build(indices []int) int {
	value := positiveShare(b.y, indices)
	id := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{Feature: -1, Left: -1, Right: -1, Value: value})

	if len(indices) < 2 || value == 0 || value == 1 {
		return id
	}

	feature, threshold, ok := b.bestSplit(indices)
	if !ok {
		return id
	}

	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, i := range indices {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	leftID := b.build(left)
	rightID := b.build(right)

	b.nodes[id].Feature = feature
	b.nodes[id].Threshold = threshold
	b.nodes[id].Left = leftID
	b.nodes[id].Right = rightID
	return id
}

// bestSplit searches a random feature subset for the threshold with the
// lowest weighted Gini impurity. Thresholds are midpoints between adjacent
// distinct values, so prediction is insensitive to which side a training
// point sat on
func (b *treeBuilder) bestSplit(indices []int) (int, float64, bool) {
	total := len(indices)
	totalPos := 0
	for _, i := range indices {
		totalPos += b.y[i]
	}
	parent := giniImpurity(totalPos, total)

	bestImpurity := parent - minImpurityGain
	bestFeature := -1
	bestThreshold := 0.0

	numFeatures := len(b.x[indices[0]])
	for _, feature := range b.rng.Perm(numFeatures)[:b.maxFeatures] {
		ordered := make([]int, len(indices))
		copy(ordered, indices)
		sort.Slice(ordered, func(p, q int) bool {
			vp, vq := b.x[ordered[p]][feature], b.x[ordered[q]][feature]
			if vp != vq {
				return vp < vq
			}
			return ordered[p] < ordered[q]
		})

		leftPos := 0
		for split := 1; split < total; split++ {
			leftPos += b.y[ordered[split-1]]
			prev := b.x[ordered[split-1]][feature]
			next := b.x[ordered[split]][feature]
			if prev == next {
				continue
			}

			leftN := split
			rightN := total - split
			rightPos := totalPos - leftPos
			weighted := (float64(leftN)*giniImpurity(leftPos, leftN) +
				float64(rightN)*giniImpurity(rightPos, rightN)) / float64(total)

			if weighted < bestImpurity {
				bestImpurity = weighted
				bestFeature = feature
				bestThreshold = prev + (next-prev)/2
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func giniImpurity(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 1 - p*p - (1-p)*(1-p)
}

func positiveShare(y []int, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	pos := 0
	for _, i := range indices {
		pos += y[i]
	}
	return float64(pos) / float64(len(indices))
}
