// pkg/explain/attribution.go
package explain

import (
	"fmt"
	"math"

	"github.com/chainintel/chainintel/pkg/classify"
)

// additivityTolerance bounds how far bias plus contributions may drift from
// the forest probability before the attribution is considered broken
const additivityTolerance = 1e-9

// ForestAttribution decomposes one forest prediction into a bias term and an
// additive per-feature contribution vector. For each tree the bias is the
// root node's mean and every split contributes childMean minus parentMean to
// its split feature; the forest attribution averages the trees.
// bias + sum(contributions) equals the forest probability
func ForestAttribution(forest *classify.RandomForest, x []float64) (bias float64, contributions []float64) {
	contributions = make([]float64, len(x))
	if len(forest.Trees) == 0 {
		return 0, contributions
	}

	for t := range forest.Trees {
		tree := &forest.Trees[t]
		bias += tree.Nodes[0].Value

		path := tree.DecisionPath(x)
		for i := 0; i+1 < len(path); i++ {
			parent := tree.Nodes[path[i]]
			child := tree.Nodes[path[i+1]]
			contributions[parent.Feature] += child.Value - parent.Value
		}
	}

	n := float64(len(forest.Trees))
	bias /= n
	for i := range contributions {
		contributions[i] /= n
	}
	return bias, contributions
}

// checkAdditivity verifies that the decomposition reconstructs the forest's
// own prediction
func checkAdditivity(forest *classify.RandomForest, x []float64, bias float64, contributions []float64) error {
	reconstructed := bias
	for _, c := range contributions {
		reconstructed += c
	}

	predicted := forest.PredictProb(x)
	if math.Abs(reconstructed-predicted) > additivityTolerance {
		return fmt.Errorf("attribution sums to %.12f but the forest predicts %.12f", reconstructed, predicted)
	}
	return nil
}
