// pkg/classify/forest.go
package classify

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/chainintel/chainintel/pkg/model"
)

// RandomForest is a bagged ensemble of CART trees with sqrt-of-features
// subsampling per split. Each tree draws its own generator from Seed plus
// the tree index, so a fitted forest is identical run to run
type RandomForest struct {
	FeatureNames []string       `json:"feature_names"`
	NumTrees     int            `json:"num_trees"`
	Seed         int64          `json:"seed"`
	Trees        []DecisionTree `json:"trees"`
}

// NewRandomForest creates an unfitted forest
func NewRandomForest(numTrees int, seed int64) *RandomForest {
	return &RandomForest{
		FeatureNames: model.FeatureNames(),
		NumTrees:     numTrees,
		Seed:         seed,
	}
}

// Fit trains the forest on the full training set. Each tree sees a bootstrap
// sample of the rows
func (f *RandomForest) Fit(x [][]float64, y []int) error {
	if len(x) == 0 {
		return fmt.Errorf("training set is empty")
	}
	if len(x) != len(y) {
		return fmt.Errorf("feature matrix has %d rows but %d labels", len(x), len(y))
	}
	if f.NumTrees < 1 {
		return fmt.Errorf("forest needs at least one tree, got %d", f.NumTrees)
	}

	numFeatures := len(x[0])
	maxFeatures := int(math.Sqrt(float64(numFeatures)))
	if maxFeatures < 1 {
		maxFeatures = 1
	}
	if maxFeatures > numFeatures {
		maxFeatures = numFeatures
	}

	f.Trees = make([]DecisionTree, f.NumTrees)
	for i := 0; i < f.NumTrees; i++ {
		rng := rand.New(rand.NewSource(f.Seed + int64(i)))

		sample := make([]int, len(x))
		for j := range sample {
			sample[j] = rng.Intn(len(x))
		}

		f.Trees[i] = growTree(x, y, sample, maxFeatures, rng)
	}

	return nil
}

// PredictProb returns the forest's positive-class probability, the mean of
// the tree leaf values
func (f *RandomForest) PredictProb(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].PredictProb(x)
	}
	return sum / float64(len(f.Trees))
}

// PredictProbs scores a whole matrix
func (f *RandomForest) PredictProbs(x [][]float64) []float64 {
	probs := make([]float64, len(x))
	for i, row := range x {
		probs[i] = f.PredictProb(row)
	}
	return probs
}

// Fitted reports whether the forest has trees to predict with
func (f *RandomForest) Fitted() bool {
	return len(f.Trees) > 0
}
