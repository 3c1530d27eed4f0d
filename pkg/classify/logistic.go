// pkg/classify/logistic.go
package classify

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/chainintel/chainintel/pkg/model"
)

// gradientTolerance stops gradient descent once every partial derivative is
// below it
const gradientTolerance = 1e-6

// LogisticRegression is a binary classifier fitted with batch gradient
// descent. Features are standardized internally and the fitted scale is part
// of the persisted model
type LogisticRegression struct {
	FeatureNames  []string  `json:"feature_names"`
	Weights       []float64 `json:"weights"`
	Bias          float64   `json:"bias"`
	Means         []float64 `json:"means"`
	Scales        []float64 `json:"scales"`
	LearningRate  float64   `json:"learning_rate"`
	MaxIter       int       `json:"max_iterations"`
	IterationsRun int       `json:"iterations_run"`
}

// NewLogisticRegression creates an unfitted model with the given descent
// budget
func NewLogisticRegression(maxIter int, learningRate float64) *LogisticRegression {
	return &LogisticRegression{
		FeatureNames: model.FeatureNames(),
		LearningRate: learningRate,
		MaxIter:      maxIter,
	}
}

// Fit standardizes the training matrix and runs gradient descent until the
// gradient flattens out or the iteration budget runs out
func (m *LogisticRegression) Fit(x [][]float64, y []int) error {
	if len(x) == 0 {
		return fmt.Errorf("training set is empty")
	}
	if len(x) != len(y) {
		return fmt.Errorf("feature matrix has %d rows but %d labels", len(x), len(y))
	}

	n := len(x)
	d := len(x[0])

	m.Means = make([]float64, d)
	m.Scales = make([]float64, d)
	column := make([]float64, n)
	for j := 0; j < d; j++ {
		for i := 0; i < n; i++ {
			column[i] = x[i][j]
		}
		std := stat.PopStdDev(column, nil)
		if std == 0 {
			std = 1
		}
		m.Means[j] = stat.Mean(column, nil)
		m.Scales[j] = std
	}

	z := make([][]float64, n)
	for i := 0; i < n; i++ {
		z[i] = make([]float64, d)
		for j := 0; j < d; j++ {
			z[i][j] = (x[i][j] - m.Means[j]) / m.Scales[j]
		}
	}

	m.Weights = make([]float64, d)
	m.Bias = 0
	gradW := make([]float64, d)

	for iter := 0; iter < m.MaxIter; iter++ {
		for j := range gradW {
			gradW[j] = 0
		}
		gradB := 0.0

		for i := 0; i < n; i++ {
			activation := m.Bias
			for j := 0; j < d; j++ {
				activation += m.Weights[j] * z[i][j]
			}
			diff := sigmoid(activation) - float64(y[i])
			gradB += diff
			for j := 0; j < d; j++ {
				gradW[j] += diff * z[i][j]
			}
		}

		gradB /= float64(n)
		maxGrad := math.Abs(gradB)
		for j := 0; j < d; j++ {
			gradW[j] /= float64(n)
			if g := math.Abs(gradW[j]); g > maxGrad {
				maxGrad = g
			}
		}

		m.Bias -= m.LearningRate * gradB
		for j := 0; j < d; j++ {
			m.Weights[j] -= m.LearningRate * gradW[j]
		}

		m.IterationsRun = iter + 1
		if maxGrad < gradientTolerance {
			break
		}
	}

	return nil
}

// PredictProb returns the positive-class probability for one feature vector
func (m *LogisticRegression) PredictProb(x []float64) float64 {
	activation := m.Bias
	for j, w := range m.Weights {
		activation += w * (x[j] - m.Means[j]) / m.Scales[j]
	}
	return sigmoid(activation)
}

// PredictProbs scores a whole matrix
func (m *LogisticRegression) PredictProbs(x [][]float64) []float64 {
	probs := make([]float64, len(x))
	for i, row := range x {
		probs[i] = m.PredictProb(row)
	}
	return probs
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
