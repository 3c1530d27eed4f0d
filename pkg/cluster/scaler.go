// pkg/cluster/scaler.go
package cluster

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler centers each column and scales it to unit variance.
// Zero-variance columns keep scale 1 so constant features pass through
// centered. Every clustering population fits its own scaler; they are never
// shared
type StandardScaler struct {
	Means  []float64
	Scales []float64
}

// Fit learns per-column means and population standard deviations
func (s *StandardScaler) Fit(x [][]float64) error {
	if len(x) == 0 {
		return fmt.Errorf("cannot fit scaler on an empty matrix")
	}

	d := len(x[0])
	s.Means = make([]float64, d)
	s.Scales = make([]float64, d)

	column := make([]float64, len(x))
	for j := 0; j < d; j++ {
		for i := range x {
			column[i] = x[i][j]
		}

		scale := stat.PopStdDev(column, nil)
		if scale == 0 {
			scale = 1
		}
		s.Means[j] = stat.Mean(column, nil)
		s.Scales[j] = scale
	}
	return nil
}

// Transform standardizes a matrix with the fitted parameters
func (s *StandardScaler) Transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Means[j]) / s.Scales[j]
		}
		out[i] = scaled
	}
	return out
}

// FitTransform fits the scaler and standardizes the same matrix
func (s *StandardScaler) FitTransform(x [][]float64) ([][]float64, error) {
	if err := s.Fit(x); err != nil {
		return nil, err
	}
	return s.Transform(x), nil
}
