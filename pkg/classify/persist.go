// pkg/classify/persist.go
package classify

import (
	"fmt"

	"github.com/chainintel/chainintel/pkg/artifact"
)

// SaveForest writes the fitted forest to the model directory
func SaveForest(store *artifact.Store, forest *RandomForest) error {
	if err := store.WriteJSON(store.ModelPath(artifact.RandomForestModel), forest); err != nil {
		return fmt.Errorf("failed to save random forest model: %w", err)
	}
	return nil
}

// LoadForest reads the persisted forest back. Callers that treat a missing
// model as optional should check Store.Exists first
func LoadForest(store *artifact.Store) (*RandomForest, error) {
	var forest RandomForest
	if err := store.ReadJSON(store.ModelPath(artifact.RandomForestModel), &forest); err != nil {
		return nil, fmt.Errorf("failed to load random forest model: %w", err)
	}
	if !forest.Fitted() {
		return nil, fmt.Errorf("random forest model has no trees")
	}
	return &forest, nil
}

// SaveLogistic writes the fitted logistic regression to the model directory
func SaveLogistic(store *artifact.Store, logistic *LogisticRegression) error {
	if err := store.WriteJSON(store.ModelPath(artifact.LogisticModel), logistic); err != nil {
		return fmt.Errorf("failed to save logistic regression model: %w", err)
	}
	return nil
}

// LoadLogistic reads the persisted logistic regression back
func LoadLogistic(store *artifact.Store) (*LogisticRegression, error) {
	var logistic LogisticRegression
	if err := store.ReadJSON(store.ModelPath(artifact.LogisticModel), &logistic); err != nil {
		return nil, fmt.Errorf("failed to load logistic regression model: %w", err)
	}
	if len(logistic.Weights) == 0 {
		return nil, fmt.Errorf("logistic regression model has no weights")
	}
	return &logistic, nil
}
