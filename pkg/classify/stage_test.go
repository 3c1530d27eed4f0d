package classify

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/config"
	"github.com/chainintel/chainintel/pkg/features"
	"github.com/chainintel/chainintel/pkg/model"
	"github.com/chainintel/chainintel/pkg/pipeline"
)

func newTestStore(t *testing.T) *artifact.Store {
	t.Helper()

	base := t.TempDir()
	store, err := artifact.NewStore(
		filepath.Join(base, "data"),
		filepath.Join(base, "models"),
		filepath.Join(base, "explainability"),
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	return store
}

func testConfig() *config.Config {
	return &config.Config{
		Seed:             42,
		ForestTrees:      15,
		CVFolds:          3,
		MinClassExamples: 5,
	}
}

// benignWallet and maliciousWallet occupy disjoint value ranges on every
// feature, so any split separates them
func benignWallet(i int) model.WalletFeatures {
	return model.WalletFeatures{
		Wallet:                  fmt.Sprintf("0xb%03d", i),
		TxCount:                 5 + i,
		UniqueToCount:           3,
		EthSentTotal:            10 + float64(i),
		GasPriceAvg:             12,
		GasPriceStd:             1,
		SelfTxCount:             1,
		AvgEthPerTx:             2,
		ContractInteractionRate: 0.1,
		ActiveDays:              10,
		TxVelocity:              1.5,
		TxEntropy:               1,
		Label:                   model.LabelBenign,
	}
}

func maliciousWallet(i int) model.WalletFeatures {
	return model.WalletFeatures{
		Wallet:                  fmt.Sprintf("0xm%03d", i),
		TxCount:                 150 + i,
		UniqueToCount:           120,
		EthSentTotal:            500 + float64(i),
		GasPriceAvg:             140,
		GasPriceStd:             30,
		SelfTxCount:             50,
		AvgEthPerTx:             90,
		ContractInteractionRate: 0.9,
		ActiveDays:              120,
		TxVelocity:              80,
		TxEntropy:               6,
		Label:                   model.LabelMalicious,
	}
}

func unlabeledWallet(i int) model.WalletFeatures {
	return model.WalletFeatures{
		Wallet:     fmt.Sprintf("0xu%03d", i),
		TxCount:    50 + i,
		ActiveDays: 30,
		Label:      model.LabelUnknown,
	}
}

func writeTrainingFixture(t *testing.T, store *artifact.Store, benign, malicious, unlabeled int) {
	t.Helper()

	var rows []model.WalletFeatures
	for i := 0; i < benign; i++ {
		rows = append(rows, benignWallet(i))
	}
	for i := 0; i < malicious; i++ {
		rows = append(rows, maliciousWallet(i))
	}
	for i := 0; i < unlabeled; i++ {
		rows = append(rows, unlabeledWallet(i))
	}
	require.NoError(t, features.WriteFeatures(store, rows))
}

func TestStage_Run(t *testing.T) {
	store := newTestStore(t)
	writeTrainingFixture(t, store, 12, 12, 6)

	stage, err := NewStage(testConfig(), store, zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := stage.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, result.RowsIn)
	assert.Equal(t, 24, result.RowsOut)
	assert.Len(t, result.Notes, 2)

	// Both models and both evaluation artifacts are persisted
	assert.True(t, store.Exists(store.ModelPath(artifact.RandomForestModel)))
	assert.True(t, store.Exists(store.ModelPath(artifact.LogisticModel)))
	assert.True(t, store.Exists(store.ModelPath(artifact.ModelMetricsJSON)))
	assert.True(t, store.Exists(store.ModelPath(artifact.ROCCurveCSV)))

	var evaluation evaluationArtifact
	require.NoError(t, store.ReadJSON(store.ModelPath(artifact.ModelMetricsJSON), &evaluation))
	assert.Equal(t, 24, evaluation.LabeledRows)
	assert.Equal(t, map[string]int{"0": 12, "1": 12}, evaluation.ClassCounts)
	require.Len(t, evaluation.RandomForest.Folds, 3)
	require.Len(t, evaluation.Logistic.Folds, 3)

	// The two label populations sit in disjoint value ranges, so both models
	// rank them perfectly
	assert.InDelta(t, 1.0, evaluation.RandomForest.Mean.AUC, 1e-9)
	assert.InDelta(t, 1.0, evaluation.Logistic.Mean.AUC, 1e-9)

	benign := benignWallet(3)
	malicious := maliciousWallet(3)

	forest, err := LoadForest(store)
	require.NoError(t, err)
	assert.Less(t, forest.PredictProb(benign.Vector()), 0.5)
	assert.Greater(t, forest.PredictProb(malicious.Vector()), 0.5)

	logistic, err := LoadLogistic(store)
	require.NoError(t, err)
	assert.Less(t, logistic.PredictProb(benign.Vector()), 0.5)
	assert.Greater(t, logistic.PredictProb(malicious.Vector()), 0.5)
}

func TestStage_RunDeterministic(t *testing.T) {
	store := newTestStore(t)
	writeTrainingFixture(t, store, 10, 10, 0)

	stage, err := NewStage(testConfig(), store, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = stage.Run(context.Background())
	require.NoError(t, err)
	first, err := LoadForest(store)
	require.NoError(t, err)

	_, err = stage.Run(context.Background())
	require.NoError(t, err)
	second, err := LoadForest(store)
	require.NoError(t, err)

	assert.Equal(t, first.Trees, second.Trees)
}

func TestStage_RunInsufficientLabels(t *testing.T) {
	store := newTestStore(t)
	writeTrainingFixture(t, store, 10, 2, 5)

	stage, err := NewStage(testConfig(), store, zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := stage.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrInsufficientLabels))
	assert.Equal(t, pipeline.ActionDegrade, pipeline.ClassifyError(err))
	assert.Equal(t, 17, result.RowsIn)

	// Nothing was persisted
	assert.False(t, store.Exists(store.ModelPath(artifact.RandomForestModel)))
	assert.False(t, store.Exists(store.ModelPath(artifact.ModelMetricsJSON)))
}

func TestStage_RunSingleClass(t *testing.T) {
	store := newTestStore(t)
	writeTrainingFixture(t, store, 10, 0, 0)

	stage, err := NewStage(testConfig(), store, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = stage.Run(context.Background())
	assert.True(t, errors.Is(err, pipeline.ErrInsufficientLabels))
}

func TestStage_MissingFeaturesIsFatal(t *testing.T) {
	store := newTestStore(t)

	stage, err := NewStage(testConfig(), store, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = stage.Run(context.Background())
	require.Error(t, err)

	var inputErr *pipeline.FatalInputError
	require.True(t, errors.As(err, &inputErr))
	assert.Equal(t, pipeline.ActionHalt, pipeline.ClassifyError(err))
}

func TestSimulateStage_Run(t *testing.T) {
	store := newTestStore(t)
	writeTrainingFixture(t, store, 8, 8, 2)

	cfg := testConfig()
	cfg.ForestTrees = 10

	stage, err := NewSimulateStage(cfg, store, zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := stage.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 18, result.RowsIn)
	assert.Equal(t, 16, result.RowsOut)

	// Only the forest is refreshed
	assert.True(t, store.Exists(store.ModelPath(artifact.RandomForestModel)))
	assert.False(t, store.Exists(store.ModelPath(artifact.LogisticModel)))

	benign := benignWallet(1)
	malicious := maliciousWallet(1)

	forest, err := LoadForest(store)
	require.NoError(t, err)
	require.Len(t, forest.Trees, 10)
	assert.Less(t, forest.PredictProb(benign.Vector()), 0.5)
	assert.Greater(t, forest.PredictProb(malicious.Vector()), 0.5)
}

func TestSimulateStage_InsufficientLabels(t *testing.T) {
	store := newTestStore(t)
	writeTrainingFixture(t, store, 6, 3, 0)

	stage, err := NewSimulateStage(testConfig(), store, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = stage.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrInsufficientLabels))
	assert.False(t, store.Exists(store.ModelPath(artifact.RandomForestModel)))
}

func TestCheckTrainable(t *testing.T) {
	balanced := func(benign, malicious int) []model.WalletFeatures {
		var rows []model.WalletFeatures
		for i := 0; i < benign; i++ {
			rows = append(rows, benignWallet(i))
		}
		for i := 0; i < malicious; i++ {
			rows = append(rows, maliciousWallet(i))
		}
		return rows
	}

	tests := []struct {
		name        string
		rows        []model.WalletFeatures
		minExamples int
		folds       int
		wantErr     bool
	}{
		{name: "sufficient", rows: balanced(6, 5), minExamples: 5, folds: 5, wantErr: false},
		{name: "single class", rows: balanced(10, 0), minExamples: 5, folds: 5, wantErr: true},
		{name: "minority too small", rows: balanced(10, 4), minExamples: 5, folds: 5, wantErr: true},
		{name: "minority under fold count", rows: balanced(10, 6), minExamples: 5, folds: 8, wantErr: true},
		{name: "fold constraint skipped", rows: balanced(10, 6), minExamples: 5, folds: 0, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkTrainable(tt.rows, tt.minExamples, tt.folds)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, pipeline.ErrInsufficientLabels))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveLoadForestRoundtrip(t *testing.T) {
	store := newTestStore(t)
	x, y := separableTrainingSet()

	forest := NewRandomForest(5, 42)
	require.NoError(t, forest.Fit(x, y))
	require.NoError(t, SaveForest(store, forest))

	loaded, err := LoadForest(store)
	require.NoError(t, err)
	assert.Equal(t, forest.Trees, loaded.Trees)
	assert.Equal(t, forest.FeatureNames, loaded.FeatureNames)
	assert.InDelta(t, forest.PredictProb(x[0]), loaded.PredictProb(x[0]), 1e-12)
}

func TestLoadForest_MissingModel(t *testing.T) {
	store := newTestStore(t)
	_, err := LoadForest(store)
	assert.Error(t, err)
}
