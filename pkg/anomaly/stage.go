// pkg/anomaly/stage.go
package anomaly

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/config"
	"github.com/chainintel/chainintel/pkg/features"
	"github.com/chainintel/chainintel/pkg/model"
	"github.com/chainintel/chainintel/pkg/pipeline"
)

// Stage scores every wallet with an isolation forest and flags the top
// contamination share as anomalous
type Stage struct {
	cfg    *config.Config
	store  *artifact.Store
	logger *zap.Logger
}

// NewStage creates the anomaly detection stage
func NewStage(cfg *config.Config, store *artifact.Store, logger *zap.Logger) (*Stage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if logger == nil {
		logger = zap.L().Named("anomaly")
	}

	return &Stage{cfg: cfg, store: store, logger: logger}, nil
}

func (s *Stage) Name() string {
	return pipeline.StageAnomaly
}

func (s *Stage) Dependencies() []string {
	return []string{pipeline.StageFeatures}
}

func (s *Stage) RequiredArtifacts() []string {
	return []string{s.store.ProcessedPath(artifact.WalletFeaturesParquet)}
}

func (s *Stage) Run(ctx context.Context) (pipeline.StageResult, error) {
	// Step 1: Load the feature table
	rows, err := features.ReadFeatures(s.store)
	if err != nil {
		return pipeline.StageResult{}, pipeline.NewFatalInputError(s.Name(), artifact.WalletFeaturesParquet, err)
	}
	result := pipeline.StageResult{RowsIn: len(rows)}

	if len(rows) == 0 {
		s.logger.Info("Feature table is empty, skipping anomaly detection")
		result.Skipped = true
		return result.WithNote("no wallets to score"), nil
	}

	// Step 2: Build the matrix. Wallet and label never enter the model
	matrix := make([][]float64, len(rows))
	for i := range rows {
		matrix[i] = rows[i].Vector()
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	// Step 3: Fit and score
	detector := NewIsolationForest(s.cfg.AnomalyTrees, s.cfg.AnomalySubsample, s.cfg.Seed)
	if err := detector.Fit(matrix); err != nil {
		return result, fmt.Errorf("failed to fit isolation forest: %w", err)
	}
	scores := detector.Scores(matrix)

	// Step 4: Threshold at the (1 - contamination) quantile and remap the
	// native inlier/outlier polarity onto {0 normal, 1 anomalous}
	threshold := scoreThreshold(scores, s.cfg.Contamination)

	scored := make([]model.ScoredWallet, len(rows))
	flagged := 0
	for i := range rows {
		native := PredictInlier
		if scores[i] >= threshold {
			native = PredictOutlier
		}

		scored[i] = model.ScoredWallet{WalletFeatures: rows[i], AnomalyScore: model.AnomalyNormal}
		if native == PredictOutlier {
			scored[i].AnomalyScore = model.AnomalyAnomalous
			flagged++
		}
	}

	// Step 5: Persist the scored table
	if err := WriteScores(s.store, scored); err != nil {
		return result, fmt.Errorf("failed to write anomaly scores: %w", err)
	}

	s.logger.Info("Anomaly detection completed",
		zap.Int("wallets", len(scored)),
		zap.Int("flagged", flagged),
		zap.Float64("threshold", threshold),
		zap.String("artifact", artifact.AnomalyScoresCSV))

	result.RowsOut = len(scored)
	return result.WithNote(fmt.Sprintf("%d wallets flagged anomalous", flagged)), nil
}

// scoreThreshold returns the score cut above which the contamination share
// of the population is flagged
func scoreThreshold(scores []float64, contamination float64) float64 {
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)
	return stat.Quantile(1-contamination, stat.LinInterp, sorted, nil)
}

// scoresHeader is the feature table header plus the anomaly flag
func scoresHeader() []string {
	return append(features.FeatureTableHeader(), "anomaly_score")
}

// WriteScores persists the scored wallet table
func WriteScores(store *artifact.Store, scored []model.ScoredWallet) error {
	rows := make([][]string, len(scored))
	for i := range scored {
		rows[i] = append(features.FeatureValuesCSV(&scored[i].WalletFeatures),
			strconv.Itoa(scored[i].AnomalyScore))
	}
	return store.WriteCSV(store.ProcessedPath(artifact.AnomalyScoresCSV), scoresHeader(), rows)
}

// ReadScores loads the scored wallet table for the narrative and report
// stages
func ReadScores(store *artifact.Store) ([]model.ScoredWallet, error) {
	header, rows, err := store.ReadCSV(store.ProcessedPath(artifact.AnomalyScoresCSV))
	if err != nil {
		return nil, fmt.Errorf("failed to read anomaly scores: %w", err)
	}

	want := scoresHeader()
	if len(header) < len(want) {
		return nil, fmt.Errorf("anomaly scores have %d columns, need %d", len(header), len(want))
	}

	scored := make([]model.ScoredWallet, 0, len(rows))
	for i, row := range rows {
		f, err := features.ParseFeatureValuesCSV(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		score, err := strconv.Atoi(row[len(want)-1])
		if err != nil {
			return nil, fmt.Errorf("row %d: failed to parse anomaly_score %q: %w", i+1, row[len(want)-1], err)
		}
		scored = append(scored, model.ScoredWallet{WalletFeatures: f, AnomalyScore: score})
	}
	return scored, nil
}
