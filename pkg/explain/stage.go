// pkg/explain/stage.go
package explain

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"

	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/classify"
	"github.com/chainintel/chainintel/pkg/config"
	"github.com/chainintel/chainintel/pkg/features"
	"github.com/chainintel/chainintel/pkg/model"
	"github.com/chainintel/chainintel/pkg/pipeline"
)

// Stage decomposes the forest's predictions into per-feature contributions
// for the labeled wallets
type Stage struct {
	cfg    *config.Config
	store  *artifact.Store
	logger *zap.Logger
}

// NewStage creates the explainability stage
func NewStage(cfg *config.Config, store *artifact.Store, logger *zap.Logger) (*Stage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if logger == nil {
		logger = zap.L().Named("explain")
	}

	return &Stage{cfg: cfg, store: store, logger: logger}, nil
}

func (s *Stage) Name() string {
	return pipeline.StageExplain
}

func (s *Stage) Dependencies() []string {
	return []string{pipeline.StageFeatures, pipeline.StageClassify}
}

// RequiredArtifacts lists only the feature table. The model artifact is
// optional: a degraded classifier run leaves no model, and this stage skips
// rather than halting the pipeline
func (s *Stage) RequiredArtifacts() []string {
	return []string{s.store.ProcessedPath(artifact.WalletFeaturesParquet)}
}

func (s *Stage) Run(ctx context.Context) (pipeline.StageResult, error) {
	// Step 1: Skip when there is no model to explain
	if !s.store.Exists(s.store.ModelPath(artifact.RandomForestModel)) {
		s.logger.Info("No forest model artifact, skipping explainability",
			zap.String("model", artifact.RandomForestModel))
		return pipeline.StageResult{Skipped: true}.WithNote("no forest model artifact"), nil
	}

	forest, err := classify.LoadForest(s.store)
	if err != nil {
		return pipeline.StageResult{}, pipeline.NewFatalInputError(s.Name(), artifact.RandomForestModel, err)
	}

	// Step 2: Load the feature table and keep the labeled rows
	rows, err := features.ReadFeatures(s.store)
	if err != nil {
		return pipeline.StageResult{}, pipeline.NewFatalInputError(s.Name(), artifact.WalletFeaturesParquet, err)
	}

	labeled := make([]model.WalletFeatures, 0, len(rows))
	for _, r := range rows {
		if r.Label != model.LabelUnknown {
			labeled = append(labeled, r)
		}
	}
	result := pipeline.StageResult{RowsIn: len(rows), RowsOut: len(labeled)}

	if len(labeled) == 0 {
		s.logger.Info("No labeled wallets to explain, skipping")
		result.Skipped = true
		return result.WithNote("no labeled wallets"), nil
	}

	// Step 3: Attribute every labeled prediction and fold the absolute
	// contributions into the global summary
	names := model.FeatureNames()
	meanAbs := make([]float64, len(names))
	contributions := make([][]float64, len(labeled))

	for i := range labeled {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		x := labeled[i].Vector()
		bias, contribs := ForestAttribution(forest, x)
		if err := checkAdditivity(forest, x, bias, contribs); err != nil {
			return result, pipeline.NewDataQualityError(s.Name(), "additivity",
				fmt.Sprintf("wallet %s: %s", labeled[i].Wallet, err.Error()))
		}

		contributions[i] = contribs
		for j, c := range contribs {
			meanAbs[j] += math.Abs(c)
		}
	}
	for j := range meanAbs {
		meanAbs[j] /= float64(len(labeled))
	}

	// Step 4: Persist the global summary
	if err := s.writeSummary(names, meanAbs); err != nil {
		return result, fmt.Errorf("failed to write attribution summary: %w", err)
	}

	// Step 5: Persist per-wallet records, capped in row order
	capped := len(labeled)
	if s.cfg.ShapWalletCap > 0 && capped > s.cfg.ShapWalletCap {
		capped = s.cfg.ShapWalletCap
	}

	records := make(map[string]model.ShapRecord, capped)
	for i := 0; i < capped; i++ {
		records[labeled[i].Wallet] = model.ShapRecord{
			Features:   labeled[i].FeatureMap(),
			ShapValues: contributions[i],
		}
	}
	if err := s.store.WriteJSON(s.store.ExplainPath(artifact.WalletShapValuesJSON), records); err != nil {
		return result, fmt.Errorf("failed to write wallet attribution records: %w", err)
	}

	s.logger.Info("Explainability completed",
		zap.Int("labeledWallets", len(labeled)),
		zap.Int("walletRecords", capped),
		zap.String("artifact", artifact.WalletShapValuesJSON))

	if capped < len(labeled) {
		result = result.WithNote(fmt.Sprintf("wallet records capped at %d of %d", capped, len(labeled)))
	}
	return result, nil
}

func (s *Stage) writeSummary(names []string, meanAbs []float64) error {
	rows := make([][]string, len(names))
	for i, name := range names {
		rows[i] = []string{name, strconv.FormatFloat(meanAbs[i], 'g', -1, 64)}
	}
	return s.store.WriteCSV(s.store.ExplainPath(artifact.ShapSummaryCSV),
		[]string{"feature", "mean_abs_contribution"}, rows)
}

// ReadShapRecords loads the per-wallet attribution artifact. A missing file
// is not an error here; callers decide how to degrade
func ReadShapRecords(store *artifact.Store) (map[string]model.ShapRecord, error) {
	records := make(map[string]model.ShapRecord)
	if err := store.ReadJSON(store.ExplainPath(artifact.WalletShapValuesJSON), &records); err != nil {
		return nil, fmt.Errorf("failed to read wallet attribution records: %w", err)
	}
	return records, nil
}
