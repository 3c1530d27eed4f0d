// pkg/classify/stage.go
package classify

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/config"
	"github.com/chainintel/chainintel/pkg/features"
	"github.com/chainintel/chainintel/pkg/model"
	"github.com/chainintel/chainintel/pkg/pipeline"
)

// Gradient descent budget for the secondary model
const (
	logisticMaxIter      = 1000
	logisticLearningRate = 0.1
)

type modelEvaluation struct {
	Folds []FoldMetrics  `json:"folds"`
	Mean  MetricsSummary `json:"mean"`
}

type evaluationArtifact struct {
	LabeledRows  int             `json:"labeled_rows"`
	ClassCounts  map[string]int  `json:"class_counts"`
	Folds        int             `json:"folds"`
	Seed         int64           `json:"seed"`
	RandomForest modelEvaluation `json:"random_forest"`
	Logistic     modelEvaluation `json:"logistic_regression"`
}

// Stage trains and evaluates both classifiers on the labeled wallets
type Stage struct {
	cfg    *config.Config
	store  *artifact.Store
	logger *zap.Logger
}

// NewStage creates the classifier training stage
func NewStage(cfg *config.Config, store *artifact.Store, logger *zap.Logger) (*Stage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if logger == nil {
		logger = zap.L().Named("classify")
	}

	return &Stage{cfg: cfg, store: store, logger: logger}, nil
}

func (s *Stage) Name() string {
	return pipeline.StageClassify
}

func (s *Stage) Dependencies() []string {
	return []string{pipeline.StageFeatures}
}

func (s *Stage) RequiredArtifacts() []string {
	return []string{s.store.ProcessedPath(artifact.WalletFeaturesParquet)}
}

// Run cross-validates the random forest and the logistic regression on the
// labeled subset, persists the evaluation artifacts, and keeps the final
// fold's fitted models for downstream stages
func (s *Stage) Run(ctx context.Context) (pipeline.StageResult, error) {
	// Step 1: Load the feature table
	rows, err := features.ReadFeatures(s.store)
	if err != nil {
		return pipeline.StageResult{}, pipeline.NewFatalInputError(s.Name(), artifact.WalletFeaturesParquet, err)
	}

	// Step 2: Restrict to labeled wallets and check trainability
	labeled := labeledOnly(rows)
	result := pipeline.StageResult{RowsIn: len(rows), RowsOut: len(labeled)}
	if err := checkTrainable(labeled, s.cfg.MinClassExamples, s.cfg.CVFolds); err != nil {
		return result, err
	}

	x, y := designMatrix(labeled)

	// Step 3: Build the stratified folds
	folds, err := StratifiedKFold(y, s.cfg.CVFolds, s.cfg.Seed)
	if err != nil {
		return result, fmt.Errorf("failed to build stratified folds: %w", err)
	}

	// Step 4: Fit and score both models on every fold
	var rfFolds, lrFolds []FoldMetrics
	var finalForest *RandomForest
	var finalLogistic *LogisticRegression
	var finalTruth []int
	var finalProbs []float64

	for i, testIdx := range folds {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		trainX, trainY, testX, testY := splitFold(x, y, testIdx)

		forest := NewRandomForest(s.cfg.ForestTrees, s.cfg.Seed)
		if err := forest.Fit(trainX, trainY); err != nil {
			return result, fmt.Errorf("failed to fit random forest on fold %d: %w", i+1, err)
		}
		forestProbs := forest.PredictProbs(testX)
		forestMetrics := classificationMetrics(testY, forestProbs)
		forestMetrics.Fold = i + 1
		rfFolds = append(rfFolds, forestMetrics)

		logistic := NewLogisticRegression(logisticMaxIter, logisticLearningRate)
		if err := logistic.Fit(trainX, trainY); err != nil {
			return result, fmt.Errorf("failed to fit logistic regression on fold %d: %w", i+1, err)
		}
		logisticMetrics := classificationMetrics(testY, logistic.PredictProbs(testX))
		logisticMetrics.Fold = i + 1
		lrFolds = append(lrFolds, logisticMetrics)

		if i == len(folds)-1 {
			finalForest = forest
			finalLogistic = logistic
			finalTruth = testY
			finalProbs = forestProbs
		}
	}

	rfMean := meanMetrics(rfFolds)
	lrMean := meanMetrics(lrFolds)

	// Step 5: Persist the evaluation artifacts
	evaluation := evaluationArtifact{
		LabeledRows:  len(labeled),
		ClassCounts:  classCountKeys(labeled),
		Folds:        len(folds),
		Seed:         s.cfg.Seed,
		RandomForest: modelEvaluation{Folds: rfFolds, Mean: rfMean},
		Logistic:     modelEvaluation{Folds: lrFolds, Mean: lrMean},
	}
	if err := s.store.WriteJSON(s.store.ModelPath(artifact.ModelMetricsJSON), evaluation); err != nil {
		return result, fmt.Errorf("failed to write model metrics: %w", err)
	}
	if err := writeROCCurve(s.store, finalTruth, finalProbs); err != nil {
		return result, fmt.Errorf("failed to write ROC curve: %w", err)
	}

	// Step 6: Persist the final-fold models
	if err := SaveForest(s.store, finalForest); err != nil {
		return result, err
	}
	if err := SaveLogistic(s.store, finalLogistic); err != nil {
		return result, err
	}

	s.logger.Info("Classifier training completed",
		zap.Int("labeledWallets", len(labeled)),
		zap.Int("folds", len(folds)),
		zap.Float64("forestMeanAUC", rfMean.AUC),
		zap.Float64("logisticMeanAUC", lrMean.AUC))

	result = result.WithNote(fmt.Sprintf("random forest mean AUC %.3f", rfMean.AUC))
	result = result.WithNote(fmt.Sprintf("logistic regression mean AUC %.3f", lrMean.AUC))
	return result, nil
}

// SimulateStage refits the forest on every labeled row without holding any
// out, refreshing the model artifact that explainability reads. Useful when
// labels are too sparse for a full evaluation run
type SimulateStage struct {
	cfg    *config.Config
	store  *artifact.Store
	logger *zap.Logger
}

// NewSimulateStage creates the full-fit stage
func NewSimulateStage(cfg *config.Config, store *artifact.Store, logger *zap.Logger) (*SimulateStage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if logger == nil {
		logger = zap.L().Named("classify")
	}

	return &SimulateStage{cfg: cfg, store: store, logger: logger}, nil
}

func (s *SimulateStage) Name() string {
	return pipeline.StageSimulate
}

func (s *SimulateStage) Dependencies() []string {
	return []string{pipeline.StageFeatures}
}

func (s *SimulateStage) RequiredArtifacts() []string {
	return []string{s.store.ProcessedPath(artifact.WalletFeaturesParquet)}
}

func (s *SimulateStage) Run(ctx context.Context) (pipeline.StageResult, error) {
	// Step 1: Load the feature table
	rows, err := features.ReadFeatures(s.store)
	if err != nil {
		return pipeline.StageResult{}, pipeline.NewFatalInputError(s.Name(), artifact.WalletFeaturesParquet, err)
	}

	// Step 2: Restrict to labeled wallets and check trainability
	labeled := labeledOnly(rows)
	result := pipeline.StageResult{RowsIn: len(rows), RowsOut: len(labeled)}
	if err := checkTrainable(labeled, s.cfg.MinClassExamples, 0); err != nil {
		return result, err
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	// Step 3: Fit on the full labeled set and persist
	forest, err := FitFull(labeled, s.cfg.ForestTrees, s.cfg.Seed)
	if err != nil {
		return result, fmt.Errorf("failed to fit forest on full labeled set: %w", err)
	}
	if err := SaveForest(s.store, forest); err != nil {
		return result, err
	}

	s.logger.Info("Forest refitted on full labeled set",
		zap.Int("labeledWallets", len(labeled)),
		zap.Int("trees", forest.NumTrees),
		zap.String("artifact", artifact.RandomForestModel))

	return result.WithNote("forest fitted on all labeled rows"), nil
}

// FitFull fits a forest on every labeled row with no held-out data
func FitFull(labeled []model.WalletFeatures, numTrees int, seed int64) (*RandomForest, error) {
	x, y := designMatrix(labeled)
	forest := NewRandomForest(numTrees, seed)
	if err := forest.Fit(x, y); err != nil {
		return nil, err
	}
	return forest, nil
}

// checkTrainable returns ErrInsufficientLabels when the labeled subset
// cannot support the configured training plan. folds 0 skips the fold
// constraint
func checkTrainable(labeled []model.WalletFeatures, minExamples, folds int) error {
	counts := classCounts(labeled)
	if len(counts) < 2 {
		return fmt.Errorf("need both label classes to train, found %d: %w",
			len(counts), pipeline.ErrInsufficientLabels)
	}

	minority := -1
	for _, n := range counts {
		if minority < 0 || n < minority {
			minority = n
		}
	}
	if minority < minExamples {
		return fmt.Errorf("minority class has %d examples, need %d: %w",
			minority, minExamples, pipeline.ErrInsufficientLabels)
	}
	if folds > 1 && minority < folds {
		return fmt.Errorf("minority class has %d examples, fewer than %d folds: %w",
			minority, folds, pipeline.ErrInsufficientLabels)
	}
	return nil
}

func labeledOnly(rows []model.WalletFeatures) []model.WalletFeatures {
	out := make([]model.WalletFeatures, 0, len(rows))
	for _, r := range rows {
		if r.Label != model.LabelUnknown {
			out = append(out, r)
		}
	}
	return out
}

func classCounts(rows []model.WalletFeatures) map[int]int {
	counts := make(map[int]int)
	for _, r := range rows {
		counts[r.Label]++
	}
	return counts
}

func classCountKeys(rows []model.WalletFeatures) map[string]int {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[strconv.Itoa(r.Label)]++
	}
	return counts
}

func designMatrix(rows []model.WalletFeatures) ([][]float64, []int) {
	x := make([][]float64, len(rows))
	y := make([]int, len(rows))
	for i := range rows {
		x[i] = rows[i].Vector()
		y[i] = rows[i].Label
	}
	return x, y
}

func splitFold(x [][]float64, y []int, testIdx []int) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	isTest := make([]bool, len(y))
	for _, i := range testIdx {
		isTest[i] = true
	}

	for i := range y {
		if isTest[i] {
			testX = append(testX, x[i])
			testY = append(testY, y[i])
		} else {
			trainX = append(trainX, x[i])
			trainY = append(trainY, y[i])
		}
	}
	return trainX, trainY, testX, testY
}

func writeROCCurve(store *artifact.Store, yTrue []int, probs []float64) error {
	fpr, tpr, thresholds := rocCurve(yTrue, probs)

	rows := make([][]string, len(fpr))
	for i := range fpr {
		rows[i] = []string{
			strconv.FormatFloat(fpr[i], 'g', -1, 64),
			strconv.FormatFloat(tpr[i], 'g', -1, 64),
			strconv.FormatFloat(thresholds[i], 'g', -1, 64),
		}
	}

	return store.WriteCSV(store.ModelPath(artifact.ROCCurveCSV), []string{"fpr", "tpr", "threshold"}, rows)
}
