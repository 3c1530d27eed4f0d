// pkg/narrative/stage.go
package narrative

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/chainintel/chainintel/pkg/anomaly"
	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/cluster"
	"github.com/chainintel/chainintel/pkg/config"
	"github.com/chainintel/chainintel/pkg/explain"
	"github.com/chainintel/chainintel/pkg/model"
	"github.com/chainintel/chainintel/pkg/pipeline"
)

// topFeatureCount is how many attribution pairs a prompt carries
const topFeatureCount = 3

// candidate is one wallet selected for summary generation
type candidate struct {
	features     model.WalletFeatures
	clusterID    *int
	anomalyScore int
	topFeatures  string
	prompt       string
}

// Stage generates risk summaries for high-priority inference wallets through
// an external text-generation service. Call failures degrade to per-wallet
// sentinel summaries so one flaky call never sinks the batch
type Stage struct {
	cfg       *config.Config
	store     *artifact.Store
	generator Generator
	logger    *zap.Logger
}

// NewStage creates the narrative stage. A nil generator builds the OpenAI
// client from the narrative settings
func NewStage(cfg *config.Config, store *artifact.Store, generator Generator, logger *zap.Logger) (*Stage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if logger == nil {
		logger = zap.L().Named("narrative")
	}
	if generator == nil {
		g, err := NewOpenAIGenerator(cfg.Narrative)
		if err != nil {
			return nil, fmt.Errorf("failed to build narrative generator: %w", err)
		}
		generator = g
	}

	return &Stage{cfg: cfg, store: store, generator: generator, logger: logger}, nil
}

func (s *Stage) Name() string {
	return pipeline.StageNarrative
}

func (s *Stage) Dependencies() []string {
	return []string{pipeline.StageAnomaly, pipeline.StageCluster, pipeline.StageExplain}
}

// RequiredArtifacts lists only the anomaly scores. The cluster and
// attribution artifacts are optional; upstream runs legitimately skip them
func (s *Stage) RequiredArtifacts() []string {
	return []string{s.store.ProcessedPath(artifact.AnomalyScoresCSV)}
}

func (s *Stage) Run(ctx context.Context) (pipeline.StageResult, error) {
	// Step 1: Load anomaly scores plus the optional cluster and attribution artifacts
	scores, err := anomaly.ReadScores(s.store)
	if err != nil {
		return pipeline.StageResult{}, pipeline.NewFatalInputError(s.Name(), artifact.AnomalyScoresCSV, err)
	}
	result := pipeline.StageResult{RowsIn: len(scores)}

	clusterIDs, err := s.loadClusterAssignments()
	if err != nil {
		return result, err
	}
	records, err := s.loadAttributionRecords()
	if err != nil {
		return result, err
	}

	// Step 2: Select high-risk inference wallets under the generation budget
	candidates, eligible := s.selectCandidates(scores, clusterIDs, records)
	if len(candidates) == 0 {
		if err := s.writeSummaries(map[string]model.WalletSummary{}); err != nil {
			return result, err
		}
		s.logger.Info("No wallets selected for narrative generation",
			zap.Int("scored", len(scores)))
		return result.WithNote("no wallets selected for generation"), nil
	}
	if eligible > len(candidates) {
		result = result.WithNote(fmt.Sprintf("generation capped at %d of %d eligible wallets",
			len(candidates), eligible))
	}

	// Step 3: Generate summaries with bounded concurrency
	summaries, failed := s.generateAll(ctx, candidates)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	// Step 4: Persist the summary artifact
	out := make(map[string]model.WalletSummary, len(candidates))
	for i, c := range candidates {
		score := c.anomalyScore
		out[c.features.Wallet] = model.WalletSummary{
			Summary:      summaries[i],
			ClusterID:    c.clusterID,
			AnomalyScore: &score,
			TopFeatures:  c.topFeatures,
		}
	}
	if err := s.writeSummaries(out); err != nil {
		return result, err
	}

	result.RowsOut = len(candidates)
	s.logger.Info("Narrative generation completed",
		zap.Int("wallets", len(candidates)),
		zap.Int("failed", failed),
		zap.String("artifact", s.store.ProcessedPath(artifact.WalletSummariesJSON)))
	if failed > 0 {
		result = result.WithNote(fmt.Sprintf("%d summaries degraded to error sentinels", failed))
	}
	return result, nil
}

// loadClusterAssignments maps wallets to inference clusters. A run whose
// inference population was empty never wrote the artifact
func (s *Stage) loadClusterAssignments() (map[string]int, error) {
	if !s.store.Exists(s.store.ProcessedPath(artifact.InferenceClustersCSV)) {
		s.logger.Info("No inference cluster artifact, cluster IDs render as N/A")
		return map[string]int{}, nil
	}

	assignments, err := cluster.ReadInferenceClusters(s.store)
	if err != nil {
		return nil, pipeline.NewFatalInputError(s.Name(), artifact.InferenceClustersCSV, err)
	}

	ids := make(map[string]int, len(assignments))
	for _, a := range assignments {
		ids[a.Wallet] = a.ClusterID
	}
	return ids, nil
}

// loadAttributionRecords loads per-wallet attributions when the
// explainability stage produced them
func (s *Stage) loadAttributionRecords() (map[string]model.ShapRecord, error) {
	if !s.store.Exists(s.store.ExplainPath(artifact.WalletShapValuesJSON)) {
		s.logger.Info("No attribution artifact, using heuristic top features")
		return map[string]model.ShapRecord{}, nil
	}

	records, err := explain.ReadShapRecords(s.store)
	if err != nil {
		return nil, pipeline.NewFatalInputError(s.Name(), artifact.WalletShapValuesJSON, err)
	}
	return records, nil
}

// selectCandidates keeps inference wallets that are flagged anomalous or sit
// in a high-risk cluster, in score-artifact order, capped by the generation
// budget. Returns the selection and the total eligible count
func (s *Stage) selectCandidates(scores []model.ScoredWallet, clusterIDs map[string]int, records map[string]model.ShapRecord) ([]candidate, int) {
	highRisk := make(map[int]bool, len(s.cfg.HighRiskClusters))
	for _, id := range s.cfg.HighRiskClusters {
		highRisk[id] = true
	}

	var selected []candidate
	eligible := 0
	for i := range scores {
		w := scores[i]
		if w.Label != model.LabelUnknown {
			continue
		}

		var clusterID *int
		if id, ok := clusterIDs[w.Wallet]; ok {
			id := id
			clusterID = &id
		}

		if w.AnomalyScore != model.AnomalyAnomalous && (clusterID == nil || !highRisk[*clusterID]) {
			continue
		}
		eligible++
		if len(selected) >= s.cfg.NarrativeBudget {
			continue
		}

		c := candidate{
			features:     w.WalletFeatures,
			clusterID:    clusterID,
			anomalyScore: w.AnomalyScore,
		}
		if record, ok := records[w.Wallet]; ok {
			c.topFeatures = model.NewSHAPAttribution(record, topFeatureCount).Format()
		} else {
			c.topFeatures = model.NewHeuristicAttribution(&c.features).Format()
		}
		c.prompt = buildPrompt(c)
		selected = append(selected, c)
	}
	return selected, eligible
}

// generateAll fans the candidates out over the service concurrency limit.
// Results land in per-candidate slots, so no lock is needed
func (s *Stage) generateAll(ctx context.Context, candidates []candidate) ([]string, int) {
	summaries := make([]string, len(candidates))
	var failed atomic.Int32

	pool := pond.NewPool(s.cfg.Narrative.Concurrency, pond.WithQueueSize(len(candidates)))
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for i := range candidates {
		idx := i
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}

			summary, err := s.generate(groupCtx, candidates[idx].prompt)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				failed.Add(1)
				summaries[idx] = "LLM Error: " + err.Error()
				return
			}
			summaries[idx] = summary
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		s.logger.Warn("Narrative generation group finished with error", zap.Error(err))
	}
	return summaries, int(failed.Load())
}

// generate retries a single wallet's call with a fixed delay before giving up
func (s *Stage) generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.Narrative.RetryAttempts; attempt++ {
		summary, err := s.generator.Generate(ctx, prompt)
		if err == nil {
			return summary, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}

		s.logger.Warn("Narrative call failed",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", s.cfg.Narrative.RetryAttempts),
			zap.Error(err))

		if attempt < s.cfg.Narrative.RetryAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(s.cfg.Narrative.RetryDelay):
			}
		}
	}

	return "", pipeline.NewServiceError("openai", s.cfg.Narrative.RetryAttempts, lastErr)
}

func (s *Stage) writeSummaries(summaries map[string]model.WalletSummary) error {
	path := s.store.ProcessedPath(artifact.WalletSummariesJSON)
	if err := s.store.WriteJSON(path, summaries); err != nil {
		return fmt.Errorf("failed to write wallet summaries: %w", err)
	}
	return nil
}

// ReadSummaries loads the narrative artifact for the report stage
func ReadSummaries(store *artifact.Store) (map[string]model.WalletSummary, error) {
	summaries := make(map[string]model.WalletSummary)
	if err := store.ReadJSON(store.ProcessedPath(artifact.WalletSummariesJSON), &summaries); err != nil {
		return nil, fmt.Errorf("failed to read wallet summaries: %w", err)
	}
	return summaries, nil
}
