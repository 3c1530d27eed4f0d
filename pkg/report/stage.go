// pkg/report/stage.go
package report

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chainintel/chainintel/pkg/anomaly"
	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/cluster"
	"github.com/chainintel/chainintel/pkg/config"
	"github.com/chainintel/chainintel/pkg/connector"
	"github.com/chainintel/chainintel/pkg/model"
	"github.com/chainintel/chainintel/pkg/narrative"
	"github.com/chainintel/chainintel/pkg/pipeline"
)

// Stage merges anomaly scores, cluster assignments, and narrative summaries
// into the canonical wallet risk report, samples the demo subset, and
// optionally exports the report to PostgreSQL
type Stage struct {
	cfg     *config.Config
	store   *artifact.Store
	factory *connector.ConnectorFactory
	logger  *zap.Logger
}

// NewStage creates the report stage. The factory may be nil when the
// PostgreSQL export is disabled
func NewStage(cfg *config.Config, store *artifact.Store, factory *connector.ConnectorFactory, logger *zap.Logger) (*Stage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if cfg.PostgresExport && factory == nil {
		return nil, fmt.Errorf("connector factory is required for postgres export")
	}
	if logger == nil {
		logger = zap.L().Named("report")
	}

	return &Stage{cfg: cfg, store: store, factory: factory, logger: logger}, nil
}

func (s *Stage) Name() string {
	return pipeline.StageReport
}

func (s *Stage) Dependencies() []string {
	return []string{pipeline.StageAnomaly, pipeline.StageCluster, pipeline.StageNarrative}
}

// RequiredArtifacts lists only the anomaly scores; the cluster and summary
// artifacts are optional left-join sources
func (s *Stage) RequiredArtifacts() []string {
	return []string{s.store.ProcessedPath(artifact.AnomalyScoresCSV)}
}

func (s *Stage) Run(ctx context.Context) (pipeline.StageResult, error) {
	// Step 1: Load the scored wallets and the optional join sources
	scores, err := anomaly.ReadScores(s.store)
	if err != nil {
		return pipeline.StageResult{}, pipeline.NewFatalInputError(s.Name(), artifact.AnomalyScoresCSV, err)
	}
	result := pipeline.StageResult{RowsIn: len(scores)}

	clusters, err := s.loadClusters()
	if err != nil {
		return result, err
	}
	summaries, err := s.loadSummaries()
	if err != nil {
		return result, err
	}

	// Step 2: Merge into the canonical report
	rows, err := buildReport(scores, clusters, summaries)
	if err != nil {
		return result, err
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	// Step 3: Persist the report, the demo subset, and the stats artifact
	if err := writeReport(s.store, rows); err != nil {
		return result, err
	}

	demo := selectDemoWallets(rows, summaries, s.cfg.DemoTopN)
	if err := writeDemoWallets(s.store, demo); err != nil {
		return result, err
	}

	stats := buildStats(rows)
	if err := s.store.WriteJSON(s.store.ProcessedPath(artifact.ReportStatsJSON), stats); err != nil {
		return result, fmt.Errorf("failed to write report stats: %w", err)
	}

	result.RowsOut = len(rows)
	result = result.WithNote(fmt.Sprintf("demo subset has %d wallets", len(demo)))
	s.logger.Info("Risk report assembled",
		zap.Int("wallets", len(rows)),
		zap.Int("summarized", stats.SummarizedRows),
		zap.Int("demoWallets", len(demo)),
		zap.String("artifact", s.store.ProcessedPath(artifact.RiskReportParquet)))

	// Step 4: Optionally export to PostgreSQL
	if !s.cfg.PostgresExport {
		s.logger.Info("PostgreSQL export disabled, skipping")
		return result, nil
	}
	inserted, err := s.exportReport(ctx, rows)
	if err != nil {
		return result, err
	}
	return result.WithNote(fmt.Sprintf("%d rows exported to postgres", inserted)), nil
}

// loadClusters reads the inference cluster artifact when a run produced one
func (s *Stage) loadClusters() ([]model.ClusterAssignment, error) {
	if !s.store.Exists(s.store.ProcessedPath(artifact.InferenceClustersCSV)) {
		s.logger.Info("No inference cluster artifact, report rows carry no cluster")
		return nil, nil
	}

	clusters, err := cluster.ReadInferenceClusters(s.store)
	if err != nil {
		return nil, pipeline.NewFatalInputError(s.Name(), artifact.InferenceClustersCSV, err)
	}
	return clusters, nil
}

// loadSummaries reads the narrative artifact when a run produced one
func (s *Stage) loadSummaries() (map[string]model.WalletSummary, error) {
	if !s.store.Exists(s.store.ProcessedPath(artifact.WalletSummariesJSON)) {
		s.logger.Info("No narrative artifact, report rows carry no summary")
		return map[string]model.WalletSummary{}, nil
	}

	summaries, err := narrative.ReadSummaries(s.store)
	if err != nil {
		return nil, pipeline.NewFatalInputError(s.Name(), artifact.WalletSummariesJSON, err)
	}
	return summaries, nil
}
