// cmd/chainintel/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/chainintel/chainintel/pkg/anomaly"
	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/classify"
	"github.com/chainintel/chainintel/pkg/cluster"
	"github.com/chainintel/chainintel/pkg/config"
	"github.com/chainintel/chainintel/pkg/connector"
	"github.com/chainintel/chainintel/pkg/explain"
	"github.com/chainintel/chainintel/pkg/features"
	"github.com/chainintel/chainintel/pkg/ingest"
	"github.com/chainintel/chainintel/pkg/logging"
	"github.com/chainintel/chainintel/pkg/narrative"
	"github.com/chainintel/chainintel/pkg/pipeline"
	"github.com/chainintel/chainintel/pkg/report"
)

func main() {
	stagesFlag := flag.String("stages", "", "comma-separated subset of stages to run (default: all)")
	listFlag := flag.Bool("list", false, "print the registered stages and exit")
	verifyFlag := flag.Bool("verify", false, "verify cross-artifact invariants after the run")
	flag.Parse()

	if err := run(*stagesFlag, *listFlag, *verifyFlag); err != nil {
		fmt.Fprintln(os.Stderr, "chainintel:", err)
		os.Exit(1)
	}
}

func run(stagesCSV string, list, verify bool) error {
	// A local .env is a development convenience; deployments set real env vars
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	store, err := artifact.NewStore(cfg.DataDir, cfg.ModelDir, cfg.ExplainDir, logger.Named("artifact-store"))
	if err != nil {
		return err
	}

	manager, err := buildPipeline(cfg, store, logger)
	if err != nil {
		return err
	}

	if list {
		for _, name := range manager.StageNames() {
			fmt.Println(name)
		}
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runErr := manager.Run(ctx, selectStages(manager, stagesCSV)...)
	fmt.Println(manager.Metrics().GenerateMetricsReport())
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return errors.New("run cancelled")
		}
		return runErr
	}

	if verify {
		result := pipeline.NewVerifier(store, logger.Named("verifier")).VerifyRun()
		if !result.Passed() {
			return fmt.Errorf("artifact verification found %d discrepancies", len(result.Discrepancies))
		}
	}
	return nil
}

// selectStages resolves the -stages flag. A full run excludes simulate-model:
// it refits the forest on all labels and would overwrite the cross-validated
// model, so it only runs when named explicitly
func selectStages(manager *pipeline.Manager, stagesCSV string) []string {
	if names := parseStageNames(stagesCSV); len(names) > 0 {
		return names
	}

	var names []string
	for _, name := range manager.StageNames() {
		if name != pipeline.StageSimulate {
			names = append(names, name)
		}
	}
	return names
}

func parseStageNames(stagesCSV string) []string {
	var names []string
	for _, name := range strings.Split(stagesCSV, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// buildPipeline wires every stage into the manager. Registration order is
// the tie-break for scheduling, so it mirrors the full run order
func buildPipeline(cfg *config.Config, store *artifact.Store, logger *zap.Logger) (*pipeline.Manager, error) {
	factory := connector.NewConnectorFactory(cfg, logger.Named("connector"))

	manager, err := pipeline.NewManager(store, logger.Named("pipeline"))
	if err != nil {
		return nil, err
	}

	ingestStage, err := ingest.NewStage(factory, store, logger.Named("ingest"))
	if err != nil {
		return nil, fmt.Errorf("failed to build ingest stage: %w", err)
	}
	featureStage, err := features.NewStage(cfg, store, logger.Named("features"))
	if err != nil {
		return nil, fmt.Errorf("failed to build feature stage: %w", err)
	}
	classifyStage, err := classify.NewStage(cfg, store, logger.Named("classify"))
	if err != nil {
		return nil, fmt.Errorf("failed to build classify stage: %w", err)
	}
	simulateStage, err := classify.NewSimulateStage(cfg, store, logger.Named("simulate"))
	if err != nil {
		return nil, fmt.Errorf("failed to build simulate stage: %w", err)
	}
	explainStage, err := explain.NewStage(cfg, store, logger.Named("explain"))
	if err != nil {
		return nil, fmt.Errorf("failed to build explain stage: %w", err)
	}
	anomalyStage, err := anomaly.NewStage(cfg, store, logger.Named("anomaly"))
	if err != nil {
		return nil, fmt.Errorf("failed to build anomaly stage: %w", err)
	}
	clusterStage, err := cluster.NewStage(cfg, store, logger.Named("cluster"))
	if err != nil {
		return nil, fmt.Errorf("failed to build cluster stage: %w", err)
	}
	narrativeStage, err := narrative.NewStage(cfg, store, nil, logger.Named("narrative"))
	if err != nil {
		return nil, fmt.Errorf("failed to build narrative stage: %w", err)
	}
	reportStage, err := report.NewStage(cfg, store, factory, logger.Named("report"))
	if err != nil {
		return nil, fmt.Errorf("failed to build report stage: %w", err)
	}

	stages := []pipeline.Stage{
		ingestStage,
		featureStage,
		classifyStage,
		simulateStage,
		explainStage,
		anomalyStage,
		clusterStage,
		narrativeStage,
		reportStage,
	}
	for _, stage := range stages {
		if err := manager.Register(stage); err != nil {
			return nil, err
		}
	}
	return manager, nil
}
