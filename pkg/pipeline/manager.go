package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chainintel/chainintel/pkg/artifact"
)

// Manager orchestrates pipeline stages in dependency order
type Manager struct {
	store   *artifact.Store
	logger  *zap.Logger
	metrics *RunMetrics
	stages  map[string]Stage
	order   []string // registration order, drives deterministic scheduling
}

// NewManager creates a pipeline manager with a fresh run ID
func NewManager(store *artifact.Store, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("artifact store cannot be nil")
	}
	if logger == nil {
		logger = zap.L().Named("pipeline")
	}

	return &Manager{
		store:   store,
		logger:  logger,
		metrics: NewRunMetrics(logger),
		stages:  make(map[string]Stage),
	}, nil
}

// RunID returns the unique identifier for this run
func (m *Manager) RunID() string {
	return m.metrics.RunID
}

// Metrics returns the run metrics collector
func (m *Manager) Metrics() *RunMetrics {
	return m.metrics
}

// Register adds a stage to the registry
func (m *Manager) Register(stage Stage) error {
	name := stage.Name()
	if name == "" {
		return errors.New("stage name cannot be empty")
	}
	if _, exists := m.stages[name]; exists {
		return fmt.Errorf("stage %s is already registered", name)
	}

	m.stages[name] = stage
	m.order = append(m.order, name)
	return nil
}

// StageNames returns the registered stage names in registration order
func (m *Manager) StageNames() []string {
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// Resolve returns the execution order for the requested stages. With no
// names, every registered stage runs. A named subset runs only those stages,
// ordered so a stage follows any of its dependencies that are also selected;
// dependencies outside the selection must have artifacts on disk already
func (m *Manager) Resolve(names []string) ([]Stage, error) {
	selected := make(map[string]bool)
	if len(names) == 0 {
		for _, name := range m.order {
			selected[name] = true
		}
	} else {
		for _, name := range names {
			if _, ok := m.stages[name]; !ok {
				return nil, fmt.Errorf("unknown stage: %s", name)
			}
			selected[name] = true
		}
	}

	ordered := make([]Stage, 0, len(selected))
	emitted := make(map[string]bool)

	for len(ordered) < len(selected) {
		progressed := false
		for _, name := range m.order {
			if !selected[name] || emitted[name] {
				continue
			}

			ready := true
			for _, dep := range m.stages[name].Dependencies() {
				if selected[dep] && !emitted[dep] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}

			ordered = append(ordered, m.stages[name])
			emitted[name] = true
			progressed = true
		}

		if !progressed {
			return nil, errors.New("stage dependency cycle detected")
		}
	}

	return ordered, nil
}

// Run executes the requested stages, or all registered stages when none are
// named. Fatal input and data quality errors halt the run; insufficient-label
// and external-service conditions degrade the stage and the run continues
func (m *Manager) Run(ctx context.Context, names ...string) error {
	stages, err := m.Resolve(names)
	if err != nil {
		return err
	}

	stageNames := make([]string, len(stages))
	for i, stage := range stages {
		stageNames[i] = stage.Name()
	}
	m.logger.Info("Starting pipeline run",
		zap.String("runID", m.metrics.RunID),
		zap.Strings("stages", stageNames))

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			m.logger.Warn("Pipeline run cancelled", zap.String("stage", stage.Name()))
			return err
		}

		// Inputs produced by stages outside this run must already exist
		if err := m.checkRequiredArtifacts(stage); err != nil {
			m.metrics.FailStage(stage.Name(), err)
			m.writeRunMetrics()
			return err
		}

		m.metrics.StartStage(stage.Name())
		start := time.Now()

		result, runErr := stage.Run(ctx)

		switch ClassifyError(runErr) {
		case ActionContinue:
			m.metrics.EndStage(stage.Name(), result, false)

		case ActionDegrade:
			m.logger.Warn("Stage degraded",
				zap.String("stage", stage.Name()),
				zap.Duration("duration", time.Since(start)),
				zap.Error(runErr))
			m.metrics.EndStage(stage.Name(), result.WithNote(runErr.Error()), true)

		case ActionHalt:
			m.metrics.FailStage(stage.Name(), runErr)
			m.writeRunMetrics()
			return fmt.Errorf("stage %s failed: %w", stage.Name(), runErr)
		}
	}

	m.metrics.Complete()
	m.writeRunMetrics()
	return nil
}

// checkRequiredArtifacts verifies a stage's hard inputs are on disk
func (m *Manager) checkRequiredArtifacts(stage Stage) error {
	for _, path := range stage.RequiredArtifacts() {
		if !m.store.Exists(path) {
			return NewFatalInputError(stage.Name(), path, errors.New("required artifact missing"))
		}
	}
	return nil
}

// writeRunMetrics persists the run metrics artifact; failures are logged, not
// propagated, so they never mask the run outcome
func (m *Manager) writeRunMetrics() {
	path := m.store.ProcessedPath(artifact.RunMetricsJSON)
	if err := m.store.WriteJSON(path, m.metrics.Snapshot()); err != nil {
		m.logger.Warn("Failed to write run metrics", zap.Error(err))
	}
}
