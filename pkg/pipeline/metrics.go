package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StageMetrics tracks metrics for a single stage execution
type StageMetrics struct {
	Stage     string
	StartTime time.Time
	EndTime   time.Time
	RowsIn    int
	RowsOut   int
	Skipped   bool
	Degraded  bool
	Failed    bool
	Error     string
	Notes     []string
}

// Duration returns how long the stage ran
func (sm *StageMetrics) Duration() time.Duration {
	if sm.EndTime.IsZero() {
		return time.Since(sm.StartTime)
	}
	return sm.EndTime.Sub(sm.StartTime)
}

// RunMetrics tracks metrics for a pipeline run
type RunMetrics struct {
	mu              sync.Mutex
	logger          *zap.Logger
	RunID           string
	StartTime       time.Time
	EndTime         time.Time
	StageMetrics    map[string]*StageMetrics
	stageOrder      []string
	CompletedStages int
	DegradedStages  int
	SkippedStages   int
	FailedStages    int
	TotalRowsIn     int
	TotalRowsOut    int
}

// NewRunMetrics creates a metrics collector with a fresh run ID
func NewRunMetrics(logger *zap.Logger) *RunMetrics {
	return &RunMetrics{
		logger:       logger,
		RunID:        uuid.New().String(),
		StartTime:    time.Now(),
		StageMetrics: make(map[string]*StageMetrics),
	}
}

// StartStage begins tracking a stage execution
func (rm *RunMetrics) StartStage(stage string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	sm := &StageMetrics{
		Stage:     stage,
		StartTime: time.Now(),
	}
	rm.StageMetrics[stage] = sm
	rm.stageOrder = append(rm.stageOrder, stage)

	if rm.logger != nil {
		rm.logger.Info("Started stage",
			zap.String("stage", stage),
			zap.String("runID", rm.RunID))
	}
}

// EndStage records a completed stage execution
func (rm *RunMetrics) EndStage(stage string, result StageResult, degraded bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	sm, ok := rm.StageMetrics[stage]
	if !ok {
		return
	}

	sm.EndTime = time.Now()
	sm.RowsIn = result.RowsIn
	sm.RowsOut = result.RowsOut
	sm.Skipped = result.Skipped
	sm.Degraded = degraded
	sm.Notes = append(sm.Notes, result.Notes...)

	rm.CompletedStages++
	rm.TotalRowsIn += result.RowsIn
	rm.TotalRowsOut += result.RowsOut
	if result.Skipped {
		rm.SkippedStages++
	}
	if degraded {
		rm.DegradedStages++
	}

	if rm.logger != nil {
		rm.logger.Info("Completed stage",
			zap.String("stage", stage),
			zap.Duration("duration", sm.Duration()),
			zap.Int("rowsIn", result.RowsIn),
			zap.Int("rowsOut", result.RowsOut),
			zap.Bool("skipped", result.Skipped),
			zap.Bool("degraded", degraded))
	}
}

// FailStage records a failed stage execution
func (rm *RunMetrics) FailStage(stage string, err error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	sm, ok := rm.StageMetrics[stage]
	if !ok {
		sm = &StageMetrics{Stage: stage, StartTime: time.Now()}
		rm.StageMetrics[stage] = sm
		rm.stageOrder = append(rm.stageOrder, stage)
	}

	sm.EndTime = time.Now()
	sm.Failed = true
	if err != nil {
		sm.Error = err.Error()
	}
	rm.FailedStages++

	if rm.logger != nil {
		rm.logger.Error("Stage failed",
			zap.String("stage", stage),
			zap.Duration("duration", sm.Duration()),
			zap.Error(err))
	}
}

// Complete marks the run as finished
func (rm *RunMetrics) Complete() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.EndTime = time.Now()

	if rm.logger != nil {
		rm.logger.Info("Pipeline run completed",
			zap.String("runID", rm.RunID),
			zap.Duration("totalDuration", rm.EndTime.Sub(rm.StartTime)),
			zap.Int("completedStages", rm.CompletedStages),
			zap.Int("degradedStages", rm.DegradedStages),
			zap.Int("skippedStages", rm.SkippedStages),
			zap.Int("failedStages", rm.FailedStages))
	}
}

// Duration returns the total duration of the run
func (rm *RunMetrics) Duration() time.Duration {
	if rm.EndTime.IsZero() {
		return time.Since(rm.StartTime)
	}
	return rm.EndTime.Sub(rm.StartTime)
}

// StageSnapshot is the serializable form of a stage's metrics
type StageSnapshot struct {
	Stage    string   `json:"stage"`
	Duration string   `json:"duration"`
	RowsIn   int      `json:"rowsIn"`
	RowsOut  int      `json:"rowsOut"`
	Skipped  bool     `json:"skipped"`
	Degraded bool     `json:"degraded"`
	Failed   bool     `json:"failed"`
	Error    string   `json:"error,omitempty"`
	Notes    []string `json:"notes,omitempty"`
}

// RunSnapshot is the serializable form of the run metrics, persisted as the
// run metrics artifact
type RunSnapshot struct {
	RunID           string          `json:"runId"`
	StartTime       time.Time       `json:"startTime"`
	EndTime         time.Time       `json:"endTime"`
	Duration        string          `json:"duration"`
	CompletedStages int             `json:"completedStages"`
	DegradedStages  int             `json:"degradedStages"`
	SkippedStages   int             `json:"skippedStages"`
	FailedStages    int             `json:"failedStages"`
	TotalRowsIn     int             `json:"totalRowsIn"`
	TotalRowsOut    int             `json:"totalRowsOut"`
	Stages          []StageSnapshot `json:"stages"`
}

// Snapshot returns a serializable copy of the current metrics
func (rm *RunMetrics) Snapshot() RunSnapshot {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	endTime := rm.EndTime
	if endTime.IsZero() {
		endTime = time.Now()
	}

	stages := make([]StageSnapshot, 0, len(rm.stageOrder))
	for _, name := range rm.stageOrder {
		sm := rm.StageMetrics[name]
		stages = append(stages, StageSnapshot{
			Stage:    sm.Stage,
			Duration: formatDuration(sm.Duration()),
			RowsIn:   sm.RowsIn,
			RowsOut:  sm.RowsOut,
			Skipped:  sm.Skipped,
			Degraded: sm.Degraded,
			Failed:   sm.Failed,
			Error:    sm.Error,
			Notes:    sm.Notes,
		})
	}

	return RunSnapshot{
		RunID:           rm.RunID,
		StartTime:       rm.StartTime,
		EndTime:         endTime,
		Duration:        formatDuration(endTime.Sub(rm.StartTime)),
		CompletedStages: rm.CompletedStages,
		DegradedStages:  rm.DegradedStages,
		SkippedStages:   rm.SkippedStages,
		FailedStages:    rm.FailedStages,
		TotalRowsIn:     rm.TotalRowsIn,
		TotalRowsOut:    rm.TotalRowsOut,
		Stages:          stages,
	}
}

// StageNames returns the stages recorded so far in execution order
func (rm *RunMetrics) StageNames() []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	names := make([]string, len(rm.stageOrder))
	copy(names, rm.stageOrder)
	return names
}

// GenerateMetricsReport creates a human-readable run report
func (rm *RunMetrics) GenerateMetricsReport() string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	report := fmt.Sprintf(`
Pipeline Run Report
===================
Run ID:        %s
Duration:      %s
Start Time:    %s

Stage Summary
-------------
Completed:     %d
Degraded:      %d
Skipped:       %d
Failed:        %d
`,
		rm.RunID,
		formatDuration(rm.Duration()),
		rm.StartTime.Format(time.RFC3339),
		rm.CompletedStages,
		rm.DegradedStages,
		rm.SkippedStages,
		rm.FailedStages,
	)

	report += "\nStage Details\n-------------\n"
	for _, name := range rm.stageOrder {
		sm := rm.StageMetrics[name]
		status := "ok"
		switch {
		case sm.Failed:
			status = "failed"
		case sm.Degraded:
			status = "degraded"
		case sm.Skipped:
			status = "skipped"
		}
		report += fmt.Sprintf("- %-12s %-8s %s, %d rows in, %d rows out\n",
			sm.Stage, status, formatDuration(sm.Duration()), sm.RowsIn, sm.RowsOut)
		for _, note := range sm.Notes {
			report += fmt.Sprintf("    note: %s\n", note)
		}
		if sm.Error != "" {
			report += fmt.Sprintf("    error: %s\n", sm.Error)
		}
	}

	return report
}

// NotesByStage returns a sorted list of "stage: note" strings for logging
func (rm *RunMetrics) NotesByStage() []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var notes []string
	for name, sm := range rm.StageMetrics {
		for _, note := range sm.Notes {
			notes = append(notes, fmt.Sprintf("%s: %s", name, note))
		}
	}
	sort.Strings(notes)
	return notes
}

// formatDuration formats a duration to a human-readable string
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
