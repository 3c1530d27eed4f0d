package pipeline

import (
	"context"
)

// Stage names as registered by the CLI; dependency declarations refer to these
const (
	StageIngest    = "ingest"
	StageFeatures  = "features"
	StageClassify  = "classify"
	StageSimulate  = "simulate-model"
	StageExplain   = "explain"
	StageAnomaly   = "anomaly"
	StageCluster   = "cluster"
	StageNarrative = "narrative"
	StageReport    = "report"
)

// Stage is a single unit of pipeline work. A stage reads its inputs from the
// artifact store and persists every output before returning, so a later run
// can resume from any completed stage
type Stage interface {
	// Name returns the identifier used for registration and stage selection
	Name() string

	// Dependencies returns the names of stages that must run before this one
	Dependencies() []string

	// RequiredArtifacts returns artifact paths that must exist before Run.
	// Optional inputs (a model that may have been skipped) are not listed;
	// stages handle those internally
	RequiredArtifacts() []string

	// Run executes the stage
	Run(ctx context.Context) (StageResult, error)
}

// StageResult reports what a stage consumed and produced
type StageResult struct {
	RowsIn  int
	RowsOut int

	// Skipped means the stage decided there was nothing to do, such as the
	// explainability stage finding no persisted model
	Skipped bool

	// Notes carries human-readable conditions worth surfacing in the run report
	Notes []string
}

// WithNote appends a note and returns the modified result
func (r StageResult) WithNote(note string) StageResult {
	r.Notes = append(r.Notes, note)
	return r
}
