package pipeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/model"
)

// ArtifactDiscrepancy represents a cross-artifact inconsistency
type ArtifactDiscrepancy struct {
	Artifact    string
	Check       string
	Description string
}

// VerificationReport contains the results of the post-run artifact checks
type VerificationReport struct {
	VerificationTime time.Time
	ChecksRun        int
	ChecksSkipped    int
	Discrepancies    []ArtifactDiscrepancy
	Duration         time.Duration
}

// Passed reports whether every executed check succeeded
func (r *VerificationReport) Passed() bool {
	return len(r.Discrepancies) == 0
}

// Verifier validates cross-artifact invariants after a pipeline run: row
// counts that must agree, wallet keys that must stay unique, and columns the
// downstream consumers rely on. Checks whose artifacts are absent are skipped,
// since subset runs legitimately produce only part of the artifact set
type Verifier struct {
	store  *artifact.Store
	logger *zap.Logger
}

// NewVerifier creates a new verifier
func NewVerifier(store *artifact.Store, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.L().Named("verifier")
	}
	return &Verifier{store: store, logger: logger}
}

// VerifyRun executes every applicable check and returns the report
func (v *Verifier) VerifyRun() *VerificationReport {
	report := &VerificationReport{VerificationTime: time.Now()}
	start := time.Now()

	v.checkFeatureTable(report)
	v.checkRowAgreement(report, artifact.WalletFeaturesCSV, artifact.AnomalyScoresCSV)
	v.checkRowAgreement(report, artifact.AnomalyScoresCSV, artifact.RiskReportCSV)
	v.checkReportColumns(report)

	report.Duration = time.Since(start)

	if report.Passed() {
		v.logger.Info("Artifact verification passed",
			zap.Int("checksRun", report.ChecksRun),
			zap.Int("checksSkipped", report.ChecksSkipped),
			zap.Duration("duration", report.Duration))
	} else {
		for _, d := range report.Discrepancies {
			v.logger.Warn("Artifact verification discrepancy",
				zap.String("artifact", d.Artifact),
				zap.String("check", d.Check),
				zap.String("description", d.Description))
		}
	}

	return report
}

// checkFeatureTable verifies the feature table's wallet keys are unique
func (v *Verifier) checkFeatureTable(report *VerificationReport) {
	path := v.store.ProcessedPath(artifact.WalletFeaturesCSV)
	if !v.store.Exists(path) {
		report.ChecksSkipped++
		return
	}
	report.ChecksRun++

	header, rows, err := v.store.ReadCSV(path)
	if err != nil {
		report.Discrepancies = append(report.Discrepancies, ArtifactDiscrepancy{
			Artifact:    artifact.WalletFeaturesCSV,
			Check:       "readable",
			Description: err.Error(),
		})
		return
	}

	if len(header) == 0 || header[0] != "wallet" {
		report.Discrepancies = append(report.Discrepancies, ArtifactDiscrepancy{
			Artifact:    artifact.WalletFeaturesCSV,
			Check:       "wallet_key_column",
			Description: "first column must be wallet",
		})
		return
	}

	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if seen[row[0]] {
			report.Discrepancies = append(report.Discrepancies, ArtifactDiscrepancy{
				Artifact:    artifact.WalletFeaturesCSV,
				Check:       "wallet_uniqueness",
				Description: fmt.Sprintf("duplicate wallet key %s", row[0]),
			})
			return
		}
		seen[row[0]] = true
	}
}

// checkRowAgreement verifies two artifacts carry the same number of rows
func (v *Verifier) checkRowAgreement(report *VerificationReport, left, right string) {
	leftPath := v.store.ProcessedPath(left)
	rightPath := v.store.ProcessedPath(right)
	if !v.store.Exists(leftPath) || !v.store.Exists(rightPath) {
		report.ChecksSkipped++
		return
	}
	report.ChecksRun++

	leftCount, err := v.countRows(leftPath)
	if err != nil {
		report.Discrepancies = append(report.Discrepancies, ArtifactDiscrepancy{
			Artifact: left, Check: "readable", Description: err.Error(),
		})
		return
	}
	rightCount, err := v.countRows(rightPath)
	if err != nil {
		report.Discrepancies = append(report.Discrepancies, ArtifactDiscrepancy{
			Artifact: right, Check: "readable", Description: err.Error(),
		})
		return
	}

	if leftCount != rightCount {
		report.Discrepancies = append(report.Discrepancies, ArtifactDiscrepancy{
			Artifact: right,
			Check:    "row_count",
			Description: fmt.Sprintf("%s has %d rows but %s has %d",
				left, leftCount, right, rightCount),
		})
	}
}

// checkReportColumns verifies the canonical report carries the columns the
// dashboard and demo sampler read
func (v *Verifier) checkReportColumns(report *VerificationReport) {
	path := v.store.ProcessedPath(artifact.RiskReportCSV)
	if !v.store.Exists(path) {
		report.ChecksSkipped++
		return
	}
	report.ChecksRun++

	header, _, err := v.store.ReadCSV(path)
	if err != nil {
		report.Discrepancies = append(report.Discrepancies, ArtifactDiscrepancy{
			Artifact: artifact.RiskReportCSV, Check: "readable", Description: err.Error(),
		})
		return
	}

	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[col] = true
	}

	required := []string{"wallet", "anomaly_score", "cluster_id", "summary"}
	required = append(required, model.FeatureNames()...)
	for _, col := range required {
		if !present[col] {
			report.Discrepancies = append(report.Discrepancies, ArtifactDiscrepancy{
				Artifact:    artifact.RiskReportCSV,
				Check:       "column_presence",
				Description: fmt.Sprintf("missing column %s", col),
			})
		}
	}
}

func (v *Verifier) countRows(path string) (int, error) {
	_, rows, err := v.store.ReadCSV(path)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
