package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/model"
)

func newTestStore(t *testing.T) *artifact.Store {
	t.Helper()
	base := t.TempDir()
	store, err := artifact.NewStore(
		filepath.Join(base, "data"),
		filepath.Join(base, "models"),
		filepath.Join(base, "explain"),
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	return store
}

func featureHeader() []string {
	return append([]string{"wallet"}, append(model.FeatureNames(), "label")...)
}

func reportHeader() []string {
	header := append([]string{"wallet"}, model.FeatureNames()...)
	return append(header, "label", "anomaly_score", "cluster_id", "summary", "top_features")
}

func fillRow(wallet string, width int) []string {
	row := make([]string, width)
	row[0] = wallet
	for i := 1; i < width; i++ {
		row[i] = "0"
	}
	return row
}

func TestVerifier_AllChecksSkippedWhenNoArtifacts(t *testing.T) {
	store := newTestStore(t)
	verifier := NewVerifier(store, zaptest.NewLogger(t))

	report := verifier.VerifyRun()
	assert.True(t, report.Passed())
	assert.Equal(t, 0, report.ChecksRun)
	assert.Equal(t, 4, report.ChecksSkipped)
}

func TestVerifier_PassesOnConsistentArtifacts(t *testing.T) {
	store := newTestStore(t)

	features := featureHeader()
	require.NoError(t, store.WriteCSV(store.ProcessedPath(artifact.WalletFeaturesCSV), features, [][]string{
		fillRow("0xaaa", len(features)),
		fillRow("0xbbb", len(features)),
	}))

	scored := append(featureHeader(), "anomaly_score")
	require.NoError(t, store.WriteCSV(store.ProcessedPath(artifact.AnomalyScoresCSV), scored, [][]string{
		fillRow("0xaaa", len(scored)),
		fillRow("0xbbb", len(scored)),
	}))

	rep := reportHeader()
	require.NoError(t, store.WriteCSV(store.ProcessedPath(artifact.RiskReportCSV), rep, [][]string{
		fillRow("0xaaa", len(rep)),
		fillRow("0xbbb", len(rep)),
	}))

	verifier := NewVerifier(store, zaptest.NewLogger(t))
	report := verifier.VerifyRun()

	assert.True(t, report.Passed(), "discrepancies: %v", report.Discrepancies)
	assert.Equal(t, 4, report.ChecksRun)
	assert.Equal(t, 0, report.ChecksSkipped)
}

func TestVerifier_DetectsDuplicateWallet(t *testing.T) {
	store := newTestStore(t)

	features := featureHeader()
	require.NoError(t, store.WriteCSV(store.ProcessedPath(artifact.WalletFeaturesCSV), features, [][]string{
		fillRow("0xaaa", len(features)),
		fillRow("0xaaa", len(features)),
	}))

	verifier := NewVerifier(store, zaptest.NewLogger(t))
	report := verifier.VerifyRun()

	require.False(t, report.Passed())
	assert.Equal(t, "wallet_uniqueness", report.Discrepancies[0].Check)
}

func TestVerifier_DetectsRowCountMismatch(t *testing.T) {
	store := newTestStore(t)

	features := featureHeader()
	require.NoError(t, store.WriteCSV(store.ProcessedPath(artifact.WalletFeaturesCSV), features, [][]string{
		fillRow("0xaaa", len(features)),
		fillRow("0xbbb", len(features)),
	}))

	scored := append(featureHeader(), "anomaly_score")
	require.NoError(t, store.WriteCSV(store.ProcessedPath(artifact.AnomalyScoresCSV), scored, [][]string{
		fillRow("0xaaa", len(scored)),
	}))

	verifier := NewVerifier(store, zaptest.NewLogger(t))
	report := verifier.VerifyRun()

	require.False(t, report.Passed())
	assert.Equal(t, "row_count", report.Discrepancies[0].Check)
}

func TestVerifier_DetectsMissingReportColumn(t *testing.T) {
	store := newTestStore(t)

	// summary column dropped
	header := append([]string{"wallet"}, model.FeatureNames()...)
	header = append(header, "label", "anomaly_score", "cluster_id")
	require.NoError(t, store.WriteCSV(store.ProcessedPath(artifact.RiskReportCSV), header, [][]string{
		fillRow("0xaaa", len(header)),
	}))

	verifier := NewVerifier(store, zaptest.NewLogger(t))
	report := verifier.VerifyRun()

	require.False(t, report.Passed())
	assert.Equal(t, "column_presence", report.Discrepancies[0].Check)
	assert.Contains(t, report.Discrepancies[0].Description, "summary")
}
