// pkg/report/report_test.go
package report

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chainintel/chainintel/pkg/anomaly"
	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/config"
	"github.com/chainintel/chainintel/pkg/model"
	"github.com/chainintel/chainintel/pkg/pipeline"
)

func newTestStore(t *testing.T) *artifact.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := artifact.NewStore(
		filepath.Join(dir, "data"),
		filepath.Join(dir, "models"),
		filepath.Join(dir, "explainability"),
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	return store
}

func reportConfig() *config.Config {
	return &config.Config{DemoTopN: 2}
}

func intPtr(v int) *int {
	return &v
}

func scoredWallet(wallet string, label, score int) model.ScoredWallet {
	return model.ScoredWallet{
		WalletFeatures: model.WalletFeatures{
			Wallet:                  wallet,
			TxCount:                 12,
			UniqueToCount:           4,
			EthSentTotal:            3.5,
			GasPriceAvg:             25,
			GasPriceStd:             2,
			SelfTxCount:             1,
			AvgEthPerTx:             0.5,
			ContractInteractionRate: 0.25,
			ActiveDays:              6,
			TxVelocity:              2,
			TxEntropy:               1.5,
			Label:                   label,
		},
		AnomalyScore: score,
	}
}

func TestBuildReport_Merge(t *testing.T) {
	scores := []model.ScoredWallet{
		scoredWallet("0xa", model.LabelUnknown, 0),
		scoredWallet("0xb", model.LabelUnknown, 1),
		scoredWallet("0xc", model.LabelUnknown, 0),
	}
	clusters := []model.ClusterAssignment{
		{Wallet: "0xa", ClusterID: 3},
		{Wallet: "0xb", ClusterID: 0},
	}
	summaries := map[string]model.WalletSummary{
		"0xb": {Summary: "high risk", ClusterID: intPtr(7), AnomalyScore: intPtr(1), TopFeatures: "tx_velocity: 9.00"},
		"0xc": {Summary: "flagged later", AnomalyScore: intPtr(1)},
	}

	rows, err := buildReport(scores, clusters, summaries)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.NotNil(t, rows[0].ClusterID)
	assert.Equal(t, 3, *rows[0].ClusterID)
	assert.Empty(t, rows[0].Summary)
	assert.Equal(t, 0, rows[0].AnomalyScore)

	// The summary's cluster overrides the cluster artifact
	require.NotNil(t, rows[1].ClusterID)
	assert.Equal(t, 7, *rows[1].ClusterID)
	assert.Equal(t, "high risk", rows[1].Summary)
	assert.Equal(t, "tx_velocity: 9.00", rows[1].TopFeatures)

	// The summary's anomaly score overrides the score artifact
	assert.Nil(t, rows[2].ClusterID)
	assert.Equal(t, 1, rows[2].AnomalyScore)
	assert.Equal(t, "flagged later", rows[2].Summary)
}

func TestBuildReport_DuplicateClusterWalletHalts(t *testing.T) {
	scores := []model.ScoredWallet{scoredWallet("0xa", model.LabelUnknown, 0)}
	clusters := []model.ClusterAssignment{
		{Wallet: "0xa", ClusterID: 1},
		{Wallet: "0xa", ClusterID: 2},
	}

	_, err := buildReport(scores, clusters, nil)
	require.Error(t, err)
	assert.Equal(t, pipeline.ActionHalt, pipeline.ClassifyError(err))
}

func TestBuildReport_DuplicateScoreWalletHalts(t *testing.T) {
	scores := []model.ScoredWallet{
		scoredWallet("0xa", model.LabelUnknown, 0),
		scoredWallet("0xa", model.LabelUnknown, 1),
	}

	_, err := buildReport(scores, nil, nil)
	require.Error(t, err)
	assert.Equal(t, pipeline.ActionHalt, pipeline.ClassifyError(err))
}

func TestSelectDemoWallets(t *testing.T) {
	rows := []model.ReportRow{
		{ScoredWallet: scoredWallet("0xsummary", model.LabelUnknown, 0), Summary: "s"},
		{ScoredWallet: scoredWallet("0xanoma", model.LabelUnknown, 1)},
		{ScoredWallet: scoredWallet("0xanomb", model.LabelUnknown, 1)},
		{ScoredWallet: scoredWallet("0xquiet1", model.LabelUnknown, 0)},
		{ScoredWallet: scoredWallet("0xquiet2", model.LabelUnknown, 0)},
	}
	summaries := map[string]model.WalletSummary{"0xsummary": {Summary: "s"}}

	demo := selectDemoWallets(rows, summaries, 2)
	require.Len(t, demo, 3)
	assert.Equal(t, "0xsummary", demo[0].Wallet)
	assert.Equal(t, "0xanoma", demo[1].Wallet)
	assert.Equal(t, "0xanomb", demo[2].Wallet)
}

func TestSelectDemoWallets_TopNCoversRemainder(t *testing.T) {
	rows := []model.ReportRow{
		{ScoredWallet: scoredWallet("0xa", model.LabelUnknown, 0)},
		{ScoredWallet: scoredWallet("0xb", model.LabelUnknown, 1)},
	}

	demo := selectDemoWallets(rows, nil, 10)
	require.Len(t, demo, 2)
	assert.Equal(t, "0xb", demo[0].Wallet)
	assert.Equal(t, "0xa", demo[1].Wallet)
}

func TestBuildStats(t *testing.T) {
	rows := []model.ReportRow{
		{ScoredWallet: scoredWallet("0xa", model.LabelUnknown, 1), ClusterID: intPtr(0),
			Summary: "one", TopFeatures: "tx_velocity: 1.00, tx_entropy: 2.00"},
		{ScoredWallet: scoredWallet("0xb", model.LabelUnknown, 0), ClusterID: intPtr(0),
			Summary: "two", TopFeatures: "tx_velocity: 3.00, gas_price_std: 1.00"},
		{ScoredWallet: scoredWallet("0xc", model.LabelUnknown, 0), ClusterID: intPtr(2),
			TopFeatures: "tx_velocity: 4.00"},
		{ScoredWallet: scoredWallet("0xd", model.LabelUnknown, 1)},
	}

	stats := buildStats(rows)

	assert.Equal(t, 4, stats.TotalWallets)
	assert.Equal(t, map[int]int{0: 2, 1: 2}, stats.AnomalyCounts)
	assert.Equal(t, map[int]int{0: 2, 2: 1}, stats.ClusterCounts)
	assert.Equal(t, 2, stats.SummarizedRows)

	require.Len(t, stats.TopFeatures, 3)
	assert.Equal(t, featureMention{Feature: "tx_velocity", Count: 3}, stats.TopFeatures[0])
	assert.Equal(t, featureMention{Feature: "gas_price_std", Count: 1}, stats.TopFeatures[1])
	assert.Equal(t, featureMention{Feature: "tx_entropy", Count: 1}, stats.TopFeatures[2])

	require.Len(t, stats.Sample, 4)
	assert.Equal(t, "0xa", stats.Sample[0].Wallet)
	assert.Equal(t, "one", stats.Sample[0].Summary)
}

func TestCountFeatureMentions(t *testing.T) {
	mentions := make(map[string]int)
	countFeatureMentions(mentions, "")
	assert.Empty(t, mentions)

	countFeatureMentions(mentions, "tx_velocity: 1.00")
	countFeatureMentions(mentions, "tx_velocity: 2.00, tx_entropy: 0.50")
	assert.Equal(t, map[string]int{"tx_velocity": 2, "tx_entropy": 1}, mentions)
}

func TestStage_Run(t *testing.T) {
	store := newTestStore(t)
	scores := []model.ScoredWallet{
		scoredWallet("0xa", model.LabelUnknown, 1),
		scoredWallet("0xb", model.LabelUnknown, 0),
		scoredWallet("0xc", model.LabelUnknown, 0),
		scoredWallet("0xd", model.LabelBenign, 0),
	}
	require.NoError(t, anomaly.WriteScores(store, scores))
	require.NoError(t, store.WriteCSV(store.ProcessedPath(artifact.InferenceClustersCSV),
		[]string{"wallet", "cluster_id"},
		[][]string{{"0xa", "1"}, {"0xb", "4"}, {"0xc", "4"}}))
	require.NoError(t, store.WriteJSON(store.ProcessedPath(artifact.WalletSummariesJSON),
		map[string]model.WalletSummary{
			"0xa": {Summary: "anomalous actor", ClusterID: intPtr(1), AnomalyScore: intPtr(1),
				TopFeatures: "tx_velocity: 5.00"},
		}))

	stage, err := NewStage(reportConfig(), store, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := stage.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, result.RowsIn)
	assert.Equal(t, 4, result.RowsOut)
	assert.Contains(t, result.Notes, "demo subset has 3 wallets")

	header, csvRows, err := store.ReadCSV(store.ProcessedPath(artifact.RiskReportCSV))
	require.NoError(t, err)
	assert.Equal(t, reportHeader(), header)
	require.Len(t, csvRows, 4)
	assert.Equal(t, "0xa", csvRows[0][0])
	assert.Equal(t, "anomalous actor", csvRows[0][15])
	assert.Equal(t, "", csvRows[3][14]) // 0xd has no cluster

	parquetRows, err := artifact.ReadParquet[reportParquetRow](store,
		store.ProcessedPath(artifact.RiskReportParquet))
	require.NoError(t, err)
	require.Len(t, parquetRows, 4)
	assert.Equal(t, "anomalous actor", parquetRows[0].Summary)
	require.NotNil(t, parquetRows[0].ClusterID)
	assert.Equal(t, int64(1), *parquetRows[0].ClusterID)
	assert.Nil(t, parquetRows[3].ClusterID)

	// Demo subset: the summarized wallet plus the top two remaining
	_, demoRows, err := store.ReadCSV(store.ProcessedPath(artifact.DemoWalletsCSV))
	require.NoError(t, err)
	require.Len(t, demoRows, 3)
	assert.Equal(t, "0xa", demoRows[0][0])

	var stats reportStats
	require.NoError(t, store.ReadJSON(store.ProcessedPath(artifact.ReportStatsJSON), &stats))
	assert.Equal(t, 4, stats.TotalWallets)
	assert.Equal(t, map[int]int{0: 3, 1: 1}, stats.AnomalyCounts)
	assert.Equal(t, map[int]int{1: 1, 4: 2}, stats.ClusterCounts)
	assert.Equal(t, 1, stats.SummarizedRows)

	verification := pipeline.NewVerifier(store, zaptest.NewLogger(t)).VerifyRun()
	assert.True(t, verification.Passed())
}

func TestStage_RunWithoutOptionalArtifacts(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, anomaly.WriteScores(store, []model.ScoredWallet{
		scoredWallet("0xa", model.LabelUnknown, 1),
		scoredWallet("0xb", model.LabelUnknown, 0),
	}))

	stage, err := NewStage(reportConfig(), store, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := stage.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowsOut)

	parquetRows, err := artifact.ReadParquet[reportParquetRow](store,
		store.ProcessedPath(artifact.RiskReportParquet))
	require.NoError(t, err)
	require.Len(t, parquetRows, 2)
	for _, row := range parquetRows {
		assert.Nil(t, row.ClusterID)
		assert.Empty(t, row.Summary)
	}

	var stats reportStats
	require.NoError(t, store.ReadJSON(store.ProcessedPath(artifact.ReportStatsJSON), &stats))
	assert.Empty(t, stats.ClusterCounts)
	assert.Equal(t, 0, stats.SummarizedRows)
}

func TestStage_RunMissingScoresIsFatal(t *testing.T) {
	store := newTestStore(t)
	stage, err := NewStage(reportConfig(), store, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = stage.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, pipeline.ActionHalt, pipeline.ClassifyError(err))
}

func TestNewStage_RequiresFactoryForExport(t *testing.T) {
	store := newTestStore(t)
	cfg := reportConfig()
	cfg.PostgresExport = true

	_, err := NewStage(cfg, store, nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}
