package features

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/config"
	"github.com/chainintel/chainintel/pkg/model"
	"github.com/chainintel/chainintel/pkg/pipeline"
)

func newTestStore(t *testing.T) *artifact.Store {
	t.Helper()

	base := t.TempDir()
	store, err := artifact.NewStore(
		filepath.Join(base, "data"),
		filepath.Join(base, "models"),
		filepath.Join(base, "explainability"),
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	return store
}

func ts(day, hour int) time.Time {
	return time.Date(2024, time.January, day, hour, 0, 0, 0, time.UTC)
}

func TestComputeWalletFeatures_Formulas(t *testing.T) {
	txs := []model.Transaction{
		{FromAddress: "0xaaa", ToAddress: "0xbbb", EthValue: 1.0, GasPrice: 10, BlockTimestamp: ts(1, 10), InputPayload: "0x"},
		{FromAddress: "0xaaa", ToAddress: "0xbbb", EthValue: 2.0, GasPrice: 20, BlockTimestamp: ts(2, 10), InputPayload: "0xa9059cbb00"},
		{FromAddress: "0xaaa", ToAddress: "0xccc", EthValue: 3.0, GasPrice: 30, BlockTimestamp: ts(3, 10), InputPayload: ""},
		{FromAddress: "0xaaa", ToAddress: "0xaaa", EthValue: 0.0, GasPrice: 40, BlockTimestamp: ts(4, 9), InputPayload: ""},
	}

	f := computeWalletFeatures("0xaaa", txs)

	assert.Equal(t, 4, f.TxCount)
	assert.Equal(t, 3, f.UniqueToCount)
	assert.InDelta(t, 6.0, f.EthSentTotal, 1e-9)
	assert.InDelta(t, 25.0, f.GasPriceAvg, 1e-9)
	// Sample standard deviation of 10, 20, 30, 40
	assert.InDelta(t, 12.909944487358056, f.GasPriceStd, 1e-9)
	assert.Equal(t, 1, f.SelfTxCount)
	assert.InDelta(t, 1.5, f.AvgEthPerTx, 1e-9)
	assert.InDelta(t, 0.25, f.ContractInteractionRate, 1e-9)
	// Span is 2 days 23 hours, truncated to 2, plus 1 for the first day
	assert.Equal(t, 3, f.ActiveDays)
	assert.InDelta(t, 4.0/3.0, f.TxVelocity, 1e-9)
	// Destinations split 2/1/1 over four transfers
	assert.InDelta(t, 1.5, f.TxEntropy, 1e-9)
	assert.Equal(t, model.LabelUnknown, f.Label)
}

func TestComputeWalletFeatures_SingleTransaction(t *testing.T) {
	txs := []model.Transaction{
		{FromAddress: "0xaaa", ToAddress: "0xbbb", EthValue: 1.0, GasPrice: 10, BlockTimestamp: ts(1, 0)},
	}

	f := computeWalletFeatures("0xaaa", txs)

	assert.Equal(t, 1, f.TxCount)
	assert.InDelta(t, 0, f.GasPriceStd, 1e-9)
	assert.Equal(t, 1, f.ActiveDays)
	assert.InDelta(t, 1.0, f.TxVelocity, 1e-9)
	assert.InDelta(t, 0, f.TxEntropy, 1e-9)
}

func TestComputeWalletFeatures_NoValidTimestamps(t *testing.T) {
	txs := []model.Transaction{
		{FromAddress: "0xaaa", ToAddress: "0xbbb", EthValue: 1.0},
		{FromAddress: "0xaaa", ToAddress: "0xccc", EthValue: 2.0},
	}

	f := computeWalletFeatures("0xaaa", txs)

	assert.Equal(t, 1, f.ActiveDays)
	assert.InDelta(t, 0, f.TxVelocity, 1e-9)
}

func TestComputeWalletFeatures_EmptyDestinationsSkipped(t *testing.T) {
	txs := []model.Transaction{
		{FromAddress: "0xaaa", ToAddress: "", EthValue: 1.0, BlockTimestamp: ts(1, 0)},
		{FromAddress: "0xaaa", ToAddress: "", EthValue: 2.0, BlockTimestamp: ts(2, 0)},
	}

	f := computeWalletFeatures("0xaaa", txs)

	assert.Equal(t, 0, f.UniqueToCount)
	assert.Equal(t, 0, f.SelfTxCount)
	assert.InDelta(t, 0, f.TxEntropy, 1e-9)
	assert.Equal(t, 2, f.ActiveDays)
}

func TestDestinationEntropy(t *testing.T) {
	tests := []struct {
		name   string
		counts map[string]int
		want   float64
	}{
		{name: "empty", counts: map[string]int{}, want: 0},
		{name: "single destination", counts: map[string]int{"0xa": 5}, want: 0},
		{name: "two equal destinations", counts: map[string]int{"0xa": 3, "0xb": 3}, want: 1.0},
		{name: "four equal destinations", counts: map[string]int{"0xa": 1, "0xb": 1, "0xc": 1, "0xd": 1}, want: 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, destinationEntropy(tt.counts), 1e-9)
		})
	}
}

func TestJoinLabels(t *testing.T) {
	results := []model.WalletFeatures{
		{Wallet: "0xaaa", Label: model.LabelUnknown},
		{Wallet: "0xbbb", Label: model.LabelUnknown},
		{Wallet: "0xccc", Label: model.LabelUnknown},
	}
	txs := []model.Transaction{
		{FromAddress: "0xaaa", FromLabel: "Hack Scam"},
		{FromAddress: "0xbbb", FromLabel: "benign"},
		{FromAddress: "0xccc", FromLabel: ""},
	}

	labeled := joinLabels(results, txs)

	assert.Equal(t, 2, labeled)
	assert.Equal(t, model.LabelMalicious, results[0].Label)
	assert.Equal(t, model.LabelBenign, results[1].Label)
	assert.Equal(t, model.LabelUnknown, results[2].Label)
}

func TestCheckFeatureTable_DuplicateWallet(t *testing.T) {
	results := []model.WalletFeatures{
		{Wallet: "0xaaa", ActiveDays: 1},
		{Wallet: "0xaaa", ActiveDays: 1},
	}

	err := checkFeatureTable(results)
	require.Error(t, err)

	var qualityErr *pipeline.DataQualityError
	require.ErrorAs(t, err, &qualityErr)
	assert.Equal(t, "wallet_uniqueness", qualityErr.Check)
}

func TestCheckFeatureTable_NaN(t *testing.T) {
	bad := model.WalletFeatures{Wallet: "0xaaa", ActiveDays: 1}
	bad.TxEntropy = nan()

	err := checkFeatureTable([]model.WalletFeatures{bad})
	require.Error(t, err)

	var qualityErr *pipeline.DataQualityError
	require.ErrorAs(t, err, &qualityErr)
	assert.Equal(t, "nan_check", qualityErr.Check)
	assert.Contains(t, qualityErr.Detail, "tx_entropy")
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}

func writeNormalizedFixture(t *testing.T, store *artifact.Store) {
	t.Helper()

	header := []string{"from_address", "to_address", "eth_value", "gas_price", "block_timestamp", "input_payload", "from_label", "to_label"}
	rows := [][]string{
		{"0xaaa", "0xbbb", "1.5", "10", "2024-01-01T00:00:00Z", "0xa9059cbb0000", "Hack Scam", ""},
		{"0xaaa", "0xccc", "0.5", "20", "2024-01-03T00:00:00Z", "0x", "Hack Scam", "benign"},
		{"0xbbb", "0xaaa", "2", "30", "2024-01-02T00:00:00Z", "", "benign", "Hack Scam"},
		{"0xccc", "", "0", "40", "", "", "", ""},
	}
	require.NoError(t, store.WriteCSV(store.ProcessedPath(artifact.NormalizedTxCSV), header, rows))
}

func TestStage_Run(t *testing.T) {
	store := newTestStore(t)
	writeNormalizedFixture(t, store)

	stage, err := NewStage(&config.Config{WorkerPoolSize: 2}, store, zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := stage.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, result.RowsIn)
	assert.Equal(t, 3, result.RowsOut)

	got, err := ReadFeatures(store)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Output is sorted by wallet
	assert.Equal(t, "0xaaa", got[0].Wallet)
	assert.Equal(t, "0xbbb", got[1].Wallet)
	assert.Equal(t, "0xccc", got[2].Wallet)

	aaa := got[0]
	assert.Equal(t, 2, aaa.TxCount)
	assert.Equal(t, 2, aaa.UniqueToCount)
	assert.InDelta(t, 2.0, aaa.EthSentTotal, 1e-9)
	assert.InDelta(t, 15.0, aaa.GasPriceAvg, 1e-9)
	assert.InDelta(t, 7.0710678118654755, aaa.GasPriceStd, 1e-9)
	assert.InDelta(t, 0.5, aaa.ContractInteractionRate, 1e-9)
	assert.Equal(t, 3, aaa.ActiveDays)
	assert.InDelta(t, 1.0, aaa.TxEntropy, 1e-9)
	assert.Equal(t, model.LabelMalicious, aaa.Label)

	assert.Equal(t, model.LabelBenign, got[1].Label)
	assert.Equal(t, model.LabelUnknown, got[2].Label)

	// Wallet with no destination and no timestamp falls back to fill values
	ccc := got[2]
	assert.Equal(t, 0, ccc.UniqueToCount)
	assert.Equal(t, 1, ccc.ActiveDays)
	assert.InDelta(t, 0, ccc.TxVelocity, 1e-9)

	// CSV mirror carries the same schema
	gotHeader, csvRows, err := store.ReadCSV(store.ProcessedPath(artifact.WalletFeaturesCSV))
	require.NoError(t, err)
	assert.Equal(t, FeatureTableHeader(), gotHeader)
	assert.Len(t, csvRows, 3)
}

func TestStage_RunDeterministic(t *testing.T) {
	store := newTestStore(t)
	writeNormalizedFixture(t, store)

	stage, err := NewStage(&config.Config{WorkerPoolSize: 4}, store, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = stage.Run(context.Background())
	require.NoError(t, err)
	first, err := ReadFeatures(store)
	require.NoError(t, err)

	_, err = stage.Run(context.Background())
	require.NoError(t, err)
	second, err := ReadFeatures(store)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestStage_RunMissingInputIsFatal(t *testing.T) {
	store := newTestStore(t)

	stage, err := NewStage(&config.Config{}, store, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = stage.Run(context.Background())
	require.Error(t, err)

	var inputErr *pipeline.FatalInputError
	require.True(t, errors.As(err, &inputErr))
	assert.Equal(t, pipeline.ActionHalt, pipeline.ClassifyError(err))
}
