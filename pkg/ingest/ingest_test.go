package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/config"
	"github.com/chainintel/chainintel/pkg/connector"
	"github.com/chainintel/chainintel/pkg/model"
	"github.com/chainintel/chainintel/pkg/pipeline"
)

func TestNormalizer_LowercasesAddresses(t *testing.T) {
	normalizer := NewNormalizer(zaptest.NewLogger(t))

	tx, keep := normalizer.Normalize(model.Transaction{
		FromAddress:    "0xAbCdEf",
		ToAddress:      "0x123ABC",
		BlockTimestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	require.True(t, keep)
	assert.Equal(t, "0xabcdef", tx.FromAddress)
	assert.Equal(t, "0x123abc", tx.ToAddress)

	ops := normalizer.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, "from_address", ops[0].Field)
	assert.Equal(t, "address_lowercase", ops[0].Operation)
	assert.Equal(t, 1, ops[0].Count)
	assert.Equal(t, []string{"0xAbCdEf"}, ops[0].Samples)
}

func TestNormalizer_DropsMissingSender(t *testing.T) {
	normalizer := NewNormalizer(zaptest.NewLogger(t))

	_, keep := normalizer.Normalize(model.Transaction{
		FromAddress: "   ",
		ToAddress:   "0xdef",
	})
	assert.False(t, keep)

	ops := normalizer.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, "drop_row", ops[0].Operation)
}

func TestNormalizer_ConvertsTimestampsToUTC(t *testing.T) {
	normalizer := NewNormalizer(zaptest.NewLogger(t))
	zone := time.FixedZone("CEST", 2*60*60)

	tx, keep := normalizer.Normalize(model.Transaction{
		FromAddress:    "0xabc",
		ToAddress:      "0xdef",
		BlockTimestamp: time.Date(2024, 3, 5, 8, 0, 0, 0, zone),
	})
	require.True(t, keep)
	assert.Equal(t, time.UTC, tx.BlockTimestamp.Location())
	assert.Equal(t, time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC), tx.BlockTimestamp)

	ops := normalizer.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, "utc_conversion", ops[0].Operation)
}

func TestNormalizer_RecordsZeroTimestamps(t *testing.T) {
	normalizer := NewNormalizer(zaptest.NewLogger(t))

	tx, keep := normalizer.Normalize(model.Transaction{
		FromAddress: "0xabc",
		ToAddress:   "0xdef",
	})
	require.True(t, keep)
	assert.True(t, tx.BlockTimestamp.IsZero())

	ops := normalizer.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, "zero_value", ops[0].Operation)
}

func TestNormalizer_AggregatesCountsAndCapsSamples(t *testing.T) {
	normalizer := NewNormalizer(zaptest.NewLogger(t))

	for i := 0; i < 10; i++ {
		_, keep := normalizer.Normalize(model.Transaction{
			FromAddress:    "0xABC",
			ToAddress:      "0xdef",
			BlockTimestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		})
		require.True(t, keep)
	}

	ops := normalizer.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, 10, ops[0].Count)
	assert.Len(t, ops[0].Samples, maxSamplesPerOperation)
}

func TestBuildLabelMap_LaterEntriesWin(t *testing.T) {
	labelMap := BuildLabelMap([]model.LabeledAddress{
		{Address: "0xBAD", Label: "Hack Scam"},
		{Address: "0xother", Label: "Other"},
		{Address: "0xbad", Label: "benign"},
		{Address: "  ", Label: "benign"},
	})

	assert.Equal(t, map[string]string{
		"0xbad":   "benign",
		"0xother": "Other",
	}, labelMap)
}

func writeIngestFixtures(t *testing.T, feedRows string) (*connector.ConnectorFactory, *artifact.Store) {
	t.Helper()
	dir := t.TempDir()

	feedPath := filepath.Join(dir, "transactions.csv")
	require.NoError(t, os.WriteFile(feedPath, []byte(feedRows), 0o644))

	criminalPath := filepath.Join(dir, "criminal.tsv")
	require.NoError(t, os.WriteFile(criminalPath, []byte(
		"address\tlabel\n0xbad1\tHack Scam\n0xFLIP\tMetamorphic Contract\n"), 0o644))

	benignPath := filepath.Join(dir, "benign.tsv")
	require.NoError(t, os.WriteFile(benignPath, []byte(
		"address\tlabel\n0xgood1\tbenign\n0xflip\tbenign\n"), 0o644))

	cfg := &config.Config{
		TransactionFeed:    config.FeedCSV,
		TransactionsPath:   feedPath,
		BenignLabelsPath:   benignPath,
		CriminalLabelsPath: criminalPath,
	}
	factory := connector.NewConnectorFactory(cfg, zaptest.NewLogger(t))

	store, err := artifact.NewStore(
		filepath.Join(dir, "data"),
		filepath.Join(dir, "models"),
		filepath.Join(dir, "explain"),
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)

	return factory, store
}

func TestStage_Run(t *testing.T) {
	feed := "from,to,value,gasprice,timestamp,input\n" +
		"0xBAD1,0xGood1,1.5,2000000000,2024-03-01T10:00:00Z,0xa9059cbb000000\n" +
		"0xFLIP,0xbad1,0.5,1000000000,2024-03-05 08:00:00+02:00,0x\n" +
		",0xgood1,0.1,100,2024-03-06T00:00:00Z,\n"
	factory, store := writeIngestFixtures(t, feed)

	stage, err := NewStage(factory, store, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageIngest, stage.Name())

	result, err := stage.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.RowsIn)
	assert.Equal(t, 2, result.RowsOut)

	txs, err := ReadNormalizedTransactions(store)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	// Addresses lower-cased, labels joined through the folded table
	assert.Equal(t, "0xbad1", txs[0].FromAddress)
	assert.Equal(t, "0xgood1", txs[0].ToAddress)
	assert.Equal(t, "Hack Scam", txs[0].FromLabel)
	assert.Equal(t, "benign", txs[0].ToLabel)
	assert.Equal(t, 1.5, txs[0].EthValue)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), txs[0].BlockTimestamp)

	// The double-listed address resolves to its benign entry
	assert.Equal(t, "0xflip", txs[1].FromAddress)
	assert.Equal(t, "benign", txs[1].FromLabel)
	assert.Equal(t, "Hack Scam", txs[1].ToLabel)

	// Zoned timestamps come back as UTC instants
	assert.Equal(t, time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC), txs[1].BlockTimestamp)
}

func TestStage_RunEmptyFeedIsFatal(t *testing.T) {
	factory, store := writeIngestFixtures(t, "from,to,value,gasprice,timestamp\n")

	stage, err := NewStage(factory, store, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = stage.Run(context.Background())
	require.Error(t, err)

	var inputErr *pipeline.FatalInputError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, pipeline.ActionHalt, pipeline.ClassifyError(err))

	// Nothing is written on failure
	assert.False(t, store.Exists(store.ProcessedPath(artifact.NormalizedTxCSV)))
}

func TestStage_RunMissingLabelFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		TransactionFeed:    config.FeedCSV,
		TransactionsPath:   filepath.Join(dir, "absent.csv"),
		BenignLabelsPath:   filepath.Join(dir, "absent-benign.tsv"),
		CriminalLabelsPath: filepath.Join(dir, "absent-criminal.tsv"),
	}
	factory := connector.NewConnectorFactory(cfg, zaptest.NewLogger(t))

	store, err := artifact.NewStore(
		filepath.Join(dir, "data"),
		filepath.Join(dir, "models"),
		filepath.Join(dir, "explain"),
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)

	stage, err := NewStage(factory, store, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = stage.Run(context.Background())
	require.Error(t, err)

	var inputErr *pipeline.FatalInputError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, "address labels", inputErr.Artifact)
}
