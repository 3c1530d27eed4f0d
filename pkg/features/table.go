// pkg/features/table.go
package features

import (
	"fmt"
	"strconv"

	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/model"
)

// featureRow is the on-disk layout of one feature vector. Column order
// matches model.FeatureNames with the wallet key in front and the label
// behind
type featureRow struct {
	Wallet                  string  `parquet:"wallet"`
	TxCount                 int64   `parquet:"tx_count"`
	UniqueToCount           int64   `parquet:"unique_to_count"`
	EthSentTotal            float64 `parquet:"eth_sent_total"`
	GasPriceAvg             float64 `parquet:"gas_price_avg"`
	GasPriceStd             float64 `parquet:"gas_price_std"`
	SelfTxCount             int64   `parquet:"self_tx_count"`
	AvgEthPerTx             float64 `parquet:"avg_eth_per_tx"`
	ContractInteractionRate float64 `parquet:"contract_interaction_rate"`
	ActiveDays              int64   `parquet:"active_days"`
	TxVelocity              float64 `parquet:"tx_velocity"`
	TxEntropy               float64 `parquet:"tx_entropy"`
	Label                   int64   `parquet:"label"`
}

func toFeatureRow(f model.WalletFeatures) featureRow {
	return featureRow{
		Wallet:                  f.Wallet,
		TxCount:                 int64(f.TxCount),
		UniqueToCount:           int64(f.UniqueToCount),
		EthSentTotal:            f.EthSentTotal,
		GasPriceAvg:             f.GasPriceAvg,
		GasPriceStd:             f.GasPriceStd,
		SelfTxCount:             int64(f.SelfTxCount),
		AvgEthPerTx:             f.AvgEthPerTx,
		ContractInteractionRate: f.ContractInteractionRate,
		ActiveDays:              int64(f.ActiveDays),
		TxVelocity:              f.TxVelocity,
		TxEntropy:               f.TxEntropy,
		Label:                   int64(f.Label),
	}
}

func fromFeatureRow(r featureRow) model.WalletFeatures {
	return model.WalletFeatures{
		Wallet:                  r.Wallet,
		TxCount:                 int(r.TxCount),
		UniqueToCount:           int(r.UniqueToCount),
		EthSentTotal:            r.EthSentTotal,
		GasPriceAvg:             r.GasPriceAvg,
		GasPriceStd:             r.GasPriceStd,
		SelfTxCount:             int(r.SelfTxCount),
		AvgEthPerTx:             r.AvgEthPerTx,
		ContractInteractionRate: r.ContractInteractionRate,
		ActiveDays:              int(r.ActiveDays),
		TxVelocity:              r.TxVelocity,
		TxEntropy:               r.TxEntropy,
		Label:                   int(r.Label),
	}
}

// FeatureTableHeader returns the CSV column order of the feature table
func FeatureTableHeader() []string {
	header := make([]string, 0, len(model.FeatureNames())+2)
	header = append(header, "wallet")
	header = append(header, model.FeatureNames()...)
	header = append(header, "label")
	return header
}

// WriteFeatures persists the feature table as parquet, with a CSV mirror for
// inspection. The parquet file is what downstream stages read
func WriteFeatures(store *artifact.Store, results []model.WalletFeatures) error {
	rows := make([]featureRow, len(results))
	for i, f := range results {
		rows[i] = toFeatureRow(f)
	}

	if err := artifact.WriteParquet(store, store.ProcessedPath(artifact.WalletFeaturesParquet), rows); err != nil {
		return err
	}

	csvRows := make([][]string, len(results))
	for i := range results {
		csvRows[i] = FeatureValuesCSV(&results[i])
	}

	return store.WriteCSV(store.ProcessedPath(artifact.WalletFeaturesCSV), FeatureTableHeader(), csvRows)
}

// FeatureValuesCSV renders one feature row in FeatureTableHeader order.
// Counts stay integers so the CSV mirrors round-trip cleanly
func FeatureValuesCSV(f *model.WalletFeatures) []string {
	return []string{
		f.Wallet,
		strconv.Itoa(f.TxCount),
		strconv.Itoa(f.UniqueToCount),
		strconv.FormatFloat(f.EthSentTotal, 'g', -1, 64),
		strconv.FormatFloat(f.GasPriceAvg, 'g', -1, 64),
		strconv.FormatFloat(f.GasPriceStd, 'g', -1, 64),
		strconv.Itoa(f.SelfTxCount),
		strconv.FormatFloat(f.AvgEthPerTx, 'g', -1, 64),
		strconv.FormatFloat(f.ContractInteractionRate, 'g', -1, 64),
		strconv.Itoa(f.ActiveDays),
		strconv.FormatFloat(f.TxVelocity, 'g', -1, 64),
		strconv.FormatFloat(f.TxEntropy, 'g', -1, 64),
		strconv.Itoa(f.Label),
	}
}

// ParseFeatureValuesCSV parses a row produced by FeatureValuesCSV
func ParseFeatureValuesCSV(row []string) (model.WalletFeatures, error) {
	header := FeatureTableHeader()
	if len(row) < len(header) {
		return model.WalletFeatures{}, fmt.Errorf("row has %d columns, need %d", len(row), len(header))
	}

	var f model.WalletFeatures
	var err error
	f.Wallet = row[0]
	if f.TxCount, err = strconv.Atoi(row[1]); err != nil {
		return f, fmt.Errorf("failed to parse tx_count %q: %w", row[1], err)
	}
	if f.UniqueToCount, err = strconv.Atoi(row[2]); err != nil {
		return f, fmt.Errorf("failed to parse unique_to_count %q: %w", row[2], err)
	}
	if f.EthSentTotal, err = strconv.ParseFloat(row[3], 64); err != nil {
		return f, fmt.Errorf("failed to parse eth_sent_total %q: %w", row[3], err)
	}
	if f.GasPriceAvg, err = strconv.ParseFloat(row[4], 64); err != nil {
		return f, fmt.Errorf("failed to parse gas_price_avg %q: %w", row[4], err)
	}
	if f.GasPriceStd, err = strconv.ParseFloat(row[5], 64); err != nil {
		return f, fmt.Errorf("failed to parse gas_price_std %q: %w", row[5], err)
	}
	if f.SelfTxCount, err = strconv.Atoi(row[6]); err != nil {
		return f, fmt.Errorf("failed to parse self_tx_count %q: %w", row[6], err)
	}
	if f.AvgEthPerTx, err = strconv.ParseFloat(row[7], 64); err != nil {
		return f, fmt.Errorf("failed to parse avg_eth_per_tx %q: %w", row[7], err)
	}
	if f.ContractInteractionRate, err = strconv.ParseFloat(row[8], 64); err != nil {
		return f, fmt.Errorf("failed to parse contract_interaction_rate %q: %w", row[8], err)
	}
	if f.ActiveDays, err = strconv.Atoi(row[9]); err != nil {
		return f, fmt.Errorf("failed to parse active_days %q: %w", row[9], err)
	}
	if f.TxVelocity, err = strconv.ParseFloat(row[10], 64); err != nil {
		return f, fmt.Errorf("failed to parse tx_velocity %q: %w", row[10], err)
	}
	if f.TxEntropy, err = strconv.ParseFloat(row[11], 64); err != nil {
		return f, fmt.Errorf("failed to parse tx_entropy %q: %w", row[11], err)
	}
	if f.Label, err = strconv.Atoi(row[12]); err != nil {
		return f, fmt.Errorf("failed to parse label %q: %w", row[12], err)
	}
	return f, nil
}

// ReadFeatures loads the persisted feature table for downstream stages
func ReadFeatures(store *artifact.Store) ([]model.WalletFeatures, error) {
	rows, err := artifact.ReadParquet[featureRow](store, store.ProcessedPath(artifact.WalletFeaturesParquet))
	if err != nil {
		return nil, fmt.Errorf("failed to read feature table: %w", err)
	}

	results := make([]model.WalletFeatures, len(rows))
	for i, r := range rows {
		results[i] = fromFeatureRow(r)
	}
	return results, nil
}
