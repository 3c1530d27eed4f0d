// pkg/report/merge.go
package report

import (
	"fmt"
	"strconv"

	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/features"
	"github.com/chainintel/chainintel/pkg/model"
	"github.com/chainintel/chainintel/pkg/pipeline"
)

// buildReport left-joins cluster assignments and narrative summaries onto the
// anomaly score rows, one report row per scored wallet. Where two sources
// carry the same field, the rightmost non-null value wins, so a summary
// written with a cluster ID overrides the cluster artifact it was derived from
func buildReport(scores []model.ScoredWallet, clusters []model.ClusterAssignment, summaries map[string]model.WalletSummary) ([]model.ReportRow, error) {
	clusterByWallet := make(map[string]int, len(clusters))
	for _, a := range clusters {
		if _, dup := clusterByWallet[a.Wallet]; dup {
			return nil, pipeline.NewDataQualityError(pipeline.StageReport, "cluster_uniqueness",
				fmt.Sprintf("duplicate wallet %s in cluster assignments", a.Wallet))
		}
		clusterByWallet[a.Wallet] = a.ClusterID
	}

	seen := make(map[string]bool, len(scores))
	rows := make([]model.ReportRow, 0, len(scores))
	for i := range scores {
		w := scores[i]
		if seen[w.Wallet] {
			return nil, pipeline.NewDataQualityError(pipeline.StageReport, "wallet_uniqueness",
				fmt.Sprintf("duplicate wallet %s in anomaly scores", w.Wallet))
		}
		seen[w.Wallet] = true

		row := model.ReportRow{ScoredWallet: w}
		if id, ok := clusterByWallet[w.Wallet]; ok {
			id := id
			row.ClusterID = &id
		}
		if summary, ok := summaries[w.Wallet]; ok {
			row.Summary = summary.Summary
			row.TopFeatures = summary.TopFeatures
			if summary.ClusterID != nil {
				id := *summary.ClusterID
				row.ClusterID = &id
			}
			if summary.AnomalyScore != nil {
				row.AnomalyScore = *summary.AnomalyScore
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// reportParquetRow is the parquet schema of the canonical report
type reportParquetRow struct {
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
	AnomalyScore            int64   `parquet:"anomaly_score"`
	ClusterID               *int64  `parquet:"cluster_id,optional"`
	Summary                 string  `parquet:"summary"`
	TopFeatures             string  `parquet:"top_features"`
}

func toReportParquetRow(row *model.ReportRow) reportParquetRow {
	out := reportParquetRow{
		Wallet:                  row.Wallet,
		TxCount:                 int64(row.TxCount),
		UniqueToCount:           int64(row.UniqueToCount),
		EthSentTotal:            row.EthSentTotal,
		GasPriceAvg:             row.GasPriceAvg,
		GasPriceStd:             row.GasPriceStd,
		SelfTxCount:             int64(row.SelfTxCount),
		AvgEthPerTx:             row.AvgEthPerTx,
		ContractInteractionRate: row.ContractInteractionRate,
		ActiveDays:              int64(row.ActiveDays),
		TxVelocity:              row.TxVelocity,
		TxEntropy:               row.TxEntropy,
		Label:                   int64(row.Label),
		AnomalyScore:            int64(row.AnomalyScore),
		Summary:                 row.Summary,
		TopFeatures:             row.TopFeatures,
	}
	if row.ClusterID != nil {
		id := int64(*row.ClusterID)
		out.ClusterID = &id
	}
	return out
}

// reportHeader extends the feature table columns with the merged fields
func reportHeader() []string {
	return append(features.FeatureTableHeader(), "anomaly_score", "cluster_id", "summary", "top_features")
}

// reportCSVValues renders one report row. A wallet without a cluster leaves
// the cell empty
func reportCSVValues(row *model.ReportRow) []string {
	clusterID := ""
	if row.ClusterID != nil {
		clusterID = strconv.Itoa(*row.ClusterID)
	}
	return append(features.FeatureValuesCSV(&row.WalletFeatures),
		strconv.Itoa(row.AnomalyScore), clusterID, row.Summary, row.TopFeatures)
}

// writeReport persists the canonical report as parquet with a CSV mirror
func writeReport(store *artifact.Store, rows []model.ReportRow) error {
	parquetRows := make([]reportParquetRow, len(rows))
	csvRows := make([][]string, len(rows))
	for i := range rows {
		parquetRows[i] = toReportParquetRow(&rows[i])
		csvRows[i] = reportCSVValues(&rows[i])
	}

	parquetPath := store.ProcessedPath(artifact.RiskReportParquet)
	if err := artifact.WriteParquet(store, parquetPath, parquetRows); err != nil {
		return fmt.Errorf("failed to write risk report parquet: %w", err)
	}

	csvPath := store.ProcessedPath(artifact.RiskReportCSV)
	if err := store.WriteCSV(csvPath, reportHeader(), csvRows); err != nil {
		return fmt.Errorf("failed to write risk report csv: %w", err)
	}
	return nil
}
