// pkg/report/export.go
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainintel/chainintel/pkg/connector"
	"github.com/chainintel/chainintel/pkg/model"
	"github.com/chainintel/chainintel/pkg/pipeline"
)

const (
	reportTable     = "wallet_risk_report"
	runsTable       = "pipeline_runs"
	exportBatchSize = 500
	exportTimeout   = 30 * time.Second
)

// reportColumns lists the export columns in artifact order
func reportColumns() []string {
	return reportHeader()
}

// reportColumnDefs returns the report table schema. The export is a full
// snapshot, so every run replaces the table
func reportColumnDefs() []string {
	return []string{
		"wallet TEXT NOT NULL",
		"tx_count BIGINT NOT NULL",
		"unique_to_count BIGINT NOT NULL",
		"eth_sent_total DOUBLE PRECISION NOT NULL",
		"gas_price_avg DOUBLE PRECISION NOT NULL",
		"gas_price_std DOUBLE PRECISION NOT NULL",
		"self_tx_count BIGINT NOT NULL",
		"avg_eth_per_tx DOUBLE PRECISION NOT NULL",
		"contract_interaction_rate DOUBLE PRECISION NOT NULL",
		"active_days BIGINT NOT NULL",
		"tx_velocity DOUBLE PRECISION NOT NULL",
		"tx_entropy DOUBLE PRECISION NOT NULL",
		"label BIGINT NOT NULL",
		"anomaly_score BIGINT NOT NULL",
		"cluster_id BIGINT",
		"summary TEXT NOT NULL",
		"top_features TEXT NOT NULL",
	}
}

// reportValues converts one row into insert arguments, NULL for a missing cluster
func reportValues(row *model.ReportRow) []interface{} {
	var clusterID interface{}
	if row.ClusterID != nil {
		clusterID = int64(*row.ClusterID)
	}
	return []interface{}{
		row.Wallet,
		int64(row.TxCount),
		int64(row.UniqueToCount),
		row.EthSentTotal,
		row.GasPriceAvg,
		row.GasPriceStd,
		int64(row.SelfTxCount),
		row.AvgEthPerTx,
		row.ContractInteractionRate,
		int64(row.ActiveDays),
		row.TxVelocity,
		row.TxEntropy,
		int64(row.Label),
		int64(row.AnomalyScore),
		clusterID,
		row.Summary,
		row.TopFeatures,
	}
}

// runRecord is one append-only row of export metadata
type runRecord struct {
	ExportID          string    `db:"export_id"`
	ExportedAt        time.Time `db:"exported_at"`
	TotalWallets      int       `db:"total_wallets"`
	AnomalousWallets  int       `db:"anomalous_wallets"`
	SummarizedWallets int       `db:"summarized_wallets"`
}

// exportReport replaces the report table in PostgreSQL and appends an export
// metadata row. Failures surface as service errors, so a dead database
// degrades the run instead of halting it; the artifacts on disk stay canonical
func (s *Stage) exportReport(ctx context.Context, rows []model.ReportRow) (int64, error) {
	sink, err := s.factory.CreatePostgresSink(ctx)
	if err != nil {
		return 0, pipeline.NewServiceError("postgres", 1, err)
	}
	defer sink.Close()

	if err := sink.Validate(); err != nil {
		return 0, pipeline.NewServiceError("postgres", 1, err)
	}

	if err := sink.ReplaceTable(ctx, reportTable, reportColumnDefs(), "wallet"); err != nil {
		return 0, pipeline.NewServiceError("postgres", 1, err)
	}

	valueRows := make([][]interface{}, len(rows))
	for i := range rows {
		valueRows[i] = reportValues(&rows[i])
	}
	inserted, err := sink.BatchInsert(ctx, reportTable, reportColumns(), valueRows, exportBatchSize)
	if err != nil {
		return inserted, pipeline.NewServiceError("postgres", 1, err)
	}

	if err := s.recordExport(ctx, sink, rows); err != nil {
		return inserted, err
	}

	s.logger.Info("Report exported to PostgreSQL",
		zap.Int64("rows", inserted),
		zap.String("table", reportTable),
		zap.String("schema", sink.Schema()))
	return inserted, nil
}

// recordExport appends the export metadata row, creating the table on first use
func (s *Stage) recordExport(ctx context.Context, sink *connector.PostgresSink, rows []model.ReportRow) error {
	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
		export_id TEXT PRIMARY KEY,
		exported_at TIMESTAMPTZ NOT NULL,
		total_wallets BIGINT NOT NULL,
		anomalous_wallets BIGINT NOT NULL,
		summarized_wallets BIGINT NOT NULL
	)`, sink.Schema(), runsTable)
	if _, err := sink.ExecWithTimeout(ctx, createSQL, exportTimeout); err != nil {
		return pipeline.NewServiceError("postgres", 1, err)
	}

	record := runRecord{
		ExportID:   uuid.NewString(),
		ExportedAt: time.Now().UTC(),
	}
	for i := range rows {
		record.TotalWallets++
		if rows[i].AnomalyScore == model.AnomalyAnomalous {
			record.AnomalousWallets++
		}
		if rows[i].Summary != "" {
			record.SummarizedWallets++
		}
	}

	insertSQL := fmt.Sprintf(`INSERT INTO %s.%s
		(export_id, exported_at, total_wallets, anomalous_wallets, summarized_wallets)
		VALUES (:export_id, :exported_at, :total_wallets, :anomalous_wallets, :summarized_wallets)`,
		sink.Schema(), runsTable)
	if _, err := sink.NamedExecWithTimeout(ctx, insertSQL, exportTimeout, record); err != nil {
		return pipeline.NewServiceError("postgres", 1, err)
	}
	return nil
}
