// pkg/artifact/names.go
package artifact

// Artifact file names. Each one is a contract between two stages; renaming
// any of them breaks downstream consumers including the dashboard
const (
	NormalizedTxCSV = "normalized_tx.csv"

	WalletFeaturesParquet = "wallet_features.parquet"
	WalletFeaturesCSV     = "wallet_features.csv"

	RandomForestModel = "random_forest.json"
	LogisticModel     = "logistic_regression.json"
	ModelMetricsJSON  = "model_metrics.json"
	ROCCurveCSV       = "roc_curve.csv"

	ShapSummaryCSV       = "shap_summary.csv"
	WalletShapValuesJSON = "wallet_shap_values.json"

	AnomalyScoresCSV = "tx_anomaly_scores.csv"

	InferenceClustersCSV        = "inference_wallet_clusters.csv"
	InferenceClusterSummaryJSON = "inference_cluster_summary.json"
	LabeledClustersCSV          = "wallet_clusters.csv"
	LabeledClusterSummaryJSON   = "wallet_cluster_summary.json"

	WalletSummariesJSON = "wallet_summaries.json"

	RiskReportParquet = "wallet_risk_report.parquet"
	RiskReportCSV     = "wallet_risk_report.csv"
	DemoWalletsCSV    = "demo_wallets.csv"
	ReportStatsJSON   = "report_stats.json"

	RunMetricsJSON = "run_metrics.json"
)
