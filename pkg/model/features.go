// pkg/model/features.go
package model

// Feature column names in their fixed artifact order
const (
	FeatureTxCount                 = "tx_count"
	FeatureUniqueToCount           = "unique_to_count"
	FeatureEthSentTotal            = "eth_sent_total"
	FeatureGasPriceAvg             = "gas_price_avg"
	FeatureGasPriceStd             = "gas_price_std"
	FeatureSelfTxCount             = "self_tx_count"
	FeatureAvgEthPerTx             = "avg_eth_per_tx"
	FeatureContractInteractionRate = "contract_interaction_rate"
	FeatureActiveDays              = "active_days"
	FeatureTxVelocity              = "tx_velocity"
	FeatureTxEntropy               = "tx_entropy"
)

// FeatureNames returns the feature columns in their fixed order
// The order is a contract: Vector, the persisted artifacts, and the
// explainability output all index features by this sequence
func FeatureNames() []string {
	return []string{
		FeatureTxCount,
		FeatureUniqueToCount,
		FeatureEthSentTotal,
		FeatureGasPriceAvg,
		FeatureGasPriceStd,
		FeatureSelfTxCount,
		FeatureAvgEthPerTx,
		FeatureContractInteractionRate,
		FeatureActiveDays,
		FeatureTxVelocity,
		FeatureTxEntropy,
	}
}

// WalletFeatures is the per-wallet behavioral feature vector plus its label
type WalletFeatures struct {
	Wallet                  string  // Lower-cased hex address, unique across the table
	TxCount                 int     // Outgoing transaction count
	UniqueToCount           int     // Distinct recipients
	EthSentTotal            float64 // Total ETH moved out
	GasPriceAvg             float64 // Mean gas price
	GasPriceStd             float64 // Sample standard deviation of gas price
	SelfTxCount             int     // Transfers where sender == recipient
	AvgEthPerTx             float64 // Mean ETH per transaction
	ContractInteractionRate float64 // Share of transactions with payload length > 10
	ActiveDays              int     // Day span between first and last transaction, at least 1
	TxVelocity              float64 // TxCount / ActiveDays
	TxEntropy               float64 // Shannon entropy (base 2) of the recipient distribution
	Label                   int     // Ternary label; LabelUnknown for inference-only wallets
}

// Vector returns the feature values in FeatureNames order
func (w *WalletFeatures) Vector() []float64 {
	return []float64{
		float64(w.TxCount),
		float64(w.UniqueToCount),
		w.EthSentTotal,
		w.GasPriceAvg,
		w.GasPriceStd,
		float64(w.SelfTxCount),
		w.AvgEthPerTx,
		w.ContractInteractionRate,
		float64(w.ActiveDays),
		w.TxVelocity,
		w.TxEntropy,
	}
}

// FeatureMap returns the feature values keyed by column name
func (w *WalletFeatures) FeatureMap() map[string]float64 {
	names := FeatureNames()
	vector := w.Vector()
	m := make(map[string]float64, len(names))
	for i, name := range names {
		m[name] = vector[i]
	}
	return m
}
