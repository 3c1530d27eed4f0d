// pkg/model/features_test.go
package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFeatureNames_VectorAgreement verifies the vector and the name list stay in lockstep
func TestFeatureNames_VectorAgreement(t *testing.T) {
	w := &WalletFeatures{
		Wallet:                  "0xabc",
		TxCount:                 10,
		UniqueToCount:           3,
		EthSentTotal:            5.5,
		GasPriceAvg:             20,
		GasPriceStd:             1.5,
		SelfTxCount:             1,
		AvgEthPerTx:             0.55,
		ContractInteractionRate: 0.2,
		ActiveDays:              4,
		TxVelocity:              2.5,
		TxEntropy:               1.58,
	}

	names := FeatureNames()
	vector := w.Vector()
	require.Len(t, vector, len(names))

	m := w.FeatureMap()
	require.Len(t, m, len(names))
	assert.Equal(t, float64(10), m[FeatureTxCount])
	assert.Equal(t, float64(3), m[FeatureUniqueToCount])
	assert.Equal(t, 5.5, m[FeatureEthSentTotal])
	assert.Equal(t, 0.2, m[FeatureContractInteractionRate])
	assert.Equal(t, float64(4), m[FeatureActiveDays])
	assert.Equal(t, 1.58, m[FeatureTxEntropy])

	for i, name := range names {
		assert.Equal(t, m[name], vector[i], "vector index %d should match %s", i, name)
	}
}

// TestMapSourceLabel covers the full source label domain plus unknowns
func TestMapSourceLabel(t *testing.T) {
	assert.Equal(t, LabelBenign, MapSourceLabel("benign"))
	assert.Equal(t, LabelMalicious, MapSourceLabel("Other"))
	assert.Equal(t, LabelMalicious, MapSourceLabel("Hack Scam"))
	assert.Equal(t, LabelMalicious, MapSourceLabel("Metamorphic Contract"))
	assert.Equal(t, LabelUnknown, MapSourceLabel(""))
	assert.Equal(t, LabelUnknown, MapSourceLabel("exchange"))
	// Casing matters: the source lists use these exact strings
	assert.Equal(t, LabelUnknown, MapSourceLabel("Benign"))
}

// TestNewSHAPAttribution keeps the top contributions by absolute value
func TestNewSHAPAttribution(t *testing.T) {
	record := ShapRecord{
		ShapValues: []float64{0.1, -0.9, 0.3, 0.05, -0.2, 0, 0, 0, 0, 0.7, 0},
	}

	attr := NewSHAPAttribution(record, 3)
	assert.Equal(t, AttributionSHAPBased, attr.Kind)
	require.Len(t, attr.Contributions, 3)

	assert.Equal(t, FeatureUniqueToCount, attr.Contributions[0].Feature)
	assert.Equal(t, -0.9, attr.Contributions[0].Value)
	assert.Equal(t, FeatureTxVelocity, attr.Contributions[1].Feature)
	assert.Equal(t, FeatureEthSentTotal, attr.Contributions[2].Feature)

	assert.Equal(t, "unique_to_count: -0.90, tx_velocity: 0.70, eth_sent_total: 0.30", attr.Format())
}

// TestNewHeuristicAttribution reads the fixed fallback features off the row
func TestNewHeuristicAttribution(t *testing.T) {
	w := &WalletFeatures{TxVelocity: 3.456, TxEntropy: 1.2, GasPriceStd: 0.5}

	attr := NewHeuristicAttribution(w)
	assert.Equal(t, AttributionHeuristic, attr.Kind)
	require.Len(t, attr.Contributions, 3)
	assert.Equal(t, "tx_velocity: 3.46, tx_entropy: 1.20, gas_price_std: 0.50", attr.Format())
}

// TestAttributionKind_String names both variants
func TestAttributionKind_String(t *testing.T) {
	assert.Equal(t, "shap", AttributionSHAPBased.String())
	assert.Equal(t, "heuristic", AttributionHeuristic.String())
}
