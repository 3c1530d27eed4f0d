// pkg/features/compute.go
package features

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/chainintel/chainintel/pkg/model"
)

// contractPayloadThreshold is the payload length above which a transaction is
// treated as a contract interaction. Plain transfers carry "0x" or nothing;
// a call with a selector and arguments is always longer
const contractPayloadThreshold = 10

// computeWalletFeatures aggregates one sender's transactions into its feature
// vector. The label is joined separately
func computeWalletFeatures(wallet string, txs []model.Transaction) model.WalletFeatures {
	ethValues := make([]float64, len(txs))
	gasPrices := make([]float64, len(txs))
	destCounts := make(map[string]int)

	selfTx := 0
	contractTx := 0
	var minTS, maxTS time.Time

	for i, tx := range txs {
		ethValues[i] = tx.EthValue
		gasPrices[i] = tx.GasPrice

		// Empty destinations (contract creations, malformed rows) stay out
		// of the destination distribution
		if tx.ToAddress != "" {
			destCounts[tx.ToAddress]++
			if tx.ToAddress == wallet {
				selfTx++
			}
		}

		if len(tx.InputPayload) > contractPayloadThreshold {
			contractTx++
		}

		if !tx.BlockTimestamp.IsZero() {
			if minTS.IsZero() || tx.BlockTimestamp.Before(minTS) {
				minTS = tx.BlockTimestamp
			}
			if maxTS.IsZero() || tx.BlockTimestamp.After(maxTS) {
				maxTS = tx.BlockTimestamp
			}
		}
	}

	count := len(txs)
	f := model.WalletFeatures{
		Wallet:                  wallet,
		TxCount:                 count,
		UniqueToCount:           len(destCounts),
		SelfTxCount:             selfTx,
		EthSentTotal:            floats.Sum(ethValues),
		GasPriceAvg:             stat.Mean(gasPrices, nil),
		AvgEthPerTx:             stat.Mean(ethValues, nil),
		ContractInteractionRate: float64(contractTx) / float64(count),
		TxEntropy:               destinationEntropy(destCounts),
		Label:                   model.LabelUnknown,
	}

	// Sample standard deviation needs at least two observations
	if count >= 2 {
		f.GasPriceStd = stat.StdDev(gasPrices, nil)
	}

	// The day span is inclusive of both endpoints. Wallets without a single
	// valid timestamp get the fill values: one active day, zero velocity
	if !minTS.IsZero() {
		f.ActiveDays = int(maxTS.Sub(minTS)/(24*time.Hour)) + 1
		f.TxVelocity = float64(count) / float64(f.ActiveDays)
	} else {
		f.ActiveDays = 1
	}

	return f
}

// destinationEntropy returns the Shannon entropy, in bits, of the
// destination-address distribution
func destinationEntropy(destCounts map[string]int) float64 {
	if len(destCounts) == 0 {
		return 0
	}

	total := 0
	for _, c := range destCounts {
		total += c
	}

	probs := make([]float64, 0, len(destCounts))
	for _, c := range destCounts {
		probs = append(probs, float64(c)/float64(total))
	}

	return stat.Entropy(probs) / math.Ln2
}

// hasNaN reports whether any feature value is NaN. The fill rules above make
// NaN unreachable from well-formed input, so a hit means the artifact upstream
// is corrupted
func hasNaN(f model.WalletFeatures) (string, bool) {
	names := model.FeatureNames()
	for i, v := range f.Vector() {
		if math.IsNaN(v) {
			return names[i], true
		}
	}
	return "", false
}
