// pkg/model/report.go
package model

import (
	"fmt"
	"sort"
	"strings"
)

// Anomaly score values after the polarity remap
const (
	AnomalyNormal    = 0
	AnomalyAnomalous = 1
)

// ScoredWallet is one row of the anomaly score artifact
type ScoredWallet struct {
	WalletFeatures
	AnomalyScore int // AnomalyNormal or AnomalyAnomalous
}

// ClusterAssignment is one row of the inference cluster artifact
type ClusterAssignment struct {
	Wallet    string
	ClusterID int
}

// LabeledClusterRow is one row of the labeled-population cluster artifact
// KMeans and DBSCAN assignments come from separate runs over the same matrix
type LabeledClusterRow struct {
	Wallet        string
	KMeansCluster int
	DBSCANCluster int // -1 marks DBSCAN noise
}

// ShapRecord is one wallet's entry in the explainability artifact
// ShapValues are indexed by FeatureNames order
type ShapRecord struct {
	Features   map[string]float64 `json:"features"`
	ShapValues []float64          `json:"shap_values"`
}

// WalletSummary is one wallet's entry in the narrative artifact
type WalletSummary struct {
	Summary      string `json:"summary"`
	ClusterID    *int   `json:"cluster_id"`
	AnomalyScore *int   `json:"anomaly_score"`
	TopFeatures  string `json:"top_features"`
}

// ReportRow is one wallet in the canonical risk report
// ClusterID and Summary stay unset for wallets outside the respective stages
type ReportRow struct {
	ScoredWallet
	ClusterID   *int
	Summary     string
	TopFeatures string
}

// AttributionKind discriminates how a wallet's top features were derived
type AttributionKind int

const (
	// AttributionSHAPBased means contributions come from the explainability artifact
	AttributionSHAPBased AttributionKind = iota
	// AttributionHeuristic means fixed fallback features read off the feature row
	AttributionHeuristic
)

// String returns a human-readable attribution kind
func (k AttributionKind) String() string {
	switch k {
	case AttributionSHAPBased:
		return "shap"
	case AttributionHeuristic:
		return "heuristic"
	default:
		return "unknown"
	}
}

// FeatureContribution is a single (feature, value) attribution pair
type FeatureContribution struct {
	Feature string
	Value   float64
}

// Attribution is a wallet's resolved feature attribution, tagged by its source
// Resolved once per wallet and consumed uniformly downstream
type Attribution struct {
	Kind          AttributionKind
	Contributions []FeatureContribution
}

// HeuristicFeatures are the fallback features used when no explainability
// record exists for a wallet
func HeuristicFeatures() []string {
	return []string{FeatureTxVelocity, FeatureTxEntropy, FeatureGasPriceStd}
}

// NewSHAPAttribution pairs explainability values with their feature names and
// keeps the strongest k contributions by absolute value
func NewSHAPAttribution(record ShapRecord, k int) Attribution {
	names := FeatureNames()
	n := len(record.ShapValues)
	if n > len(names) {
		n = len(names)
	}

	contribs := make([]FeatureContribution, 0, n)
	for i := 0; i < n; i++ {
		contribs = append(contribs, FeatureContribution{Feature: names[i], Value: record.ShapValues[i]})
	}

	sort.SliceStable(contribs, func(i, j int) bool {
		return abs(contribs[i].Value) > abs(contribs[j].Value)
	})

	if len(contribs) > k {
		contribs = contribs[:k]
	}

	return Attribution{Kind: AttributionSHAPBased, Contributions: contribs}
}

// NewHeuristicAttribution reads the fixed fallback features off the feature row
func NewHeuristicAttribution(features *WalletFeatures) Attribution {
	values := features.FeatureMap()
	contribs := make([]FeatureContribution, 0, len(HeuristicFeatures()))
	for _, name := range HeuristicFeatures() {
		contribs = append(contribs, FeatureContribution{Feature: name, Value: values[name]})
	}
	return Attribution{Kind: AttributionHeuristic, Contributions: contribs}
}

// Format renders the contributions as "feature: value" pairs
func (a Attribution) Format() string {
	parts := make([]string, 0, len(a.Contributions))
	for _, c := range a.Contributions {
		parts = append(parts, fmt.Sprintf("%s: %.2f", c.Feature, c.Value))
	}
	return strings.Join(parts, ", ")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
