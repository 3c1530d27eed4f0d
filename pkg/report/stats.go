// pkg/report/stats.go
package report

import (
	"sort"
	"strings"

	"github.com/chainintel/chainintel/pkg/model"
)

// statsSampleSize bounds the row sample embedded in the stats artifact
const statsSampleSize = 10

// topFeatureLimit bounds the feature mention ranking
const topFeatureLimit = 10

type featureMention struct {
	Feature string `json:"feature"`
	Count   int    `json:"count"`
}

type sampleRow struct {
	Wallet       string `json:"wallet"`
	Summary      string `json:"summary"`
	ClusterID    *int   `json:"cluster_id"`
	AnomalyScore int    `json:"anomaly_score"`
}

// reportStats summarizes the report for review without loading the full table
type reportStats struct {
	TotalWallets   int              `json:"total_wallets"`
	AnomalyCounts  map[int]int      `json:"anomaly_counts"`
	ClusterCounts  map[int]int      `json:"cluster_counts"`
	TopFeatures    []featureMention `json:"top_feature_mentions"`
	SummarizedRows int              `json:"summarized_rows"`
	Sample         []sampleRow      `json:"sample"`
}

// buildStats computes the distribution and mention statistics over the merged
// report. Wallets without a cluster stay out of the cluster distribution
func buildStats(rows []model.ReportRow) reportStats {
	stats := reportStats{
		TotalWallets:  len(rows),
		AnomalyCounts: make(map[int]int),
		ClusterCounts: make(map[int]int),
	}

	mentions := make(map[string]int)
	for i := range rows {
		row := &rows[i]
		stats.AnomalyCounts[row.AnomalyScore]++
		if row.ClusterID != nil {
			stats.ClusterCounts[*row.ClusterID]++
		}
		if row.Summary != "" {
			stats.SummarizedRows++
		}
		countFeatureMentions(mentions, row.TopFeatures)
	}

	stats.TopFeatures = rankMentions(mentions, topFeatureLimit)

	sampleSize := statsSampleSize
	if sampleSize > len(rows) {
		sampleSize = len(rows)
	}
	stats.Sample = make([]sampleRow, 0, sampleSize)
	for i := 0; i < sampleSize; i++ {
		stats.Sample = append(stats.Sample, sampleRow{
			Wallet:       rows[i].Wallet,
			Summary:      rows[i].Summary,
			ClusterID:    rows[i].ClusterID,
			AnomalyScore: rows[i].AnomalyScore,
		})
	}
	return stats
}

// countFeatureMentions tallies feature names out of a rendered
// "feature: value, feature: value" attribution string
func countFeatureMentions(mentions map[string]int, topFeatures string) {
	if topFeatures == "" {
		return
	}
	for _, part := range strings.Split(topFeatures, ", ") {
		name := strings.TrimSpace(strings.SplitN(part, ":", 2)[0])
		if name != "" {
			mentions[name]++
		}
	}
}

// rankMentions orders mentions by count, ties broken by name for stable output
func rankMentions(mentions map[string]int, limit int) []featureMention {
	ranked := make([]featureMention, 0, len(mentions))
	for name, count := range mentions {
		ranked = append(ranked, featureMention{Feature: name, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Feature < ranked[j].Feature
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
