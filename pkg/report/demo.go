// pkg/report/demo.go
package report

import (
	"fmt"
	"sort"

	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/model"
)

// selectDemoWallets picks the rows the review dashboard loads: every
// summarized wallet in report order, then the highest-scoring remainder up to
// topN, ordered by score with the wallet address breaking ties
func selectDemoWallets(rows []model.ReportRow, summaries map[string]model.WalletSummary, topN int) []model.ReportRow {
	selected := make([]model.ReportRow, 0, len(summaries)+topN)
	taken := make(map[string]bool, len(summaries))
	for i := range rows {
		if _, ok := summaries[rows[i].Wallet]; ok && !taken[rows[i].Wallet] {
			selected = append(selected, rows[i])
			taken[rows[i].Wallet] = true
		}
	}

	rest := make([]model.ReportRow, 0, len(rows)-len(selected))
	for i := range rows {
		if !taken[rows[i].Wallet] {
			rest = append(rest, rows[i])
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].AnomalyScore != rest[j].AnomalyScore {
			return rest[i].AnomalyScore > rest[j].AnomalyScore
		}
		return rest[i].Wallet < rest[j].Wallet
	})
	if len(rest) > topN {
		rest = rest[:topN]
	}

	return append(selected, rest...)
}

// writeDemoWallets persists the demo subset with the report's column layout
func writeDemoWallets(store *artifact.Store, rows []model.ReportRow) error {
	csvRows := make([][]string, len(rows))
	for i := range rows {
		csvRows[i] = reportCSVValues(&rows[i])
	}
	path := store.ProcessedPath(artifact.DemoWalletsCSV)
	if err := store.WriteCSV(path, reportHeader(), csvRows); err != nil {
		return fmt.Errorf("failed to write demo wallets: %w", err)
	}
	return nil
}
