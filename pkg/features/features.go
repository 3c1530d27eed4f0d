// pkg/features/features.go
package features

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/config"
	"github.com/chainintel/chainintel/pkg/ingest"
	"github.com/chainintel/chainintel/pkg/model"
	"github.com/chainintel/chainintel/pkg/pipeline"
)

// Stage turns the normalized transaction table into one feature vector per
// sending wallet
type Stage struct {
	cfg    *config.Config
	store  *artifact.Store
	logger *zap.Logger
}

// NewStage creates the feature extraction stage
func NewStage(cfg *config.Config, store *artifact.Store, logger *zap.Logger) (*Stage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if logger == nil {
		logger = zap.L().Named("features")
	}

	return &Stage{cfg: cfg, store: store, logger: logger}, nil
}

func (s *Stage) Name() string {
	return pipeline.StageFeatures
}

func (s *Stage) Dependencies() []string {
	return []string{pipeline.StageIngest}
}

func (s *Stage) RequiredArtifacts() []string {
	return []string{s.store.ProcessedPath(artifact.NormalizedTxCSV)}
}

// Run computes the per-wallet feature table and writes it as parquet plus a
// CSV mirror
func (s *Stage) Run(ctx context.Context) (pipeline.StageResult, error) {
	// Step 1: Load the normalized transaction table
	txs, err := ingest.ReadNormalizedTransactions(s.store)
	if err != nil {
		return pipeline.StageResult{}, pipeline.NewFatalInputError(s.Name(), artifact.NormalizedTxCSV, err)
	}

	// Step 2: Group transactions by sending wallet
	groups := make(map[string][]model.Transaction)
	for _, tx := range txs {
		groups[tx.FromAddress] = append(groups[tx.FromAddress], tx)
	}

	wallets := make([]string, 0, len(groups))
	for wallet := range groups {
		wallets = append(wallets, wallet)
	}
	sort.Strings(wallets)

	// Step 3: Compute feature vectors across wallet shards
	results, err := s.computeAll(ctx, wallets, groups)
	if err != nil {
		return pipeline.StageResult{}, err
	}

	// Step 4: Join source labels onto the feature table
	labeled := joinLabels(results, txs)

	// Step 5: Validate the table before anything downstream consumes it
	if err := checkFeatureTable(results); err != nil {
		return pipeline.StageResult{}, err
	}

	// Step 6: Persist the feature table
	if err := WriteFeatures(s.store, results); err != nil {
		return pipeline.StageResult{}, fmt.Errorf("failed to write feature table: %w", err)
	}

	s.logger.Info("Feature extraction completed",
		zap.Int("transactions", len(txs)),
		zap.Int("wallets", len(results)),
		zap.Int("labeledWallets", labeled),
		zap.String("artifact", artifact.WalletFeaturesParquet))

	return pipeline.StageResult{RowsIn: len(txs), RowsOut: len(results)}, nil
}

// computeAll fans the per-wallet computation out over a bounded worker group.
// Results land at the wallet's index, so the output order is deterministic
// regardless of scheduling
func (s *Stage) computeAll(ctx context.Context, wallets []string, groups map[string][]model.Transaction) ([]model.WalletFeatures, error) {
	workers := s.cfg.WorkerPoolSize
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]model.WalletFeatures, len(wallets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	chunk := (len(wallets) + workers - 1) / workers
	if chunk < 1 {
		chunk = 1
	}

	for start := 0; start < len(wallets); start += chunk {
		start := start
		end := start + chunk
		if end > len(wallets) {
			end = len(wallets)
		}

		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				results[i] = computeWalletFeatures(wallets[i], groups[wallets[i]])
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute wallet features: %w", err)
	}

	return results, nil
}

// joinLabels maps each wallet's source label onto its feature row and returns
// how many wallets ended up labeled. Wallets without a known label keep
// LabelUnknown
func joinLabels(results []model.WalletFeatures, txs []model.Transaction) int {
	walletLabels := make(map[string]int)
	for _, tx := range txs {
		if tx.FromLabel == "" {
			continue
		}
		walletLabels[tx.FromAddress] = model.MapSourceLabel(tx.FromLabel)
	}

	labeled := 0
	for i := range results {
		label, ok := walletLabels[results[i].Wallet]
		if !ok {
			continue
		}
		results[i].Label = label
		if label != model.LabelUnknown {
			labeled++
		}
	}
	return labeled
}

// checkFeatureTable asserts the invariants downstream stages rely on: one row
// per wallet and no undefined feature values
func checkFeatureTable(results []model.WalletFeatures) error {
	for i, f := range results {
		if i > 0 && results[i-1].Wallet == f.Wallet {
			return pipeline.NewDataQualityError(pipeline.StageFeatures, "wallet_uniqueness",
				fmt.Sprintf("wallet %s appears more than once", f.Wallet))
		}
		if name, bad := hasNaN(f); bad {
			return pipeline.NewDataQualityError(pipeline.StageFeatures, "nan_check",
				fmt.Sprintf("wallet %s has NaN in %s", f.Wallet, name))
		}
	}
	return nil
}
