// pkg/ingest/ingest.go
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/connector"
	"github.com/chainintel/chainintel/pkg/model"
	"github.com/chainintel/chainintel/pkg/pipeline"
)

// normalizedHeader is the column order of the normalized transaction artifact
var normalizedHeader = []string{
	"from_address",
	"to_address",
	"eth_value",
	"gas_price",
	"block_timestamp",
	"input_payload",
	"from_label",
	"to_label",
}

// Stage normalizes the raw transaction feed and annotates both sides of every
// transaction with the combined benign/criminal address labels. Its output is
// the sole input to feature extraction
type Stage struct {
	factory *connector.ConnectorFactory
	store   *artifact.Store
	logger  *zap.Logger
}

// NewStage creates the ingestion stage
func NewStage(factory *connector.ConnectorFactory, store *artifact.Store, logger *zap.Logger) (*Stage, error) {
	if factory == nil {
		return nil, errors.New("connector factory cannot be nil")
	}
	if store == nil {
		return nil, errors.New("artifact store cannot be nil")
	}
	if logger == nil {
		logger = zap.L().Named("ingest")
	}

	return &Stage{factory: factory, store: store, logger: logger}, nil
}

// Name returns the stage identifier
func (s *Stage) Name() string {
	return pipeline.StageIngest
}

// Dependencies returns the upstream stage names
func (s *Stage) Dependencies() []string {
	return nil
}

// RequiredArtifacts returns the artifact paths this stage reads
func (s *Stage) RequiredArtifacts() []string {
	return nil
}

// Run reads the label table and the transaction feed, normalizes every row,
// and persists the label-annotated transaction table
func (s *Stage) Run(ctx context.Context) (pipeline.StageResult, error) {
	// Step 1: Fold the address label files into a lookup table
	labelSource, err := s.factory.CreateLabelSource()
	if err != nil {
		return pipeline.StageResult{}, pipeline.NewFatalInputError(s.Name(), "address labels", err)
	}

	labelRows, err := labelSource.ReadLabels(ctx)
	if err != nil {
		return pipeline.StageResult{}, pipeline.NewFatalInputError(s.Name(), "address labels", err)
	}
	labelMap := BuildLabelMap(labelRows)

	// Step 2: Stream the transaction feed through the normalizer
	source, err := s.factory.CreateTransactionSource(ctx)
	if err != nil {
		return pipeline.StageResult{}, pipeline.NewFatalInputError(s.Name(), "transaction feed", err)
	}
	defer source.Close()

	normalizer := NewNormalizer(s.logger)

	var (
		rows        []model.Transaction
		read        int
		dropped     int
		labeledFrom int
		labeledTo   int
	)

	err = source.Read(ctx, func(tx model.Transaction) error {
		read++

		tx, keep := normalizer.Normalize(tx)
		if !keep {
			dropped++
			return nil
		}

		tx.FromLabel = labelMap[tx.FromAddress]
		tx.ToLabel = labelMap[tx.ToAddress]
		if tx.FromLabel != "" {
			labeledFrom++
		}
		if tx.ToLabel != "" {
			labeledTo++
		}

		rows = append(rows, tx)
		return nil
	})
	if err != nil {
		return pipeline.StageResult{}, pipeline.NewFatalInputError(s.Name(), source.Describe(), err)
	}

	if read == 0 {
		return pipeline.StageResult{}, pipeline.NewFatalInputError(
			s.Name(), source.Describe(), errors.New("transaction feed is empty"))
	}

	// Step 3: Persist the normalized, label-annotated table
	records := make([][]string, len(rows))
	for i, tx := range rows {
		records[i] = formatNormalizedRow(tx)
	}

	path := s.store.ProcessedPath(artifact.NormalizedTxCSV)
	if err := s.store.WriteCSV(path, normalizedHeader, records); err != nil {
		return pipeline.StageResult{}, fmt.Errorf("failed to write normalized transactions: %w", err)
	}

	normalizer.LogSummary()
	s.logger.Info("Ingestion completed",
		zap.Int("rowsRead", read),
		zap.Int("rowsWritten", len(rows)),
		zap.Int("rowsDropped", dropped),
		zap.Int("labeledSenders", labeledFrom),
		zap.Int("labeledRecipients", labeledTo),
		zap.String("artifact", path))

	return pipeline.StageResult{RowsIn: read, RowsOut: len(rows)}, nil
}

// BuildLabelMap folds labeled addresses into a lookup table. Later entries
// win, so a benign listing overrides an earlier criminal listing for a
// double-listed address
func BuildLabelMap(rows []model.LabeledAddress) map[string]string {
	m := make(map[string]string, len(rows))
	for _, row := range rows {
		address := strings.ToLower(strings.TrimSpace(row.Address))
		if address == "" {
			continue
		}
		m[address] = row.Label
	}
	return m
}

func formatNormalizedRow(tx model.Transaction) []string {
	timestamp := ""
	if !tx.BlockTimestamp.IsZero() {
		timestamp = tx.BlockTimestamp.Format(time.RFC3339)
	}

	return []string{
		tx.FromAddress,
		tx.ToAddress,
		strconv.FormatFloat(tx.EthValue, 'g', -1, 64),
		strconv.FormatFloat(tx.GasPrice, 'g', -1, 64),
		timestamp,
		tx.InputPayload,
		tx.FromLabel,
		tx.ToLabel,
	}
}

// ReadNormalizedTransactions loads the normalized transaction artifact
// written by the ingestion stage
func ReadNormalizedTransactions(store *artifact.Store) ([]model.Transaction, error) {
	path := store.ProcessedPath(artifact.NormalizedTxCSV)
	header, records, err := store.ReadCSV(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read normalized transactions: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, name := range normalizedHeader {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("normalized transactions missing column %s", name)
		}
	}

	txs := make([]model.Transaction, 0, len(records))
	for i, record := range records {
		if len(record) < len(normalizedHeader) {
			return nil, fmt.Errorf("normalized transactions row %d has %d fields, want %d",
				i+1, len(record), len(normalizedHeader))
		}

		tx := model.Transaction{
			FromAddress:  record[index["from_address"]],
			ToAddress:    record[index["to_address"]],
			InputPayload: record[index["input_payload"]],
			FromLabel:    record[index["from_label"]],
			ToLabel:      record[index["to_label"]],
		}

		if raw := record[index["eth_value"]]; raw != "" {
			tx.EthValue, err = strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("normalized transactions row %d: bad eth_value %q: %w", i+1, raw, err)
			}
		}
		if raw := record[index["gas_price"]]; raw != "" {
			tx.GasPrice, err = strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("normalized transactions row %d: bad gas_price %q: %w", i+1, raw, err)
			}
		}
		if raw := record[index["block_timestamp"]]; raw != "" {
			tx.BlockTimestamp, err = time.Parse(time.RFC3339, raw)
			if err != nil {
				return nil, fmt.Errorf("normalized transactions row %d: bad block_timestamp %q: %w", i+1, raw, err)
			}
		}

		txs = append(txs, tx)
	}

	return txs, nil
}
