// pkg/ingest/normalizer.go
package ingest

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/chainintel/chainintel/pkg/model"
)

// maxSamplesPerOperation caps the input values retained per audit entry
const maxSamplesPerOperation = 5

// Normalizer standardizes transactions during ingestion and keeps an
// aggregated audit of every operation performed
type Normalizer struct {
	logger *zap.Logger
	ops    map[string]*model.NormalizationOperation
}

// NewNormalizer creates a new Normalizer
func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.L().Named("normalizer")
	}
	return &Normalizer{
		logger: logger,
		ops:    make(map[string]*model.NormalizationOperation),
	}
}

// Normalize standardizes a single transaction. The returned bool reports
// whether the row should be kept; rows without a sender are dropped because
// they can never join a wallet key
func (n *Normalizer) Normalize(tx model.Transaction) (model.Transaction, bool) {
	from := strings.ToLower(strings.TrimSpace(tx.FromAddress))
	if from == "" {
		n.record("from_address", "drop_row", "missing_sender", tx.ToAddress)
		return tx, false
	}
	if from != tx.FromAddress {
		n.record("from_address", "address_lowercase", "join_key_casing", tx.FromAddress)
	}
	tx.FromAddress = from

	to := strings.ToLower(strings.TrimSpace(tx.ToAddress))
	if to != tx.ToAddress {
		n.record("to_address", "address_lowercase", "join_key_casing", tx.ToAddress)
	}
	tx.ToAddress = to

	if tx.BlockTimestamp.IsZero() {
		n.record("block_timestamp", "zero_value", "missing_or_unparseable", from)
	} else {
		if _, offset := tx.BlockTimestamp.Zone(); offset != 0 {
			n.record("block_timestamp", "utc_conversion", "timezone_consistency", from)
		}
		tx.BlockTimestamp = tx.BlockTimestamp.UTC()
	}

	return tx, true
}

// Operations returns the aggregated audit entries in a deterministic order
func (n *Normalizer) Operations() []model.NormalizationOperation {
	keys := make([]string, 0, len(n.ops))
	for key := range n.ops {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	ops := make([]model.NormalizationOperation, 0, len(keys))
	for _, key := range keys {
		ops = append(ops, *n.ops[key])
	}
	return ops
}

// LogSummary writes one log line per audit entry
func (n *Normalizer) LogSummary() {
	for _, op := range n.Operations() {
		n.logger.Info("Normalization operation",
			zap.String("field", op.Field),
			zap.String("operation", op.Operation),
			zap.String("reason", op.Reason),
			zap.Int("count", op.Count),
			zap.Strings("samples", op.Samples))
	}
}

func (n *Normalizer) record(field, operation, reason, sample string) {
	key := field + ":" + operation
	op, ok := n.ops[key]
	if !ok {
		op = &model.NormalizationOperation{
			Field:     field,
			Operation: operation,
			Reason:    reason,
		}
		n.ops[key] = op
	}

	op.Count++
	op.AddSample(sample, maxSamplesPerOperation)
}
