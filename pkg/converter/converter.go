// pkg/converter/converter.go
package converter

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/chainintel/chainintel/pkg/model"
)

// RecordConverter turns raw feed records into typed transactions
type RecordConverter struct {
	logger *zap.Logger
	// Configuration options
	config RecordConverterConfig

	// Canonical column name -> index in the bound header
	fieldIndex map[string]int
}

// RecordConverterConfig provides configuration options for record conversion
type RecordConverterConfig struct {
	// Whether to treat literal null markers ("null", "NIL", "") as missing
	EmptyStringAsNull bool
	// Whether unparseable optional numeric fields become zero instead of errors
	LenientNumerics bool
}

// DefaultConfig returns the default configuration
func DefaultConfig() RecordConverterConfig {
	return RecordConverterConfig{
		EmptyStringAsNull: true,
		LenientNumerics:   true,
	}
}

// NewRecordConverter creates a RecordConverter with default configuration
func NewRecordConverter(logger *zap.Logger) *RecordConverter {
	return NewRecordConverterWithConfig(logger, DefaultConfig())
}

// NewRecordConverterWithConfig creates a RecordConverter with custom configuration
func NewRecordConverterWithConfig(logger *zap.Logger, config RecordConverterConfig) *RecordConverter {
	if logger == nil {
		logger = zap.L().Named("record-converter")
	}
	return &RecordConverter{
		logger: logger,
		config: config,
	}
}

// BindHeader canonicalizes the feed header and resolves the column positions
// used by Convert. Headers are matched case- and whitespace-insensitively,
// with common vendor aliases mapped to the canonical names
func (c *RecordConverter) BindHeader(header []string) error {
	index := make(map[string]int, len(header))
	for i, raw := range header {
		name := CanonicalColumnName(raw)
		if name == "" {
			continue
		}
		if _, dup := index[name]; dup {
			return fmt.Errorf("duplicate feed column %q", name)
		}
		index[name] = i
	}

	for _, required := range RequiredColumns() {
		if _, ok := index[required]; !ok {
			return fmt.Errorf("feed is missing required column %q", required)
		}
	}

	c.fieldIndex = index
	c.logger.Debug("Feed header bound",
		zap.Int("columns", len(index)),
	)
	return nil
}

// Convert builds a transaction from one feed record using the bound header
// Optional malformed fields propagate as zero values; a record that is too
// short for the bound header is an error
func (c *RecordConverter) Convert(record []string) (model.Transaction, error) {
	if c.fieldIndex == nil {
		return model.Transaction{}, fmt.Errorf("header not bound")
	}

	field := func(name string) string {
		i, ok := c.fieldIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	for name, i := range c.fieldIndex {
		if i >= len(record) {
			return model.Transaction{}, fmt.Errorf("record has %d fields, column %q expects index %d", len(record), name, i)
		}
	}

	ethValue, err := c.convertToFloat(field(ColumnEthValue))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("failed to convert %s: %w", ColumnEthValue, err)
	}

	gasPrice, err := c.convertToFloat(field(ColumnGasPrice))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("failed to convert %s: %w", ColumnGasPrice, err)
	}

	timestamp, err := c.convertToTimestamp(field(ColumnBlockTimestamp))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("failed to convert %s: %w", ColumnBlockTimestamp, err)
	}

	return model.Transaction{
		FromAddress:    c.convertToText(field(ColumnFromAddress)),
		ToAddress:      c.convertToText(field(ColumnToAddress)),
		EthValue:       ethValue,
		GasPrice:       gasPrice,
		BlockTimestamp: timestamp,
		InputPayload:   c.convertToText(field(ColumnInputPayload)),
	}, nil
}
