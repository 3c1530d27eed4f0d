// pkg/converter/mapping.go
package converter

import (
	"strings"
)

// Canonical feed column names
const (
	ColumnFromAddress    = "from_address"
	ColumnToAddress      = "to_address"
	ColumnEthValue       = "eth_value"
	ColumnGasPrice       = "gas_price"
	ColumnBlockTimestamp = "block_timestamp"
	ColumnInputPayload   = "input_payload"
)

// columnAliases maps vendor column spellings to canonical names. Warehouse
// exports and explorer dumps disagree on these; the feed contract does not
var columnAliases = map[string]string{
	"input":         ColumnInputPayload,
	"input_data":    ColumnInputPayload,
	"calldata":      ColumnInputPayload,
	"value":         ColumnEthValue,
	"value_eth":     ColumnEthValue,
	"eth":           ColumnEthValue,
	"gasprice":      ColumnGasPrice,
	"gas_price_wei": ColumnGasPrice,
	"timestamp":     ColumnBlockTimestamp,
	"block_time":    ColumnBlockTimestamp,
	"block_ts":      ColumnBlockTimestamp,
	"from":          ColumnFromAddress,
	"sender":        ColumnFromAddress,
	"from_addr":     ColumnFromAddress,
	"to":            ColumnToAddress,
	"receiver":      ColumnToAddress,
	"recipient":     ColumnToAddress,
	"to_addr":       ColumnToAddress,
}

// RequiredColumns returns the feed columns a header must resolve
// The payload column is optional: rows without call data still carry risk signal
func RequiredColumns() []string {
	return []string{
		ColumnFromAddress,
		ColumnToAddress,
		ColumnEthValue,
		ColumnGasPrice,
		ColumnBlockTimestamp,
	}
}

// CanonicalColumnName normalizes a raw header name: trims whitespace,
// lower-cases, and resolves known aliases
func CanonicalColumnName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := columnAliases[normalized]; ok {
		return canonical
	}
	return normalized
}
