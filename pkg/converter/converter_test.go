// pkg/converter/converter_test.go
package converter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// TestCanonicalColumnName normalizes casing, whitespace, and vendor aliases
func TestCanonicalColumnName(t *testing.T) {
	assert.Equal(t, "from_address", CanonicalColumnName(" From_Address "))
	assert.Equal(t, "from_address", CanonicalColumnName("SENDER"))
	assert.Equal(t, "input_payload", CanonicalColumnName("input"))
	assert.Equal(t, "input_payload", CanonicalColumnName("Input_Data"))
	assert.Equal(t, "eth_value", CanonicalColumnName("value"))
	assert.Equal(t, "block_timestamp", CanonicalColumnName("BLOCK_TIMESTAMP"))
	assert.Equal(t, "block_timestamp", CanonicalColumnName("timestamp"))
	// Unknown columns pass through lower-cased
	assert.Equal(t, "nonce", CanonicalColumnName("Nonce"))
}

// TestBindHeader_RequiredColumns rejects feeds missing a required column
func TestBindHeader_RequiredColumns(t *testing.T) {
	c := NewRecordConverter(zaptest.NewLogger(t))

	err := c.BindHeader([]string{"from_address", "to_address", "eth_value", "gas_price"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block_timestamp")

	err = c.BindHeader([]string{"From_Address", "TO_ADDRESS", "Value", "GasPrice", "Timestamp", "Input"})
	assert.NoError(t, err)
}

// TestBindHeader_DuplicateColumns rejects headers that resolve to the same canonical name
func TestBindHeader_DuplicateColumns(t *testing.T) {
	c := NewRecordConverter(zaptest.NewLogger(t))

	err := c.BindHeader([]string{"value", "eth_value", "from_address", "to_address", "gas_price", "block_timestamp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

// TestConvert_TypedFields parses a full record into a typed transaction
func TestConvert_TypedFields(t *testing.T) {
	c := NewRecordConverter(zaptest.NewLogger(t))
	require.NoError(t, c.BindHeader([]string{"from_address", "to_address", "eth_value", "gas_price", "block_timestamp", "input"}))

	tx, err := c.Convert([]string{"0xAbC", "0xDeF", "1.25", "21.5", "2024-03-01T10:00:00Z", "0xdeadbeef1234"})
	require.NoError(t, err)

	assert.Equal(t, "0xAbC", tx.FromAddress) // Casing is ingestion's job, not conversion's
	assert.Equal(t, "0xDeF", tx.ToAddress)
	assert.Equal(t, 1.25, tx.EthValue)
	assert.Equal(t, 21.5, tx.GasPrice)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), tx.BlockTimestamp)
	assert.Equal(t, "0xdeadbeef1234", tx.InputPayload)
}

// TestConvert_NullAndMalformedOptionals maps null markers and junk numerics to zero values
func TestConvert_NullAndMalformedOptionals(t *testing.T) {
	c := NewRecordConverter(zaptest.NewLogger(t))
	require.NoError(t, c.BindHeader([]string{"from_address", "to_address", "eth_value", "gas_price", "block_timestamp", "input"}))

	tx, err := c.Convert([]string{"0xabc", "NULL", "", "not-a-number", "2024-03-01 10:00:00", "None"})
	require.NoError(t, err)

	assert.Equal(t, "", tx.ToAddress)
	assert.Equal(t, float64(0), tx.EthValue)
	assert.Equal(t, float64(0), tx.GasPrice)
	assert.Equal(t, "", tx.InputPayload)
}

// TestConvert_StrictNumerics errors on junk numerics when leniency is off
func TestConvert_StrictNumerics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LenientNumerics = false
	c := NewRecordConverterWithConfig(zaptest.NewLogger(t), cfg)
	require.NoError(t, c.BindHeader([]string{"from_address", "to_address", "eth_value", "gas_price", "block_timestamp"}))

	_, err := c.Convert([]string{"0xabc", "0xdef", "junk", "1", "2024-03-01"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eth_value")
}

// TestConvert_ShortRecord errors when a record cannot cover the bound header
func TestConvert_ShortRecord(t *testing.T) {
	c := NewRecordConverter(zaptest.NewLogger(t))
	require.NoError(t, c.BindHeader([]string{"from_address", "to_address", "eth_value", "gas_price", "block_timestamp"}))

	_, err := c.Convert([]string{"0xabc", "0xdef"})
	assert.Error(t, err)
}

// TestConvertToTimestamp_Formats accepts the common chain-export layouts
func TestConvertToTimestamp_Formats(t *testing.T) {
	c := NewRecordConverter(zaptest.NewLogger(t))

	cases := map[string]time.Time{
		"2024-03-01T10:00:00Z":      time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		"2024-03-01 10:00:00":       time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		"2024-03-01":                time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		"1709287200":                time.Unix(1709287200, 0),
		"2024-03-01T10:00:00+02:00": time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("", 2*60*60)),
	}

	for raw, want := range cases {
		got, err := c.convertToTimestamp(raw)
		require.NoError(t, err, raw)
		assert.True(t, want.Equal(got), "parsing %q: want %v, got %v", raw, want, got)
	}

	_, err := c.convertToTimestamp("yesterday")
	assert.Error(t, err)

	zero, err := c.convertToTimestamp("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}
