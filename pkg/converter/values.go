// pkg/converter/values.go
package converter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// isNull determines if a raw value should be treated as missing
func isNull(value string) bool {
	switch value {
	case "", "null", "NULL", "nil", "NIL", "None", "NaN", "nan":
		return true
	}
	return false
}

// convertToText converts a raw value to text, mapping null markers to empty
func (c *RecordConverter) convertToText(value string) string {
	value = strings.TrimSpace(value)
	if c.config.EmptyStringAsNull && isNull(value) {
		return ""
	}
	return value
}

// convertToFloat converts a raw value to a float64
// Null markers become zero; malformed values become zero under LenientNumerics
func (c *RecordConverter) convertToFloat(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if isNull(value) {
		return 0, nil
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		if c.config.LenientNumerics {
			return 0, nil
		}
		return 0, fmt.Errorf("cannot convert %q to numeric", value)
	}
	return floatVal, nil
}

// convertToTimestamp converts a raw value to a timestamp
// Accepts the common chain-export layouts plus epoch seconds; a null marker
// yields the zero time
func (c *RecordConverter) convertToTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if isNull(value) {
		return time.Time{}, nil
	}

	// Detect format (if possible)
	format := DetectTimeFormat(value)
	if format != "" {
		parsedTime, err := time.Parse(format, value)
		if err == nil {
			return parsedTime, nil
		}
	}

	// Try common formats
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05 MST",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	for _, layout := range layouts {
		parsedTime, err := time.Parse(layout, value)
		if err == nil {
			return parsedTime, nil
		}
	}

	// Epoch seconds, with optional fractional part
	if epoch, err := strconv.ParseFloat(value, 64); err == nil {
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * 1e9)
		return time.Unix(sec, nsec), nil
	}

	return time.Time{}, fmt.Errorf("cannot parse %q as timestamp", value)
}

// DetectTimeFormat analyzes a value to determine its timestamp format
func DetectTimeFormat(value string) string {
	// Common formats to check
	formats := []string{
		"2006-01-02T15:04:05Z",             // ISO8601 UTC
		"2006-01-02T15:04:05-07:00",        // ISO8601 with timezone
		"2006-01-02 15:04:05",              // SQL timestamp
		"2006-01-02",                       // Date only
		"20060102T150405Z",                 // Compact ISO8601
		"2006-01-02T15:04:05.999999Z",      // ISO8601 with microseconds
		"2006-01-02T15:04:05.999999-07:00", // ISO8601 with microseconds and TZ
	}

	for _, format := range formats {
		_, err := time.Parse(format, value)
		if err == nil {
			return format
		}
	}

	return ""
}
