// pkg/model/transaction.go
package model

import (
	"time"
)

// Label values for the ternary wallet label domain
const (
	LabelBenign    = 0
	LabelMalicious = 1
	LabelUnknown   = -1
)

// Transaction represents a single normalized Ethereum transaction
type Transaction struct {
	FromAddress    string    // Sender address, lower-cased hex
	ToAddress      string    // Recipient address, lower-cased hex (may be empty for contract creation)
	EthValue       float64   // Value moved, in ETH
	GasPrice       float64   // Gas price offered
	BlockTimestamp time.Time // Block time, UTC
	InputPayload   string    // Call data; length > 10 marks a contract interaction
	FromLabel      string    // Source label string for the sender ("" when unknown)
	ToLabel        string    // Source label string for the recipient ("" when unknown)
}

// LabeledAddress is one row of the external benign/criminal address lists
type LabeledAddress struct {
	Address string // Lower-cased hex address
	Label   string // Source label string (e.g. "benign", "Hack Scam")
}

// MapSourceLabel converts a source label string to the ternary label domain
// Unrecognized or empty labels map to LabelUnknown
func MapSourceLabel(label string) int {
	switch label {
	case "benign":
		return LabelBenign
	case "Other", "Hack Scam", "Metamorphic Contract":
		return LabelMalicious
	default:
		return LabelUnknown
	}
}
