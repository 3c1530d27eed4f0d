// pkg/model/normalization.go
package model

// NormalizationOperation summarizes one normalization rule applied at ingestion
type NormalizationOperation struct {
	Field     string   // Transaction field the rule touched
	Operation string   // Type of normalization performed (e.g. "address_lowercase")
	Reason    string   // Why the rule exists (e.g. "join_key_casing")
	Count     int      // Rows affected
	Samples   []string // Up to a handful of affected input values, for the audit log
}

// AddSample records an affected input value, keeping at most limit samples
func (op *NormalizationOperation) AddSample(value string, limit int) {
	if len(op.Samples) < limit {
		op.Samples = append(op.Samples, value)
	}
}
