package types

// VariantAssociation is the per-variant output row. A variant with zero
// recorded dosage variance is emitted with Undefined=true and no statistics
// rather than producing NaN.
type VariantAssociation struct {
	VariantID string  `json:"variant_id"`
	Chrom     string  `json:"chrom"`
	Pos       int64   `json:"pos"`
	Beta      float64 `json:"beta"`
	SE        float64 `json:"se"`
	PValue    float64 `json:"p_value"`
	Undefined bool    `json:"undefined,omitempty"`
}

// ApproximationResult is the full output for one (cohort, phenotype)
// computation. Immutable once produced; cached by fingerprint.
type ApproximationResult struct {
	CohortID     string               `json:"cohort_id"`
	Fingerprint  string               `json:"fingerprint"`
	SampleCount  int                  `json:"sample_count"`
	Associations []VariantAssociation `json:"associations"`

	// Global diagnostics.
	ResidualNorm    float64 `json:"residual_norm"`
	InflationFactor float64 `json:"inflation_factor"`
	ElapsedMillis   int64   `json:"elapsed_ms"`
}

// DefinedCount returns the number of associations carrying real statistics.
func (r *ApproximationResult) DefinedCount() int {
	n := 0
	for i := range r.Associations {
		if !r.Associations[i].Undefined {
			n++
		}
	}
	return n
}
