package types

import (
	"gonum.org/v1/gonum/mat"
)

// FieldType mirrors the stored cohort schema: boolean fields hold 0/1 values,
// real fields hold arbitrary finite values.
type FieldType string

const (
	FieldTypeBool FieldType = "BOOL"
	FieldTypeReal FieldType = "REAL"
)

// CohortField is one typed column of the cohort field table, materialized
// over all samples. Values are imputed at bundle build time, so columns are
// always finite and length n.
type CohortField struct {
	Code   string    `json:"code"`
	Name   string    `json:"name"`
	Type   FieldType `json:"type"`
	Values []float64 `json:"values"`
}

// Variant carries the precomputed per-variant summary: a k-length loading
// vector against the cohort basis and the dosage variance.
type Variant struct {
	ID             string    `json:"id"`
	Chrom          string    `json:"chrom"`
	Pos            int64     `json:"pos"`
	Loadings       []float64 `json:"loadings"`
	DosageVariance float64   `json:"dosage_variance"`
}

// CohortReference is the immutable precomputed summary bundle for one cohort.
// It is loaded once, shared read-only between concurrent computations, and
// never mutated after construction.
type CohortReference struct {
	CohortID string
	N        int // sample count
	K        int // basis rank

	Fields   []CohortField
	Basis    *mat.Dense // n x k, orthonormal columns
	Variants []Variant

	fieldIndex map[string]int
}

// NewCohortReference builds the field index. Callers are expected to have
// validated dimensions already (the bundle codec does).
func NewCohortReference(cohortID string, n, k int, fields []CohortField, basis *mat.Dense, variants []Variant) *CohortReference {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[f.Code] = i
	}
	return &CohortReference{
		CohortID:   cohortID,
		N:          n,
		K:          k,
		Fields:     fields,
		Basis:      basis,
		Variants:   variants,
		fieldIndex: idx,
	}
}

// FieldIndex resolves a field code to its column index.
func (c *CohortReference) FieldIndex(code string) (int, bool) {
	i, ok := c.fieldIndex[code]
	return i, ok
}

// FieldSummaries returns the schema without column data, for the fields API.
func (c *CohortReference) FieldSummaries() []FieldSummary {
	out := make([]FieldSummary, 0, len(c.Fields))
	for _, f := range c.Fields {
		out = append(out, FieldSummary{Code: f.Code, Name: f.Name, Type: f.Type, SampleSize: c.N})
	}
	return out
}

// FieldSummary is the API view of one cohort field.
type FieldSummary struct {
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Type       FieldType `json:"type"`
	SampleSize int       `json:"sample_size"`
}
