package cohort

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/yungbote/phenoscope-backend/internal/apperr"
	"github.com/yungbote/phenoscope-backend/internal/types"
)

// bundleDoc is the wire schema of a cohort bundle: a gzip-compressed JSON
// columnar document produced by the offline preparation pipeline. One object
// per cohort under <prefix>/<cohort_id>.bundle.json.gz.
type bundleDoc struct {
	CohortID string              `json:"cohort_id"`
	Name     string              `json:"name"`
	N        int                 `json:"n"`
	K        int                 `json:"k"`
	Fields   []types.CohortField `json:"fields"`
	Basis    [][]float64         `json:"basis"`
	Variants []types.Variant     `json:"variants"`
}

const orthoTolerance = 1e-6

// DecodeBundle decompresses, parses and structurally validates a cohort
// bundle. Every validation failure maps to CorruptData: mismatched
// dimensions, non-finite values, or a basis whose columns are not unit-norm.
func DecodeBundle(r io.Reader) (*types.CohortReference, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, apperr.New(apperr.KindCorruptData, "bundle is not gzip: %v", err)
	}
	defer gz.Close()

	var doc bundleDoc
	if err := json.NewDecoder(gz).Decode(&doc); err != nil {
		return nil, apperr.New(apperr.KindCorruptData, "bundle JSON: %v", err)
	}
	return buildReference(&doc)
}

func buildReference(doc *bundleDoc) (*types.CohortReference, error) {
	if doc.CohortID == "" {
		return nil, apperr.New(apperr.KindCorruptData, "bundle has no cohort_id")
	}
	if doc.N <= 0 || doc.K <= 0 {
		return nil, apperr.New(apperr.KindCorruptData, "cohort %s: invalid dimensions n=%d k=%d", doc.CohortID, doc.N, doc.K)
	}
	if len(doc.Fields) == 0 {
		return nil, apperr.New(apperr.KindCorruptData, "cohort %s: no fields", doc.CohortID)
	}

	for _, f := range doc.Fields {
		if len(f.Values) != doc.N {
			return nil, apperr.New(apperr.KindCorruptData,
				"cohort %s: field %s has %d values, want %d", doc.CohortID, f.Code, len(f.Values), doc.N)
		}
		if err := requireFinite(f.Values, fmt.Sprintf("field %s", f.Code)); err != nil {
			return nil, err
		}
		if f.Type != types.FieldTypeBool && f.Type != types.FieldTypeReal {
			return nil, apperr.New(apperr.KindCorruptData, "cohort %s: field %s has unknown type %q", doc.CohortID, f.Code, f.Type)
		}
	}

	if len(doc.Basis) != doc.N {
		return nil, apperr.New(apperr.KindCorruptData,
			"cohort %s: basis has %d rows, want %d", doc.CohortID, len(doc.Basis), doc.N)
	}
	flat := make([]float64, 0, doc.N*doc.K)
	for i, row := range doc.Basis {
		if len(row) != doc.K {
			return nil, apperr.New(apperr.KindCorruptData,
				"cohort %s: basis row %d has %d columns, want %d", doc.CohortID, i, len(row), doc.K)
		}
		flat = append(flat, row...)
	}
	if err := requireFinite(flat, "basis"); err != nil {
		return nil, err
	}
	basis := mat.NewDense(doc.N, doc.K, flat)

	// Orthonormality spot check: each basis column must be unit norm. A full
	// pairwise check is O(n k^2); unit norms catch the common preparation
	// mistakes (unscaled or truncated columns) at O(n k).
	col := make([]float64, doc.N)
	for j := 0; j < doc.K; j++ {
		mat.Col(col, j, basis)
		norm := floats.Norm(col, 2)
		if math.Abs(norm-1) > orthoTolerance {
			return nil, apperr.New(apperr.KindCorruptData,
				"cohort %s: basis column %d has norm %.9f, want 1", doc.CohortID, j, norm)
		}
	}

	for _, v := range doc.Variants {
		if len(v.Loadings) != doc.K {
			return nil, apperr.New(apperr.KindCorruptData,
				"cohort %s: variant %s has %d loadings, want %d", doc.CohortID, v.ID, len(v.Loadings), doc.K)
		}
		if err := requireFinite(v.Loadings, fmt.Sprintf("variant %s loadings", v.ID)); err != nil {
			return nil, err
		}
		if math.IsNaN(v.DosageVariance) || math.IsInf(v.DosageVariance, 0) || v.DosageVariance < 0 {
			return nil, apperr.New(apperr.KindCorruptData,
				"cohort %s: variant %s has invalid dosage variance %v", doc.CohortID, v.ID, v.DosageVariance)
		}
	}

	return types.NewCohortReference(doc.CohortID, doc.N, doc.K, doc.Fields, basis, doc.Variants), nil
}

func requireFinite(vals []float64, what string) error {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperr.New(apperr.KindCorruptData, "%s contains a non-finite value", what)
		}
	}
	return nil
}

// EncodeBundle is the inverse of DecodeBundle. The ingestion tooling and the
// test suite use it to produce well-formed bundles.
func EncodeBundle(w io.Writer, ref *types.CohortReference) error {
	doc := bundleDoc{
		CohortID: ref.CohortID,
		N:        ref.N,
		K:        ref.K,
		Fields:   ref.Fields,
		Variants: ref.Variants,
	}
	doc.Basis = make([][]float64, ref.N)
	for i := 0; i < ref.N; i++ {
		row := make([]float64, ref.K)
		mat.Row(row, i, ref.Basis)
		doc.Basis[i] = row
	}

	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(&doc); err != nil {
		return err
	}
	return gz.Close()
}
