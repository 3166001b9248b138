package expr

import (
	"math"

	"github.com/yungbote/phenoscope-backend/internal/apperr"
	"github.com/yungbote/phenoscope-backend/internal/types"
)

// Vector is a materialized phenotype: one value per cohort sample, plus the
// moments the projection step needs. Derived once per (cohort, definition)
// and discarded after use.
type Vector struct {
	Values []float64
	Mean   float64
	Std    float64
}

// Evaluate runs the definition vectorized over the cohort field table:
// every subtree is evaluated whole-column, booleans encoded as 0/1. Fails
// with DegeneratePhenotype when the result is constant across samples (this
// is caught here so no downstream projection ever divides by zero) and with
// NumericInstability when evaluation produced a non-finite value.
func Evaluate(def *Definition, ref *types.CohortReference) (*Vector, error) {
	vals := evalNode(def.Root, ref)
	if _, isLeaf := def.Root.(*FieldRef); isLeaf {
		// Leaf definitions alias the cohort column; copy before handing out.
		out := make([]float64, len(vals))
		copy(out, vals)
		vals = out
	}

	var sum float64
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, apperr.New(apperr.KindNumericInstability, "phenotype evaluation produced a non-finite value")
		}
		sum += v
	}
	n := float64(len(vals))
	mean := sum / n

	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	std := math.Sqrt(ss / n)
	if std == 0 {
		return nil, apperr.New(apperr.KindDegeneratePhenotype, "phenotype is constant across all %d samples", len(vals))
	}

	return &Vector{Values: vals, Mean: mean, Std: std}, nil
}

// evalNode assumes the tree passed Check: field indexes are bound and
// operand types are legal. Operator nodes always write into fresh slices, so
// shared cohort columns are never mutated.
func evalNode(n Node, ref *types.CohortReference) []float64 {
	switch node := n.(type) {
	case *FieldRef:
		return ref.Fields[node.Index].Values

	case *Constant:
		out := make([]float64, ref.N)
		for i := range out {
			out[i] = node.Value
		}
		return out

	case *Unary:
		x := evalNode(node.X, ref)
		out := make([]float64, len(x))
		switch node.Op {
		case OpNot:
			for i, v := range x {
				if v == 0 {
					out[i] = 1
				}
			}
		case OpNeg:
			for i, v := range x {
				out[i] = -v
			}
		}
		return out

	case *Binary:
		x := evalNode(node.X, ref)
		y := evalNode(node.Y, ref)
		out := make([]float64, len(x))
		switch node.Op {
		case OpAdd:
			for i := range x {
				out[i] = x[i] + y[i]
			}
		case OpSub:
			for i := range x {
				out[i] = x[i] - y[i]
			}
		case OpMul:
			for i := range x {
				out[i] = x[i] * y[i]
			}
		case OpDiv:
			for i := range x {
				out[i] = x[i] / y[i]
			}
		case OpAnd:
			for i := range x {
				if x[i] != 0 && y[i] != 0 {
					out[i] = 1
				}
			}
		case OpOr:
			for i := range x {
				if x[i] != 0 || y[i] != 0 {
					out[i] = 1
				}
			}
		case OpGT:
			for i := range x {
				if x[i] > y[i] {
					out[i] = 1
				}
			}
		case OpGE:
			for i := range x {
				if x[i] >= y[i] {
					out[i] = 1
				}
			}
		case OpLT:
			for i := range x {
				if x[i] < y[i] {
					out[i] = 1
				}
			}
		case OpLE:
			for i := range x {
				if x[i] <= y[i] {
					out[i] = 1
				}
			}
		case OpEQ:
			for i := range x {
				if x[i] == y[i] {
					out[i] = 1
				}
			}
		case OpNE:
			for i := range x {
				if x[i] != y[i] {
					out[i] = 1
				}
			}
		}
		return out
	}
	return nil
}
