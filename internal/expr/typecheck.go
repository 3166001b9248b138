package expr

import (
	"github.com/yungbote/phenoscope-backend/internal/apperr"
	"github.com/yungbote/phenoscope-backend/internal/types"
)

// Definition is a parsed, type-checked phenotype expression bound to one
// cohort's schema. Immutable once built.
type Definition struct {
	Raw        string
	Root       Node
	ResultType Type
}

// Compile parses and type-checks expression text against a cohort schema.
// All validation errors (parse, unknown field, type mismatch) surface here,
// before any cohort data is touched.
func Compile(raw string, ref *types.CohortReference) (*Definition, error) {
	root, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	rt, err := check(root, ref)
	if err != nil {
		return nil, err
	}
	return &Definition{Raw: raw, Root: root, ResultType: rt}, nil
}

// check assigns every subtree a result type, resolving field references to
// column indexes as it goes. Arithmetic accepts either operand type and
// yields REAL; comparisons accept either and yield BOOL; AND/OR/NOT demand
// BOOL operands.
func check(n Node, ref *types.CohortReference) (Type, error) {
	switch node := n.(type) {
	case *FieldRef:
		idx, ok := ref.FieldIndex(node.Code)
		if !ok {
			return "", apperr.New(apperr.KindUnknownField, "field %q is not present in cohort %s", node.Code, ref.CohortID)
		}
		node.Index = idx
		if ref.Fields[idx].Type == types.FieldTypeBool {
			node.FieldType = TypeBool
		} else {
			node.FieldType = TypeReal
		}
		return node.FieldType, nil

	case *Constant:
		return TypeReal, nil

	case *Unary:
		xt, err := check(node.X, ref)
		if err != nil {
			return "", err
		}
		switch node.Op {
		case OpNot:
			if xt != TypeBool {
				return "", apperr.New(apperr.KindTypeMismatch, "NOT requires a boolean operand, got %s", xt)
			}
			return TypeBool, nil
		case OpNeg:
			return TypeReal, nil
		}
		return "", apperr.New(apperr.KindTypeMismatch, "unsupported unary operator %s", node.Op)

	case *Binary:
		xt, err := check(node.X, ref)
		if err != nil {
			return "", err
		}
		yt, err := check(node.Y, ref)
		if err != nil {
			return "", err
		}
		switch node.Op {
		case OpAnd, OpOr:
			if xt != TypeBool || yt != TypeBool {
				return "", apperr.New(apperr.KindTypeMismatch, "%s requires boolean operands, got %s and %s", node.Op, xt, yt)
			}
			return TypeBool, nil
		case OpAdd, OpSub, OpMul, OpDiv:
			return TypeReal, nil
		case OpGT, OpGE, OpLT, OpLE, OpEQ, OpNE:
			return TypeBool, nil
		}
		return "", apperr.New(apperr.KindTypeMismatch, "unsupported operator %s", node.Op)
	}
	return "", apperr.New(apperr.KindParseError, "empty expression")
}
