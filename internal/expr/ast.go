package expr

// The phenotype expression language: field references, numeric constants,
// boolean operators (AND, OR, NOT), comparisons and arithmetic. The operator
// vocabulary and type lattice follow the cohort schema's BOOL/REAL split:
// arithmetic and comparisons accept either operand type (booleans are 0/1),
// boolean operators require BOOL operands.

type Type string

const (
	TypeBool Type = "BOOL"
	TypeReal Type = "REAL"
)

type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpAnd
	OpOr
	OpNot
	OpNeg
	OpGT
	OpGE
	OpLT
	OpLE
	OpEQ
	OpNE
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpNot:
		return "not"
	case OpNeg:
		return "neg"
	case OpGT:
		return "gt"
	case OpGE:
		return "ge"
	case OpLT:
		return "lt"
	case OpLE:
		return "le"
	case OpEQ:
		return "eq"
	case OpNE:
		return "ne"
	}
	return "unknown"
}

// Commutative reports whether operand order is irrelevant. Commutative
// operands are sorted during canonicalization so logically identical
// expressions share a fingerprint.
func (o Op) Commutative() bool {
	switch o {
	case OpAdd, OpMul, OpAnd, OpOr, OpEQ, OpNE:
		return true
	}
	return false
}

type Node interface {
	node()
}

// FieldRef references one cohort field by code. Index and FieldType are
// resolved by the type checker against a concrete cohort schema.
type FieldRef struct {
	Code      string
	Index     int
	FieldType Type
}

type Constant struct {
	Value float64
}

type Unary struct {
	Op Op // OpNot or OpNeg
	X  Node
}

type Binary struct {
	Op   Op
	X, Y Node
}

func (*FieldRef) node() {}
func (*Constant) node() {}
func (*Unary) node()    {}
func (*Binary) node()   {}
