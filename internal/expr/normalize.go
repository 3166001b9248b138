package expr

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Canonical renders a tree into a normal form in which logically identical
// expressions collide: chains of a commutative operator are flattened and
// their operands sorted, so `a AND b` and `b AND a` (and `a AND (b AND c)` vs
// `(c AND a) AND b`) produce the same string.
func Canonical(n Node) string {
	switch node := n.(type) {
	case *FieldRef:
		return node.Code
	case *Constant:
		return strconv.FormatFloat(node.Value, 'g', -1, 64)
	case *Unary:
		return node.Op.String() + "(" + Canonical(node.X) + ")"
	case *Binary:
		if node.Op.Commutative() {
			operands := flattenCommutative(node.Op, node)
			parts := make([]string, 0, len(operands))
			for _, op := range operands {
				parts = append(parts, Canonical(op))
			}
			sort.Strings(parts)
			return node.Op.String() + "(" + strings.Join(parts, ",") + ")"
		}
		return node.Op.String() + "(" + Canonical(node.X) + "," + Canonical(node.Y) + ")"
	}
	return ""
}

func flattenCommutative(op Op, n Node) []Node {
	b, ok := n.(*Binary)
	if !ok || b.Op != op {
		return []Node{n}
	}
	out := flattenCommutative(op, b.X)
	return append(out, flattenCommutative(op, b.Y)...)
}

// Fingerprint is the deterministic cache key for one (cohort, definition)
// pair: sha256 over the cohort id and the canonical expression form.
func Fingerprint(cohortID string, root Node) string {
	h := sha256.New()
	h.Write([]byte(cohortID))
	h.Write([]byte{0})
	h.Write([]byte(Canonical(root)))
	return hex.EncodeToString(h.Sum(nil))
}
