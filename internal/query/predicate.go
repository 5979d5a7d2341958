// Package query describes select/insert/update/delete intents and
// evaluates predicate trees against records. Nothing here does I/O;
// execution belongs to the session and storage layers.
package query

import (
	"bytes"

	"github.com/shelfdb/shelfdb/internal/dberr"
	"github.com/shelfdb/shelfdb/internal/schema"
)

// Node is one predicate-tree node. Match is a pure function over a
// single record.
type Node interface {
	Match(record map[string]any) bool
	columns() []string
}

type CompareOp string

const (
	OpEq  CompareOp = "eq"
	OpNe  CompareOp = "ne"
	OpLt  CompareOp = "lt"
	OpLte CompareOp = "lte"
	OpGt  CompareOp = "gt"
	OpGte CompareOp = "gte"
)

type Comparison struct {
	Column string
	Op     CompareOp
	Value  any
}

func Eq(column string, value any) Node  { return &Comparison{column, OpEq, value} }
func Ne(column string, value any) Node  { return &Comparison{column, OpNe, value} }
func Lt(column string, value any) Node  { return &Comparison{column, OpLt, value} }
func Lte(column string, value any) Node { return &Comparison{column, OpLte, value} }
func Gt(column string, value any) Node  { return &Comparison{column, OpGt, value} }
func Gte(column string, value any) Node { return &Comparison{column, OpGte, value} }

// A nil record value compares unequal to everything except an
// explicit Eq(col, nil) or an In list containing nil.
func (c *Comparison) Match(record map[string]any) bool {
	rv := record[c.Column]

	if rv == nil || c.Value == nil {
		switch c.Op {
		case OpEq:
			return rv == nil && c.Value == nil
		case OpNe:
			return (rv == nil) != (c.Value == nil)
		}
		return false
	}

	cmp, ok := compareValues(rv, c.Value)
	if !ok {
		// incomparable kinds: only inequality holds
		return c.Op == OpNe
	}

	switch c.Op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	}
	return false
}

func (c *Comparison) columns() []string { return []string{c.Column} }

type InList struct {
	Column string
	Values []any
}

func In(column string, values ...any) Node { return &InList{column, values} }

func (n *InList) Match(record map[string]any) bool {
	rv := record[n.Column]
	for _, v := range n.Values {
		if rv == nil || v == nil {
			if rv == nil && v == nil {
				return true
			}
			continue
		}
		if cmp, ok := compareValues(rv, v); ok && cmp == 0 {
			return true
		}
	}
	return false
}

func (n *InList) columns() []string { return []string{n.Column} }

type AndNode struct{ Nodes []Node }

func And(nodes ...Node) Node { return &AndNode{nodes} }

func (n *AndNode) Match(record map[string]any) bool {
	for _, child := range n.Nodes {
		if !child.Match(record) {
			return false
		}
	}
	return true
}

func (n *AndNode) columns() []string { return childColumns(n.Nodes) }

type OrNode struct{ Nodes []Node }

func Or(nodes ...Node) Node { return &OrNode{nodes} }

func (n *OrNode) Match(record map[string]any) bool {
	for _, child := range n.Nodes {
		if child.Match(record) {
			return true
		}
	}
	return false
}

func (n *OrNode) columns() []string { return childColumns(n.Nodes) }

type NotNode struct{ Node Node }

func Not(node Node) Node { return &NotNode{node} }

func (n *NotNode) Match(record map[string]any) bool { return !n.Node.Match(record) }

func (n *NotNode) columns() []string { return n.Node.columns() }

func childColumns(nodes []Node) []string {
	cols := []string{}
	for _, n := range nodes {
		cols = append(cols, n.columns()...)
	}
	return cols
}

// CheckColumns rejects predicates that reference columns the table
// schema does not declare.
func CheckColumns(n Node, t *schema.Table) error {
	if n == nil {
		return nil
	}
	for _, col := range n.columns() {
		if !t.Columns.Has(col) {
			return dberr.NewSchemaError(t.Name, col, "unknown column in predicate")
		}
	}
	return nil
}

// compareValues orders two non-nil record values of like kind.
// Numbers compare across int/float. Bools and blobs support equality
// only; an ordered comparison on them reports not-ok.
func compareValues(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}

	switch a := a.(type) {
	case string:
		b, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		}
		return 0, true
	case bool:
		bv, ok := b.(bool)
		if !ok || a != bv {
			return 1, false
		}
		return 0, true
	case []byte:
		bv, ok := b.([]byte)
		if !ok || !bytes.Equal(a, bv) {
			return 1, false
		}
		return 0, true
	}

	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
