package query

import (
	"sort"

	"github.com/shelfdb/shelfdb/internal/dberr"
	"github.com/shelfdb/shelfdb/internal/schema"
	"github.com/shelfdb/shelfdb/pkg"
)

// Statement is a description of one select/insert/update/delete
// intent against a target table schema.
type Statement interface {
	TableSchema() *schema.Table
}

type Ordering struct {
	Column string
	Desc   bool
}

type Select struct {
	Table    *schema.Table
	Where    Node
	Order    []Ordering
	RowLimit int // 0 means no limit
	RowSkip  int
}

func SelectFrom(t *schema.Table) *Select { return &Select{Table: t} }

func (s *Select) Filter(n Node) *Select {
	s.Where = n
	return s
}

func (s *Select) OrderBy(column string, desc bool) *Select {
	s.Order = append(s.Order, Ordering{column, desc})
	return s
}

func (s *Select) Limit(n int) *Select {
	s.RowLimit = n
	return s
}

func (s *Select) Offset(n int) *Select {
	s.RowSkip = n
	return s
}

func (s *Select) TableSchema() *schema.Table { return s.Table }

// Check validates the predicate and ordering columns against the
// target schema.
func (s *Select) Check() error {
	if err := CheckColumns(s.Where, s.Table); err != nil {
		return err
	}
	for _, o := range s.Order {
		if !s.Table.Columns.Has(o.Column) {
			return dberr.NewSchemaError(s.Table.Name, o.Column, "unknown column in order_by")
		}
	}
	return nil
}

type Insert struct {
	Table  *schema.Table
	Values map[string]any
}

func InsertInto(t *schema.Table, values map[string]any) *Insert {
	return &Insert{Table: t, Values: values}
}

func (s *Insert) TableSchema() *schema.Table { return s.Table }

type Update struct {
	Table  *schema.Table
	Where  Node
	Values map[string]any
}

func UpdateOf(t *schema.Table, values map[string]any) *Update {
	return &Update{Table: t, Values: values}
}

func (s *Update) Filter(n Node) *Update {
	s.Where = n
	return s
}

func (s *Update) TableSchema() *schema.Table { return s.Table }

type Delete struct {
	Table *schema.Table
	Where Node
}

func DeleteFrom(t *schema.Table) *Delete { return &Delete{Table: t} }

func (s *Delete) Filter(n Node) *Delete {
	s.Where = n
	return s
}

func (s *Delete) TableSchema() *schema.Table { return s.Table }

// FilterRecords keeps the records matching the predicate. A nil
// predicate matches everything.
func FilterRecords(records []map[string]any, where Node) []map[string]any {
	if where == nil {
		return records
	}
	return pkg.Filter(records, where.Match)
}

// SortRecords applies the orderings with a stable sort, so ties keep
// their relative scan order. Nil values sort after everything else in
// both directions.
func SortRecords(records []map[string]any, order []Ordering) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, o := range order {
			a, b := records[i][o.Column], records[j][o.Column]
			if a == nil && b == nil {
				continue
			}
			if a == nil {
				return false
			}
			if b == nil {
				return true
			}
			cmp, ok := compareValues(a, b)
			if !ok || cmp == 0 {
				continue
			}
			if o.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// SliceRecords applies offset then limit as the final step.
func SliceRecords(records []map[string]any, offset, limit int) []map[string]any {
	if offset > 0 {
		if offset >= len(records) {
			return []map[string]any{}
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
