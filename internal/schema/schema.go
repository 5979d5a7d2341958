// Package schema holds the resolved table metadata the core consumes:
// table name, ordered column list, primary key, nullability and
// defaults. Schemas are built once through the Builder and treated as
// immutable afterwards.
package schema

import (
	"github.com/shelfdb/shelfdb/internal/dberr"
	"github.com/shelfdb/shelfdb/pkg"
)

// SysRowID is the synthetic primary key column added to tables that
// declare no primary key of their own.
const SysRowID = "__row_id__"

type Column struct {
	Name       string
	Kind       Kind
	Nullable   bool
	Default    any
	PrimaryKey bool
}

type Table struct {
	Name    string
	Columns *pkg.InsertSortMap[string, *Column]
	// Name of the primary key column. Never empty: tables without a
	// declared primary key get the synthetic SysRowID column.
	PrimaryKey string
}

func (t *Table) Column(name string) (*Column, bool) {
	if !t.Columns.Has(name) {
		return nil, false
	}
	return t.Columns.Get(name), true
}

func (t *Table) PKColumn() *Column { return t.Columns.Get(t.PrimaryKey) }

// ColumnList returns the columns in declaration order.
func (t *Table) ColumnList() []*Column {
	cols := make([]*Column, 0, t.Columns.Len())
	for _, name := range t.Columns.Sorted {
		cols = append(cols, t.Columns.Get(name))
	}
	return cols
}

// CheckCompatible reports whether other can stand in for t when a
// table is re-registered. Column additions are tolerated; a primary
// key mismatch is not.
func (t *Table) CheckCompatible(other *Table) error {
	if t.PrimaryKey != other.PrimaryKey {
		return dberr.NewSchemaError(t.Name, other.PrimaryKey,
			"primary key mismatch on redeclare: table uses %q", t.PrimaryKey)
	}
	return nil
}

// ValidateInsert checks values against the schema and returns a full
// record: every column present, defaults applied, kinds coerced. A nil
// primary key is allowed; auto-increment assigns it later.
func (t *Table) ValidateInsert(values map[string]any) (map[string]any, error) {
	for name := range values {
		if !t.Columns.Has(name) {
			return nil, dberr.NewSchemaError(t.Name, name, "unknown column in insert")
		}
	}

	record := make(map[string]any, t.Columns.Len())
	for _, name := range t.Columns.Sorted {
		col := t.Columns.Get(name)
		value, ok := values[name]
		if !ok || value == nil {
			if col.Default != nil {
				record[name] = col.Default
				continue
			}
			if col.Nullable || name == t.PrimaryKey {
				record[name] = nil
				continue
			}
			return nil, dberr.NewSchemaError(t.Name, name, "missing value for non-nullable column")
		}

		coerced, err := col.Kind.Coerce(name, value)
		if err != nil {
			return nil, err
		}
		record[name] = coerced
	}
	return record, nil
}

// ValidateUpdate coerces just the supplied columns.
func (t *Table) ValidateUpdate(values map[string]any) (map[string]any, error) {
	res := make(map[string]any, len(values))
	for name, value := range values {
		col, ok := t.Column(name)
		if !ok {
			return nil, dberr.NewSchemaError(t.Name, name, "unknown column in update")
		}
		if value == nil {
			if !col.Nullable {
				return nil, dberr.NewSchemaError(t.Name, name, "column is not nullable")
			}
			res[name] = nil
			continue
		}
		coerced, err := col.Kind.Coerce(name, value)
		if err != nil {
			return nil, err
		}
		res[name] = coerced
	}
	return res, nil
}

// Builder assembles a Table value. Errors accumulate and surface once
// at Build, so declarations chain without per-call checks.
type Builder struct {
	name string
	cols []*Column
	err  error
}

func NewBuilder(name string) *Builder {
	b := &Builder{name: name}
	if name == "" {
		b.err = dberr.NewSchemaError(name, "", "table name cannot be empty")
	}
	return b
}

func (b *Builder) Column(col Column) *Builder {
	if b.err != nil {
		return b
	}
	if col.Name == "" {
		b.err = dberr.NewSchemaError(b.name, "", "column name cannot be empty")
		return b
	}
	if !col.Kind.Valid() {
		b.err = dberr.NewSchemaError(b.name, col.Name, "unknown column kind %q", col.Kind)
		return b
	}
	b.cols = append(b.cols, &col)
	return b
}

func (b *Builder) Build() (*Table, error) {
	if b.err != nil {
		return nil, b.err
	}
	return NewTable(b.name, b.cols)
}

// NewTable builds a Table from an ordered column list, applying the
// schema rules: unique column names, at most one primary key, primary
// key must be kind Int and not nullable, defaults must match their
// column kind. Tables without a primary key get the synthetic
// SysRowID column prepended.
func NewTable(name string, cols []*Column) (*Table, error) {
	t := &Table{Name: name, Columns: pkg.NewInsertSortMap[string, *Column]()}

	pk := ""
	for _, col := range cols {
		if col.PrimaryKey {
			if pk != "" {
				return nil, dberr.NewSchemaError(name, col.Name, "table can't have multiple primary keys")
			}
			if col.Kind != KindInt {
				return nil, dberr.NewSchemaError(name, col.Name, "primary key column must be kind Int")
			}
			if col.Nullable {
				return nil, dberr.NewSchemaError(name, col.Name, "primary key column cannot be nullable")
			}
			pk = col.Name
		}
	}

	if pk == "" {
		pk = SysRowID
		cols = append([]*Column{{Name: SysRowID, Kind: KindInt, PrimaryKey: true}}, cols...)
	}
	t.PrimaryKey = pk

	for _, col := range cols {
		if t.Columns.Has(col.Name) {
			return nil, dberr.NewSchemaError(name, col.Name, "duplicate column")
		}
		if col.Default != nil {
			coerced, err := col.Kind.Coerce(col.Name, col.Default)
			if err != nil {
				return nil, dberr.NewSchemaError(name, col.Name, "default value: %s", err)
			}
			col.Default = coerced
		}
		c := *col
		t.Columns.Push(c.Name, &c)
	}

	return t, nil
}
