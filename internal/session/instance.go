package session

import (
	"github.com/shelfdb/shelfdb/internal/schema"
	"github.com/shelfdb/shelfdb/pkg"
)

// Instance is one materialized record: an independent copy of table
// state plus the bookkeeping the session needs for dirty tracking.
// Columns declared in the schema go through the tracked Get/Set pair;
// anything else lands in extras and never marks the instance dirty.
type Instance struct {
	schema *schema.Table
	values map[string]any
	extras map[string]any

	// columns mutated since the last flush, in mutation order
	changed *pkg.InsertSortMap[string, struct{}]

	sess   *Session
	pk     int
	has_pk bool
}

// NewInstance builds a detached instance from a value mapping. Keys
// matching schema columns become tracked values; unknown keys become
// extras. A non-nil primary key value in the mapping is adopted.
func NewInstance(t *schema.Table, values map[string]any) *Instance {
	inst := &Instance{
		schema:  t,
		values:  map[string]any{},
		extras:  map[string]any{},
		changed: pkg.NewInsertSortMap[string, struct{}](),
	}
	for name, value := range values {
		if !t.Columns.Has(name) {
			inst.extras[name] = value
			continue
		}
		inst.values[name] = value
		if name == t.PrimaryKey && value != nil {
			inst.pk = pkg.NumToInt(value)
			inst.has_pk = true
		}
	}
	return inst
}

// newManagedInstance wraps a record copied out of a table.
func newManagedInstance(s *Session, t *schema.Table, record map[string]any) *Instance {
	inst := &Instance{
		schema:  t,
		values:  record,
		extras:  map[string]any{},
		changed: pkg.NewInsertSortMap[string, struct{}](),
		sess:    s,
	}
	inst.pk = pkg.NumToInt(record[t.PrimaryKey])
	inst.has_pk = true
	return inst
}

func (i *Instance) Schema() *schema.Table { return i.schema }

func (i *Instance) PrimaryKey() (int, bool) { return i.pk, i.has_pk }

// Get reads a tracked column, falling back to extras for undeclared
// attributes.
func (i *Instance) Get(column string) any {
	if i.schema.Columns.Has(column) {
		return i.values[column]
	}
	return i.extras[column]
}

// Set writes an attribute. A schema-declared column is recorded as
// changed and, when the instance is identity-mapped, the owning
// session marks it dirty, once, no matter how often it mutates.
// Undeclared attributes are stored as extras and never mark dirty.
func (i *Instance) Set(column string, value any) {
	if !i.schema.Columns.Has(column) {
		i.extras[column] = value
		return
	}

	if column == i.schema.PrimaryKey {
		if i.has_pk {
			// assigned keys are immutable
			pkg.WarnLog("ignoring primary key mutation on", i.schema.Name)
			return
		}
		i.values[column] = value
		if value != nil {
			i.pk = pkg.NumToInt(value)
			i.has_pk = true
		}
		return
	}

	i.values[column] = value
	i.changed.Push(column, struct{}{})
	if i.sess != nil {
		i.sess.markDirty(i)
	}
}

// Values returns a copy of the tracked column values.
func (i *Instance) Values() map[string]any {
	out := make(map[string]any, len(i.values))
	for name, value := range i.values {
		out[name] = value
	}
	return out
}

// changedValues collects exactly the columns mutated since the last
// flush, in mutation order.
func (i *Instance) changedValues() map[string]any {
	out := make(map[string]any, i.changed.Len())
	for _, name := range i.changed.Sorted {
		out[name] = i.values[name]
	}
	return out
}

// adoptRecord refreshes the instance after a flush assigned its
// primary key and filled defaults.
func (i *Instance) adoptRecord(record map[string]any) {
	for name, value := range record {
		i.values[name] = value
	}
	i.pk = pkg.NumToInt(record[i.schema.PrimaryKey])
	i.has_pk = true
	i.changed.Clear()
}
