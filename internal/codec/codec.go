// Package codec defines the persistence contract the storage engine
// depends on, a named registry of backend implementations, and the
// four built-in codecs: json, csv (zip archive), sqlite and binary.
//
// A codec round-trips every table's schema (name, columns, primary
// key, next id) and records. Save must be all-or-nothing: the built-in
// codecs write a temporary file and atomically rename it over the
// previous state. Load never partially populates anything; malformed
// state is a dberr.CorruptDataError.
package codec

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shelfdb/shelfdb/internal/dberr"
	"github.com/shelfdb/shelfdb/internal/schema"
	"github.com/shelfdb/shelfdb/pkg"
)

// ColumnDump is the persisted form of one column schema.
type ColumnDump struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Nullable   bool   `json:"nullable"`
	Default    any    `json:"default,omitempty"`
	PrimaryKey bool   `json:"primary_key"`
}

// TableDump is the persisted form of one table: metadata plus every
// record in primary-key order.
type TableDump struct {
	Name       string
	PrimaryKey string
	Columns    []ColumnDump
	NextID     int
	Rows       []map[string]any
}

// DumpColumns converts a table schema's ordered columns.
func DumpColumns(t *schema.Table) []ColumnDump {
	cols := t.ColumnList()
	out := make([]ColumnDump, 0, len(cols))
	for _, c := range cols {
		out = append(out, ColumnDump{
			Name:       c.Name,
			Kind:       string(c.Kind),
			Nullable:   c.Nullable,
			Default:    c.Default,
			PrimaryKey: c.PrimaryKey,
		})
	}
	return out
}

// TableSchema rebuilds the schema value a dump was taken from.
func (d *TableDump) TableSchema() (*schema.Table, error) {
	cols := make([]*schema.Column, 0, len(d.Columns))
	for _, c := range d.Columns {
		kind, err := schema.ParseKind(c.Kind)
		if err != nil {
			return nil, err
		}
		def := c.Default
		if def != nil {
			if def, err = decodeValue(kind, def); err != nil {
				return nil, fmt.Errorf("column %q default: %w", c.Name, err)
			}
		}
		cols = append(cols, &schema.Column{
			Name:       c.Name,
			Kind:       kind,
			Nullable:   c.Nullable,
			Default:    def,
			PrimaryKey: c.PrimaryKey,
		})
	}
	return schema.NewTable(d.Name, cols)
}

// Codec is one storage format bound to one destination path.
type Codec interface {
	// Exists reports whether the destination holds persisted state.
	// A missing destination is an empty database, never an error.
	Exists() bool
	Load() ([]*TableDump, error)
	Save(dumps []*TableDump) error
	Close() error
}

type Factory func(path string) (Codec, error)

var registry = pkg.Map[string, Factory]{}

// Register makes a codec available under name. Called from init;
// duplicate names panic like database/sql driver registration.
func Register(name string, f Factory) {
	if registry.Has(name) {
		panic(fmt.Sprintf("codec: Register called twice for %q", name))
	}
	registry.Set(name, f)
}

// Open instantiates the named codec for path. Unknown names are a
// configuration error.
func Open(name, path string) (Codec, error) {
	if !registry.Has(name) {
		return nil, dberr.NewConfigError("unknown engine %q (have %v)", name, registry.Keys())
	}
	return registry.Get(name)(path)
}

// Engines lists the registered codec names.
func Engines() []string { return registry.Keys() }

// atomicWriteFile writes data next to path and renames it into place,
// so a failed save never leaves a half-written file behind.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".shelf-*")
	if err != nil {
		return err
	}
	tmp_path := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp_path)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp_path)
		return err
	}
	if err := os.Rename(tmp_path, path); err != nil {
		os.Remove(tmp_path)
		return err
	}
	return nil
}

// canonicalizeRows rewrites decoded rows into their canonical Go
// value types using the dump's own column kinds. Text-based formats
// hand back float64 numbers and base64 strings for blobs; this puts
// them right before the storage layer sees them.
func canonicalizeRows(d *TableDump) error {
	kinds := make(map[string]schema.Kind, len(d.Columns))
	for _, c := range d.Columns {
		kind, err := schema.ParseKind(c.Kind)
		if err != nil {
			return err
		}
		kinds[c.Name] = kind
	}

	for _, row := range d.Rows {
		for name, value := range row {
			kind, ok := kinds[name]
			if !ok {
				return fmt.Errorf("row references unknown column %q", name)
			}
			if value == nil {
				continue
			}
			canonical, err := decodeValue(kind, value)
			if err != nil {
				return err
			}
			row[name] = canonical
		}
	}
	return nil
}
