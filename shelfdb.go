// Package shelfdb is an embedded, process-local table database. Callers
// declare table schemas through the builder API, then read and write
// records through unit-of-work sessions over one shared DB.
//
// The exported surface is a thin facade over the internal packages:
// schema building, statement construction, predicates and session
// semantics all live there and are re-exported here under stable
// names.
package shelfdb

import (
	"github.com/shelfdb/shelfdb/internal/dberr"
	"github.com/shelfdb/shelfdb/internal/event"
	"github.com/shelfdb/shelfdb/internal/query"
	"github.com/shelfdb/shelfdb/internal/schema"
	"github.com/shelfdb/shelfdb/internal/session"
	"github.com/shelfdb/shelfdb/internal/storage"
)

// Schema surface.
type (
	Kind          = schema.Kind
	Column        = schema.Column
	TableSchema   = schema.Table
	SchemaBuilder = schema.Builder
)

const (
	KindInt   = schema.KindInt
	KindFloat = schema.KindFloat
	KindText  = schema.KindText
	KindBool  = schema.KindBool
	KindBlob  = schema.KindBlob
)

func NewSchema(table string) *SchemaBuilder { return schema.NewBuilder(table) }

// Statement and predicate surface.
type (
	Predicate = query.Node
	Statement = query.Statement
	Ordering  = query.Ordering
	Select    = query.Select
	Insert    = query.Insert
	Update    = query.Update
	Delete    = query.Delete
)

func SelectFrom(t *TableSchema) *Select { return query.SelectFrom(t) }

func InsertInto(t *TableSchema, values map[string]any) *Insert {
	return query.InsertInto(t, values)
}

func UpdateOf(t *TableSchema, values map[string]any) *Update {
	return query.UpdateOf(t, values)
}

func DeleteFrom(t *TableSchema) *Delete { return query.DeleteFrom(t) }

func Eq(column string, value any) Predicate  { return query.Eq(column, value) }
func Ne(column string, value any) Predicate  { return query.Ne(column, value) }
func Lt(column string, value any) Predicate  { return query.Lt(column, value) }
func Lte(column string, value any) Predicate { return query.Lte(column, value) }
func Gt(column string, value any) Predicate  { return query.Gt(column, value) }
func Gte(column string, value any) Predicate { return query.Gte(column, value) }

func In(column string, values ...any) Predicate { return query.In(column, values...) }
func And(nodes ...Predicate) Predicate          { return query.And(nodes...) }
func Or(nodes ...Predicate) Predicate           { return query.Or(nodes...) }
func Not(node Predicate) Predicate              { return query.Not(node) }

// Session surface.
type (
	Session  = session.Session
	Instance = session.Instance
	Result   = session.Result
)

func NewInstance(t *TableSchema, values map[string]any) *Instance {
	return session.NewInstance(t, values)
}

// Event surface.
type (
	EventName       = event.Name
	ModelListener   = event.ModelListener
	StorageListener = event.StorageListener
)

const (
	BeforeInsert = event.BeforeInsert
	AfterInsert  = event.AfterInsert
	BeforeUpdate = event.BeforeUpdate
	AfterUpdate  = event.AfterUpdate
	BeforeDelete = event.BeforeDelete
	AfterDelete  = event.AfterDelete

	BeforeBulkInsert = event.BeforeBulkInsert
	AfterBulkInsert  = event.AfterBulkInsert
	BeforeBulkUpdate = event.BeforeBulkUpdate
	AfterBulkUpdate  = event.AfterBulkUpdate
	BeforeBulkDelete = event.BeforeBulkDelete
	AfterBulkDelete  = event.AfterBulkDelete

	BeforeFlush = event.BeforeFlush
	AfterFlush  = event.AfterFlush
)

// Error taxonomy predicates.
var (
	IsConfigError      = dberr.IsConfig
	IsSchemaError      = dberr.IsSchema
	IsValueError       = dberr.IsValue
	IsTransactionError = dberr.IsTransaction
	IsClosedError      = dberr.IsClosed
	IsCorruptDataError = dberr.IsCorruptData
)

// Config selects the persistence destination and engine. The zero
// value is a purely in-memory database.
type Config struct {
	// Path of the database file. Empty means in-memory.
	Path string
	// Engine names the backend codec: json, csv, sqlite, binary or
	// binary-xz. Empty picks binary.
	Engine string
	// AutoFlush persists on Close and after each autocommit statement.
	AutoFlush bool
}

// DB owns one storage instance and its event bus. Many sessions, each
// confined to its own goroutine, may share one DB.
type DB struct {
	storage *storage.Storage
	bus     *event.Bus
}

func Open(cfg Config) (*DB, error) {
	bus := event.NewBus()
	st, err := storage.Open(storage.Config{
		FilePath:  cfg.Path,
		Engine:    cfg.Engine,
		AutoFlush: cfg.AutoFlush,
	}, bus)
	if err != nil {
		return nil, err
	}
	return &DB{storage: st, bus: bus}, nil
}

// Session opens a unit-of-work over the database. With autocommit,
// each mutating statement persists immediately on AutoFlush databases;
// otherwise changes reach disk on Flush/Close.
func (db *DB) Session(autocommit bool) *Session {
	return session.New(db.storage, autocommit)
}

// Listen registers a model-level event hook for one table.
func (db *DB) Listen(table string, e EventName, fn ModelListener) error {
	return db.bus.Listen(table, e, fn)
}

// ListenFlush registers a storage-level flush hook.
func (db *DB) ListenFlush(e EventName, fn StorageListener) error {
	return db.bus.ListenStorage(e, fn)
}

// TableNames lists the registered tables in name order.
func (db *DB) TableNames() []string { return db.storage.TableNames() }

// DropTable removes a table and its records from the registry.
func (db *DB) DropTable(name string) error { return db.storage.DropTable(name) }

// Flush persists pending table state through the backend codec.
func (db *DB) Flush() error { return db.storage.Flush() }

// Close flushes on AutoFlush databases and releases the backend.
func (db *DB) Close() error { return db.storage.Close() }
