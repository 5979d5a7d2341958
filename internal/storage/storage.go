package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/shelfdb/shelfdb/internal/codec"
	"github.com/shelfdb/shelfdb/internal/dberr"
	"github.com/shelfdb/shelfdb/internal/event"
	"github.com/shelfdb/shelfdb/internal/schema"
	"github.com/shelfdb/shelfdb/pkg"
)

// Config selects where and how a Storage persists. An empty FilePath
// implies in-memory mode; Engine names a registered codec.
type Config struct {
	InMemory  bool
	FilePath  string
	Engine    string
	AutoFlush bool
}

const DefaultEngine = "binary"

// Storage owns the table registry of one database instance and the
// codec that persists it.
//
// Multiple OS threads may share one Storage. Reads take Locker.RLock;
// any structural mutation (insert/update/delete application,
// auto-increment advance, table creation) runs under Locker.Lock, so
// a reader never observes a record set mid-mutation. Sessions are NOT
// safe to share across threads; only the Storage is.
type Storage struct {
	Locker sync.RWMutex

	// serializes flushes so an older dump never renames over a newer one
	flush_mu sync.Mutex

	config Config
	codec  codec.Codec
	tables pkg.Map[string, *Table]
	bus    *event.Bus

	// dirty generation: bumped on every mutation mark, snapshotted with
	// each dump so a mark landing mid-save is not swallowed by the
	// post-save reset
	gen        uint64
	dirty      bool
	closed     bool
	LastChange time.Time
}

// Open creates a Storage from config. With a file path and an
// existing non-empty destination, the whole registry is loaded up
// front through the codec; a missing or empty destination yields an
// empty registry, not an error. bus may be nil.
func Open(cfg Config, bus *event.Bus) (*Storage, error) {
	if cfg.FilePath == "" {
		cfg.InMemory = true
	}
	if cfg.Engine == "" {
		cfg.Engine = DefaultEngine
	}

	s := &Storage{
		config:     cfg,
		tables:     pkg.Map[string, *Table]{},
		bus:        bus,
		LastChange: time.Now(),
	}

	if cfg.InMemory {
		return s, nil
	}

	c, err := codec.Open(cfg.Engine, cfg.FilePath)
	if err != nil {
		return nil, err
	}
	s.codec = c

	if !c.Exists() {
		return s, nil
	}

	dumps, err := c.Load()
	if err != nil {
		return nil, err
	}
	for _, dump := range dumps {
		t, err := tableFromDump(dump)
		if err != nil {
			return nil, dberr.NewCorruptDataError(cfg.FilePath, "table "+dump.Name, err)
		}
		s.tables.Set(dump.Name, t)
	}
	pkg.InfoLog("loaded", len(dumps), "tables from", cfg.FilePath)
	return s, nil
}

func tableFromDump(dump *codec.TableDump) (*Table, error) {
	ts, err := dump.TableSchema()
	if err != nil {
		return nil, err
	}

	t := NewTable(ts)
	last := int64(dump.NextID) - 1
	for _, row := range dump.Rows {
		pk := pkFromRecord(ts.PrimaryKey, row)
		t.put(pk, row)
		if int64(pk) > last {
			last = int64(pk)
		}
	}
	if last > 0 {
		t.LastID.Store(last)
	}
	return t, nil
}

func pkFromRecord(pk_name string, record Record) int {
	return pkg.NumToInt(record[pk_name])
}

func (s *Storage) GetLocker() *sync.RWMutex { return &s.Locker }

func (s *Storage) Bus() *event.Bus { return s.bus }

func (s *Storage) AutoFlush() bool { return s.config.AutoFlush }

func (s *Storage) InMemory() bool { return s.config.InMemory }

// GetOrCreateTable registers a table for the schema on first use.
// Idempotent: re-registering an existing table keeps its records.
// Column additions are tolerated and merged into the live schema; a
// primary key mismatch is a SchemaError.
func (s *Storage) GetOrCreateTable(ts *schema.Table) (*Table, error) {
	if err := s.failIfClosed(); err != nil {
		return nil, err
	}

	s.Locker.Lock()
	defer s.Locker.Unlock()

	if existing, ok := s.tables[ts.Name]; ok {
		if err := existing.Schema.CheckCompatible(ts); err != nil {
			return nil, err
		}
		for _, col := range ts.ColumnList() {
			if !existing.Schema.Columns.Has(col.Name) {
				c := *col
				existing.Schema.Columns.Push(c.Name, &c)
			}
		}
		return existing, nil
	}

	t := NewTable(ts)
	s.tables.Set(ts.Name, t)
	s.markDirtyLocked()
	return t, nil
}

// Table looks up a registered table.
func (s *Storage) Table(name string) (*Table, error) {
	if err := s.failIfClosed(); err != nil {
		return nil, err
	}

	s.Locker.RLock()
	defer s.Locker.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		return nil, dberr.NewSchemaError(name, "", "table not registered")
	}
	return t, nil
}

func (s *Storage) DropTable(name string) error {
	if err := s.failIfClosed(); err != nil {
		return err
	}

	s.Locker.Lock()
	defer s.Locker.Unlock()

	if !s.tables.Has(name) {
		return dberr.NewSchemaError(name, "", "table not registered")
	}
	s.tables.Delete(name)
	s.markDirtyLocked()
	return nil
}

func (s *Storage) TableNames() []string {
	s.Locker.RLock()
	defer s.Locker.RUnlock()

	names := s.tables.Keys()
	sort.Strings(names)
	return names
}

// MarkDirty records that in-memory state diverged from the persisted
// state. Sessions call it after applying mutations.
func (s *Storage) MarkDirty() {
	s.Locker.Lock()
	s.markDirtyLocked()
	s.Locker.Unlock()
}

func (s *Storage) markDirtyLocked() {
	s.dirty = true
	s.gen++
	s.LastChange = time.Now()
}

// Flush serializes every table through the codec and atomically
// replaces the persisted state. No-op in memory mode or when nothing
// changed since the last flush. Concurrent flushes are serialized, and
// the dirty flag is reset only when no new mutation mark landed while
// the save was in flight.
func (s *Storage) Flush() error {
	if err := s.failIfClosed(); err != nil {
		return err
	}
	if s.codec == nil {
		return nil
	}

	s.flush_mu.Lock()
	defer s.flush_mu.Unlock()

	s.Locker.RLock()
	if !s.dirty {
		s.Locker.RUnlock()
		return nil
	}
	s.Locker.RUnlock()

	s.bus.FireStorage(event.BeforeFlush, s)

	s.Locker.RLock()
	gen := s.gen
	dumps := s.dumpTables()
	s.Locker.RUnlock()

	if err := s.codec.Save(dumps); err != nil {
		return err
	}

	s.Locker.Lock()
	if s.gen == gen {
		s.dirty = false
	}
	s.Locker.Unlock()

	s.bus.FireStorage(event.AfterFlush, s)
	pkg.DebugLog("flushed", len(dumps), "tables to", s.config.FilePath)
	return nil
}

func (s *Storage) dumpTables() []*codec.TableDump {
	names := s.tables.Keys()
	sort.Strings(names)

	dumps := make([]*codec.TableDump, 0, len(names))
	for _, name := range names {
		t := s.tables.Get(name)
		dumps = append(dumps, &codec.TableDump{
			Name:       name,
			PrimaryKey: t.Schema.PrimaryKey,
			Columns:    codec.DumpColumns(t.Schema),
			NextID:     int(t.LastID.Load()) + 1,
			Rows:       t.Scan(),
		})
	}
	return dumps
}

// Close flushes pending data when AutoFlush is set and releases the
// codec. Any Storage method after Close fails with a ClosedError;
// records copied out earlier stay valid.
func (s *Storage) Close() error {
	if err := s.failIfClosed(); err != nil {
		return err
	}

	if s.config.AutoFlush {
		if err := s.Flush(); err != nil {
			return err
		}
	}

	s.Locker.Lock()
	s.closed = true
	s.Locker.Unlock()

	if s.codec != nil {
		return s.codec.Close()
	}
	return nil
}

func (s *Storage) failIfClosed() error {
	s.Locker.RLock()
	defer s.Locker.RUnlock()
	if s.closed {
		return dberr.NewClosedError("storage")
	}
	return nil
}
