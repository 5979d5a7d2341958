package storage_test

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/shelfdb/shelfdb/internal/codec"
	"github.com/shelfdb/shelfdb/internal/dberr"
	"github.com/shelfdb/shelfdb/internal/schema"
	"github.com/shelfdb/shelfdb/internal/storage"
	"gotest.tools/assert"
)

func usersSchema(t *testing.T) *schema.Table {
	ts, err := schema.NewBuilder("users").
		Column(schema.Column{Name: "id", Kind: schema.KindInt, PrimaryKey: true}).
		Column(schema.Column{Name: "name", Kind: schema.KindText}).
		Column(schema.Column{Name: "age", Kind: schema.KindInt, Nullable: true}).
		Build()
	assert.NilError(t, err)
	return ts
}

func memStorage(t *testing.T) *storage.Storage {
	s, err := storage.Open(storage.Config{InMemory: true}, nil)
	assert.NilError(t, err)
	return s
}

func mustInsert(t *testing.T, table *storage.Table, values map[string]any) int {
	record, err := table.Schema.ValidateInsert(values)
	assert.NilError(t, err)
	pk, err := table.Insert(record)
	assert.NilError(t, err)
	return pk
}

func TestAutoIncrementMonotonic(t *testing.T) {
	s := memStorage(t)
	table, err := s.GetOrCreateTable(usersSchema(t))
	assert.NilError(t, err)

	a := mustInsert(t, table, map[string]any{"name": "alice"})
	b := mustInsert(t, table, map[string]any{"name": "bob"})
	assert.Equal(t, a, 1)
	assert.Equal(t, b, 2)

	// a deleted key is never handed out again
	assert.Assert(t, table.Delete(b))
	c := mustInsert(t, table, map[string]any{"name": "carol"})
	assert.Equal(t, c, 3)
}

func TestSuppliedKeyBumpsCounter(t *testing.T) {
	s := memStorage(t)
	table, err := s.GetOrCreateTable(usersSchema(t))
	assert.NilError(t, err)

	pk := mustInsert(t, table, map[string]any{"id": 10, "name": "alice"})
	assert.Equal(t, pk, 10)

	next := mustInsert(t, table, map[string]any{"name": "bob"})
	assert.Equal(t, next, 11)
}

func TestDuplicateKeyRejected(t *testing.T) {
	s := memStorage(t)
	table, err := s.GetOrCreateTable(usersSchema(t))
	assert.NilError(t, err)

	mustInsert(t, table, map[string]any{"id": 5, "name": "alice"})
	record, err := table.Schema.ValidateInsert(map[string]any{"id": 5, "name": "bob"})
	assert.NilError(t, err)
	_, err = table.Insert(record)
	assert.Assert(t, dberr.IsValue(err))
}

func TestScanIsPKOrderedCopies(t *testing.T) {
	s := memStorage(t)
	table, err := s.GetOrCreateTable(usersSchema(t))
	assert.NilError(t, err)

	mustInsert(t, table, map[string]any{"id": 3, "name": "c"})
	mustInsert(t, table, map[string]any{"id": 1, "name": "a"})
	mustInsert(t, table, map[string]any{"id": 2, "name": "b"})

	records := table.Scan()
	assert.Equal(t, len(records), 3)
	assert.Equal(t, records[0]["id"], 1)
	assert.Equal(t, records[2]["id"], 3)

	// mutating a scanned copy never reaches stored state
	records[0]["name"] = "mutated"
	got, ok := table.Get(1)
	assert.Assert(t, ok)
	assert.Equal(t, got["name"], "a")
}

func TestGetOrCreateTableIdempotent(t *testing.T) {
	s := memStorage(t)
	ts := usersSchema(t)

	table, err := s.GetOrCreateTable(ts)
	assert.NilError(t, err)
	mustInsert(t, table, map[string]any{"name": "alice"})

	again, err := s.GetOrCreateTable(ts)
	assert.NilError(t, err)
	assert.Equal(t, table, again)
	assert.Equal(t, again.Len(), 1)
}

func TestGetOrCreateTableMergesColumnAdditions(t *testing.T) {
	s := memStorage(t)
	_, err := s.GetOrCreateTable(usersSchema(t))
	assert.NilError(t, err)

	wider, err := schema.NewBuilder("users").
		Column(schema.Column{Name: "id", Kind: schema.KindInt, PrimaryKey: true}).
		Column(schema.Column{Name: "name", Kind: schema.KindText}).
		Column(schema.Column{Name: "email", Kind: schema.KindText, Nullable: true}).
		Build()
	assert.NilError(t, err)

	table, err := s.GetOrCreateTable(wider)
	assert.NilError(t, err)
	_, ok := table.Schema.Column("email")
	assert.Assert(t, ok)
}

func TestGetOrCreateTablePKMismatch(t *testing.T) {
	s := memStorage(t)
	_, err := s.GetOrCreateTable(usersSchema(t))
	assert.NilError(t, err)

	other, err := schema.NewTable("users", []*schema.Column{
		{Name: "uid", Kind: schema.KindInt, PrimaryKey: true},
	})
	assert.NilError(t, err)

	_, err = s.GetOrCreateTable(other)
	assert.Assert(t, dberr.IsSchema(err))
}

func TestTableLookupAndDrop(t *testing.T) {
	s := memStorage(t)

	_, err := s.Table("users")
	assert.Assert(t, dberr.IsSchema(err))

	_, err = s.GetOrCreateTable(usersSchema(t))
	assert.NilError(t, err)

	table, err := s.Table("users")
	assert.NilError(t, err)
	assert.Equal(t, table.Schema.Name, "users")

	assert.DeepEqual(t, s.TableNames(), []string{"users"})
	assert.NilError(t, s.DropTable("users"))
	assert.Equal(t, len(s.TableNames()), 0)
	assert.Assert(t, dberr.IsSchema(s.DropTable("users")))
}

func TestSnapshotRestore(t *testing.T) {
	s := memStorage(t)
	table, err := s.GetOrCreateTable(usersSchema(t))
	assert.NilError(t, err)

	mustInsert(t, table, map[string]any{"name": "alice"})
	snap := s.Snapshot()

	mustInsert(t, table, map[string]any{"name": "bob"})
	table.Update(1, map[string]any{"name": "mallory"})
	assert.Equal(t, table.Len(), 2)

	s.RestoreSnapshot(snap)

	// same *Table still valid after restore
	assert.Equal(t, table.Len(), 1)
	record, ok := table.Get(1)
	assert.Assert(t, ok)
	assert.Equal(t, record["name"], "alice")
	assert.Equal(t, table.LastID.Load(), int64(1))

	// counter rewound with the snapshot: next insert reuses key 2
	pk := mustInsert(t, table, map[string]any{"name": "carol"})
	assert.Equal(t, pk, 2)
}

func TestSnapshotRestoreDropsNewTables(t *testing.T) {
	s := memStorage(t)
	snap := s.Snapshot()

	_, err := s.GetOrCreateTable(usersSchema(t))
	assert.NilError(t, err)

	s.RestoreSnapshot(snap)
	assert.Equal(t, len(s.TableNames()), 0)
}

func TestFlushAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	cfg := storage.Config{FilePath: path, Engine: "json", AutoFlush: true}

	s, err := storage.Open(cfg, nil)
	assert.NilError(t, err)
	table, err := s.GetOrCreateTable(usersSchema(t))
	assert.NilError(t, err)
	mustInsert(t, table, map[string]any{"name": "alice", "age": 30})
	mustInsert(t, table, map[string]any{"name": "bob"})
	s.MarkDirty()
	assert.NilError(t, s.Close())

	reopened, err := storage.Open(cfg, nil)
	assert.NilError(t, err)
	table, err = reopened.Table("users")
	assert.NilError(t, err)

	records := table.Scan()
	assert.Equal(t, len(records), 2)
	assert.Equal(t, records[0]["name"], "alice")
	assert.Equal(t, records[0]["age"], 30)
	assert.Assert(t, records[1]["age"] == nil)

	// counter restored past the persisted keys
	pk := mustInsert(t, table, map[string]any{"name": "carol"})
	assert.Equal(t, pk, 3)
	assert.NilError(t, reopened.Close())
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.db")
	s, err := storage.Open(storage.Config{FilePath: path, Engine: "json"}, nil)
	assert.NilError(t, err)
	assert.Equal(t, len(s.TableNames()), 0)
	assert.NilError(t, s.Close())
}

func TestOpenUnknownEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.db")
	_, err := storage.Open(storage.Config{FilePath: path, Engine: "parquet"}, nil)
	assert.Assert(t, dberr.IsConfig(err))
}

// gatedCodec records every save and can hold one save open so a test
// can interleave writes with an in-flight flush.
type gatedCodec struct {
	mu      sync.Mutex
	gate    bool
	started chan struct{}
	release chan struct{}
	saves   [][]*codec.TableDump
}

var gated = &gatedCodec{started: make(chan struct{}), release: make(chan struct{})}

func init() {
	codec.Register("gated-test", func(path string) (codec.Codec, error) { return gated, nil })
}

func (c *gatedCodec) Exists() bool                      { return false }
func (c *gatedCodec) Load() ([]*codec.TableDump, error) { return nil, nil }
func (c *gatedCodec) Close() error                      { return nil }

func (c *gatedCodec) Save(dumps []*codec.TableDump) error {
	c.mu.Lock()
	blocked := c.gate
	c.gate = false
	c.saves = append(c.saves, dumps)
	c.mu.Unlock()

	if blocked {
		c.started <- struct{}{}
		<-c.release
	}
	return nil
}

func (c *gatedCodec) lastSave() []*codec.TableDump {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves[len(c.saves)-1]
}

func TestWriteLandingDuringSavePersistsOnNextFlush(t *testing.T) {
	s, err := storage.Open(storage.Config{FilePath: "gated", Engine: "gated-test"}, nil)
	assert.NilError(t, err)

	table, err := s.GetOrCreateTable(usersSchema(t))
	assert.NilError(t, err)
	mustInsert(t, table, map[string]any{"name": "alice"})
	s.MarkDirty()

	gated.mu.Lock()
	gated.gate = true
	gated.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Flush() }()
	<-gated.started

	// a committed write lands while the save is in flight
	mustInsert(t, table, map[string]any{"name": "bob"})
	s.MarkDirty()

	gated.release <- struct{}{}
	assert.NilError(t, <-done)
	assert.Equal(t, len(gated.lastSave()[0].Rows), 1)

	// the in-flight write is still pending, not swallowed by the
	// first flush's dirty reset
	assert.NilError(t, s.Flush())
	assert.Equal(t, len(gated.lastSave()[0].Rows), 2)
}

func TestInsertCopiesBlobValues(t *testing.T) {
	s := memStorage(t)
	ts, err := schema.NewBuilder("files").
		Column(schema.Column{Name: "id", Kind: schema.KindInt, PrimaryKey: true}).
		Column(schema.Column{Name: "data", Kind: schema.KindBlob}).
		Build()
	assert.NilError(t, err)
	table, err := s.GetOrCreateTable(ts)
	assert.NilError(t, err)

	blob := []byte{1, 2, 3}
	pk := mustInsert(t, table, map[string]any{"data": blob})

	// mutating the caller's slice after the insert never reaches
	// stored state
	blob[0] = 99
	record, ok := table.Get(pk)
	assert.Assert(t, ok)
	assert.DeepEqual(t, record["data"], []byte{1, 2, 3})
}

func TestClosedStorageFails(t *testing.T) {
	s := memStorage(t)
	assert.NilError(t, s.Close())

	_, err := s.GetOrCreateTable(usersSchema(t))
	assert.Assert(t, dberr.IsClosed(err))
	assert.Assert(t, dberr.IsClosed(s.Flush()))
	assert.Assert(t, dberr.IsClosed(s.Close()))
}
