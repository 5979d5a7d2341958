// Package session implements the Unit-of-Work API surface: statement
// execution, the per-session identity map, the new/dirty/deleted sets
// and transaction scopes over one shared Storage.
//
// A Session is confined to a single goroutine/thread; only the
// Storage underneath is shared. A read-modify-write cycle split across
// two Execute calls is NOT atomic across Sessions; callers needing
// that must synchronize externally.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shelfdb/shelfdb/internal/dberr"
	"github.com/shelfdb/shelfdb/internal/event"
	"github.com/shelfdb/shelfdb/internal/query"
	"github.com/shelfdb/shelfdb/internal/schema"
	"github.com/shelfdb/shelfdb/internal/storage"
	"github.com/shelfdb/shelfdb/pkg"
)

type State string

const (
	StateActive        State = "active"
	StateInTransaction State = "in_transaction"
)

type txnScope struct {
	id      uuid.UUID
	started time.Time
	snap    *storage.Snapshot
}

type Session struct {
	storage    *storage.Storage
	autocommit bool
	closed     bool

	// (table name, primary key) -> the one live instance
	identity pkg.Map[string, pkg.Map[int, *Instance]]

	new_set     *pkg.InsertSortMap[*Instance, struct{}]
	dirty_set   *pkg.InsertSortMap[*Instance, struct{}]
	deleted_set *pkg.InsertSortMap[*Instance, struct{}]

	txn *txnScope
}

// New opens a session over st. With autocommit, every mutating
// Execute outside an explicit transaction persists immediately when
// the storage is configured to auto-flush.
func New(st *storage.Storage, autocommit bool) *Session {
	return &Session{
		storage:     st,
		autocommit:  autocommit,
		identity:    pkg.Map[string, pkg.Map[int, *Instance]]{},
		new_set:     pkg.NewInsertSortMap[*Instance, struct{}](),
		dirty_set:   pkg.NewInsertSortMap[*Instance, struct{}](),
		deleted_set: pkg.NewInsertSortMap[*Instance, struct{}](),
	}
}

func (s *Session) State() State {
	if s.txn != nil {
		return StateInTransaction
	}
	return StateActive
}

func (s *Session) Storage() *storage.Storage { return s.storage }

// IdentityCount reports how many instances the identity map tracks.
func (s *Session) IdentityCount() int {
	n := 0
	for _, by_pk := range s.identity {
		n += len(by_pk)
	}
	return n
}

func (s *Session) failIfClosed() error {
	if s.closed {
		return dberr.NewClosedError("session")
	}
	return nil
}

// Execute dispatches a statement. Write statements apply their
// mutations immediately; with autocommit and no open transaction the
// result is persisted right away on auto-flush storages.
func (s *Session) Execute(stmt query.Statement) (*Result, error) {
	if err := s.failIfClosed(); err != nil {
		return nil, err
	}

	switch stmt := stmt.(type) {
	case *query.Select:
		return s.execSelect(stmt)
	case *query.Insert:
		return s.execInsert(stmt)
	case *query.Update:
		return s.execUpdate(stmt)
	case *query.Delete:
		return s.execDelete(stmt)
	}
	return nil, fmt.Errorf("unsupported statement type %T", stmt)
}

func (s *Session) execSelect(stmt *query.Select) (*Result, error) {
	if err := stmt.Check(); err != nil {
		return nil, err
	}
	t, err := s.storage.GetOrCreateTable(stmt.Table)
	if err != nil {
		return nil, err
	}

	var records []storage.Record
	pkg.RLockWrap(s.storage, func() { records = t.Scan() })

	records = query.FilterRecords(records, stmt.Where)
	query.SortRecords(records, stmt.Order)
	records = query.SliceRecords(records, stmt.RowSkip, stmt.RowLimit)

	instances := make([]*Instance, 0, len(records))
	for _, record := range records {
		instances = append(instances, s.materialize(stmt.Table, record))
	}
	return &Result{rows: len(instances), instances: instances}, nil
}

func (s *Session) execInsert(stmt *query.Insert) (*Result, error) {
	record, err := stmt.Table.ValidateInsert(stmt.Values)
	if err != nil {
		return nil, err
	}
	t, err := s.storage.GetOrCreateTable(stmt.Table)
	if err != nil {
		return nil, err
	}

	inst := NewInstance(stmt.Table, record)
	s.storage.Bus().FireModel(event.BeforeInsert, stmt.Table, inst)

	var pk int
	var insert_err error
	pkg.LockWrap(s.storage, func() { pk, insert_err = t.Insert(record) })
	if insert_err != nil {
		return nil, insert_err
	}
	s.storage.MarkDirty()

	inst.adoptRecord(storage.CopyRecord(record))
	inst.sess = s
	s.registerIdentity(inst)
	s.storage.Bus().FireModel(event.AfterInsert, stmt.Table, inst)

	if err := s.maybeAutoPersist(); err != nil {
		return nil, err
	}
	return &Result{rows: 1, instances: []*Instance{inst}, inserted: pk, hasInserted: true}, nil
}

func (s *Session) execUpdate(stmt *query.Update) (*Result, error) {
	if err := query.CheckColumns(stmt.Where, stmt.Table); err != nil {
		return nil, err
	}
	values, err := stmt.Table.ValidateUpdate(stmt.Values)
	if err != nil {
		return nil, err
	}
	t, err := s.storage.GetOrCreateTable(stmt.Table)
	if err != nil {
		return nil, err
	}

	var records []storage.Record
	pkg.RLockWrap(s.storage, func() { records = t.Scan() })
	matched := query.FilterRecords(records, stmt.Where)

	instances := make([]*Instance, 0, len(matched))
	for _, record := range matched {
		instances = append(instances, s.materialize(stmt.Table, record))
	}

	payload := instancePayload(instances)
	s.storage.Bus().FireModel(event.BeforeBulkUpdate, stmt.Table, payload...)

	pkg.LockWrap(s.storage, func() {
		for _, inst := range instances {
			t.Update(inst.pk, values)
		}
	})
	if len(instances) > 0 {
		s.storage.MarkDirty()
	}

	// keep mapped instances in step with what was just applied
	for _, inst := range instances {
		for name, value := range values {
			inst.values[name] = value
		}
	}

	s.storage.Bus().FireModel(event.AfterBulkUpdate, stmt.Table, payload...)

	if err := s.maybeAutoPersist(); err != nil {
		return nil, err
	}
	return &Result{rows: len(instances), instances: instances}, nil
}

func (s *Session) execDelete(stmt *query.Delete) (*Result, error) {
	if err := query.CheckColumns(stmt.Where, stmt.Table); err != nil {
		return nil, err
	}
	t, err := s.storage.GetOrCreateTable(stmt.Table)
	if err != nil {
		return nil, err
	}

	var records []storage.Record
	pkg.RLockWrap(s.storage, func() { records = t.Scan() })
	matched := query.FilterRecords(records, stmt.Where)

	instances := make([]*Instance, 0, len(matched))
	for _, record := range matched {
		instances = append(instances, s.materialize(stmt.Table, record))
	}

	payload := instancePayload(instances)
	s.storage.Bus().FireModel(event.BeforeBulkDelete, stmt.Table, payload...)

	pkg.LockWrap(s.storage, func() {
		for _, inst := range instances {
			t.Delete(inst.pk)
		}
	})
	if len(instances) > 0 {
		s.storage.MarkDirty()
	}

	for _, inst := range instances {
		s.evictIdentity(inst)
		s.dirty_set.Delete(inst)
		s.deleted_set.Delete(inst)
	}

	s.storage.Bus().FireModel(event.AfterBulkDelete, stmt.Table, payload...)

	if err := s.maybeAutoPersist(); err != nil {
		return nil, err
	}
	return &Result{rows: len(instances), instances: instances}, nil
}

// Get loads one instance by primary key. An identity-map hit returns
// the same live instance; a key absent from the table returns nil.
func (s *Session) Get(t *schema.Table, pk int) (*Instance, error) {
	if err := s.failIfClosed(); err != nil {
		return nil, err
	}
	if pk <= 0 {
		return nil, dberr.NewValueError(t.PrimaryKey, "invalid primary key %d", pk)
	}

	if inst := s.lookupIdentity(t.Name, pk); inst != nil {
		return inst, nil
	}

	table, err := s.storage.GetOrCreateTable(t)
	if err != nil {
		return nil, err
	}

	var record storage.Record
	var ok bool
	pkg.RLockWrap(s.storage, func() { record, ok = table.Get(pk) })
	if !ok {
		return nil, nil
	}
	return s.materialize(t, record), nil
}

// Add stages a not-yet-persisted instance for insert on the next
// flush.
func (s *Session) Add(inst *Instance) error {
	if err := s.failIfClosed(); err != nil {
		return err
	}
	inst.sess = s
	s.new_set.Push(inst, struct{}{})
	return nil
}

// Delete stages a mapped instance for removal, unstaging it from
// new/dirty first. Deleting an instance that was only staged as new
// simply discards it.
func (s *Session) Delete(inst *Instance) error {
	if err := s.failIfClosed(); err != nil {
		return err
	}

	if s.new_set.Has(inst) {
		s.new_set.Delete(inst)
		s.dirty_set.Delete(inst)
		return nil
	}
	if !inst.has_pk || s.lookupIdentity(inst.schema.Name, inst.pk) != inst {
		return dberr.NewValueError(inst.schema.PrimaryKey, "cannot delete an instance the session does not track")
	}
	s.dirty_set.Delete(inst)
	s.deleted_set.Push(inst, struct{}{})
	return nil
}

// Flush applies the pending sets to table state: deletes, then
// updates, then inserts, all under one storage write lock so no
// concurrent reader sees a partial apply. Afterwards the three sets
// are empty and every previously-new instance has a primary key.
// Inside an explicit transaction a failing flush rolls back before
// the error is returned.
func (s *Session) Flush() error {
	if err := s.failIfClosed(); err != nil {
		return err
	}

	if err := s.flushSets(); err != nil {
		if s.txn != nil {
			s.Rollback()
		}
		return err
	}
	return nil
}

type pendingInsert struct {
	inst   *Instance
	record storage.Record
	table  *storage.Table
}

type pendingUpdate struct {
	inst   *Instance
	values storage.Record
	table  *storage.Table
}

type pendingDelete struct {
	inst  *Instance
	table *storage.Table
}

func (s *Session) flushSets() error {
	if s.deleted_set.Len() == 0 && s.dirty_set.Len() == 0 && s.new_set.Len() == 0 {
		return nil
	}

	// resolve tables and validate everything before touching state
	deletes := make([]pendingDelete, 0, s.deleted_set.Len())
	for _, inst := range s.deleted_set.Sorted {
		t, err := s.storage.GetOrCreateTable(inst.schema)
		if err != nil {
			return err
		}
		deletes = append(deletes, pendingDelete{inst, t})
	}

	updates := make([]pendingUpdate, 0, s.dirty_set.Len())
	for _, inst := range s.dirty_set.Sorted {
		values, err := inst.schema.ValidateUpdate(inst.changedValues())
		if err != nil {
			return err
		}
		t, err := s.storage.GetOrCreateTable(inst.schema)
		if err != nil {
			return err
		}
		updates = append(updates, pendingUpdate{inst, values, t})
	}

	inserts := make([]pendingInsert, 0, s.new_set.Len())
	for _, inst := range s.new_set.Sorted {
		record, err := inst.schema.ValidateInsert(inst.Values())
		if err != nil {
			return err
		}
		t, err := s.storage.GetOrCreateTable(inst.schema)
		if err != nil {
			return err
		}
		inserts = append(inserts, pendingInsert{inst, record, t})
	}

	bus := s.storage.Bus()
	for _, p := range deletes {
		bus.FireModel(event.BeforeDelete, p.inst.schema, p.inst)
	}
	for _, p := range updates {
		bus.FireModel(event.BeforeUpdate, p.inst.schema, p.inst)
	}
	for _, p := range inserts {
		bus.FireModel(event.BeforeInsert, p.inst.schema, p.inst)
	}

	var apply_err error
	pkg.LockWrap(s.storage, func() {
		for _, p := range deletes {
			p.table.Delete(p.inst.pk)
		}
		for _, p := range updates {
			p.table.Update(p.inst.pk, p.values)
		}
		for i := range inserts {
			if _, err := inserts[i].table.Insert(inserts[i].record); err != nil {
				apply_err = err
				return
			}
		}
	})
	if apply_err != nil {
		return apply_err
	}
	s.storage.MarkDirty()

	for _, p := range deletes {
		s.evictIdentity(p.inst)
		bus.FireModel(event.AfterDelete, p.inst.schema, p.inst)
	}
	for _, p := range updates {
		p.inst.changed.Clear()
		bus.FireModel(event.AfterUpdate, p.inst.schema, p.inst)
	}
	for _, p := range inserts {
		p.inst.adoptRecord(storage.CopyRecord(p.record))
		s.registerIdentity(p.inst)
		bus.FireModel(event.AfterInsert, p.inst.schema, p.inst)
	}

	s.new_set.Clear()
	s.dirty_set.Clear()
	s.deleted_set.Clear()
	return nil
}

// Commit flushes pending work, persists when the storage auto-flushes
// and ends any open transaction scope successfully.
func (s *Session) Commit() error {
	if err := s.Flush(); err != nil {
		return err
	}
	if s.storage.AutoFlush() {
		if err := s.storage.Flush(); err != nil {
			return err
		}
	}
	s.txn = nil
	return nil
}

// Rollback discards the pending sets. If a transaction scope is open
// its snapshot is restored and the identity map is cleared entirely,
// detaching every instance handed out during the failed transaction.
func (s *Session) Rollback() error {
	if err := s.failIfClosed(); err != nil {
		return err
	}

	s.new_set.Clear()
	s.dirty_set.Clear()
	s.deleted_set.Clear()

	if s.txn != nil {
		s.storage.RestoreSnapshot(s.txn.snap)
		s.identity.Clear()
		s.txn = nil
	}
	return nil
}

// Begin opens a transaction scope. Nested transactions are not
// supported.
func (s *Session) Begin() error {
	if err := s.failIfClosed(); err != nil {
		return err
	}
	if s.txn != nil {
		return dberr.NewTransactionError("nested transactions are not supported")
	}
	s.txn = &txnScope{
		id:      uuid.Must(uuid.NewV7()),
		started: time.Now(),
		snap:    s.storage.Snapshot(),
	}
	return nil
}

// WithTransaction runs fn inside a transaction scope: commit on
// normal return, rollback (and the original error back to the caller)
// on failure.
func (s *Session) WithTransaction(fn func(*Session) error) error {
	if err := s.Begin(); err != nil {
		return err
	}
	if err := fn(s); err != nil {
		s.Rollback()
		return err
	}
	return s.Commit()
}

// Merge reconciles a detached instance with session state:
//   - key already identity-mapped: its tracked values are copied onto
//     the mapped instance in place, which is returned (no new object);
//   - key present only in the table: a new managed instance carrying
//     the merged values is registered and returned;
//   - key absent from both, or no key at all: the instance is staged
//     as new and returned unchanged. Keeping the caller's key on
//     insert is intentional: merge doubles as the insert path for
//     caller-supplied primary keys.
func (s *Session) Merge(detached *Instance) (*Instance, error) {
	if err := s.failIfClosed(); err != nil {
		return nil, err
	}
	if detached == nil {
		return nil, dberr.NewValueError("", "cannot merge nil instance")
	}

	pk, ok := detached.PrimaryKey()
	if !ok {
		if err := s.Add(detached); err != nil {
			return nil, err
		}
		return detached, nil
	}
	if pk <= 0 {
		return nil, dberr.NewValueError(detached.schema.PrimaryKey, "invalid primary key %d", pk)
	}

	if mapped := s.lookupIdentity(detached.schema.Name, pk); mapped != nil {
		for name, value := range detached.values {
			if name == detached.schema.PrimaryKey {
				continue
			}
			mapped.Set(name, value)
		}
		return mapped, nil
	}

	table, err := s.storage.GetOrCreateTable(detached.schema)
	if err != nil {
		return nil, err
	}
	var record storage.Record
	var found bool
	pkg.RLockWrap(s.storage, func() { record, found = table.Get(pk) })

	if found {
		inst := newManagedInstance(s, detached.schema, record)
		s.registerIdentity(inst)
		for name, value := range detached.values {
			if name == detached.schema.PrimaryKey {
				continue
			}
			inst.Set(name, value)
		}
		return inst, nil
	}

	if err := s.Add(detached); err != nil {
		return nil, err
	}
	return detached, nil
}

// Count evaluates a predicate without materializing instances.
func (s *Session) Count(t *schema.Table, where query.Node) (int, error) {
	if err := s.failIfClosed(); err != nil {
		return 0, err
	}
	if err := query.CheckColumns(where, t); err != nil {
		return 0, err
	}
	table, err := s.storage.GetOrCreateTable(t)
	if err != nil {
		return 0, err
	}

	var records []storage.Record
	pkg.RLockWrap(s.storage, func() { records = table.Scan() })
	return len(query.FilterRecords(records, where)), nil
}

// Close releases session-local structures. Instances handed out stay
// readable (they are independent copies); further session operations
// fail with a ClosedError. Storage lifecycle is unaffected.
func (s *Session) Close() error {
	if err := s.failIfClosed(); err != nil {
		return err
	}
	s.identity.Clear()
	s.new_set.Clear()
	s.dirty_set.Clear()
	s.deleted_set.Clear()
	s.txn = nil
	s.closed = true
	return nil
}

func (s *Session) maybeAutoPersist() error {
	if s.autocommit && s.txn == nil && s.storage.AutoFlush() {
		return s.storage.Flush()
	}
	return nil
}

// materialize promotes a record copy to a managed instance, going
// through the identity map: an existing instance for the key is
// returned as-is, its fields never silently overwritten by a read.
func (s *Session) materialize(t *schema.Table, record storage.Record) *Instance {
	pk := pkg.NumToInt(record[t.PrimaryKey])
	if inst := s.lookupIdentity(t.Name, pk); inst != nil {
		return inst
	}
	inst := newManagedInstance(s, t, record)
	s.registerIdentity(inst)
	return inst
}

func (s *Session) lookupIdentity(table string, pk int) *Instance {
	by_pk, ok := s.identity[table]
	if !ok {
		return nil
	}
	return by_pk.Get(pk)
}

func (s *Session) registerIdentity(inst *Instance) {
	by_pk, ok := s.identity[inst.schema.Name]
	if !ok {
		by_pk = pkg.Map[int, *Instance]{}
		s.identity.Set(inst.schema.Name, by_pk)
	}
	by_pk.Set(inst.pk, inst)
}

func (s *Session) evictIdentity(inst *Instance) {
	if by_pk, ok := s.identity[inst.schema.Name]; ok {
		by_pk.Delete(inst.pk)
	}
}

// markDirty is called by Instance.Set: only identity-mapped instances
// enter the dirty set, and only once.
func (s *Session) markDirty(inst *Instance) {
	if s.closed {
		return
	}
	if s.lookupIdentity(inst.schema.Name, inst.pk) != inst {
		return
	}
	s.dirty_set.Push(inst, struct{}{})
}

func instancePayload(instances []*Instance) []any {
	payload := make([]any, 0, len(instances))
	for _, inst := range instances {
		payload = append(payload, inst)
	}
	return payload
}
