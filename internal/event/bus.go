// Package event provides the hook dispatcher call sites the core
// fires around record mutations and storage flushes. A Bus is an
// explicit value attached to a Storage at construction; there is no
// process-wide registry.
package event

import (
	"fmt"

	"github.com/shelfdb/shelfdb/internal/schema"
	"github.com/shelfdb/shelfdb/pkg"
)

type Name string

const (
	BeforeInsert Name = "before_insert"
	AfterInsert  Name = "after_insert"
	BeforeUpdate Name = "before_update"
	AfterUpdate  Name = "after_update"
	BeforeDelete Name = "before_delete"
	AfterDelete  Name = "after_delete"

	BeforeBulkInsert Name = "before_bulk_insert"
	AfterBulkInsert  Name = "after_bulk_insert"
	BeforeBulkUpdate Name = "before_bulk_update"
	AfterBulkUpdate  Name = "after_bulk_update"
	BeforeBulkDelete Name = "before_bulk_delete"
	AfterBulkDelete  Name = "after_bulk_delete"

	BeforeFlush Name = "before_flush"
	AfterFlush  Name = "after_flush"
)

func (n Name) IsModelEvent() bool {
	switch n {
	case BeforeInsert, AfterInsert, BeforeUpdate, AfterUpdate, BeforeDelete, AfterDelete,
		BeforeBulkInsert, AfterBulkInsert, BeforeBulkUpdate, AfterBulkUpdate,
		BeforeBulkDelete, AfterBulkDelete:
		return true
	}
	return false
}

func (n Name) IsStorageEvent() bool {
	return n == BeforeFlush || n == AfterFlush
}

// ModelListener receives the table schema and the instances the
// operation touches. The payload is the caller's live instances, not
// copies; the core never depends on what a listener does with them.
type ModelListener func(t *schema.Table, instances []any)

// StorageListener receives the Storage the flush runs against.
type StorageListener func(storage any)

type modelKey struct {
	table string
	event Name
}

type Bus struct {
	model   pkg.Map[modelKey, []ModelListener]
	storage pkg.Map[Name, []StorageListener]
}

func NewBus() *Bus {
	return &Bus{
		model:   pkg.Map[modelKey, []ModelListener]{},
		storage: pkg.Map[Name, []StorageListener]{},
	}
}

// Listen registers a model-level listener for one table.
func (b *Bus) Listen(table string, e Name, fn ModelListener) error {
	if !e.IsModelEvent() {
		return fmt.Errorf("%q is not a model event", e)
	}
	key := modelKey{table, e}
	b.model.Set(key, append(b.model.Get(key), fn))
	return nil
}

// ListenStorage registers a storage-level flush listener.
func (b *Bus) ListenStorage(e Name, fn StorageListener) error {
	if !e.IsStorageEvent() {
		return fmt.Errorf("%q is not a storage event", e)
	}
	b.storage.Set(e, append(b.storage.Get(e), fn))
	return nil
}

// FireModel dispatches synchronously to every listener registered for
// the (table, event) pair. Safe on a nil bus.
func (b *Bus) FireModel(e Name, t *schema.Table, instances ...any) {
	if b == nil || len(instances) == 0 {
		return
	}
	for _, fn := range b.model.Get(modelKey{t.Name, e}) {
		fn(t, instances)
	}
}

// FireStorage dispatches synchronously to every flush listener. Safe
// on a nil bus.
func (b *Bus) FireStorage(e Name, storage any) {
	if b == nil {
		return
	}
	for _, fn := range b.storage.Get(e) {
		fn(storage)
	}
}
