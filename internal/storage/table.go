// Package storage owns the in-memory table registry of one database
// instance and coordinates load-on-open and flush-on-demand through a
// backend codec. Structural mutation of any table is serialized by the
// owning Storage's Locker; see Storage.
package storage

import (
	"sync/atomic"

	"github.com/shelfdb/shelfdb/internal/dberr"
	"github.com/shelfdb/shelfdb/internal/schema"
	"github.com/shelfdb/shelfdb/pkg"
	sorted "github.com/tobshub/go-sortedmap"
)

// Record is one stored row, keyed by column name. Records at rest are
// owned by their Table; anything handed out is a copy.
type Record = map[string]any

type Table struct {
	Schema *schema.Table

	rows *sorted.SortedMap[int, Record]

	// Last primary key assigned by auto-increment. Monotonic, never
	// reused, advanced only under the owning Storage's write lock.
	LastID atomic.Int64
}

func NewTable(s *schema.Table) *Table {
	return &Table{Schema: s, rows: sorted.New[int, Record](0, recordLess(s))}
}

func recordLess(s *schema.Table) func(a, b Record) bool {
	pk := s.PrimaryKey
	return func(a, b Record) bool {
		return pkg.NumToInt(a[pk]) < pkg.NumToInt(b[pk])
	}
}

func (t *Table) Len() int { return t.rows.Len() }

func (t *Table) Has(pk int) bool { return t.rows.Has(pk) }

// Get returns a copy of the record under pk.
func (t *Table) Get(pk int) (Record, bool) {
	record, ok := t.rows.Get(pk)
	if !ok {
		return nil, false
	}
	return CopyRecord(record), true
}

// Insert stores a validated record. A nil primary key value gets the
// next auto-increment key; a caller-supplied key must be free and
// bumps the counter past itself so the key is never handed out again.
func (t *Table) Insert(record Record) (int, error) {
	pk_name := t.Schema.PrimaryKey

	var pk int
	if record[pk_name] == nil {
		pk = int(t.LastID.Add(1))
		record[pk_name] = pk
	} else {
		pk = pkg.NumToInt(record[pk_name])
		if pk <= 0 {
			return 0, dberr.NewValueError(pk_name, "primary key must be a positive integer, got %v", record[pk_name])
		}
		if t.rows.Has(pk) {
			return 0, dberr.NewValueError(pk_name, "duplicate primary key %d in table %q", pk, t.Schema.Name)
		}
		record[pk_name] = pk
		if int64(pk) > t.LastID.Load() {
			t.LastID.Store(int64(pk))
		}
	}

	t.rows.Insert(pk, record)
	return pk, nil
}

// Update merges the validated column values into the stored record.
// The primary key itself is never updated through this path.
func (t *Table) Update(pk int, values Record) bool {
	record, ok := t.rows.Get(pk)
	if !ok {
		return false
	}
	for name, value := range values {
		if name == t.Schema.PrimaryKey {
			continue
		}
		record[name] = value
	}
	return true
}

func (t *Table) Delete(pk int) bool {
	if !t.rows.Has(pk) {
		return false
	}
	t.rows.Delete(pk)
	return true
}

// Scan returns copies of every record in primary-key order.
func (t *Table) Scan() []Record {
	records := make([]Record, 0, t.rows.Len())
	iter, err := t.rows.IterCh()
	if err != nil {
		// only fails on an empty map
		return records
	}
	defer iter.Close()

	for row := range iter.Records() {
		records = append(records, CopyRecord(row.Val))
	}
	return records
}

// put stores a record under an explicit key without validation; used
// by codec load and snapshot restore.
func (t *Table) put(pk int, record Record) {
	if !t.rows.Insert(pk, record) {
		t.rows.Replace(pk, record)
	}
}

// CopyRecord makes an independent copy of a record, including blob
// values, so caller mutation never aliases stored state.
func CopyRecord(record Record) Record {
	out := make(Record, len(record))
	for name, value := range record {
		if blob, ok := value.([]byte); ok {
			cp := make([]byte, len(blob))
			copy(cp, blob)
			out[name] = cp
			continue
		}
		out[name] = value
	}
	return out
}
