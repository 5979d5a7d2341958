package storage

import sorted "github.com/tobshub/go-sortedmap"

// Snapshot is a deep copy of every table's records and counters,
// captured when a transaction scope begins and thrown away on commit.
// Restore puts the registry back exactly as captured; tables created
// after the capture are dropped.
type Snapshot struct {
	tables map[string]*tableSnapshot
}

type tableSnapshot struct {
	records []Record
	last_id int64
}

func (s *Storage) Snapshot() *Snapshot {
	s.Locker.RLock()
	defer s.Locker.RUnlock()

	snap := &Snapshot{tables: make(map[string]*tableSnapshot, len(s.tables))}
	for name, t := range s.tables {
		snap.tables[name] = &tableSnapshot{
			records: t.Scan(),
			last_id: t.LastID.Load(),
		}
	}
	return snap
}

func (s *Storage) RestoreSnapshot(snap *Snapshot) {
	s.Locker.Lock()
	defer s.Locker.Unlock()

	for name := range s.tables {
		if _, ok := snap.tables[name]; !ok {
			s.tables.Delete(name)
		}
	}

	for name, ts := range snap.tables {
		t, ok := s.tables[name]
		if !ok {
			continue
		}
		// rebuild in place so existing *Table references stay valid
		t.rows = sorted.New[int, Record](len(ts.records), recordLess(t.Schema))
		for _, record := range ts.records {
			t.put(pkFromRecord(t.Schema.PrimaryKey, record), CopyRecord(record))
		}
		t.LastID.Store(ts.last_id)
	}
	s.markDirtyLocked()
}
