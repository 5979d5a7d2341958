package session

// Result is what Execute hands back: the affected row count, the
// materialized instances (for selects and writes that touch mapped
// instances) and, for inserts, the assigned primary key.
type Result struct {
	rows        int
	instances   []*Instance
	inserted    int
	hasInserted bool
}

func (r *Result) RowCount() int { return r.rows }

func (r *Result) First() *Instance {
	if len(r.instances) == 0 {
		return nil
	}
	return r.instances[0]
}

func (r *Result) All() []*Instance { return r.instances }

// InsertedKey returns the primary key assigned by an insert.
func (r *Result) InsertedKey() (int, bool) { return r.inserted, r.hasInserted }
