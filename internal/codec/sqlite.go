package codec

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shelfdb/shelfdb/internal/dberr"
	"github.com/shelfdb/shelfdb/internal/schema"

	_ "modernc.org/sqlite"
)

func init() {
	Register("sqlite", func(path string) (Codec, error) {
		return &SQLiteCodec{path: path}, nil
	})
}

// SQLiteCodec persists the database as a real SQLite file through the
// pure-Go modernc.org/sqlite driver. Table metadata lives in a
// dedicated _shelf_meta table; each shelf table becomes one SQL table
// with typed columns. Save builds a fresh database beside the target
// and renames it into place, keeping the all-or-nothing contract.
type SQLiteCodec struct {
	path string
}

const sqliteMetaTable = "_shelf_meta"

func (c *SQLiteCodec) Exists() bool {
	info, err := os.Stat(c.path)
	return err == nil && info.Size() > 0
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqliteColType(kind schema.Kind) string {
	switch kind {
	case schema.KindInt, schema.KindBool:
		return "INTEGER"
	case schema.KindFloat:
		return "REAL"
	case schema.KindBlob:
		return "BLOB"
	}
	return "TEXT"
}

func (c *SQLiteCodec) Load() ([]*TableDump, error) {
	db, err := sql.Open("sqlite", c.path+"?mode=ro")
	if err != nil {
		return nil, dberr.NewCorruptDataError(c.path, "cannot open sqlite database", err)
	}
	defer db.Close()

	meta_rows, err := db.Query(
		"SELECT table_name, primary_key, next_id, columns FROM " + sqliteMetaTable)
	if err != nil {
		return nil, dberr.NewCorruptDataError(c.path, "missing "+sqliteMetaTable+" table", err)
	}

	dumps := []*TableDump{}
	for meta_rows.Next() {
		d := &TableDump{}
		var columns_json string
		if err := meta_rows.Scan(&d.Name, &d.PrimaryKey, &d.NextID, &columns_json); err != nil {
			meta_rows.Close()
			return nil, dberr.NewCorruptDataError(c.path, "malformed metadata row", err)
		}
		if err := json.Unmarshal([]byte(columns_json), &d.Columns); err != nil {
			meta_rows.Close()
			return nil, dberr.NewCorruptDataError(c.path, "malformed column metadata for "+d.Name, err)
		}
		dumps = append(dumps, d)
	}
	if err := meta_rows.Err(); err != nil {
		return nil, dberr.NewCorruptDataError(c.path, "metadata scan", err)
	}
	meta_rows.Close()

	for _, d := range dumps {
		if err := c.loadTableRows(db, d); err != nil {
			return nil, err
		}
		if err := canonicalizeRows(d); err != nil {
			return nil, dberr.NewCorruptDataError(c.path, "table "+d.Name, err)
		}
	}
	return dumps, nil
}

func (c *SQLiteCodec) loadTableRows(db *sql.DB, d *TableDump) error {
	names := make([]string, 0, len(d.Columns))
	quoted := make([]string, 0, len(d.Columns))
	for _, col := range d.Columns {
		names = append(names, col.Name)
		quoted = append(quoted, quoteIdent(col.Name))
	}

	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(quoted, ", "), quoteIdent(d.Name), quoteIdent(d.PrimaryKey))
	rows, err := db.Query(q)
	if err != nil {
		return dberr.NewCorruptDataError(c.path, "missing data table "+d.Name, err)
	}
	defer rows.Close()

	d.Rows = []map[string]any{}
	for rows.Next() {
		cells := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return dberr.NewCorruptDataError(c.path, "row scan in "+d.Name, err)
		}
		row := make(map[string]any, len(names))
		for i, name := range names {
			row[name] = cells[i]
		}
		d.Rows = append(d.Rows, row)
	}
	return rows.Err()
}

func (c *SQLiteCodec) Save(dumps []*TableDump) error {
	tmp_path := c.path + ".tmp"
	os.Remove(tmp_path)

	db, err := sql.Open("sqlite", tmp_path)
	if err != nil {
		return err
	}

	err = c.writeAll(db, dumps)
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp_path)
		return err
	}
	if err := os.Rename(tmp_path, c.path); err != nil {
		os.Remove(tmp_path)
		return err
	}
	return nil
}

func (c *SQLiteCodec) writeAll(db *sql.DB, dumps []*TableDump) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec("CREATE TABLE " + sqliteMetaTable +
		" (table_name TEXT PRIMARY KEY, primary_key TEXT NOT NULL," +
		" next_id INTEGER NOT NULL, columns TEXT NOT NULL)")
	if err != nil {
		return err
	}

	for _, d := range dumps {
		columns_json, err := json.Marshal(d.Columns)
		if err != nil {
			return err
		}
		_, err = tx.Exec("INSERT INTO "+sqliteMetaTable+" VALUES (?, ?, ?, ?)",
			d.Name, d.PrimaryKey, d.NextID, string(columns_json))
		if err != nil {
			return err
		}
		if err := c.writeTable(tx, d); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *SQLiteCodec) writeTable(tx *sql.Tx, d *TableDump) error {
	defs := make([]string, 0, len(d.Columns))
	names := make([]string, 0, len(d.Columns))
	marks := make([]string, 0, len(d.Columns))
	for _, col := range d.Columns {
		kind, err := schema.ParseKind(col.Kind)
		if err != nil {
			return err
		}
		def := quoteIdent(col.Name) + " " + sqliteColType(kind)
		if col.PrimaryKey {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
		names = append(names, col.Name)
		marks = append(marks, "?")
	}

	_, err := tx.Exec(fmt.Sprintf("CREATE TABLE %s (%s)",
		quoteIdent(d.Name), strings.Join(defs, ", ")))
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s VALUES (%s)",
		quoteIdent(d.Name), strings.Join(marks, ", ")))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range d.Rows {
		args := make([]any, 0, len(names))
		for _, name := range names {
			value := row[name]
			if b, ok := value.(bool); ok {
				if b {
					value = 1
				} else {
					value = 0
				}
			}
			args = append(args, value)
		}
		if _, err := stmt.Exec(args...); err != nil {
			return err
		}
	}
	return nil
}

func (c *SQLiteCodec) Close() error { return nil }
