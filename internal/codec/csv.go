package codec

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/shelfdb/shelfdb/internal/dberr"
)

func init() {
	Register("csv", func(path string) (Codec, error) {
		return &CSVCodec{path: path}, nil
	})
}

// CSVCodec persists the database as a zip archive holding one
// <table>.csv entry per table plus a sibling _meta.json entry with
// the table metadata (primary key, columns, next id). Cells are
// JSON-encoded so nil, text and blob values stay distinguishable.
type CSVCodec struct {
	path string
}

const csvMetaEntry = "_meta.json"

type csvMeta struct {
	Tables map[string]*csvTableMeta `json:"tables"`
}

type csvTableMeta struct {
	PrimaryKey string       `json:"primary_key"`
	Columns    []ColumnDump `json:"columns"`
	NextID     int          `json:"next_id"`
}

func (c *CSVCodec) Exists() bool {
	info, err := os.Stat(c.path)
	return err == nil && info.Size() > 0
}

func (c *CSVCodec) Load() ([]*TableDump, error) {
	zr, err := zip.OpenReader(c.path)
	if err != nil {
		return nil, dberr.NewCorruptDataError(c.path, "not a readable zip archive", err)
	}
	defer zr.Close()

	entries := map[string]*zip.File{}
	for _, f := range zr.File {
		entries[f.Name] = f
	}

	meta_file, ok := entries[csvMetaEntry]
	if !ok {
		return nil, dberr.NewCorruptDataError(c.path, "missing "+csvMetaEntry+" entry", nil)
	}
	meta := csvMeta{}
	if err := readZipJSON(meta_file, &meta); err != nil {
		return nil, dberr.NewCorruptDataError(c.path, "malformed "+csvMetaEntry, err)
	}

	dumps := make([]*TableDump, 0, len(meta.Tables))
	for name, tm := range meta.Tables {
		entry, ok := entries[name+".csv"]
		if !ok {
			return nil, dberr.NewCorruptDataError(c.path, "missing csv entry for table "+name, nil)
		}
		rows, err := readCSVRows(entry, tm.Columns)
		if err != nil {
			return nil, dberr.NewCorruptDataError(c.path, "table "+name, err)
		}
		dump := &TableDump{
			Name:       name,
			PrimaryKey: tm.PrimaryKey,
			Columns:    tm.Columns,
			NextID:     tm.NextID,
			Rows:       rows,
		}
		if err := canonicalizeRows(dump); err != nil {
			return nil, dberr.NewCorruptDataError(c.path, "table "+name, err)
		}
		dumps = append(dumps, dump)
	}
	return dumps, nil
}

func readZipJSON(f *zip.File, dst any) error {
	r, err := f.Open()
	if err != nil {
		return err
	}
	defer r.Close()
	return json.NewDecoder(r).Decode(dst)
}

func readCSVRows(f *zip.File, columns []ColumnDump) ([]map[string]any, error) {
	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return []map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(header) != len(columns) {
		return nil, fmt.Errorf("header has %d columns, metadata declares %d", len(header), len(columns))
	}

	rows := []map[string]any{}
	for {
		cells, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(header))
		for i, name := range header {
			var value any
			if err := json.Unmarshal([]byte(cells[i]), &value); err != nil {
				return nil, fmt.Errorf("column %q: bad cell %q", name, cells[i])
			}
			row[name] = value
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *CSVCodec) Save(dumps []*TableDump) error {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	meta := csvMeta{Tables: make(map[string]*csvTableMeta, len(dumps))}
	for _, d := range dumps {
		meta.Tables[d.Name] = &csvTableMeta{
			PrimaryKey: d.PrimaryKey,
			Columns:    d.Columns,
			NextID:     d.NextID,
		}
	}
	mw, err := zw.Create(csvMetaEntry)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(mw).Encode(meta); err != nil {
		return err
	}

	for _, d := range dumps {
		w, err := zw.Create(d.Name + ".csv")
		if err != nil {
			return err
		}
		if err := writeCSVRows(w, d); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return err
	}
	return atomicWriteFile(c.path, buf.Bytes())
}

func writeCSVRows(w io.Writer, d *TableDump) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(d.Columns))
	for _, col := range d.Columns {
		header = append(header, col.Name)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, row := range d.Rows {
		cells := make([]string, 0, len(header))
		for _, name := range header {
			cell, err := json.Marshal(row[name])
			if err != nil {
				return err
			}
			cells = append(cells, string(cell))
		}
		if err := cw.Write(cells); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func (c *CSVCodec) Close() error { return nil }
