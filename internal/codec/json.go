package codec

import (
	"encoding/json"
	"os"

	"github.com/shelfdb/shelfdb/internal/dberr"
)

func init() {
	Register("json", func(path string) (Codec, error) {
		return &JSONCodec{path: path}, nil
	})
}

// JSONCodec persists the whole database as one JSON document with an
// embedded "tables" object keyed by table name, each entry holding
// primary_key, columns, next_id and rows.
type JSONCodec struct {
	path string
}

type jsonDoc struct {
	Tables map[string]*jsonTable `json:"tables"`
}

type jsonTable struct {
	PrimaryKey string           `json:"primary_key"`
	Columns    []ColumnDump     `json:"columns"`
	NextID     int              `json:"next_id"`
	Rows       []map[string]any `json:"rows"`
}

func (c *JSONCodec) Exists() bool {
	info, err := os.Stat(c.path)
	return err == nil && info.Size() > 0
}

func (c *JSONCodec) Load() ([]*TableDump, error) {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return nil, dberr.NewCorruptDataError(c.path, "unreadable database file", err)
	}

	doc := jsonDoc{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, dberr.NewCorruptDataError(c.path, "malformed json document", err)
	}
	if doc.Tables == nil {
		return nil, dberr.NewCorruptDataError(c.path, "missing tables object", nil)
	}

	dumps := make([]*TableDump, 0, len(doc.Tables))
	for name, t := range doc.Tables {
		dump := &TableDump{
			Name:       name,
			PrimaryKey: t.PrimaryKey,
			Columns:    t.Columns,
			NextID:     t.NextID,
			Rows:       t.Rows,
		}
		if dump.Rows == nil {
			dump.Rows = []map[string]any{}
		}
		if err := canonicalizeRows(dump); err != nil {
			return nil, dberr.NewCorruptDataError(c.path, "table "+name, err)
		}
		dumps = append(dumps, dump)
	}
	return dumps, nil
}

func (c *JSONCodec) Save(dumps []*TableDump) error {
	doc := jsonDoc{Tables: make(map[string]*jsonTable, len(dumps))}
	for _, d := range dumps {
		doc.Tables[d.Name] = &jsonTable{
			PrimaryKey: d.PrimaryKey,
			Columns:    d.Columns,
			NextID:     d.NextID,
			Rows:       d.Rows,
		}
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(c.path, raw)
}

func (c *JSONCodec) Close() error { return nil }
