package shelfdb_test

import (
	"path/filepath"
	"testing"

	"github.com/shelfdb/shelfdb"
	"gotest.tools/assert"
)

func booksSchema(t *testing.T) *shelfdb.TableSchema {
	ts, err := shelfdb.NewSchema("books").
		Column(shelfdb.Column{Name: "id", Kind: shelfdb.KindInt, PrimaryKey: true}).
		Column(shelfdb.Column{Name: "title", Kind: shelfdb.KindText}).
		Column(shelfdb.Column{Name: "year", Kind: shelfdb.KindInt, Nullable: true}).
		Build()
	assert.NilError(t, err)
	return ts
}

func TestEndToEndPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.shelf")
	ts := booksSchema(t)

	db, err := shelfdb.Open(shelfdb.Config{Path: path, AutoFlush: true})
	assert.NilError(t, err)

	s := db.Session(false)
	_, err = s.Execute(shelfdb.InsertInto(ts, map[string]any{"title": "Dune", "year": 1965}))
	assert.NilError(t, err)
	_, err = s.Execute(shelfdb.InsertInto(ts, map[string]any{"title": "Hyperion", "year": 1989}))
	assert.NilError(t, err)
	assert.NilError(t, db.Close())

	db, err = shelfdb.Open(shelfdb.Config{Path: path})
	assert.NilError(t, err)
	defer db.Close()

	s = db.Session(false)
	res, err := s.Execute(shelfdb.SelectFrom(ts).
		Filter(shelfdb.Gt("year", 1900)).
		OrderBy("year", true))
	assert.NilError(t, err)
	assert.Equal(t, res.RowCount(), 2)
	assert.Equal(t, res.First().Get("title"), "Hyperion")
}

func TestEndToEndTransaction(t *testing.T) {
	db, err := shelfdb.Open(shelfdb.Config{})
	assert.NilError(t, err)
	defer db.Close()
	ts := booksSchema(t)

	s := db.Session(false)
	err = s.WithTransaction(func(s *shelfdb.Session) error {
		_, err := s.Execute(shelfdb.InsertInto(ts, map[string]any{"title": "Dune"}))
		return err
	})
	assert.NilError(t, err)

	n, err := s.Count(ts, shelfdb.Eq("title", "Dune"))
	assert.NilError(t, err)
	assert.Equal(t, n, 1)
}

func TestEndToEndEventHook(t *testing.T) {
	db, err := shelfdb.Open(shelfdb.Config{})
	assert.NilError(t, err)
	defer db.Close()
	ts := booksSchema(t)

	inserted := 0
	assert.NilError(t, db.Listen("books", shelfdb.AfterInsert, func(_ *shelfdb.TableSchema, instances []any) {
		inserted += len(instances)
	}))

	s := db.Session(false)
	_, err = s.Execute(shelfdb.InsertInto(ts, map[string]any{"title": "Dune"}))
	assert.NilError(t, err)
	assert.Equal(t, inserted, 1)
}

func TestDropTable(t *testing.T) {
	db, err := shelfdb.Open(shelfdb.Config{})
	assert.NilError(t, err)
	defer db.Close()
	ts := booksSchema(t)

	s := db.Session(false)
	_, err = s.Execute(shelfdb.InsertInto(ts, map[string]any{"title": "Dune"}))
	assert.NilError(t, err)

	assert.DeepEqual(t, db.TableNames(), []string{"books"})
	assert.NilError(t, db.DropTable("books"))
	assert.Equal(t, len(db.TableNames()), 0)
}
