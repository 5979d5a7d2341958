package schema_test

import (
	"testing"

	"github.com/shelfdb/shelfdb/internal/dberr"
	"github.com/shelfdb/shelfdb/internal/schema"
	"gotest.tools/assert"
)

func userTable(t *testing.T) *schema.Table {
	table, err := schema.NewBuilder("users").
		Column(schema.Column{Name: "id", Kind: schema.KindInt, PrimaryKey: true}).
		Column(schema.Column{Name: "name", Kind: schema.KindText}).
		Column(schema.Column{Name: "age", Kind: schema.KindInt, Nullable: true}).
		Column(schema.Column{Name: "active", Kind: schema.KindBool, Default: true}).
		Build()
	assert.NilError(t, err)
	return table
}

func TestBuilderDeclarationOrder(t *testing.T) {
	table := userTable(t)
	cols := table.ColumnList()
	assert.Equal(t, len(cols), 4)
	assert.Equal(t, cols[0].Name, "id")
	assert.Equal(t, cols[3].Name, "active")
	assert.Equal(t, table.PrimaryKey, "id")
}

func TestBuilderRejectsUnknownKind(t *testing.T) {
	_, err := schema.NewBuilder("bad").
		Column(schema.Column{Name: "x", Kind: schema.Kind("Decimal")}).
		Build()
	assert.Assert(t, dberr.IsSchema(err))
}

func TestNewTableRejectsDuplicateColumn(t *testing.T) {
	_, err := schema.NewTable("dup", []*schema.Column{
		{Name: "a", Kind: schema.KindInt, PrimaryKey: true},
		{Name: "a", Kind: schema.KindText},
	})
	assert.Assert(t, dberr.IsSchema(err))
}

func TestNewTableRejectsNonIntPrimaryKey(t *testing.T) {
	_, err := schema.NewTable("bad_pk", []*schema.Column{
		{Name: "id", Kind: schema.KindText, PrimaryKey: true},
	})
	assert.Assert(t, dberr.IsSchema(err))
}

func TestNewTableRejectsMultiplePrimaryKeys(t *testing.T) {
	_, err := schema.NewTable("two_pk", []*schema.Column{
		{Name: "a", Kind: schema.KindInt, PrimaryKey: true},
		{Name: "b", Kind: schema.KindInt, PrimaryKey: true},
	})
	assert.Assert(t, dberr.IsSchema(err))
}

func TestNewTableSyntheticRowID(t *testing.T) {
	table, err := schema.NewTable("notes", []*schema.Column{
		{Name: "body", Kind: schema.KindText},
	})
	assert.NilError(t, err)
	assert.Equal(t, table.PrimaryKey, schema.SysRowID)

	cols := table.ColumnList()
	assert.Equal(t, cols[0].Name, schema.SysRowID)
	assert.Equal(t, cols[0].Kind, schema.KindInt)
	assert.Assert(t, cols[0].PrimaryKey)
}

func TestValidateInsertAppliesDefaults(t *testing.T) {
	table := userTable(t)
	record, err := table.ValidateInsert(map[string]any{"name": "alice"})
	assert.NilError(t, err)

	assert.Equal(t, record["name"], "alice")
	assert.Equal(t, record["active"], true)
	assert.Assert(t, record["age"] == nil)
	assert.Assert(t, record["id"] == nil)
}

func TestValidateInsertMissingNonNullable(t *testing.T) {
	table := userTable(t)
	_, err := table.ValidateInsert(map[string]any{"age": 30})
	assert.Assert(t, dberr.IsSchema(err))
}

func TestValidateInsertUnknownColumn(t *testing.T) {
	table := userTable(t)
	_, err := table.ValidateInsert(map[string]any{"name": "bob", "email": "x"})
	assert.Assert(t, dberr.IsSchema(err))
}

func TestValidateInsertCoercesIntegralFloat(t *testing.T) {
	table := userTable(t)
	record, err := table.ValidateInsert(map[string]any{"name": "bob", "age": float64(30)})
	assert.NilError(t, err)
	assert.Equal(t, record["age"], 30)
}

func TestValidateInsertRejectsWrongKind(t *testing.T) {
	table := userTable(t)
	_, err := table.ValidateInsert(map[string]any{"name": "bob", "age": "thirty"})
	assert.Assert(t, dberr.IsValue(err))
}

func TestValidateUpdatePartial(t *testing.T) {
	table := userTable(t)
	values, err := table.ValidateUpdate(map[string]any{"age": 31})
	assert.NilError(t, err)
	assert.Equal(t, len(values), 1)
	assert.Equal(t, values["age"], 31)
}

func TestValidateUpdateUnknownColumn(t *testing.T) {
	table := userTable(t)
	_, err := table.ValidateUpdate(map[string]any{"email": "x"})
	assert.Assert(t, dberr.IsSchema(err))
}

func TestValidateUpdateNilOnNonNullable(t *testing.T) {
	table := userTable(t)
	_, err := table.ValidateUpdate(map[string]any{"name": nil})
	assert.Assert(t, dberr.IsSchema(err))
}

func TestCoerceNonIntegralFloatToInt(t *testing.T) {
	_, err := schema.KindInt.Coerce("age", 1.5)
	assert.Assert(t, dberr.IsValue(err))
}

func TestCoerceCopiesBlobs(t *testing.T) {
	blob := []byte{1, 2, 3}
	v, err := schema.KindBlob.Coerce("data", blob)
	assert.NilError(t, err)

	blob[0] = 99
	assert.DeepEqual(t, v, []byte{1, 2, 3})
}

func TestCoerceIntToFloat(t *testing.T) {
	v, err := schema.KindFloat.Coerce("score", 3)
	assert.NilError(t, err)
	assert.Equal(t, v, 3.0)
}

func TestCheckCompatiblePrimaryKeyMismatch(t *testing.T) {
	a := userTable(t)
	b, err := schema.NewTable("users", []*schema.Column{
		{Name: "uid", Kind: schema.KindInt, PrimaryKey: true},
	})
	assert.NilError(t, err)
	assert.Assert(t, dberr.IsSchema(a.CheckCompatible(b)))
}
