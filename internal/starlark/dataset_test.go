package starlark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func TestTable_Attrs(t *testing.T) {
	table := NewTable(titanic())

	assert.Equal(t, "dataset", table.Type())
	assert.Equal(t, 3, table.Len())
	assert.True(t, bool(table.Truth()))
	assert.Equal(t, "<dataset titanic: 3 rows x 3 columns>", table.String())

	cols, err := table.Attr("columns")
	require.NoError(t, err)
	assert.Equal(t, `["age", "sex", "fare"]`, cols.String())

	idx, err := table.Attr("index")
	require.NoError(t, err)
	assert.Equal(t, `["1", "2", "3"]`, idx.String())

	n, err := table.Attr("num_rows")
	require.NoError(t, err)
	assert.Equal(t, starlark.MakeInt(3), n)

	missing, err := table.Attr("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Equal(t, []string{"column", "columns", "index", "num_rows", "row"}, table.AttrNames())

	_, err = table.Hash()
	assert.Error(t, err)
}

func TestTable_Get(t *testing.T) {
	table := NewTable(titanic())

	v, found, err := table.Get(starlark.String("age"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "[22, 9, None]", v.String())

	again, _, err := table.Get(starlark.String("age"))
	require.NoError(t, err)
	assert.Same(t, v, again, "column lists are cached")

	_, _, err = table.Get(starlark.MakeInt(0))
	assert.ErrorContains(t, err, "must be a column name")

	_, _, err = table.Get(starlark.String("cabin"))
	assert.ErrorContains(t, err, `no column "cabin"`)

	_, _, err = table.Get(starlark.String("survived"))
	assert.ErrorContains(t, err, "is the target")
}

func TestTable_ColumnsAreFrozen(t *testing.T) {
	table := NewTable(titanic())

	v, _, err := table.Get(starlark.String("fare"))
	require.NoError(t, err)
	list := v.(*starlark.List)
	assert.Error(t, list.Append(starlark.Float(1)))
	assert.Error(t, list.SetIndex(0, starlark.Float(1)))
}

func TestTable_Row(t *testing.T) {
	table := NewTable(titanic())
	thread := NewThread("row", 0, nil)

	rowFn, err := table.Attr("row")
	require.NoError(t, err)

	row, err := starlark.Call(thread, rowFn, starlark.Tuple{starlark.MakeInt(1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"age": 9, "sex": "female", "fare": 71.28}`, row.String())

	last, err := starlark.Call(thread, rowFn, starlark.Tuple{starlark.MakeInt(-1)}, nil)
	require.NoError(t, err)
	assert.Contains(t, last.String(), `"age": None`)

	_, err = starlark.Call(thread, rowFn, starlark.Tuple{starlark.MakeInt(3)}, nil)
	assert.ErrorContains(t, err, "out of range")
}
