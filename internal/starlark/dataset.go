package starlark

import (
	"fmt"
	"sort"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
	"go.starlark.net/starlark"
)

// Table is the read-only dataset view passed to feature code as its only argument.
//
//	dataset.columns      list of column names (target excluded)
//	dataset.index        list of row keys
//	dataset.num_rows     number of rows
//	dataset["age"]       column values, also dataset.column("age")
//	dataset.row(i)       dict of one row
//	len(dataset)         number of rows
//	for c in dataset     iterates column names
//
// Every value handed out is frozen, so feature code cannot mutate the snapshot.
// A Table is built per execution and is not safe for concurrent threads.
type Table struct {
	ds      *core.Dataset
	columns *starlark.List
	index   *starlark.List
	cache   map[string]*starlark.List
}

var (
	_ starlark.HasAttrs = (*Table)(nil)
	_ starlark.Mapping  = (*Table)(nil)
	_ starlark.Sequence = (*Table)(nil)
)

// NewTable builds a frozen view over ds.
func NewTable(ds *core.Dataset) *Table {
	cols := make([]starlark.Value, len(ds.Columns))
	for i, name := range ds.Columns {
		cols[i] = starlark.String(name)
	}
	idx := make([]starlark.Value, len(ds.Index))
	for i, key := range ds.Index {
		idx[i] = starlark.String(key)
	}

	t := &Table{
		ds:      ds,
		columns: starlark.NewList(cols),
		index:   starlark.NewList(idx),
		cache:   make(map[string]*starlark.List, len(ds.Columns)),
	}
	t.Freeze()
	return t
}

func (t *Table) String() string {
	return fmt.Sprintf("<dataset %s: %d rows x %d columns>", t.ds.Problem, t.ds.NumRows(), len(t.ds.Columns))
}

// Type returns "dataset".
func (t *Table) Type() string { return "dataset" }

// Freeze freezes the shared lists. Column lists are frozen as they are built.
func (t *Table) Freeze() {
	t.columns.Freeze()
	t.index.Freeze()
}

// Truth is true for a non-empty dataset.
func (t *Table) Truth() starlark.Bool { return t.ds.NumRows() > 0 }

// Hash fails: datasets are not hashable.
func (t *Table) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: dataset") }

// Len returns the number of rows.
func (t *Table) Len() int { return t.ds.NumRows() }

// Iterate iterates over column names.
func (t *Table) Iterate() starlark.Iterator { return t.columns.Iterate() }

// Get implements dataset[name].
func (t *Table) Get(k starlark.Value) (starlark.Value, bool, error) {
	name, ok := starlark.AsString(k)
	if !ok {
		return nil, false, fmt.Errorf("dataset index must be a column name, got %s", k.Type())
	}
	col, err := t.column(name)
	if err != nil {
		return nil, false, err
	}
	return col, true, nil
}

// Attr returns the named attribute.
func (t *Table) Attr(name string) (starlark.Value, error) {
	switch name {
	case "columns":
		return t.columns, nil
	case "index":
		return t.index, nil
	case "num_rows":
		return starlark.MakeInt(t.ds.NumRows()), nil
	case "column":
		return starlark.NewBuiltin("column", t.columnBuiltin), nil
	case "row":
		return starlark.NewBuiltin("row", t.rowBuiltin), nil
	}
	return nil, nil
}

// AttrNames lists the attributes of the view.
func (t *Table) AttrNames() []string {
	names := []string{"column", "columns", "index", "num_rows", "row"}
	sort.Strings(names)
	return names
}

func (t *Table) column(name string) (*starlark.List, error) {
	if cached, ok := t.cache[name]; ok {
		return cached, nil
	}
	cells, ok := t.ds.Column(name)
	if !ok {
		if name == t.ds.TargetColumn {
			return nil, fmt.Errorf("column %q is the target and is not available to features", name)
		}
		return nil, fmt.Errorf("dataset has no column %q", name)
	}

	values := make([]starlark.Value, len(cells))
	for i, cell := range cells {
		v, err := GoToStarlark(cell)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %w", name, i, err)
		}
		values[i] = v
	}
	list := starlark.NewList(values)
	list.Freeze()
	t.cache[name] = list
	return list, nil
}

func (t *Table) columnBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	return t.column(name)
}

func (t *Table) rowBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var i int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &i); err != nil {
		return nil, err
	}
	n := t.ds.NumRows()
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return nil, fmt.Errorf("%s: row %d out of range [0:%d]", b.Name(), i, n)
	}

	row := starlark.NewDict(len(t.ds.Columns))
	for _, name := range t.ds.Columns {
		v, err := GoToStarlark(t.ds.Cells[name][i])
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %w", name, i, err)
		}
		if err := row.SetKey(starlark.String(name), v); err != nil {
			return nil, err
		}
	}
	row.Freeze()
	return row, nil
}
