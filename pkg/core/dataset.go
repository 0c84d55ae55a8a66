package core

import "fmt"

// Dataset is a read-only snapshot of a problem's raw data.
// Cells are int64, float64, string, bool or nil.
type Dataset struct {
	Problem      string
	IndexColumn  string
	TargetColumn string

	// Columns lists the feature matrix columns in file order.
	// The target and index columns are excluded.
	Columns []string
	// Index holds one key per row.
	Index []string
	// Cells maps column name to its values, one per row.
	Cells map[string][]any
	// Target holds the target vector, one per row.
	Target []any
}

// NumRows returns the number of rows in the dataset.
func (d *Dataset) NumRows() int {
	return len(d.Index)
}

// Column returns the values of the named column.
func (d *Dataset) Column(name string) ([]any, bool) {
	v, ok := d.Cells[name]
	return v, ok
}

// Check verifies that every column, the index and the target have the same length.
func (d *Dataset) Check() error {
	n := len(d.Index)
	if len(d.Target) != n {
		return fmt.Errorf("dataset %s: target has %d rows, index has %d", d.Problem, len(d.Target), n)
	}
	for _, name := range d.Columns {
		if got := len(d.Cells[name]); got != n {
			return fmt.Errorf("dataset %s: column %q has %d rows, index has %d", d.Problem, name, got, n)
		}
	}
	return nil
}

// Column is a feature column aligned one-to-one with a dataset index.
// Valid[i] is false where the feature produced a missing value.
type Column struct {
	Values []float64
	Valid  []bool
}

// Len returns the number of rows in the column.
func (c Column) Len() int {
	return len(c.Values)
}

// Missing returns the position of the first missing value, or -1.
func (c Column) Missing() int {
	for i, ok := range c.Valid {
		if !ok {
			return i
		}
	}
	return -1
}
