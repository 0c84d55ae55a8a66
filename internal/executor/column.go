package executor

import (
	"fmt"
	"math"
	"sort"

	ffstarlark "github.com/HDI-Project/FeatureFactory/internal/starlark"
	"github.com/HDI-Project/FeatureFactory/pkg/core"
	"go.starlark.net/starlark"
)

// ToColumn validates a value returned by feature code and aligns it with the
// dataset index. Sequences align by position; dicts align by index key.
// Cells must be int, float, bool or None; None and non-finite floats are missing.
func ToColumn(v starlark.Value, ds *core.Dataset) (core.Column, error) {
	result, err := ffstarlark.ToGo(v)
	if err != nil {
		return core.Column{}, core.Failf(core.KindUserError, "feature result cannot be read").WithDetail(err.Error())
	}

	n := ds.NumRows()
	var cells []any
	switch val := result.(type) {
	case []any:
		if len(val) != n {
			return core.Column{}, core.Failf(core.KindUserError, "feature returned %d values for %d rows", len(val), n)
		}
		cells = val
	case map[string]any:
		cells = make([]any, n)
		for i, key := range ds.Index {
			cell, ok := val[key]
			if !ok {
				return core.Column{}, core.Failf(core.KindUserError, "feature result has no value for index %q", key)
			}
			cells[i] = cell
		}
		if len(val) != n {
			return core.Column{}, core.Failf(core.KindUserError, "feature result has %s not in the dataset index", firstUnknown(val, ds.Index))
		}
	default:
		return core.Column{}, core.Failf(core.KindUserError, "feature must return a list or a dict keyed by index, got %s", v.Type())
	}

	col := core.Column{Values: make([]float64, n), Valid: make([]bool, n)}
	for i, cell := range cells {
		f, ok, err := cellValue(cell)
		if err != nil {
			return core.Column{}, core.Failf(core.KindUserError, "row %s: %s", ds.Index[i], err)
		}
		if ok {
			col.Values[i] = f
			col.Valid[i] = true
		}
	}
	return col, nil
}

func cellValue(cell any) (float64, bool, error) {
	switch c := cell.(type) {
	case nil:
		return 0, false, nil
	case int64:
		return float64(c), true, nil
	case float64:
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return 0, false, nil
		}
		return c, true, nil
	case bool:
		if c {
			return 1, true, nil
		}
		return 0, true, nil
	case string:
		return 0, false, fmt.Errorf("feature values must be numeric, got string %q", c)
	case []any:
		return 0, false, fmt.Errorf("feature values must be numeric, got a list")
	case map[string]any:
		return 0, false, fmt.Errorf("feature values must be numeric, got a dict")
	case *ffstarlark.Opaque:
		return 0, false, fmt.Errorf("feature values must be numeric, got %s", c.Type)
	default:
		return 0, false, fmt.Errorf("feature values must be numeric, got %T", c)
	}
}

func firstUnknown(m map[string]any, index []string) string {
	known := make(map[string]struct{}, len(index))
	for _, key := range index {
		known[key] = struct{}{}
	}
	var extra []string
	for key := range m {
		if _, ok := known[key]; !ok {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	if len(extra) == 0 {
		return "keys"
	}
	return fmt.Sprintf("key %q", extra[0])
}
