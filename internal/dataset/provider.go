// Package dataset loads the raw data of a problem as an immutable snapshot.
//
// Providers return the feature matrix (target excluded), the target vector and
// the row index of a problem. Snapshots are shared between sessions and must
// never be modified by callers.
package dataset

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// Provider produces dataset snapshots for problems.
// sampleSize <= 0 requests the full dataset.
type Provider interface {
	Dataset(ctx context.Context, p *core.Problem, sampleSize int) (*core.Dataset, error)
}

// assemble builds a Dataset from column-oriented raw data, splitting out the
// target and building the index. The index column is not a feature column.
// ordinal holds the file position of every row and is used as the index when
// the problem declares no index column.
func assemble(p *core.Problem, names []string, cells map[string][]any, ordinal []int64) (*core.Dataset, error) {
	target, ok := cells[p.TargetColumn]
	if !ok {
		return nil, fmt.Errorf("problem %s: target column %q not found in %s", p.Name, p.TargetColumn, p.DataPath)
	}
	for i, v := range target {
		if v == nil {
			return nil, fmt.Errorf("problem %s: target column %q is empty at row %d", p.Name, p.TargetColumn, i)
		}
	}

	index := make([]string, len(ordinal))
	if p.IndexColumn != "" {
		keys, ok := cells[p.IndexColumn]
		if !ok {
			return nil, fmt.Errorf("problem %s: index column %q not found in %s", p.Name, p.IndexColumn, p.DataPath)
		}
		seen := make(map[string]int, len(keys))
		for i, v := range keys {
			if v == nil {
				return nil, fmt.Errorf("problem %s: index column %q is empty at row %d", p.Name, p.IndexColumn, i)
			}
			key := formatKey(v)
			if prev, dup := seen[key]; dup {
				return nil, fmt.Errorf("problem %s: index value %q repeats at rows %d and %d", p.Name, key, prev, i)
			}
			seen[key] = i
			index[i] = key
		}
	} else {
		for i, n := range ordinal {
			index[i] = fmt.Sprint(n)
		}
	}

	ds := &core.Dataset{
		Problem:      p.Name,
		IndexColumn:  p.IndexColumn,
		TargetColumn: p.TargetColumn,
		Index:        index,
		Cells:        make(map[string][]any, len(names)),
		Target:       target,
	}
	for _, name := range names {
		if name == p.TargetColumn || name == p.IndexColumn {
			continue
		}
		ds.Columns = append(ds.Columns, name)
		ds.Cells[name] = cells[name]
	}
	if err := ds.Check(); err != nil {
		return nil, err
	}
	return ds, nil
}

// normalize maps a scanned driver value onto the cell types feature code sees:
// int64, float64, string, bool or nil.
func normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case int64, float64, string, bool:
		return val
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val > math.MaxInt64 {
			return float64(val)
		}
		return int64(val)
	case float32:
		return float64(val)
	case *big.Int:
		if val.IsInt64() {
			return val.Int64()
		}
		f, _ := new(big.Float).SetInt(val).Float64()
		return f
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case interface{ Float64() float64 }:
		// fixed-point decimals
		return val.Float64()
	default:
		return fmt.Sprint(val)
	}
}

func formatKey(v any) string {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return fmt.Sprint(int64(f))
	}
	return fmt.Sprint(v)
}
