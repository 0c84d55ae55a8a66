package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// wireDataset is core.Dataset as sent to a worker. Every cell carries its
// type so that a float like 22.0 does not come back as an int and non-finite
// floats survive the trip.
type wireDataset struct {
	Problem      string            `json:"problem"`
	IndexColumn  string            `json:"index_column,omitempty"`
	TargetColumn string            `json:"target_column"`
	Columns      []string          `json:"columns"`
	Index        []string          `json:"index"`
	Cells        map[string][]cell `json:"cells"`
	Target       []cell            `json:"target"`
}

func toWire(ds *core.Dataset) *wireDataset {
	if ds == nil {
		return nil
	}
	w := &wireDataset{
		Problem:      ds.Problem,
		IndexColumn:  ds.IndexColumn,
		TargetColumn: ds.TargetColumn,
		Columns:      ds.Columns,
		Index:        ds.Index,
		Cells:        make(map[string][]cell, len(ds.Cells)),
		Target:       toCells(ds.Target),
	}
	for name, values := range ds.Cells {
		w.Cells[name] = toCells(values)
	}
	return w
}

func (w *wireDataset) dataset() *core.Dataset {
	if w == nil {
		return nil
	}
	ds := &core.Dataset{
		Problem:      w.Problem,
		IndexColumn:  w.IndexColumn,
		TargetColumn: w.TargetColumn,
		Columns:      w.Columns,
		Index:        w.Index,
		Cells:        make(map[string][]any, len(w.Cells)),
		Target:       fromCells(w.Target),
	}
	for name, cells := range w.Cells {
		ds.Cells[name] = fromCells(cells)
	}
	return ds
}

func toCells(values []any) []cell {
	out := make([]cell, len(values))
	for i, v := range values {
		out[i] = cell{v}
	}
	return out
}

func fromCells(cells []cell) []any {
	out := make([]any, len(cells))
	for i, c := range cells {
		out[i] = c.v
	}
	return out
}

// cell is one dataset value encoded as null, {"i":7}, {"f":7.5}, {"f":"NaN"},
// {"s":"male"} or {"b":true}.
type cell struct {
	v any
}

func (c cell) MarshalJSON() ([]byte, error) {
	switch v := c.v.(type) {
	case nil:
		return []byte("null"), nil
	case int64:
		return json.Marshal(struct {
			I int64 `json:"i"`
		}{v})
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return json.Marshal(struct {
				F string `json:"f"`
			}{strconv.FormatFloat(v, 'g', -1, 64)})
		}
		return json.Marshal(struct {
			F float64 `json:"f"`
		}{v})
	case string:
		return json.Marshal(struct {
			S string `json:"s"`
		}{v})
	case bool:
		return json.Marshal(struct {
			B bool `json:"b"`
		}{v})
	default:
		return nil, fmt.Errorf("unsupported cell type %T", c.v)
	}
}

func (c *cell) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		c.v = nil
		return nil
	}
	var tagged struct {
		I *int64          `json:"i"`
		F json.RawMessage `json:"f"`
		S *string         `json:"s"`
		B *bool           `json:"b"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("failed to decode cell: %w", err)
	}
	switch {
	case tagged.I != nil:
		c.v = *tagged.I
	case tagged.F != nil:
		f, err := decodeFloat(tagged.F)
		if err != nil {
			return err
		}
		c.v = f
	case tagged.S != nil:
		c.v = *tagged.S
	case tagged.B != nil:
		c.v = *tagged.B
	default:
		return fmt.Errorf("cell %s has no type tag", data)
	}
	return nil
}

func decodeFloat(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("failed to decode float cell %s: %w", raw, err)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to decode float cell %q: %w", s, err)
	}
	return f, nil
}

// MarshalJSON encodes the request with typed dataset cells.
func (r WorkerRequest) MarshalJSON() ([]byte, error) {
	type plain WorkerRequest
	return json.Marshal(struct {
		plain
		Dataset *wireDataset `json:"dataset"`
	}{plain(r), toWire(r.Dataset)})
}

// UnmarshalJSON decodes a request written by MarshalJSON.
func (r *WorkerRequest) UnmarshalJSON(data []byte) error {
	type plain WorkerRequest
	var in struct {
		plain
		Dataset *wireDataset `json:"dataset"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = WorkerRequest(in.plain)
	r.Dataset = in.Dataset.dataset()
	return nil
}
