package dataset

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// MemoryProvider serves datasets registered in memory, keyed by problem name.
type MemoryProvider struct {
	mu       sync.RWMutex
	datasets map[string]*core.Dataset
	seed     uint64
}

// NewMemoryProvider creates an empty MemoryProvider. seed makes samples repeatable.
func NewMemoryProvider(seed uint64) *MemoryProvider {
	return &MemoryProvider{datasets: make(map[string]*core.Dataset), seed: seed}
}

// Add registers the dataset of a problem. It returns an error if the columns
// are not aligned with the index.
func (m *MemoryProvider) Add(problem string, ds *core.Dataset) error {
	if err := ds.Check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[problem] = ds
	return nil
}

// Dataset returns the registered dataset, or a sample of it.
func (m *MemoryProvider) Dataset(_ context.Context, p *core.Problem, sampleSize int) (*core.Dataset, error) {
	m.mu.RLock()
	ds, ok := m.datasets[p.Name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dataset for problem %s: %w", p.Name, core.ErrNotFound)
	}
	return Sample(ds, sampleSize, m.seed), nil
}

// Sample returns n rows of ds chosen with a seeded generator, in their
// original order. It returns ds itself when n <= 0 or n covers every row.
func Sample(ds *core.Dataset, n int, seed uint64) *core.Dataset {
	total := ds.NumRows()
	if n <= 0 || n >= total {
		return ds
	}

	rng := rand.New(rand.NewPCG(seed, uint64(total)))
	rows := rng.Perm(total)[:n]
	slices.Sort(rows)

	out := &core.Dataset{
		Problem:      ds.Problem,
		IndexColumn:  ds.IndexColumn,
		TargetColumn: ds.TargetColumn,
		Columns:      ds.Columns,
		Index:        make([]string, n),
		Cells:        make(map[string][]any, len(ds.Columns)),
		Target:       make([]any, n),
	}
	for _, name := range ds.Columns {
		out.Cells[name] = make([]any, n)
	}
	for i, r := range rows {
		out.Index[i] = ds.Index[r]
		out.Target[i] = ds.Target[r]
		for _, name := range ds.Columns {
			out.Cells[name][i] = ds.Cells[name][r]
		}
	}
	return out
}

var _ Provider = (*MemoryProvider)(nil)
