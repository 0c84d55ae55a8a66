package dataset

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// Cache memoizes snapshots per (problem, sample size). Concurrent loads of the
// same snapshot share one read of the underlying provider.
type Cache struct {
	provider Provider
	group    singleflight.Group

	mu        sync.RWMutex
	snapshots map[string]*core.Dataset
}

// NewCache wraps provider with a snapshot cache.
func NewCache(provider Provider) *Cache {
	return &Cache{provider: provider, snapshots: make(map[string]*core.Dataset)}
}

// Dataset returns the cached snapshot, loading it on first use.
func (c *Cache) Dataset(ctx context.Context, p *core.Problem, sampleSize int) (*core.Dataset, error) {
	if sampleSize < 0 {
		sampleSize = 0
	}
	key := fmt.Sprintf("%d/%s/%d", p.ID, p.Name, sampleSize)

	c.mu.RLock()
	ds, ok := c.snapshots[key]
	c.mu.RUnlock()
	if ok {
		return ds, nil
	}

	// The load outlives the caller that started it; other callers may be
	// waiting on the same key.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		ds, err := c.provider.Dataset(loadCtx, p, sampleSize)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.snapshots[key] = ds
		c.mu.Unlock()
		return ds, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*core.Dataset), nil
	}
}

// Forget drops every cached snapshot of the problem.
func (c *Cache) Forget(p *core.Problem) {
	prefix := fmt.Sprintf("%d/%s/", p.ID, p.Name)
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.snapshots {
		if strings.HasPrefix(key, prefix) {
			delete(c.snapshots, key)
		}
	}
}

var _ Provider = (*Cache)(nil)
