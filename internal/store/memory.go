package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"treesync/internal/models"
)

// Memory is an in-process record store. Values are copied on the way in and
// out so callers never share maps with the store.
type Memory struct {
	mu     sync.RWMutex
	root   any
	writes atomic.Int64
}

// NewMemory creates a store seeded with a copy of root, which may be nil.
func NewMemory(root models.Document) *Memory {
	m := &Memory{}
	if root != nil {
		normalized, _ := models.Normalize(root)
		m.root = normalized
	}
	return m
}

// Writes returns how many Set calls succeeded.
func (m *Memory) Writes() int64 {
	return m.writes.Load()
}

func (m *Memory) Get(ctx context.Context, path string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := models.Lookup(m.root, models.SplitPath(path)...)
	if !ok || models.IsEmpty(value) {
		return nil, false, nil
	}
	return models.DeepCopy(value), true, nil
}

func (m *Memory) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := models.Normalize(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = models.SetIn(m.root, models.SplitPath(path), value)
	m.writes.Add(1)
	return nil
}
