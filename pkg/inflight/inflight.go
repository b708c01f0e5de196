// Package inflight guards against two overlapping syncs of the same path.
package inflight

import (
	"context"
	"sync"
)

type Tracker interface {
	// TryAcquire atomically marks key as syncing. It reports false when the
	// key is already held.
	TryAcquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type Memory struct {
	keys sync.Map
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) TryAcquire(_ context.Context, key string) (bool, error) {
	_, loaded := m.keys.LoadOrStore(key, struct{}{})
	return !loaded, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.keys.Delete(key)
	return nil
}

func (m *Memory) Held(key string) bool {
	_, ok := m.keys.Load(key)
	return ok
}
