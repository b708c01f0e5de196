package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Memory struct {
	lru *expirable.LRU[string, Entry]
	now func() time.Time
}

func NewMemory(size int, ttl time.Duration) *Memory {
	return &Memory{
		lru: expirable.NewLRU[string, Entry](size, nil, ttl),
		now: time.Now,
	}
}

func (m *Memory) Get(_ context.Context, target string) (*Entry, error) {
	entry, ok := m.lru.Get(target)
	if !ok {
		return nil, &Miss{Target: target}
	}
	return &entry, nil
}

func (m *Memory) Set(_ context.Context, target, rsyncPath string) error {
	m.lru.Add(target, Entry{Target: target, RsyncPath: rsyncPath, Timestamp: m.now()})
	return nil
}

func (m *Memory) Invalidate(_ context.Context, target string) error {
	if target == "" {
		m.lru.Purge()
		return nil
	}
	m.lru.Remove(target)
	return nil
}

func (m *Memory) Len() int {
	return m.lru.Len()
}
