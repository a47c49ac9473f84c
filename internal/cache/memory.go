package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/canonica-labs/dealquery/internal/executor"
)

// Memory is an in-process LRU cache.
type Memory struct {
	lru *lru.Cache
	now func() time.Time
}

type memoryEntry struct {
	res     *executor.Result
	expires time.Time
}

// NewMemory creates a cache holding at most size entries.
func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Memory{lru: c, now: time.Now}, nil
}

// Get returns an unexpired entry.
func (m *Memory) Get(_ context.Context, key string) (*executor.Result, bool, error) {
	v, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	e := v.(memoryEntry)
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.lru.Remove(key)
		return nil, false, nil
	}
	return e.res, true, nil
}

// Set stores res. A zero ttl never expires.
func (m *Memory) Set(_ context.Context, key string, res *executor.Result, ttl time.Duration) error {
	e := memoryEntry{res: res}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.lru.Add(key, e)
	return nil
}

// Len returns the number of entries held.
func (m *Memory) Len() int {
	return m.lru.Len()
}
