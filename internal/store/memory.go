// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// In-memory store for tests and local runs

package store

import (
	"context"
	"fmt"
	"sync"
)

// Memory is a process-local Store. It backs tests and the broker-less
// local mode; content is copied on the way in and out so callers can
// never alias the stored bytes.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string][]byte),
	}
}

// Get returns a copy of the content stored under name
func (m *Memory) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	data, ok := m.objects[name]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Put stores a copy of data under name
func (m *Memory) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in := make([]byte, len(data))
	copy(in, data)

	m.mu.Lock()
	m.objects[name] = in
	m.mu.Unlock()
	return nil
}

// Exists reports whether an object is stored under name
func (m *Memory) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	_, ok := m.objects[name]
	m.mu.RUnlock()
	return ok, nil
}

// Len reports how many objects the store holds
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
