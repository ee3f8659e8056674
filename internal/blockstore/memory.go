package blockstore

import (
	"bytes"
	"context"
	"sync"

	"dagtree/internal/hash"
)

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	blocks map[hash.ID][]byte
	puts   int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blocks: make(map[hash.ID][]byte)}
}

func (m *Memory) Put(ctx context.Context, id hash.ID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if _, ok := m.blocks[id]; ok {
		return nil
	}
	m.blocks[id] = bytes.Clone(data)
	return nil
}

func (m *Memory) Get(ctx context.Context, id hash.ID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blocks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(data), nil
}

func (m *Memory) Has(ctx context.Context, id hash.ID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocks[id]
	return ok, nil
}

// Len returns the number of distinct blocks stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}

// Puts returns the number of Put calls, including duplicates.
func (m *Memory) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}
