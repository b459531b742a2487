package storage

import (
	"bytes"
	"context"
	"sync"
)

// Memory is an in-process Medium. Several token stores sharing one Memory
// behave like independent contexts sharing persisted state.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool

	hub *hub
}

// NewMemory creates an empty in-memory medium.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string][]byte),
		hub:  newHub("MemoryStorage"),
	}
}

// Get returns the value stored under key, or ErrNotFound.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	value, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(value), nil
}

// Put stores value under key and notifies watchers if the value changed.
func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.data[key] = bytes.Clone(value)
	m.hub.publishPut(key, value)
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.data, key)
	m.hub.publishDelete(key)
	return nil
}

// Watch reports changes of key.
func (m *Memory) Watch(ctx context.Context, key string) (<-chan Event, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return m.hub.subscribe(ctx, key)
}

// Close closes every watcher. The data is discarded.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.data = nil
	m.mu.Unlock()

	m.hub.close()
	return nil
}
