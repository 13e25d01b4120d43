package credstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store. The zero value is an empty store.
type Memory struct {
	mu     sync.RWMutex
	values map[Kind]string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[Kind]string, 2)}
}

func (m *Memory) Get(_ context.Context, kind Kind) (string, error) {
	if err := kind.validate(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[kind], nil
}

func (m *Memory) Set(_ context.Context, kind Kind, value string) error {
	if err := kind.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[Kind]string, 2)
	}
	m.values[kind] = value
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.values)
	return nil
}

var _ Store = (*Memory)(nil)
