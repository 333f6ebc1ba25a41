// Package guard enforces at most one in-flight operation per key.
package guard

import (
	"context"
	"fmt"
	"sync"

	"example.com/fittrack/internal/domain"
)

// Memory is a process-local guard.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory constructs an empty Memory guard.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

// Acquire claims key or fails fast with domain.ErrBusy. Release is idempotent.
func (m *Memory) Acquire(_ context.Context, key string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.held[key]; busy {
		return nil, fmt.Errorf("%w: %s", domain.ErrBusy, key)
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, nil
}
