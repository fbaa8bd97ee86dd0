// Package memory provides a thread-safe in-memory implementation of
// storage.Medium. It is the non-durable (tab-scoped) medium: contents are
// lost when the process exits. Also suitable for tests.
package memory

import (
	"sync"

	"github.com/vueni/strongbox/storage"
)

// Medium is a thread-safe in-memory implementation of storage.Medium.
type Medium struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ storage.Medium = (*Medium)(nil)

// NewMedium creates a new empty in-memory Medium.
func NewMedium() *Medium {
	return &Medium{data: make(map[string]string)}
}

func (m *Medium) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Medium) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Medium) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Medium) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// Len reports the number of stored keys.
func (m *Medium) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
