package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryStore is an in-process TableStore for dry runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	headers map[string][]string
	rows    map[string][][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		headers: map[string][]string{},
		rows:    map[string][][]string{},
	}
}

func (m *MemoryStore) EnsureTable(_ context.Context, name string, header []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.headers[name]; !ok {
		m.headers[name] = slices.Clone(header)
	}
	return nil
}

func (m *MemoryStore) Header(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.headers[name])
}

func (m *MemoryStore) ReadAll(_ context.Context, name string) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.rows[name]))
	for i, r := range m.rows[name] {
		out[i] = slices.Clone(r)
	}
	return out, nil
}

func (m *MemoryStore) Append(_ context.Context, name string, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.headers[name]; !ok {
		return fmt.Errorf("append %s: table does not exist", name)
	}
	for _, r := range rows {
		m.rows[name] = append(m.rows[name], slices.Clone(r))
	}
	return nil
}

func (m *MemoryStore) UpdateRow(_ context.Context, name string, index int, cells []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.rows[name]) {
		return fmt.Errorf("update %s[%d]: %w", name, index, ErrNoSuchRow)
	}
	m.rows[name][index] = slices.Clone(cells)
	return nil
}
