package directory

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Directory used for tests and dry runs.
type Memory struct {
	mu   sync.RWMutex
	docs map[Kind]map[string]Document
}

// NewMemory returns an empty directory.
func NewMemory() *Memory {
	return &Memory{docs: make(map[Kind]map[string]Document)}
}

// Lookup implements Directory.
func (m *Memory) Lookup(ctx context.Context, kind Kind, name string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[kind][name]
	if !ok {
		return nil, NotFound(kind, name)
	}
	return doc.Clone(), nil
}

// Save implements Directory.
func (m *Memory) Save(ctx context.Context, kind Kind, name string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := kind.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[kind] == nil {
		m.docs[kind] = make(map[string]Document)
	}
	m.docs[kind][name] = doc.Clone()
	return nil
}

// Delete implements Directory.
func (m *Memory) Delete(ctx context.Context, kind Kind, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[kind][name]; !ok {
		return NotFound(kind, name)
	}
	delete(m.docs[kind], name)
	return nil
}

// List implements Directory.
func (m *Memory) List(ctx context.Context, kind Kind) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.docs[kind]))
	for name := range m.docs[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
