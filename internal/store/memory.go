package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps documents in process memory.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string]map[string]Document
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]map[string]Document)}
}

func (m *MemoryBackend) Get(_ context.Context, kind, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[kind][id]
	if !ok {
		return nil, ErrNoDocument
	}
	return clone(doc.Data), nil
}

func (m *MemoryBackend) List(_ context.Context, kind, field, value string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.docs[kind]))
	for id, doc := range m.docs[kind] {
		if field != "" && doc.Index[field] != value {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		out = append(out, clone(m.docs[kind][id].Data))
	}
	return out, nil
}

func (m *MemoryBackend) Commit(_ context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		byID, ok := m.docs[d.Kind]
		if !ok {
			byID = make(map[string]Document)
			m.docs[d.Kind] = byID
		}
		idx := make(map[string]string, len(d.Index))
		for k, v := range d.Index {
			idx[k] = v
		}
		byID[d.ID] = Document{Kind: d.Kind, ID: d.ID, Data: clone(d.Data), Index: idx}
	}
	return nil
}

func (m *MemoryBackend) HealthCheck(context.Context) error { return nil }

func (m *MemoryBackend) Close() error { return nil }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
