package storage

import (
	"context"
	"fmt"
	"net/url"
	"sync"
)

// Object is a stored blob
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStore keeps objects in memory. URLs point at a configurable base.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]Object
}

// NewMemoryStore creates an in-memory blob store
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: baseURL,
		objects: make(map[string]Object),
	}
}

// Put implements BlobStore
func (m *MemoryStore) Put(ctx context.Context, name string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[name]; ok {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	m.objects[name] = Object{Data: buf, ContentType: contentType}
	return nil
}

// URL implements BlobStore
func (m *MemoryStore) URL(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.RLock()
	_, ok := m.objects[name]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m.baseURL + "/" + url.PathEscape(name), nil
}

// Get returns a stored object
func (m *MemoryStore) Get(name string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[name]
	return obj, ok
}

// Names lists every stored object name
func (m *MemoryStore) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}
	return names
}
