package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore is an in-process RecordStore. Writes are visible to subscribers immediately.
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[string]json.RawMessage
	subs   map[*subscriber]struct{}
	writes []Write
}

// Write records one mutation applied to a MemoryStore
type Write struct {
	Path  string
	Value json.RawMessage
}

type subscriber struct {
	path string
	ch   chan Snapshot
}

// NewMemoryStore creates an empty in-memory record store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]json.RawMessage),
		subs: make(map[*subscriber]struct{}),
	}
}

// Subscribe implements RecordStore
func (m *MemoryStore) Subscribe(ctx context.Context, path string) (<-chan Snapshot, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := assemble(path, m.rows)
	if err != nil {
		return nil, err
	}

	sub := &subscriber{path: path, ch: make(chan Snapshot, 1)}
	sub.ch <- snap
	m.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, sub)
		close(sub.ch)
		m.mu.Unlock()
	}()

	return sub.ch, nil
}

// Push implements RecordStore
func (m *MemoryStore) Push(ctx context.Context, path string, value interface{}) (string, error) {
	path, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	key, err := newPushKey()
	if err != nil {
		return "", err
	}
	if err := m.Set(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Set implements RecordStore
func (m *MemoryStore) Set(ctx context.Context, path string, value interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for p := range m.rows {
		if strings.HasPrefix(p, path+"/") || strings.HasPrefix(path, p+"/") {
			delete(m.rows, p)
		}
	}
	m.rows[path] = data
	m.writes = append(m.writes, Write{Path: path, Value: data})
	m.notifyLocked(path)
	return nil
}

// Get implements RecordStore
func (m *MemoryStore) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	path, err := cleanPath(path)
	if err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return assemble(path, m.rows)
}

// Writes returns every mutation applied so far, oldest first
func (m *MemoryStore) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Write, len(m.writes))
	copy(out, m.writes)
	return out
}

// Subscribers returns the number of open subscriptions
func (m *MemoryStore) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *MemoryStore) notifyLocked(changed string) {
	for sub := range m.subs {
		if !affects(sub.path, changed) {
			continue
		}
		snap, err := assemble(sub.path, m.rows)
		if err != nil {
			continue
		}
		offer(sub.ch, snap)
	}
}
