package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidPath is returned for empty or malformed record paths
var ErrInvalidPath = errors.New("invalid record path")

// Snapshot is the full contents of a path at one point in time.
// For a collection, Value is a JSON object keyed by child key.
// For a leaf, Value is the stored value itself.
type Snapshot struct {
	Path   string          `json:"path"`
	Exists bool            `json:"exists"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// Decode unmarshals the snapshot value into v. A missing value leaves v untouched.
func (s Snapshot) Decode(v interface{}) error {
	if !s.Exists || len(s.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(s.Value, v); err != nil {
		return fmt.Errorf("failed to decode snapshot of %s: %w", s.Path, err)
	}
	return nil
}

// RecordStore is a tree-structured key/value store with standing subscriptions
type RecordStore interface {
	// Subscribe emits the full contents of path now and after every change under it.
	// The channel is closed when ctx is done.
	Subscribe(ctx context.Context, path string) (<-chan Snapshot, error)
	// Push appends value under path with a store-assigned, insertion-ordered key.
	Push(ctx context.Context, path string, value interface{}) (string, error)
	// Set overwrites the value at path.
	Set(ctx context.Context, path string, value interface{}) error
	// Get reads the current contents of path once.
	Get(ctx context.Context, path string) (Snapshot, error)
}

// cleanPath normalises a slash-separated record path
func cleanPath(path string) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", ErrInvalidPath
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return path, nil
}

// affects reports whether a change at changed is visible to a subscriber of path
func affects(path, changed string) bool {
	return changed == path ||
		strings.HasPrefix(changed, path+"/") ||
		strings.HasPrefix(path, changed+"/")
}

// newPushKey returns a unique key that sorts in insertion order
func newPushKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return id.String(), nil
}

// assemble builds the snapshot of path from the stored leaf rows at or below it
func assemble(path string, rows map[string]json.RawMessage) (Snapshot, error) {
	snap := Snapshot{Path: path}
	if leaf, ok := rows[path]; ok {
		snap.Exists = true
		snap.Value = leaf
		return snap, nil
	}

	tree := make(map[string]interface{})
	prefix := path + "/"
	for p, value := range rows {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(p, prefix), "/")
		node := tree
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]interface{})
			if !ok {
				child = make(map[string]interface{})
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	if len(tree) == 0 {
		return snap, nil
	}

	value, err := json.Marshal(tree)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to encode snapshot of %s: %w", path, err)
	}
	snap.Exists = true
	snap.Value = value
	return snap, nil
}

// offer replaces any pending snapshot with the newest one
func offer(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
