// Package storage binds the flat, immutable object namespace uploaded images live in.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when an object does not exist
	ErrNotFound = errors.New("object not found")
	// ErrInvalidName is returned for object names that escape the namespace
	ErrInvalidName = errors.New("invalid object name")
	// ErrExists is returned when writing over an existing object
	ErrExists = errors.New("object already exists")
)

// BlobStore stores immutable objects and resolves download URLs for them
type BlobStore interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
	URL(ctx context.Context, name string) (string, error)
}

func validateName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}
