// Package camera provides the live image sources a capture flow samples frames from.
package camera

import (
	"context"
	"errors"
	"image"
	"sync"
)

var (
	// ErrNoDevice is returned when no camera is configured
	ErrNoDevice = errors.New("no camera device configured")
	// ErrBusy is returned when another flow owns the device
	ErrBusy = errors.New("camera is in use")
	// ErrReleased is returned when a released stream is used
	ErrReleased = errors.New("camera stream released")
)

// Device is a camera that can be acquired for exclusive streaming
type Device interface {
	Acquire(ctx context.Context) (Stream, error)
}

// Stream is an acquired camera feed. Close releases the underlying device.
type Stream interface {
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

// None is a Device that is never available
type None struct{}

// Acquire implements Device
func (None) Acquire(ctx context.Context) (Stream, error) {
	return nil, ErrNoDevice
}

// Exclusive lets only one stream be open on the wrapped device at a time
type Exclusive struct {
	mu     sync.Mutex
	held   bool
	device Device
}

// NewExclusive wraps a device with single-owner acquisition
func NewExclusive(device Device) *Exclusive {
	return &Exclusive{device: device}
}

// Acquire implements Device
func (e *Exclusive) Acquire(ctx context.Context) (Stream, error) {
	e.mu.Lock()
	if e.held {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	e.held = true
	e.mu.Unlock()

	stream, err := e.device.Acquire(ctx)
	if err != nil {
		e.release()
		return nil, err
	}
	return &exclusiveStream{Stream: stream, release: e.release}, nil
}

// InUse reports whether a stream is currently open
func (e *Exclusive) InUse() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held
}

func (e *Exclusive) release() {
	e.mu.Lock()
	e.held = false
	e.mu.Unlock()
}

type exclusiveStream struct {
	Stream
	once    sync.Once
	release func()
}

func (s *exclusiveStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.Stream.Close()
		s.release()
	})
	return err
}
