package camera

import (
	"context"
	"image"
	"sync"
)

// StaticDevice serves the same frame on every grab
type StaticDevice struct {
	mu       sync.Mutex
	frame    image.Image
	err      error
	acquired int
	released int
}

// NewStaticDevice creates a device that always returns frame.
// A non-nil err makes every acquisition fail with it.
func NewStaticDevice(frame image.Image, err error) *StaticDevice {
	return &StaticDevice{frame: frame, err: err}
}

// Acquire implements Device
func (d *StaticDevice) Acquire(ctx context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.acquired++
	return &staticStream{device: d}, nil
}

// Open returns the number of streams acquired and not yet released
func (d *StaticDevice) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired - d.released
}

type staticStream struct {
	device *StaticDevice
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

func (s *staticStream) Frame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrReleased
	}
	return s.device.frame, nil
}

func (s *staticStream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.device.mu.Lock()
		s.device.released++
		s.device.mu.Unlock()
	})
	return nil
}
