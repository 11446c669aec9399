package camera

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"sync"
	"time"
)

const maxFrameBytes = 32 << 20

// SnapshotDevice is a network camera exposing a still-image snapshot URL
type SnapshotDevice struct {
	url    string
	client *http.Client
}

// NewSnapshotDevice creates a device that grabs frames from url
func NewSnapshotDevice(url string, timeout time.Duration) *SnapshotDevice {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SnapshotDevice{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Acquire implements Device. A frame is fetched to confirm the camera is reachable.
func (d *SnapshotDevice) Acquire(ctx context.Context) (Stream, error) {
	stream := &snapshotStream{device: d}
	if _, err := d.grab(ctx); err != nil {
		return nil, fmt.Errorf("failed to access camera: %w", err)
	}
	return stream, nil
}

func (d *SnapshotDevice) grab(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot request returned status %d", resp.StatusCode)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return img, nil
}

type snapshotStream struct {
	device *SnapshotDevice
	mu     sync.Mutex
	closed bool
}

func (s *snapshotStream) Frame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrReleased
	}
	return s.device.grab(ctx)
}

func (s *snapshotStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
