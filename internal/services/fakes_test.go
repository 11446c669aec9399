package services

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"time"

	"checkpoint-capture/internal/models"
	"checkpoint-capture/internal/repository"
	"checkpoint-capture/internal/storage"
)

var errBoom = errors.New("boom")

// fakeBlobs wraps the in-memory blob store and counts calls
type fakeBlobs struct {
	*storage.MemoryStore

	mu       sync.Mutex
	putCalls int
	urlCalls int
	putErr   error
	urlErr   error
	block    chan struct{}
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{MemoryStore: storage.NewMemoryStore("https://blobs.example.test")}
}

func (b *fakeBlobs) Put(ctx context.Context, name string, data []byte, contentType string) error {
	b.mu.Lock()
	b.putCalls++
	err := b.putErr
	block := b.block
	b.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return err
	}
	return b.MemoryStore.Put(ctx, name, data, contentType)
}

func (b *fakeBlobs) URL(ctx context.Context, name string) (string, error) {
	b.mu.Lock()
	b.urlCalls++
	err := b.urlErr
	b.mu.Unlock()
	if err != nil {
		return "", err
	}
	return b.MemoryStore.URL(ctx, name)
}

func (b *fakeBlobs) calls() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.putCalls, b.urlCalls
}

// fakeRecords wraps the in-memory record store and can fail writes
type fakeRecords struct {
	*repository.MemoryStore

	mu        sync.Mutex
	pushCalls int
	setCalls  int
	pushErr   error
	setErr    error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{MemoryStore: repository.NewMemoryStore()}
}

func (r *fakeRecords) Push(ctx context.Context, path string, value interface{}) (string, error) {
	r.mu.Lock()
	r.pushCalls++
	err := r.pushErr
	r.mu.Unlock()
	if err != nil {
		return "", err
	}
	return r.MemoryStore.Push(ctx, path, value)
}

func (r *fakeRecords) Set(ctx context.Context, path string, value interface{}) error {
	r.mu.Lock()
	r.setCalls++
	err := r.setErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.MemoryStore.Set(ctx, path, value)
}

func (r *fakeRecords) pushes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushCalls
}

// recordingNotifier keeps every notice it receives
type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) all() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notice, len(n.notices))
	copy(out, n.notices)
	return out
}

func (n *recordingNotifier) last() Notice {
	all := n.all()
	if len(all) == 0 {
		return Notice{}
	}
	return all[len(all)-1]
}

// recordingObserver captures submissions it is told about
type recordingObserver struct {
	ch chan models.Submission
}

func (o *recordingObserver) OnSubmitted(ctx context.Context, s models.Submission) {
	o.ch <- s
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for x := 0; x < 8; x++ {
		img.Set(x, 0, color.RGBA{R: 200, G: 10, B: 10, A: 255})
	}
	return img
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// blockingNotifier holds every Notify call until released, like a stalled socket write
type blockingNotifier struct {
	entered chan Notice
	release chan struct{}
}

func newBlockingNotifier() *blockingNotifier {
	return &blockingNotifier{entered: make(chan Notice, 8), release: make(chan struct{})}
}

func (n *blockingNotifier) Notify(notice Notice) {
	n.entered <- notice
	<-n.release
}

// returnsWithin reports whether fn finishes before the timeout
func returnsWithin(fn func(), timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
