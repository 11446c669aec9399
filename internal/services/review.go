package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"checkpoint-capture/internal/metrics"
	"checkpoint-capture/internal/models"
	"checkpoint-capture/internal/repository"

	"github.com/rs/zerolog/log"
)

const msgSignalFailed = "Failed to update LED status"

// Renderer displays the admin projection
type Renderer interface {
	Render(items []models.Submission)
}

// RendererFunc adapts a function to Renderer
type RendererFunc func([]models.Submission)

// Render implements Renderer
func (f RendererFunc) Render(items []models.Submission) { f(items) }

// ReviewPanel keeps a sorted live view of all submissions and emits approve/disapprove signals
type ReviewPanel struct {
	mu       sync.Mutex
	items    []models.Submission
	lightbox string
	closed   bool
	cancel   context.CancelFunc

	records  repository.RecordStore
	signal   SignalWriter
	scheme   models.IdentifierScheme
	notifier Notifier
	renderer Renderer
}

// NewReviewPanel creates a review panel
func NewReviewPanel(
	records repository.RecordStore,
	signal SignalWriter,
	scheme models.IdentifierScheme,
	notifier Notifier,
	renderer Renderer,
) *ReviewPanel {
	if notifier == nil {
		notifier = discardNotifier{}
	}
	if renderer == nil {
		renderer = RendererFunc(func([]models.Submission) {})
	}
	return &ReviewPanel{
		records:  records,
		signal:   signal,
		scheme:   scheme,
		notifier: notifier,
		renderer: renderer,
	}
}

// Run subscribes to the submissions collection and re-renders on every snapshot.
// It returns when ctx is done or the panel is closed.
func (p *ReviewPanel) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrFlowClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	snapshots, err := p.records.Subscribe(ctx, models.SubmissionsPath)
	if err != nil {
		return fmt.Errorf("failed to subscribe to submissions: %w", err)
	}

	for snap := range snapshots {
		items, err := Project(snap, p.scheme)
		if err != nil {
			log.Error().Err(err).Msg("Failed to project submissions")
			continue
		}
		p.apply(items)
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrSubscriptionEnded
}

// apply is only called from the Run loop, so renders stay in snapshot order
func (p *ReviewPanel) apply(items []models.Submission) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.items = items
	p.mu.Unlock()

	metrics.ProjectionSize.Set(float64(len(items)))
	p.renderer.Render(items)
}

// Items returns the current projection
func (p *ReviewPanel) Items() []models.Submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Submission, len(p.items))
	copy(out, p.items)
	return out
}

// Decide writes the approve/disapprove signal. Failures are reported, never retried.
func (p *ReviewPanel) Decide(ctx context.Context, approved bool) error {
	state, err := ApplyDecision(ctx, p.signal, approved)
	if err != nil {
		p.notify(Notice{Level: NoticeError, Message: msgSignalFailed})
		return err
	}

	p.notify(Notice{Level: NoticeInfo, Message: fmt.Sprintf("LED turned %s", state)})
	return nil
}

// OpenImage shows a full-size image overlay
func (p *ReviewPanel) OpenImage(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if url != "" {
		p.lightbox = url
	}
}

// CloseImage clears the image overlay
func (p *ReviewPanel) CloseImage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lightbox = ""
}

// Lightbox returns the URL shown in the overlay, empty when closed
func (p *ReviewPanel) Lightbox() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lightbox
}

// Close drops the subscription. Snapshots arriving afterwards are ignored.
func (p *ReviewPanel) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *ReviewPanel) notify(notice Notice) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if !closed {
		p.notifier.Notify(notice)
	}
}

// Project materialises a submissions snapshot into the admin view, newest first.
// Missing identifiers get the scheme placeholder and missing image URLs stay empty.
func Project(snap repository.Snapshot, scheme models.IdentifierScheme) ([]models.Submission, error) {
	children := make(map[string]json.RawMessage)
	if err := snap.Decode(&children); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(children))
	for key := range children {
		keys = append(keys, key)
	}
	// Push keys sort in insertion order; equal timestamps keep it
	sort.Strings(keys)

	items := make([]models.Submission, 0, len(children))
	for _, key := range keys {
		var fields map[string]interface{}
		if err := json.Unmarshal(children[key], &fields); err != nil {
			log.Warn().Str("id", key).Msg("Skipping malformed submission record")
			continue
		}
		item := models.Submission{
			ID:         key,
			ImageURL:   stringField(fields, "imageUrl"),
			Timestamp:  stringField(fields, "timestamp"),
			Identifier: stringField(fields, scheme.Field),
		}
		if item.Identifier == "" {
			item.Identifier = scheme.Placeholder
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].TimestampTime().After(items[j].TimestampTime())
	})
	return items, nil
}

func stringField(fields map[string]interface{}, name string) string {
	s, _ := fields[name].(string)
	return s
}
