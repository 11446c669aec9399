package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"checkpoint-capture/internal/camera"
	"checkpoint-capture/internal/metrics"
	"checkpoint-capture/internal/models"
	"checkpoint-capture/internal/repository"
	"checkpoint-capture/internal/storage"

	"github.com/rs/zerolog/log"
)

// Operator-facing messages of the capture screen
const (
	msgCameraUnavailable = "Unable to access the camera."
	msgNoPreview         = "Please capture a photo first."
	msgUploadSuccess     = "Upload successful!"
	msgUploadFailed      = "Upload failed. Please try again."
)

// CaptureState is a snapshot of the capture screen state
type CaptureState struct {
	HasPreview    bool   `json:"has_preview"`
	PreviewSource string `json:"preview_source,omitempty"`
	FileName      string `json:"file_name,omitempty"`
	Identifier    string `json:"identifier"`
	Uploading     bool   `json:"uploading"`
	CameraReady   bool   `json:"camera_ready"`
}

// CaptureFlow acquires an image and an identifier and commits them as one submission.
// One flow serves one capture screen for its whole lifetime.
type CaptureFlow struct {
	mu         sync.Mutex
	camera     camera.Device
	stream     camera.Stream
	opened     bool
	closed     bool
	preview    *Preview
	identifier string
	uploading  bool

	blobs    storage.BlobStore
	records  repository.RecordStore
	scheme   models.IdentifierScheme
	notifier Notifier
	observer SubmissionObserver
	now      func() time.Time
}

// CaptureOption customises a CaptureFlow
type CaptureOption func(*CaptureFlow)

// WithClock sets the clock used for object names and record timestamps
func WithClock(now func() time.Time) CaptureOption {
	return func(f *CaptureFlow) { f.now = now }
}

// WithObserver registers an observer of stored submissions
func WithObserver(observer SubmissionObserver) CaptureOption {
	return func(f *CaptureFlow) { f.observer = observer }
}

// NewCaptureFlow creates a capture flow. device may be nil when only file picking is available.
func NewCaptureFlow(
	device camera.Device,
	blobs storage.BlobStore,
	records repository.RecordStore,
	scheme models.IdentifierScheme,
	notifier Notifier,
	opts ...CaptureOption,
) *CaptureFlow {
	if device == nil {
		device = camera.None{}
	}
	if notifier == nil {
		notifier = discardNotifier{}
	}
	f := &CaptureFlow{
		camera:   device,
		blobs:    blobs,
		records:  records,
		scheme:   scheme,
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open acquires the camera stream. It runs once per flow; later calls are no-ops.
func (f *CaptureFlow) Open(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.opened {
		f.mu.Unlock()
		return nil
	}
	f.opened = true
	f.mu.Unlock()

	stream, err := f.camera.Acquire(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Error accessing camera")
		f.notify(Notice{Level: NoticeError, Message: msgCameraUnavailable})
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	f.mu.Lock()
	closed := f.closed
	if !closed {
		f.stream = stream
	}
	f.mu.Unlock()

	// Torn down while acquiring
	if closed {
		stream.Close()
		return ErrFlowClosed
	}
	return nil
}

// notify delivers a notice unless the flow is torn down.
// It never holds the lock while the notifier runs.
func (f *CaptureFlow) notify(notice Notice) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if !closed {
		f.notifier.Notify(notice)
	}
}

// Capture grabs the current camera frame into the preview, replacing any prior one
func (f *CaptureFlow) Capture(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	stream := f.stream
	f.mu.Unlock()

	if stream == nil {
		return ErrCameraUnavailable
	}

	frame, err := stream.Frame(ctx)
	if err != nil {
		return fmt.Errorf("failed to grab frame: %w", err)
	}
	preview, err := rasterize(frame, SourceCamera, "")
	if err != nil {
		return err
	}

	return f.setPreview(preview)
}

// SelectFile uses a picked image file as the preview, replacing any prior one
func (f *CaptureFlow) SelectFile(name string, data []byte) error {
	img, err := decodeUpload(data)
	if err != nil {
		return err
	}
	preview, err := rasterize(img, SourceFile, baseName(name))
	if err != nil {
		return err
	}
	return f.setPreview(preview)
}

func (f *CaptureFlow) setPreview(preview *Preview) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFlowClosed
	}
	f.preview = preview
	metrics.CapturesTotal.WithLabelValues(preview.Source).Inc()
	return nil
}

// SetIdentifier records the operator-entered identifier
func (f *CaptureFlow) SetIdentifier(value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identifier = value
}

// Cancel discards the current preview
func (f *CaptureFlow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preview = nil
}

// Preview returns the current preview, or nil
func (f *CaptureFlow) Preview() *Preview {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preview
}

// State returns the current screen state
func (f *CaptureFlow) State() CaptureState {
	f.mu.Lock()
	defer f.mu.Unlock()

	state := CaptureState{
		Identifier:  f.identifier,
		Uploading:   f.uploading,
		CameraReady: f.stream != nil,
	}
	if f.preview != nil {
		state.HasPreview = true
		state.PreviewSource = f.preview.Source
		state.FileName = f.preview.FileName
	}
	return state
}

// Submit uploads the preview and appends a submission record referencing it.
// Steps run strictly as upload, resolve URL, write record; a failed step stops the rest.
// The blob of a failed record write is left in place.
func (f *CaptureFlow) Submit(ctx context.Context) (*models.Submission, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrFlowClosed
	}
	if f.uploading {
		f.mu.Unlock()
		return nil, ErrSubmitInProgress
	}
	if f.preview == nil {
		f.mu.Unlock()
		f.notify(Notice{Level: NoticeError, Message: msgNoPreview})
		metrics.SubmissionsTotal.WithLabelValues("invalid").Inc()
		return nil, ErrNoPreview
	}
	identifier := strings.TrimSpace(f.identifier)
	if f.scheme.Required && identifier == "" {
		f.mu.Unlock()
		f.notify(Notice{Level: NoticeError, Message: fmt.Sprintf("Please enter the %s.", f.scheme.Label)})
		metrics.SubmissionsTotal.WithLabelValues("invalid").Inc()
		return nil, ErrIdentifierRequired
	}
	preview := f.preview
	f.uploading = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.uploading = false
		f.mu.Unlock()
	}()

	name := objectName(preview, f.now())

	if err := f.blobs.Put(ctx, name, preview.Data, preview.ContentType); err != nil {
		return nil, f.fail("upload_failed", fmt.Errorf("failed to upload image: %w", err))
	}
	metrics.UploadBytes.Observe(float64(len(preview.Data)))

	imageURL, err := f.blobs.URL(ctx, name)
	if err != nil {
		return nil, f.fail("upload_failed", fmt.Errorf("failed to resolve image URL: %w", err))
	}

	record := f.scheme.NewRecord(imageURL, f.now(), identifier)
	key, err := f.records.Push(ctx, models.SubmissionsPath, record)
	if err != nil {
		log.Warn().Str("object", name).Msg("Image stored without a submission record")
		return nil, f.fail("record_failed", fmt.Errorf("failed to save submission: %w", err))
	}

	submission := models.Submission{
		ID:         key,
		ImageURL:   imageURL,
		Timestamp:  record["timestamp"],
		Identifier: identifier,
	}

	f.mu.Lock()
	closed := f.closed
	if !closed {
		f.preview = nil
		f.identifier = ""
	}
	f.mu.Unlock()
	if !closed {
		f.notifier.Notify(Notice{Level: NoticeInfo, Message: msgUploadSuccess})
	}

	metrics.SubmissionsTotal.WithLabelValues("success").Inc()
	log.Info().
		Str("submission_id", key).
		Str("object", name).
		Str(f.scheme.Field, identifier).
		Msg("Submission stored")

	if f.observer != nil {
		go f.observer.OnSubmitted(context.WithoutCancel(ctx), submission)
	}

	return &submission, nil
}

// fail logs an external-call failure and tells the operator, unless the flow is gone
func (f *CaptureFlow) fail(outcome string, err error) error {
	log.Error().Err(err).Msg("Upload error")
	metrics.SubmissionsTotal.WithLabelValues(outcome).Inc()
	f.notify(Notice{Level: NoticeError, Message: msgUploadFailed})
	return err
}

// Close tears the flow down and releases the camera. Safe to call more than once.
func (f *CaptureFlow) Close() error {
	f.mu.Lock()
	f.closed = true
	stream := f.stream
	f.stream = nil
	f.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("failed to release camera: %w", err)
	}
	return nil
}

// objectName derives a collision-resistant blob name from the clock and the picked file name
func objectName(preview *Preview, now time.Time) string {
	ms := now.UnixMilli()
	if preview.Source == SourceFile && preview.FileName != "" {
		base := strings.TrimSuffix(preview.FileName, filepath.Ext(preview.FileName))
		base = sanitizeName(base)
		if base != "" {
			return fmt.Sprintf("%s%d_%s.png", models.ImagePrefix, ms, base)
		}
	}
	return fmt.Sprintf("%sphoto-%d.png", models.ImagePrefix, ms)
}

// baseName strips any client-side directory from a picked file name
func baseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSpace(name)
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), ".")
}
