package handlers

import (
	"errors"
	"io"
	"net/http"

	"checkpoint-capture/internal/models"
	"checkpoint-capture/internal/repository"
	"checkpoint-capture/internal/services"
	"checkpoint-capture/internal/storage"

	"github.com/rs/zerolog/log"
)

// SubmissionHandler handles submission-related HTTP requests
type SubmissionHandler struct {
	blobs    storage.BlobStore
	records  repository.RecordStore
	scheme   models.IdentifierScheme
	observer services.SubmissionObserver
}

// NewSubmissionHandler creates a new submission handler. observer may be nil.
func NewSubmissionHandler(
	blobs storage.BlobStore,
	records repository.RecordStore,
	scheme models.IdentifierScheme,
	observer services.SubmissionObserver,
) *SubmissionHandler {
	return &SubmissionHandler{
		blobs:    blobs,
		records:  records,
		scheme:   scheme,
		observer: observer,
	}
}

// GetSubmissions handles GET /api/v1/submissions
func (h *SubmissionHandler) GetSubmissions(w http.ResponseWriter, r *http.Request) {
	snap, err := h.records.Get(r.Context(), models.SubmissionsPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read submissions")
		respondError(w, "Failed to read submissions", http.StatusInternalServerError)
		return
	}

	items, err := services.Project(snap, h.scheme)
	if err != nil {
		log.Error().Err(err).Msg("Failed to project submissions")
		respondError(w, "Failed to read submissions", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"submissions": items,
		"total":       len(items),
	}, http.StatusOK)
}

// CreateSubmission handles POST /api/v1/submissions.
// The form carries an "image" file and the identifier under the scheme field name or "identifier".
func (h *SubmissionHandler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(services.MaxUploadBytes); err != nil {
		respondError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		respondError(w, "image file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, "Failed to read image", http.StatusBadRequest)
		return
	}

	identifier := r.FormValue(h.scheme.Field)
	if identifier == "" {
		identifier = r.FormValue("identifier")
	}

	var notice services.Notice
	notifier := services.NotifierFunc(func(n services.Notice) { notice = n })

	var opts []services.CaptureOption
	if h.observer != nil {
		opts = append(opts, services.WithObserver(h.observer))
	}
	flow := services.NewCaptureFlow(nil, h.blobs, h.records, h.scheme, notifier, opts...)
	defer flow.Close()

	if err := flow.SelectFile(header.Filename, data); err != nil {
		respondError(w, "Selected file is not a supported image", http.StatusBadRequest)
		return
	}
	flow.SetIdentifier(identifier)

	submission, err := flow.Submit(r.Context())
	if err != nil {
		statusCode := http.StatusBadGateway
		if services.IsValidationError(err) {
			statusCode = http.StatusBadRequest
		}
		message := notice.Message
		if message == "" {
			message = err.Error()
		}
		if !errors.Is(err, services.ErrIdentifierRequired) {
			log.Error().Err(err).Msg("Failed to create submission")
		}
		respondError(w, message, statusCode)
		return
	}

	respondJSON(w, submission, http.StatusCreated)
}
