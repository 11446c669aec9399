package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"checkpoint-capture/internal/models"
	"checkpoint-capture/internal/services"

	"github.com/rs/zerolog/log"
)

// SignalReader reads the latest decision
type SignalReader interface {
	Current(ctx context.Context) (models.SignalState, error)
}

// SignalHandler handles signal-related HTTP requests
type SignalHandler struct {
	writer services.SignalWriter
	reader SignalReader
}

// NewSignalHandler creates a new signal handler
func NewSignalHandler(writer services.SignalWriter, reader SignalReader) *SignalHandler {
	return &SignalHandler{
		writer: writer,
		reader: reader,
	}
}

// DecideRequest represents an approve/disapprove request
type DecideRequest struct {
	Approved *bool `json:"approved"`
}

// GetSignal handles GET /api/v1/signal
func (h *SignalHandler) GetSignal(w http.ResponseWriter, r *http.Request) {
	state, err := h.reader.Current(r.Context())
	if err != nil {
		if errors.Is(err, services.ErrSignalUnset) {
			respondError(w, "No decision recorded", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("Failed to read signal")
		respondError(w, "Failed to read LED status", http.StatusInternalServerError)
		return
	}

	respondJSON(w, models.SignalRecord{LED: state}, http.StatusOK)
}

// SetSignal handles PUT /api/v1/signal
func (h *SignalHandler) SetSignal(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Approved == nil {
		respondError(w, "approved is required", http.StatusBadRequest)
		return
	}

	state, err := services.ApplyDecision(r.Context(), h.writer, *req.Approved)
	if err != nil {
		respondError(w, "Failed to update LED status", http.StatusBadGateway)
		return
	}

	respondJSON(w, models.SignalRecord{LED: state}, http.StatusOK)
}
