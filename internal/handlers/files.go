package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"net/url"
	"time"

	"checkpoint-capture/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// FileHandler serves objects of the local or in-memory blob store
type FileHandler struct {
	local  *storage.LocalStore
	memory *storage.MemoryStore
}

// NewFileHandler creates a file handler for the local blob store
func NewFileHandler(store *storage.LocalStore) *FileHandler {
	return &FileHandler{local: store}
}

// NewMemoryFileHandler creates a file handler for the in-memory blob store
func NewMemoryFileHandler(store *storage.MemoryStore) *FileHandler {
	return &FileHandler{memory: store}
}

// GetFile handles GET /files/*
func (h *FileHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		respondError(w, "Invalid file name", http.StatusBadRequest)
		return
	}

	if h.memory != nil {
		obj, ok := h.memory.Get(name)
		if !ok {
			respondError(w, "File not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", obj.ContentType)
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(obj.Data))
		return
	}

	f, err := h.local.Open(name, r.URL.Query().Get("token"))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidToken):
			respondError(w, "Invalid token", http.StatusForbidden)
		case errors.Is(err, storage.ErrNotFound):
			respondError(w, "File not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrInvalidName):
			respondError(w, "Invalid file name", http.StatusBadRequest)
		default:
			log.Error().Err(err).Str("name", name).Msg("Failed to open file")
			respondError(w, "Failed to open file", http.StatusInternalServerError)
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		respondError(w, "Failed to open file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=86400")
	http.ServeContent(w, r, name, info.ModTime(), f)
}
