package handlers

import (
	"net/http"

	"checkpoint-capture/internal/services"
)

// HealthHandler reports liveness and open sessions
type HealthHandler struct {
	hub *services.SessionHub
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(hub *services.SessionHub) *HealthHandler {
	return &HealthHandler{hub: hub}
}

// Healthz handles GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{
		"status": "ok",
		"sessions": map[string]int{
			services.SessionCapture: h.hub.Count(services.SessionCapture),
			services.SessionAdmin:   h.hub.Count(services.SessionAdmin),
		},
	}, http.StatusOK)
}
