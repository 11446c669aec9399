package handlers

import (
	"encoding/json"
	"net/http"

	"checkpoint-capture/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Picked files arrive base64-encoded inside one message
const maxMessageBytes = 32 << 20

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, ErrorResponse{Error: message}, statusCode)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, body interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// sendError sends an error message to a session
func sendError(session *services.Session, message string) {
	if err := session.Send(services.WSMessage{Type: "error", Message: message}); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to send error message")
	}
}
