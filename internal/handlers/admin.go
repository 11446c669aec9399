package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"checkpoint-capture/internal/models"
	"checkpoint-capture/internal/repository"
	"checkpoint-capture/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// AdminHandler serves review panels over WebSocket
type AdminHandler struct {
	hub     *services.SessionHub
	records repository.RecordStore
	signal  services.SignalWriter
	scheme  models.IdentifierScheme
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	hub *services.SessionHub,
	records repository.RecordStore,
	signal services.SignalWriter,
	scheme models.IdentifierScheme,
) *AdminHandler {
	return &AdminHandler{
		hub:     hub,
		records: records,
		signal:  signal,
		scheme:  scheme,
	}
}

// HandleWebSocket handles GET /ws/admin. The subscription lives exactly as long as the connection.
func (h *AdminHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	session := h.hub.Register(services.SessionAdmin, conn)
	defer h.hub.Unregister(session)

	renderer := services.RendererFunc(func(items []models.Submission) {
		if err := session.Send(services.WSMessage{Type: "submissions", Payload: items}); err != nil {
			log.Debug().Err(err).Str("session_id", session.ID).Msg("Failed to send submissions")
		}
	})
	panel := services.NewReviewPanel(h.records, h.signal, h.scheme, session, renderer)
	defer panel.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		err := panel.Run(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		log.Error().Err(err).Str("session_id", session.ID).Msg("Submissions subscription stopped")
		sendError(session, "Live updates stopped")
	}()

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("session_id", session.ID).Msg("WebSocket error")
			}
			break
		}

		var msg services.WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Error().Err(err).Str("session_id", session.ID).Msg("Failed to parse WebSocket message")
			sendError(session, "Invalid message format")
			continue
		}

		h.handleMessage(ctx, session, panel, msg)
	}
}

// handleMessage processes incoming review panel messages
func (h *AdminHandler) handleMessage(ctx context.Context, session *services.Session, panel *services.ReviewPanel, msg services.WSMessage) {
	switch msg.Type {
	case "decide":
		if msg.Approved == nil {
			sendError(session, "approved is required")
			return
		}
		// Failures already reach the operator as a notice
		panel.Decide(ctx, *msg.Approved)
	case "open_image":
		panel.OpenImage(msg.URL)
		sendLightbox(session, panel)
	case "close_image":
		panel.CloseImage()
		sendLightbox(session, panel)
	default:
		sendError(session, "Unknown message type")
	}
}

func sendLightbox(session *services.Session, panel *services.ReviewPanel) {
	if err := session.Send(services.WSMessage{Type: "lightbox", URL: panel.Lightbox()}); err != nil {
		log.Debug().Err(err).Str("session_id", session.ID).Msg("Failed to send lightbox")
	}
}
