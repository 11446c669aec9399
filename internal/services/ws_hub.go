package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"checkpoint-capture/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

// Session kinds
const (
	SessionCapture = "capture"
	SessionAdmin   = "admin"
)

// WSMessage represents a WebSocket message in either direction
type WSMessage struct {
	Type     string      `json:"type"`
	Level    NoticeLevel `json:"level,omitempty"`
	Message  string      `json:"message,omitempty"`
	Value    string      `json:"value,omitempty"`
	Filename string      `json:"filename,omitempty"`
	Data     string      `json:"data,omitempty"`
	URL      string      `json:"url,omitempty"`
	Approved *bool       `json:"approved,omitempty"`
	Payload  interface{} `json:"payload,omitempty"`
}

// Session is one open screen connected over WebSocket
type Session struct {
	ID   string
	Kind string

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// Send writes a message to the session. Writes are serialised per connection.
func (s *Session) Send(message WSMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Notify implements Notifier by pushing a notice message
func (s *Session) Notify(notice Notice) {
	if err := s.Send(WSMessage{Type: "notice", Level: notice.Level, Message: notice.Message}); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to deliver notice")
	}
}

// SessionHub tracks open sessions so they can be closed on shutdown
type SessionHub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionHub creates a new WebSocket session hub
func NewSessionHub() *SessionHub {
	return &SessionHub{
		sessions: make(map[string]*Session),
	}
}

// Register registers a new connection and returns its session
func (h *SessionHub) Register(kind string, conn *websocket.Conn) *Session {
	session := &Session{
		ID:   uuid.New().String(),
		Kind: kind,
		conn: conn,
	}

	h.mu.Lock()
	h.sessions[session.ID] = session
	h.mu.Unlock()

	metrics.SessionsActive.WithLabelValues(kind).Inc()
	log.Info().Str("session_id", session.ID).Str("kind", kind).Msg("WebSocket session registered")
	return session
}

// Unregister removes a session and closes its connection
func (h *SessionHub) Unregister(session *Session) {
	h.mu.Lock()
	_, exists := h.sessions[session.ID]
	delete(h.sessions, session.ID)
	h.mu.Unlock()

	if !exists {
		return
	}
	session.conn.Close()
	metrics.SessionsActive.WithLabelValues(session.Kind).Dec()
	log.Info().Str("session_id", session.ID).Str("kind", session.Kind).Msg("WebSocket session unregistered")
}

// Count returns the number of open sessions of a kind
func (h *SessionHub) Count(kind string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, s := range h.sessions {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// CloseAll sends a close frame to every session and drops them
func (h *SessionHub) CloseAll() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		h.Unregister(s)
	}
}
