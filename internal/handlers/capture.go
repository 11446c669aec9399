package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"checkpoint-capture/internal/camera"
	"checkpoint-capture/internal/models"
	"checkpoint-capture/internal/repository"
	"checkpoint-capture/internal/services"
	"checkpoint-capture/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// CaptureHandler serves capture screens over WebSocket
type CaptureHandler struct {
	hub      *services.SessionHub
	device   camera.Device
	blobs    storage.BlobStore
	records  repository.RecordStore
	scheme   models.IdentifierScheme
	observer services.SubmissionObserver
}

// NewCaptureHandler creates a new capture handler. observer may be nil.
func NewCaptureHandler(
	hub *services.SessionHub,
	device camera.Device,
	blobs storage.BlobStore,
	records repository.RecordStore,
	scheme models.IdentifierScheme,
	observer services.SubmissionObserver,
) *CaptureHandler {
	return &CaptureHandler{
		hub:      hub,
		device:   device,
		blobs:    blobs,
		records:  records,
		scheme:   scheme,
		observer: observer,
	}
}

// captureSession ties one connection to its flow
type captureSession struct {
	session *services.Session
	flow    *services.CaptureFlow
	submits sync.WaitGroup
}

// HandleWebSocket handles GET /ws/capture. The flow lives exactly as long as the connection.
func (h *CaptureHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	session := h.hub.Register(services.SessionCapture, conn)
	defer h.hub.Unregister(session)

	var opts []services.CaptureOption
	if h.observer != nil {
		opts = append(opts, services.WithObserver(h.observer))
	}
	cs := &captureSession{
		session: session,
		flow:    services.NewCaptureFlow(h.device, h.blobs, h.records, h.scheme, session, opts...),
	}
	defer cs.submits.Wait()
	defer cs.flow.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cs.flow.Open(ctx); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("Capture session without camera")
	}
	cs.sendState()

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

		cs.handleMessage(ctx, msg)
	}
}

// handleMessage processes incoming capture screen messages
func (cs *captureSession) handleMessage(ctx context.Context, msg services.WSMessage) {
	switch msg.Type {
	case "capture":
		if err := cs.flow.Capture(ctx); err != nil {
			cs.reportError(msg.Type, err)
			return
		}
		cs.sendPreview()
	case "select_file":
		data, err := decodeFileData(msg.Data)
		if err != nil {
			sendError(cs.session, "Invalid file data")
			return
		}
		if err := cs.flow.SelectFile(msg.Filename, data); err != nil {
			cs.reportError(msg.Type, err)
			return
		}
		cs.sendPreview()
	case "identifier":
		cs.flow.SetIdentifier(msg.Value)
	case "cancel":
		cs.flow.Cancel()
	case "submit":
		cs.submits.Add(1)
		go cs.submit(context.WithoutCancel(ctx))
		return
	default:
		sendError(cs.session, "Unknown message type")
		return
	}
	cs.sendState()
}

// submit runs outside the read loop so the screen stays responsive while uploading
func (cs *captureSession) submit(ctx context.Context) {
	defer cs.submits.Done()

	submission, err := cs.flow.Submit(ctx)
	if err != nil {
		if errors.Is(err, services.ErrSubmitInProgress) {
			sendError(cs.session, "Upload already in progress")
		}
		cs.sendState()
		return
	}

	if err := cs.session.Send(services.WSMessage{Type: "submitted", Payload: submission}); err != nil {
		log.Debug().Err(err).Str("session_id", cs.session.ID).Msg("Session gone before submit result")
		return
	}
	cs.sendState()
}

func (cs *captureSession) reportError(msgType string, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidImage):
		sendError(cs.session, "Selected file is not a supported image")
	case errors.Is(err, services.ErrCameraUnavailable):
		sendError(cs.session, "Camera is not available")
	case errors.Is(err, services.ErrFlowClosed):
	default:
		log.Error().Err(err).Str("session_id", cs.session.ID).Str("type", msgType).Msg("Failed to handle message")
		sendError(cs.session, "Failed to capture image")
	}
}

func (cs *captureSession) sendState() {
	if err := cs.session.Send(services.WSMessage{Type: "state", Payload: cs.flow.State()}); err != nil {
		log.Debug().Err(err).Str("session_id", cs.session.ID).Msg("Failed to send state")
	}
}

func (cs *captureSession) sendPreview() {
	preview := cs.flow.Preview()
	if preview == nil {
		return
	}
	if err := cs.session.Send(services.WSMessage{Type: "preview", Data: preview.DataURL()}); err != nil {
		log.Debug().Err(err).Str("session_id", cs.session.ID).Msg("Failed to send preview")
	}
}

// decodeFileData accepts plain base64 or a data URL
func decodeFileData(data string) ([]byte, error) {
	if i := strings.Index(data, ","); i >= 0 && strings.HasPrefix(data, "data:") {
		data = data[i+1:]
	}
	if data == "" {
		return nil, errors.New("empty file data")
	}
	return base64.StdEncoding.DecodeString(data)
}
