package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"checkpoint-capture/internal/camera"
	"checkpoint-capture/internal/models"
	"checkpoint-capture/internal/repository"
	"checkpoint-capture/internal/services"
	"checkpoint-capture/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	hub     *services.SessionHub
	records *repository.MemoryStore
	blobs   *storage.MemoryStore
	device  *camera.StaticDevice
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	hub := services.NewSessionHub()
	records := repository.NewMemoryStore()
	blobs := storage.NewMemoryStore("https://blobs.example.test")
	device := camera.NewStaticDevice(frame(), nil)
	scheme := models.VehicleScheme
	signal := services.NewStoreSignal(records)

	router := NewRouter(Routes{
		Capture:     NewCaptureHandler(hub, camera.NewExclusive(device), blobs, records, scheme, nil),
		Admin:       NewAdminHandler(hub, records, signal, scheme),
		Submissions: NewSubmissionHandler(blobs, records, scheme, nil),
		Signal:      NewSignalHandler(signal, signal),
		Health:      NewHealthHandler(hub),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return &testServer{Server: srv, hub: hub, records: records, blobs: blobs, device: device}
}

func frame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{G: 255, A: 255})
	return img
}

func base64String(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, frame()))
	return buf.Bytes()
}

type wsMessage struct {
	Type    string          `json:"type"`
	Level   string          `json:"level"`
	Message string          `json:"message"`
	Data    string          `json:"data"`
	URL     string          `json:"url"`
	Payload json.RawMessage `json:"payload"`
}

func dial(t *testing.T, srv *testServer, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil reads messages until one of the given type arrives
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) wsMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %q", msgType)
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestCaptureSession_CaptureAndSubmit(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "/ws/capture")

	var state services.CaptureState
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "state").Payload, &state))
	assert.True(t, state.CameraReady)
	assert.False(t, state.HasPreview)

	send(t, conn, map[string]string{"type": "capture"})
	preview := readUntil(t, conn, "preview")
	assert.True(t, strings.HasPrefix(preview.Data, "data:image/png;base64,"))

	send(t, conn, map[string]string{"type": "identifier", "value": "MH-12-AB-1234"})
	send(t, conn, map[string]string{"type": "submit"})

	notice := readUntil(t, conn, "notice")
	assert.Equal(t, "info", notice.Level)
	assert.Equal(t, "Upload successful!", notice.Message)

	var submission models.Submission
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "submitted").Payload, &submission))
	assert.Equal(t, "MH-12-AB-1234", submission.Identifier)
	assert.True(t, strings.HasPrefix(submission.ImageURL, "https://blobs.example.test/images%2Fphoto-"))

	snap, err := srv.records.Get(context.Background(), models.SubmissionsPath)
	require.NoError(t, err)
	items, err := services.Project(snap, models.VehicleScheme)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, submission, items[0])
	assert.Len(t, srv.blobs.Names(), 1)
}

func TestCaptureSession_SubmitWithoutPreview(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "/ws/capture")
	readUntil(t, conn, "state")

	send(t, conn, map[string]string{"type": "identifier", "value": "X"})
	send(t, conn, map[string]string{"type": "submit"})

	notice := readUntil(t, conn, "notice")
	assert.Equal(t, "error", notice.Level)
	assert.Equal(t, "Please capture a photo first.", notice.Message)
	assert.Empty(t, srv.blobs.Names())
	assert.Empty(t, srv.records.Writes())
}

func TestCaptureSession_SelectFile(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "/ws/capture")
	readUntil(t, conn, "state")

	data := "data:image/png;base64," + base64String(pngBytes(t))
	send(t, conn, map[string]string{"type": "select_file", "filename": "gate cam.png", "data": data})
	readUntil(t, conn, "preview")

	var state services.CaptureState
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "state").Payload, &state))
	assert.True(t, state.HasPreview)
	assert.Equal(t, services.SourceFile, state.PreviewSource)
	assert.Equal(t, "gate cam.png", state.FileName)

	send(t, conn, map[string]string{"type": "select_file", "filename": "x.txt", "data": "bm90IGFuIGltYWdl"})
	assert.Equal(t, "Selected file is not a supported image", readUntil(t, conn, "error").Message)
}

func TestCaptureSession_ReleasesCameraOnDisconnect(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "/ws/capture")
	readUntil(t, conn, "state")

	assert.Equal(t, 1, srv.device.Open())
	assert.Equal(t, 1, srv.hub.Count(services.SessionCapture))

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	assert.Eventually(t, func() bool {
		return srv.device.Open() == 0 && srv.hub.Count(services.SessionCapture) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCaptureSession_SecondScreenHasNoCamera(t *testing.T) {
	srv := newTestServer(t)
	first := dial(t, srv, "/ws/capture")
	readUntil(t, first, "state")

	second := dial(t, srv, "/ws/capture")
	notice := readUntil(t, second, "notice")
	assert.Equal(t, "Unable to access the camera.", notice.Message)

	var state services.CaptureState
	require.NoError(t, json.Unmarshal(readUntil(t, second, "state").Payload, &state))
	assert.False(t, state.CameraReady)
}

func TestCaptureSession_UnknownMessage(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "/ws/capture")
	readUntil(t, conn, "state")

	send(t, conn, map[string]string{"type": "selfie"})
	assert.Equal(t, "Unknown message type", readUntil(t, conn, "error").Message)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, "Invalid message format", readUntil(t, conn, "error").Message)
}

func TestAdminSession_LiveProjectionAndDecide(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "/ws/admin")

	var items []models.Submission
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "submissions").Payload, &items))
	assert.Empty(t, items)

	ctx := context.Background()
	_, err := srv.records.Push(ctx, models.SubmissionsPath,
		models.VehicleScheme.NewRecord("https://x/a.png", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "A-1"))
	require.NoError(t, err)

	require.NoError(t, json.Unmarshal(readUntil(t, conn, "submissions").Payload, &items))
	require.Len(t, items, 1)
	assert.Equal(t, "A-1", items[0].Identifier)

	send(t, conn, map[string]interface{}{"type": "decide", "approved": true})
	notice := readUntil(t, conn, "notice")
	assert.Equal(t, "LED turned on", notice.Message)

	state, err := services.NewStoreSignal(srv.records).Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SignalOn, state)

	send(t, conn, map[string]string{"type": "decide"})
	assert.Equal(t, "approved is required", readUntil(t, conn, "error").Message)
}

func TestAdminSession_Lightbox(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "/ws/admin")
	readUntil(t, conn, "submissions")

	send(t, conn, map[string]string{"type": "open_image", "url": "https://x/a.png"})
	assert.Equal(t, "https://x/a.png", readUntil(t, conn, "lightbox").URL)

	send(t, conn, map[string]string{"type": "close_image"})
	assert.Empty(t, readUntil(t, conn, "lightbox").URL)
}

func TestAdminSession_DisconnectDropsSubscription(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "/ws/admin")
	readUntil(t, conn, "submissions")
	assert.Equal(t, 1, srv.records.Subscribers())

	conn.Close()
	assert.Eventually(t, func() bool { return srv.records.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func multipartBody(t *testing.T, fields map[string]string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		part, err := mw.CreateFormFile("image", "plate.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestSubmissionsAPI(t *testing.T) {
	srv := newTestServer(t)

	body, contentType := multipartBody(t, map[string]string{"vehicleNumber": "KA-01"}, pngBytes(t))
	res, err := http.Post(srv.URL+"/api/v1/submissions", contentType, body)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var created models.Submission
	require.NoError(t, json.NewDecoder(res.Body).Decode(&created))
	assert.Equal(t, "KA-01", created.Identifier)
	assert.Contains(t, srv.blobs.Names()[0], "_plate.png")

	res, err = http.Get(srv.URL + "/api/v1/submissions")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var list struct {
		Submissions []models.Submission `json:"submissions"`
		Total       int                 `json:"total"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, created, list.Submissions[0])
}

func TestSubmissionsAPI_Validation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name    string
		fields  map[string]string
		image   []byte
		message string
	}{
		{name: "no identifier", fields: map[string]string{}, image: pngBytes(t), message: "Please enter the vehicle number."},
		{name: "blank identifier", fields: map[string]string{"identifier": "  "}, image: pngBytes(t), message: "Please enter the vehicle number."},
		{name: "no image", fields: map[string]string{"vehicleNumber": "X"}, message: "image file is required"},
		{name: "not an image", fields: map[string]string{"vehicleNumber": "X"}, image: []byte("hello"), message: "Selected file is not a supported image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartBody(t, tt.fields, tt.image)
			res, err := http.Post(srv.URL+"/api/v1/submissions", contentType, body)
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
			var errRes ErrorResponse
			require.NoError(t, json.NewDecoder(res.Body).Decode(&errRes))
			assert.Equal(t, tt.message, errRes.Error)
		})
	}

	assert.Empty(t, srv.blobs.Names())
	assert.Empty(t, srv.records.Writes())
}

func TestSubmissionsAPI_FileOverUploadLimit(t *testing.T) {
	srv := newTestServer(t)

	body, contentType := multipartBody(t, map[string]string{"vehicleNumber": "X"}, make([]byte, services.MaxUploadBytes+1))
	res, err := http.Post(srv.URL+"/api/v1/submissions", contentType, body)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	var errRes ErrorResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&errRes))
	assert.Equal(t, "Selected file is not a supported image", errRes.Error)
	assert.Empty(t, srv.blobs.Names())
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestSignalAPI(t *testing.T) {
	srv := newTestServer(t)

	res := doJSON(t, http.MethodGet, srv.URL+"/api/v1/signal", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res = doJSON(t, http.MethodPut, srv.URL+"/api/v1/signal", `{"approved": false}`)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = doJSON(t, http.MethodGet, srv.URL+"/api/v1/signal", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var record models.SignalRecord
	require.NoError(t, json.NewDecoder(res.Body).Decode(&record))
	assert.Equal(t, models.SignalOff, record.LED)

	res = doJSON(t, http.MethodPut, srv.URL+"/api/v1/signal", `{}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	writes := srv.records.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, models.SignalPath, writes[0].Path)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	dial(t, srv, "/ws/admin")

	require.Eventually(t, func() bool { return srv.hub.Count(services.SessionAdmin) == 1 }, time.Second, 10*time.Millisecond)

	res := doJSON(t, http.MethodGet, srv.URL+"/healthz", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		Status   string         `json:"status"`
		Sessions map[string]int `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Sessions[services.SessionAdmin])
}

func TestFileHandler(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir(), "http://placeholder", "secret")
	require.NoError(t, err)

	r := NewRouter(Routes{
		Submissions: NewSubmissionHandler(store, repository.NewMemoryStore(), models.VehicleScheme, nil),
		Files:       NewFileHandler(store),
		Health:      NewHealthHandler(services.NewSessionHub()),
	})

	ctx := context.Background()
	data := pngBytes(t)
	require.NoError(t, store.Put(ctx, "images/a.png", data, "image/png"))
	url, err := store.URL(ctx, "images/a.png")
	require.NoError(t, err)
	path := strings.TrimPrefix(url, "http://placeholder")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, data, rec.Body.Bytes())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/images/a.png?token=forged", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	other, err := store.URL(ctx, "images/a.png")
	require.NoError(t, err)
	token := other[strings.Index(other, "?"):]
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/images/b.png"+token, nil))
	assert.Equal(t, http.StatusForbidden, rec.Code, "token for another object is rejected")
}

func TestMemoryFileHandler(t *testing.T) {
	store := storage.NewMemoryStore("http://placeholder/files")
	r := NewRouter(Routes{
		Submissions: NewSubmissionHandler(store, repository.NewMemoryStore(), models.VehicleScheme, nil),
		Files:       NewMemoryFileHandler(store),
		Health:      NewHealthHandler(services.NewSessionHub()),
	})

	ctx := context.Background()
	data := pngBytes(t)
	require.NoError(t, store.Put(ctx, "images/photo-1.png", data, "image/png"))
	url, err := store.URL(ctx, "images/photo-1.png")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, strings.TrimPrefix(url, "http://placeholder"), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, data, rec.Body.Bytes())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/images/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
