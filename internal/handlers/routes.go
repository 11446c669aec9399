package handlers

import (
	"net/http"

	"checkpoint-capture/internal/middleware"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Routes groups the handlers mounted on the router
type Routes struct {
	Capture     *CaptureHandler
	Admin       *AdminHandler
	Submissions *SubmissionHandler
	Signal      *SignalHandler
	Health      *HealthHandler
	// Files is nil unless blobs are kept on local disk
	Files *FileHandler
	// Metrics is nil when metrics are not exposed
	Metrics http.Handler
}

// NewRouter builds the chi router for all endpoints
func NewRouter(routes Routes) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/submissions", routes.Submissions.GetSubmissions)
		r.Post("/submissions", routes.Submissions.CreateSubmission)
		r.Get("/signal", routes.Signal.GetSignal)
		r.Put("/signal", routes.Signal.SetSignal)
	})

	// WebSocket routes
	r.Get("/ws/capture", routes.Capture.HandleWebSocket)
	r.Get("/ws/admin", routes.Admin.HandleWebSocket)

	if routes.Files != nil {
		r.Get("/files/*", routes.Files.GetFile)
	}
	if routes.Metrics != nil {
		r.Handle("/metrics", routes.Metrics)
	}
	r.Get("/healthz", routes.Health.Healthz)

	return r
}
