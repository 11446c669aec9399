package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkpoint-capture/internal/camera"
	"checkpoint-capture/internal/config"
	"checkpoint-capture/internal/handlers"
	"checkpoint-capture/internal/metrics"
	"checkpoint-capture/internal/relay"
	"checkpoint-capture/internal/repository"
	"checkpoint-capture/internal/services"
	"checkpoint-capture/internal/storage"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	configPath := os.Getenv("CHECKPOINT_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	ctx := context.Background()
	scheme := cfg.Scheme()
	metrics.Register()

	// Record store
	var records repository.RecordStore
	switch cfg.Records.Driver {
	case "postgres":
		db, err := pgxpool.New(ctx, cfg.Records.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to ping database")
		}
		log.Info().Msg("Database connection established")

		store := repository.NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare records schema")
		}
		records = store
	default:
		log.Warn().Msg("Using in-memory record store; submissions are lost on restart")
		records = repository.NewMemoryStore()
	}

	// Blob store
	var blobs storage.BlobStore
	var files *handlers.FileHandler
	switch cfg.Storage.Driver {
	case "s3":
		store, err := storage.NewS3Store(ctx, storage.S3Options{
			Region:        cfg.Storage.AWS.Region,
			Bucket:        cfg.Storage.AWS.S3Bucket,
			AccessKey:     cfg.Storage.AWS.AccessKey,
			SecretKey:     cfg.Storage.AWS.SecretKey,
			Endpoint:      cfg.Storage.AWS.Endpoint,
			PublicBaseURL: cfg.Storage.AWS.PublicBaseURL,
			URLExpiry:     cfg.Storage.AWS.URLExpiry,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 store")
		}
		blobs = store
	case "local":
		store, err := storage.NewLocalStore(cfg.Storage.Local.Dir, cfg.BaseURL(), cfg.Storage.Local.Secret)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create local store")
		}
		blobs = store
		files = handlers.NewFileHandler(store)
	default:
		log.Warn().Msg("Using in-memory blob store; images are lost on restart")
		store := storage.NewMemoryStore(cfg.BaseURL() + "/files")
		blobs = store
		files = handlers.NewMemoryFileHandler(store)
	}

	// Camera
	var device camera.Device = camera.None{}
	if cfg.Camera.SnapshotURL != "" {
		device = camera.NewExclusive(camera.NewSnapshotDevice(cfg.Camera.SnapshotURL, cfg.Camera.Timeout))
	} else {
		log.Warn().Msg("No camera configured; capture screens can only pick files")
	}

	// Signal
	storeSignal := services.NewStoreSignal(records)
	var signalWriter services.SignalWriter = storeSignal
	if cfg.Relay.Enabled {
		publisher, err := relay.NewPublisher(cfg.Relay.URL, cfg.Relay.Exchange, cfg.Relay.RoutingKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect signal relay")
		}
		defer publisher.Close()
		signalWriter = services.NewRelayedSignal(storeSignal, publisher)
	}

	// Admin push alerts
	var observer services.SubmissionObserver
	if cfg.APNS.Enabled {
		notifier, err := services.NewPushNotifier(cfg.APNS, scheme)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create push notifier")
		}
		observer = notifier
	}

	hub := services.NewSessionHub()

	// Initialize handlers
	router := handlers.NewRouter(handlers.Routes{
		Capture:     handlers.NewCaptureHandler(hub, device, blobs, records, scheme, observer),
		Admin:       handlers.NewAdminHandler(hub, records, signalWriter, scheme),
		Submissions: handlers.NewSubmissionHandler(blobs, records, scheme, observer),
		Signal:      handlers.NewSignalHandler(signalWriter, storeSignal),
		Health:      handlers.NewHealthHandler(hub),
		Files:       files,
		Metrics:     promhttp.Handler(),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Str("variant", scheme.Name).
			Str("records", cfg.Records.Driver).
			Str("storage", cfg.Storage.Driver).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not closed by Shutdown
	hub.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
