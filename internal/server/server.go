package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/akram-events/apiserver/config"
	"github.com/akram-events/apiserver/internal/clock"
	"github.com/akram-events/apiserver/internal/db"
	"github.com/akram-events/apiserver/internal/handlers"
	"github.com/akram-events/apiserver/internal/mailer"
	"github.com/akram-events/apiserver/internal/mq"
	"github.com/akram-events/apiserver/internal/services"
	"github.com/akram-events/apiserver/internal/storage"
	"github.com/akram-events/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	closers    []io.Closer
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		_ = dbConn.Close()
		return nil, errors.New("JWT_SECRET is required")
	}

	var closers []io.Closer

	resetMailer, mailCloser, err := buildMailer(ctx, cfg.Mail)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	if mailCloser != nil {
		closers = append(closers, mailCloser)
	}

	posterStore, err := buildStorage(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	eventRepo := store.NewEventRepository(dbConn)

	clk := clock.NewSystem()
	userService := services.NewUserService(userRepo)
	eventService := services.NewEventService(eventRepo, clk)
	resetService := services.NewResetService(
		userRepo,
		resetMailer,
		clk,
		services.WithResetTokenTTL(cfg.Auth.ResetTokenTTL),
	)

	authHandler := handlers.NewAuthHandler(
		userService,
		resetService,
		jwtSecret,
		handlers.WithTokenTTL(cfg.Auth.TokenTTL),
		handlers.WithClearResetOnLogin(cfg.Auth.ClearResetOnLogin),
	)
	eventHandler := handlers.NewEventHandler(eventService, posterStore)
	authMiddleware := handlers.RequireAuth(jwtSecret)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.NotFound(handlers.NotFound)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/api/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
	})
	router.Route("/api/events", func(r chi.Router) {
		handlers.EventRouter(r, eventHandler, authMiddleware)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		closers:    closers,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	for _, closer := range s.closers {
		_ = closer.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}

func buildMailer(ctx context.Context, cfg config.MailConfig) (services.ResetMailer, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "rabbitmq":
		client, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, nil, err
		}
		queueMailer := mailer.NewQueueMailer(client, cfg)
		return queueMailer, queueMailer, nil
	case "pubsub":
		client, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, nil, err
		}
		queueMailer := mailer.NewQueueMailer(client, cfg)
		return queueMailer, queueMailer, nil
	case "smtp":
		smtpMailer, err := mailer.NewSMTPMailer(cfg)
		if err != nil {
			return nil, nil, err
		}
		return smtpMailer, nil, nil
	case "noop", "":
		return mailer.NoopMailer{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown mail backend %q", cfg.Backend)
	}
}

func buildStorage(ctx context.Context, cfg config.StorageConfig) (*storage.Storage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "minio":
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		posterStore := storage.NewStorage(client)
		if err := posterStore.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return posterStore, nil
	case "gcs":
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		posterStore := storage.NewStorage(client)
		if err := posterStore.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return posterStore, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
