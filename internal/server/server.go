// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware, and routes,
// and decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  sqlite.DB ─────────────┬→ services (accounts, friends, groups, messages, reads)
//	  push.Hub ─→ [push.Broker when Redis is configured] ─→ delivery.Router ─┘
//	  storage.Local | storage.S3 ─→ UploadHandler
//
// This is the "composition root" pattern: all dependencies are wired
// in one place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/MsAiBoWithStar/linkin-chat/internal/auth"
	"github.com/MsAiBoWithStar/linkin-chat/internal/config"
	"github.com/MsAiBoWithStar/linkin-chat/internal/delivery"
	"github.com/MsAiBoWithStar/linkin-chat/internal/handler"
	"github.com/MsAiBoWithStar/linkin-chat/internal/middleware"
	"github.com/MsAiBoWithStar/linkin-chat/internal/push"
	sqliteRepo "github.com/MsAiBoWithStar/linkin-chat/internal/repository/sqlite"
	"github.com/MsAiBoWithStar/linkin-chat/internal/service"
	"github.com/MsAiBoWithStar/linkin-chat/internal/storage"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection, the Redis client and the broker
// subscription. Close releases all of them; Start calls it on shutdown.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger

	db     *sqliteRepo.DB
	redis  *redis.Client // nil without REDIS_ADDR
	broker *push.Broker  // nil without REDIS_ADDR
	hub    *push.Hub
	files  storage.Storage
	tokens *auth.TokenService
}

// New creates a Server from cfg. ctx bounds the startup work that talks to
// other systems (Redis subscribe, bucket check).
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.init(ctx); err != nil {
		s.Close() // Clean up whatever was opened before the failure
		return nil, err
	}
	return s, nil
}

func (s *Server) init(ctx context.Context) error {
	tokens, err := auth.NewTokenService(s.config.JWTSecret, s.config.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	s.tokens = tokens

	s.files, err = s.openStorage(ctx)
	if err != nil {
		return err
	}

	// === PUSH PATH ===
	// Single instance: Router → Hub.
	// With Redis:      Router → Broker → Redis → every instance's Broker → Hub.
	s.hub = push.NewHub(tokens, s.config.WSOriginPatterns, s.logger)
	var pusher delivery.Pusher = s.hub
	if s.config.Redis.Enabled() {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     s.config.Redis.Addr,
			Password: s.config.Redis.Password,
			DB:       s.config.Redis.DB,
		})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis at %s: %w", s.config.Redis.Addr, err)
		}
		s.broker = push.NewBroker(s.redis, s.config.Redis.Channel, s.hub, s.logger)
		if err := s.broker.Start(ctx); err != nil {
			return fmt.Errorf("starting push broker: %w", err)
		}
		pusher = s.broker
		s.logger.Info("push fan-out through redis", slog.String("channel", s.config.Redis.Channel))
	}

	s.setupRoutes(delivery.NewRouter(s.db, pusher, s.logger))
	return nil
}

func (s *Server) openStorage(ctx context.Context) (storage.Storage, error) {
	if s.config.S3.Enabled() {
		st, err := storage.NewS3Storage(storage.S3Config{
			Endpoint:  s.config.S3.Endpoint,
			Region:    s.config.S3.Region,
			Bucket:    s.config.S3.Bucket,
			AccessKey: s.config.S3.AccessKey,
			SecretKey: s.config.S3.SecretKey,
			UseSSL:    s.config.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("creating object storage: %w", err)
		}
		if err := st.EnsureBucket(ctx, s.config.S3.Region); err != nil {
			return nil, fmt.Errorf("preparing object storage: %w", err)
		}
		s.logger.Info("uploads stored in bucket", slog.String("bucket", s.config.S3.Bucket))
		return st, nil
	}

	st, err := storage.NewLocalStorage(s.config.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return st, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /api/register, /api/login          → accounts (public)
// GET    /auth/github/login, /callback      → GitHub sign-in (when configured)
// POST   /auth/logout                       → clear cookie
// GET    /ws                                → push sessions (authenticates itself)
// GET    /files/*                           → stored uploads
// *      /api/...                           → everything else, behind RequireAuth
//
// MIDDLEWARE ORDER MATTERS:
// Middleware executes in the order it's added:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request with timing info and the request ID
// 4. Recoverer: catches panics and returns 500 instead of crashing
func (s *Server) setupRoutes(notify service.Notifier) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	// === SERVICES ===
	// Every service receives the store interface and the notifier, never
	// the concrete DB or the hub.
	accounts := service.NewAccountService(s.db, s.tokens, auth.NewPasswordService(), notify, s.logger)
	friends := service.NewFriendService(s.db, notify, s.logger)
	groups := service.NewGroupService(s.db, notify, s.logger)
	messages := service.NewMessageService(s.db, notify, s.logger)
	reads := service.NewReadService(s.db, s.logger)

	// === HANDLERS ===
	var github *auth.GitHubProvider
	if s.config.GitHub.Enabled() {
		github = auth.NewGitHubProvider(s.config.GitHub.ClientID, s.config.GitHub.ClientSecret, s.config.GitHub.CallbackURL)
	}
	authHandler := handler.NewAuthHandler(accounts, github, s.config.TokenTTL, s.logger)
	friendHandler := handler.NewFriendHandler(friends, s.logger)
	groupHandler := handler.NewGroupHandler(groups, accounts, s.logger)
	messageHandler := handler.NewMessageHandler(messages, reads, accounts, s.logger)
	uploadHandler := handler.NewUploadHandler(s.files, s.config.MaxUploadBytes(), s.logger)

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// === Auth Routes ===
	s.router.Route("/auth", func(r chi.Router) {
		if github != nil {
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
		}
		r.Post("/logout", authHandler.HandleLogout)
	})

	s.router.Handle("/ws", s.hub)
	s.router.Get("/files/*", uploadHandler.HandleServe)

	// === API Routes ===
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(s.tokens))

			r.Get("/me", authHandler.HandleMe)
			r.Put("/profile", authHandler.HandleUpdateProfile)
			r.Get("/users/search", friendHandler.HandleSearchUsers)

			r.Get("/friends", friendHandler.HandleList)
			r.Post("/friends", friendHandler.HandleAdd)
			r.Delete("/friends/{friendID}", friendHandler.HandleRemove)

			r.Route("/messages", func(r chi.Router) {
				r.Post("/private", messageHandler.HandleSendPrivate)
				r.Get("/private/{peerID}", messageHandler.HandleListPrivate)
				r.Post("/group", messageHandler.HandleSendGroup)
				r.Get("/group/{groupID}", messageHandler.HandleListGroup)
				r.Get("/search", messageHandler.HandleSearch)
				r.Get("/unread", messageHandler.HandleUnreadSummary)
				r.Get("/unread/{chatType}/{chatID}", messageHandler.HandleUnreadCount)
				r.Post("/read", messageHandler.HandleMarkRead)
			})

			r.Route("/groups", func(r chi.Router) {
				r.Get("/", groupHandler.HandleList)
				r.Post("/", groupHandler.HandleCreate)
				r.Delete("/{groupID}", groupHandler.HandleDissolve)
				r.Get("/{groupID}/members", groupHandler.HandleMembers)
				r.Post("/{groupID}/invite", groupHandler.HandleInvite)
				r.Post("/{groupID}/kick", groupHandler.HandleKick)
				r.Put("/{groupID}/members/{userID}/role", groupHandler.HandleSetRole)
			})

			r.Post("/upload", uploadHandler.HandleUpload)
		})
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases everything New opened. It is safe to call on a partially
// built Server.
func (s *Server) Close() {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.broker != nil {
		s.broker.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("closing redis failed", slog.String("error", err.Error()))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("closing database failed", slog.String("error", err.Error()))
		}
	}
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Send every WebSocket session a going-away close, stop the broker,
//    close Redis and the database
//
// WebSocket sessions are hijacked connections, which Shutdown does not wait
// for, so the hub closes them itself.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
