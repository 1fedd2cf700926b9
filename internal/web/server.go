// Package web provides the HTTP boundary layer for the play-history tracker.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	spotifyauth "github.com/zmb3/spotify/v2/auth"

	"github.com/eklykti/go-spotify-playtime/internal/spotify"
	"github.com/eklykti/go-spotify-playtime/internal/worker"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr        string
	Auth        *spotifyauth.Authenticator
	API         *spotify.Client
	Registry    *worker.Registry
	Credentials CredentialStore
	JWTSecret   []byte
	Logger      zerolog.Logger
}

// Server is the HTTP server exposing login, callback and worker control.
type Server struct {
	router   chi.Router
	server   *http.Server
	handlers *Handlers
	log      zerolog.Logger
}

// NewServer creates a new web server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("web: registry is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, errors.New("web: JWT secret is required")
	}

	handlers := NewHandlers(cfg.Auth, cfg.API, cfg.Registry, cfg.Credentials, cfg.JWTSecret, cfg.Logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/login", handlers.Login)
	router.Get("/callback", handlers.Callback)
	router.Get("/status", handlers.Status)

	router.Group(func(r chi.Router) {
		r.Use(handlers.requireUser)
		r.Get("/status/{id}", handlers.UserStatus)
		r.Post("/workers/{id}/pause", handlers.PauseWorker)
		r.Post("/workers/{id}/resume", handlers.ResumeWorker)
	})

	s := &Server{
		router:   router,
		handlers: handlers,
		log:      cfg.Logger,
	}

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the configured router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Run starts the server and handles graceful shutdown on interrupt signals.
func (s *Server) Run() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		s.log.Info().Msg("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.log.Info().Msg("server stopped")
	return nil
}
