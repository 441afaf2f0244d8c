// Package api exposes the board store, listener registry, event queue and
// processor over HTTP for administration. It is optional: the server only
// runs when enabled in configuration.
package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kanbus/kanbus/internal/board"
	"github.com/kanbus/kanbus/internal/events"
	"github.com/kanbus/kanbus/internal/listener"
	"github.com/kanbus/kanbus/internal/log"
	"github.com/kanbus/kanbus/internal/processor"
)

// Config holds API server settings.
type Config struct {
	Listen string
	// APIKey, when set, is required as a bearer token on every route
	// except /healthz.
	APIKey string
}

// Server is the HTTP admin surface.
type Server struct {
	config    Config
	store     *board.Store
	queue     *events.Queue
	registry  *listener.Registry
	proc      *processor.Processor
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

func New(config Config, store *board.Store, queue *events.Queue, registry *listener.Registry, proc *processor.Processor) *Server {
	return &Server{
		config:    config,
		store:     store,
		queue:     queue,
		registry:  registry,
		proc:      proc,
		logger:    log.WithComponent("api"),
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/v1/boards", s.handleEnsureBoard)
		r.Route("/v1/boards/{boardID}", func(r chi.Router) {
			r.Get("/columns", s.handleListColumns)
			r.Post("/columns", s.handleAddColumn)
			r.Get("/cards", s.handleListCards)
			r.Post("/cards", s.handleAddCard)
			r.Get("/cards/search", s.handleSearchCards)
			r.Post("/cards/{cardID}/move", s.handleMoveCard)
			r.Patch("/cards/{cardID}", s.handleUpdateCard)
			r.Get("/listeners", s.handleListListeners)
			r.Post("/listeners", s.handleRegisterListener)
			r.Get("/events", s.handleListEvents)
			r.Post("/events", s.handleInjectEvent)
			r.Post("/process", s.handleProcess)
		})
		r.Delete("/v1/listeners/{listenerID}", s.handleDeactivateListener)
		r.Post("/v1/events/{eventID}/retry", s.handleRetryEvent)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware enforces the configured bearer token. With no key
// configured the API is open; bind it to loopback in that case.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" || !constantTimeEqual(token, s.config.APIKey) {
			s.writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
