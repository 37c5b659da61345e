// ABOUTME: HTTP server wiring for the messaging API and WebSocket endpoint
// ABOUTME: Routes via gorilla/mux with CORS, serves until context cancellation

package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/evalhub/message-gateway/internal/config"
	"github.com/evalhub/message-gateway/internal/conversation"
	"github.com/evalhub/message-gateway/internal/presence"
)

// Server exposes the messaging API over HTTP and WebSocket.
type Server struct {
	service        *conversation.Service
	registry       *presence.Registry
	allowedOrigins []string
	live           config.LiveConfig
	logger         *slog.Logger
	httpServer     *http.Server
}

// NewServer builds the HTTP server from its dependencies. Pass nil logger
// for default.
func NewServer(cfg *config.Config, service *conversation.Service, registry *presence.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		service:        service,
		registry:       registry,
		allowedOrigins: cfg.Server.AllowedOrigins,
		live:           cfg.Live,
		logger:         logger.With("component", "httpapi"),
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", userIDHeader},
		MaxAge:           300,
		AllowCredentials: true,
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           c.Handler(s.router()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// router configures and returns the HTTP router.
func (s *Server) router() *mux.Router {
	r := mux.NewRouter()

	// REST API
	r.HandleFunc("/api/send", s.handleSend).Methods("POST")
	r.HandleFunc("/api/conversations", s.handleListConversations).Methods("GET")
	r.HandleFunc("/api/conversations/{id}/messages", s.handleConversationMessages).Methods("GET")
	r.HandleFunc("/api/conversations/{id}/read", s.handleMarkRead).Methods("POST")

	// WebSocket
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	// Health - no auth, no CORS concerns
	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	return r
}

// Handler returns the fully wired HTTP handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves HTTP until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
