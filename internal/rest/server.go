package rest

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/KilimcininKorOglu/concord/internal/logging"
)

// ServerConfig holds REST server configuration.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit int
	// RequestTimeout bounds how long a write or transfer waits for the cluster.
	RequestTimeout time.Duration
}

// DefaultServerConfig returns default configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:        ":8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Server is the REST API server.
type Server struct {
	config   *ServerConfig
	logger   logging.Logger
	handlers *Handlers
	router   *Router
	server   *http.Server
	listener net.Listener
}

// NewServer creates a new REST server.
func NewServer(cfg *ServerConfig, be Backend, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		config:   cfg,
		logger:   logger,
		handlers: NewHandlers(be, cfg.RequestTimeout),
		router:   NewRouter(),
	}

	s.setupRoutes()
	s.setupMiddleware()

	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/api/v1/health", s.handlers.HandleHealth)
	s.router.GET("/api/v1/status", s.handlers.HandleStatus)

	s.router.GET("/api/v1/kv", s.handlers.HandleListKeys)
	s.router.GET("/api/v1/kv/{key}", s.handlers.HandleGet)
	s.router.PUT("/api/v1/kv/{key}", s.handlers.HandlePut)
	s.router.DELETE("/api/v1/kv/{key}", s.handlers.HandleDelete)

	s.router.POST("/api/v1/leadership/transfer", s.handlers.HandleTransferLeadership)
}

func (s *Server) setupMiddleware() {
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(LoggingMiddleware(s.logger))

	if s.config.RateLimit > 0 {
		s.router.Use(RateLimitMiddleware(s.config.RateLimit))
	}
}

// Handler returns the router with its middleware.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts serving in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("REST server started", "address", listener.Addr().String())

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", "error", err)
		}
	}()

	return nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// Stop gracefully stops the REST server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	s.logger.Info("REST server stopped")
	return nil
}
