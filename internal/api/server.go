// Package api provides the operational HTTP server: health, run status, and
// period regeneration. The product-facing query API is served elsewhere;
// this surface exists for operators and schedulers.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/portfolio-performance/internal/logging"
	"github.com/portfolio-performance/internal/models"
	"github.com/portfolio-performance/internal/types"
)

// RunLister reads engine run bookkeeping.
type RunLister interface {
	Latest(ctx context.Context, kind string) (*models.EngineRun, error)
	List(ctx context.Context, limit int) ([]*models.EngineRun, error)
}

// Regenerator rebuilds one scope's consolidated records for a year.
type Regenerator interface {
	RegenerateYear(ctx context.Context, scope types.EntityScope, yearKey string) error
}

// Pinger reports backend reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the operational HTTP server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	runs        RunLister
	regenerator Regenerator
	backends    map[string]Pinger
	config      *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns the default server timeouts.
func DefaultServerConfig(host, port string) *ServerConfig {
	return &ServerConfig{
		Host:            host,
		Port:            port,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// NewServer creates a new operational server. backends maps a display name
// ("postgres", "redis", "clickhouse") to its pinger.
func NewServer(
	config *ServerConfig,
	runs RunLister,
	regenerator Regenerator,
	backends map[string]Pinger,
) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		runs:        runs,
		regenerator: regenerator,
		backends:    backends,
		config:      config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/runs", s.handleListRuns).Methods("GET")
	api.HandleFunc("/runs/latest", s.handleLatestRun).Methods("GET")
	api.HandleFunc("/scopes/{kind}/{id}/years/{year}/regenerate", s.handleRegenerate).Methods("POST")
}

// Router returns the configured router. Used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.GetGlobalLogger().WithField("addr", s.httpServer.Addr).Info("Starting ops server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.GetGlobalLogger().Info("Shutting down ops server")
	return s.httpServer.Shutdown(ctx)
}
