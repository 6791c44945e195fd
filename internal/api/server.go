package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corridorsec/harrier/internal/domain"
	"github.com/corridorsec/harrier/internal/policy"
	"github.com/corridorsec/harrier/internal/profile"
	"github.com/corridorsec/harrier/internal/scoring"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(
	cfg domain.ServerConfig,
	engine *scoring.Engine,
	profiles *profile.Repository,
	policies *policy.Engine,
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	sink domain.MonitoringSink,
	velocity domain.VelocityObserver,
	version string,
) *Server {
	handler := NewHandler(engine, profiles, policies, repo, cache, bus, sink, velocity, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and metrics
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	// Scoring
	router.Post("/score", handler.Score)
	router.Post("/score/async", handler.ScoreAsync)
	router.Get("/results/{id}", handler.GetResult)

	// Profile management
	router.Get("/profiles", handler.ListProfiles)
	router.Get("/profiles/{corridor}", handler.GetProfile)
	router.Get("/profiles/{corridor}/versions", handler.ListProfileVersions)
	router.Post("/profiles", handler.PublishProfile)
	router.Post("/profiles/reload", handler.ReloadProfiles)

	// Policy rule management
	router.Get("/policies", handler.ListPolicies)
	router.Post("/policies", handler.CreatePolicy)
	router.Post("/policies/reload", handler.ReloadPolicies)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
