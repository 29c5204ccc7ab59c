// Package server provides the HTTP server and routing for the rebalancer.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/di"
	portfoliohandlers "github.com/aristath/rebalancer/internal/modules/portfolio/handlers"
	priceshandlers "github.com/aristath/rebalancer/internal/modules/prices/handlers"
	rebalancinghandlers "github.com/aristath/rebalancer/internal/modules/rebalancing/handlers"
	signalshandlers "github.com/aristath/rebalancer/internal/modules/signals/handlers"
	snapshotshandlers "github.com/aristath/rebalancer/internal/modules/snapshots/handlers"
	tradinghandlers "github.com/aristath/rebalancer/internal/modules/trading/handlers"
)

// RequestTimeout bounds every HTTP request, including a synchronous rebalance
const RequestTimeout = 60 * time.Second

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Config    *config.Config
	Container *di.Container // DI container with all services
	Version   string
	Port      int
	DevMode   bool
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	container      *di.Container
	systemHandlers *SystemHandlers
	version        string
	port           int
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg.Config,
		container: cfg.Container,
		version:   cfg.Version,
		port:      cfg.Port,
	}

	s.systemHandlers = NewSystemHandlers(
		cfg.Log,
		cfg.Version,
		cfg.Container.Databases(),
		cfg.Container.RunLock,
		cfg.Container.Scheduler,
	)

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	// WriteTimeout leaves room for a synchronous rebalance behind the request timeout
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(RequestTimeout))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleRoot)
	s.router.Get("/health", s.handleHealth)

	secret := s.cfg.CronSecretKey
	c := s.container

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/system/status", s.systemHandlers.HandleSystemStatus)

		// Rebalance trigger and run history
		rebalancinghandlers.NewHandler(c.Runner, c.RunRepo, secret, s.log).RegisterRoutes(r)

		// Signal ingestion
		signalshandlers.NewHandler(c.SignalRepo, secret, s.log).RegisterRoutes(r)

		// Portfolio, trades, snapshots
		portfoliohandlers.NewHandler(c.PortfolioRepo, c.PerformanceService, s.log).RegisterRoutes(r)
		tradinghandlers.NewHandler(c.TradeRepo, s.log).RegisterRoutes(r)
		snapshotshandlers.NewHandler(c.SnapshotRepo, s.log).RegisterRoutes(r)

		// Price history
		priceshandlers.NewHandler(c.PriceHistory, secret, s.log).RegisterRoutes(r)
	})

	if secret == "" {
		s.log.Warn().Msg("CRON_SECRET_KEY is not set, protected endpoints reject every request")
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
