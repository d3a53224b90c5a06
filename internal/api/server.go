// Package api exposes the repricer's HTTP surface: health, metrics, the
// status read model, and the monitoring/confirmation operations.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"marketplace-repricer/internal/metrics"
	"marketplace-repricer/internal/monitor"
	"marketplace-repricer/internal/storage"
)

// Options configure the HTTP server.
type Options struct {
	ListenAddr     string
	RequestTimeout time.Duration
}

// Server wires the monitor service and the stores into HTTP handlers.
type Server struct {
	svc      *monitor.Service
	attempts storage.AttemptStore
	settings storage.SettingsStore
	logger   zerolog.Logger
	opts     Options
}

// NewServer constructs the API server.
func NewServer(svc *monitor.Service, attempts storage.AttemptStore, settings storage.SettingsStore, opts Options, logger zerolog.Logger) *Server {
	if opts.ListenAddr == "" {
		opts.ListenAddr = ":8080"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Server{
		svc:      svc,
		attempts: attempts,
		settings: settings,
		logger:   logger.With().Str("component", "api").Logger(),
		opts:     opts,
	}
}

// Router builds the chi router with the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))
	r.Use(metrics.Middleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/subscriptions", s.handleListSubscriptions)
		r.Get("/attempts", s.handleListAttempts)

		r.Route("/products/{productID}", func(r chi.Router) {
			r.Post("/monitor", s.handleStartMonitoring)
			r.Delete("/monitor", s.handleStopMonitoring)
			r.Post("/apply", s.handleApplyManual)
			r.Get("/attempts", s.handleProductAttempts)
			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handlePutSettings)
		})

		r.Route("/attempts/{attemptID}", func(r chi.Router) {
			r.Post("/confirm", s.handleConfirmAttempt)
			r.Post("/reject", s.handleRejectAttempt)
		})
	})

	return r
}

// NewHTTPServer returns an http.Server bound to the configured address.
// The caller owns its lifecycle and shutdown.
func (s *Server) NewHTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
