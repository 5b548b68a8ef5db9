// Package api exposes the scheduling application over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	APIKey       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Handlers groups the per-context HTTP handlers the server mounts.
type Handlers struct {
	Appointments *AppointmentHandler
	Availability *AvailabilityHandler
	Connections  *ConnectionHandler
	Sync         *SyncHandler
	Transfer     *TransferHandler
}

// Server is the HTTP API server.
type Server struct {
	router chi.Router
	server *http.Server
	logger *slog.Logger
}

// NewServer creates the API server and mounts all routes.
func NewServer(cfg ServerConfig, h Handlers, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	r.Get("/health", handleHealth)

	r.Route("/api/calendar/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(APIKeyMiddleware(cfg.APIKey))
		}

		if h.Appointments != nil {
			r.Post("/appointments", h.Appointments.Book)
			r.Get("/appointments", h.Appointments.List)
			r.Get("/appointments/{id}", h.Appointments.Get)
			r.Post("/appointments/{id}/reschedule", h.Appointments.Reschedule)
			r.Post("/appointments/{id}/cancel", h.Appointments.Cancel)
			r.Post("/blocked-time", h.Appointments.BlockTime)
		}

		if h.Availability != nil {
			r.Post("/availability/slots", h.Availability.Create)
			r.Get("/availability/slots", h.Availability.List)
			r.Post("/availability/slots/{id}/retry", h.Availability.Retry)
			r.Post("/availability/slots/{id}/resolve", h.Availability.ResolveConflict)
			r.Delete("/availability/slots/{id}", h.Availability.Delete)
		}

		if h.Connections != nil {
			r.Get("/connections", h.Connections.List)
			r.Post("/connections/{id}/deactivate", h.Connections.Deactivate)
		}

		if h.Sync != nil {
			r.Post("/sync", h.Sync.Trigger)
			r.Get("/conflicts", h.Sync.ListConflicts)
			r.Post("/conflicts/{id}/resolve", h.Sync.ResolveConflict)
		}

		if h.Transfer != nil {
			r.Post("/export", h.Transfer.Export)
			r.Post("/import", h.Transfer.Import)
		}
	})

	s := &Server{
		router: r,
		logger: logger,
	}
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the API server. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
