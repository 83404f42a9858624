// Package http exposes the risk-streaming engine over HTTP: live SSE
// streams, single-shot reads, alert management, and operational endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/floodloop/risk-stream/internal/domain"
	"github.com/floodloop/risk-stream/internal/hub"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RiskService is the streaming engine surface the server exposes.
type RiskService interface {
	Subscribe(ctx context.Context, coord domain.Coordinate, interval time.Duration) (*hub.Subscription, error)
	Unsubscribe(sub *hub.Subscription)
	Current(ctx context.Context, coord domain.Coordinate) (domain.RiskSnapshot, error)
	CheckReadiness(ctx context.Context) error
}

// AlertStore persists alert definitions, dedup state, and snapshot history.
type AlertStore interface {
	SaveDefinition(def domain.AlertDefinition)
	Definition(id string) (domain.AlertDefinition, bool)
	DeleteDefinition(id string) bool
	ListDefinitions() []domain.AlertDefinition
	DefinitionsForCity(cityID string) []domain.AlertDefinition
	LastFired() map[string]domain.RiskLevel
	SetLastFired(changed map[string]domain.RiskLevel)
	History(key string, limit int) []domain.RiskSnapshot
}

// Admission decides whether an identity may make another request.
type Admission interface {
	Allow(id string) bool
}

// Server wires the engine's HTTP routes.
type Server struct {
	httpServer *http.Server
	service    RiskService
	alerts     AlertStore
	admission  Admission
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewServer creates the HTTP server with all engine routes registered.
func NewServer(addr string, service RiskService, alerts AlertStore, admission Admission, clock clockwork.Clock, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		service:   service,
		alerts:    alerts,
		admission: admission,
		clock:     clock,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/risk", s.gated(s.handleRisk))
	mux.HandleFunc("GET /v1/score", s.handleScore)
	mux.HandleFunc("GET /v1/stream", s.gated(s.handleStream))
	mux.HandleFunc("GET /v1/history", s.handleHistory)
	mux.HandleFunc("GET /v1/flood-history", s.handleFloodHistory)

	mux.HandleFunc("GET /v1/alerts", s.handleListAlerts)
	mux.HandleFunc("POST /v1/alerts", s.handleCreateAlert)
	mux.HandleFunc("DELETE /v1/alerts/{id}", s.handleDeleteAlert)
	mux.HandleFunc("GET /v1/alerts/check/{cityID}", s.gated(s.handleCheckAlerts))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.service.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// gated wraps a handler with per-identity admission control.
func (s *Server) gated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.admission.Allow(identity(r)) {
			writeError(w, http.StatusTooManyRequests, domain.ErrRateLimited.Error())
			return
		}
		next(w, r)
	}
}

// identity resolves the caller: the X-API-Key header when present, otherwise
// the client IP.
func identity(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the error taxonomy onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCoordinate):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrUpstreamRejected):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, domain.ErrUpstreamUnavailable), errors.Is(err, domain.ErrInvalidObservation):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
