// Package api provides the HTTP server for the membership ledger.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tutu-network/memberledger/internal/app/membership"
	"github.com/tutu-network/memberledger/internal/domain"
	"github.com/tutu-network/memberledger/internal/infra/observability"
)

// Version is reported by /api/status.
const Version = "0.1.0"

// History serves stored ledger entries and supply snapshots.
type History interface {
	ListEntries(ctx context.Context, registry, account domain.Address, limit int) ([]domain.LedgerEntry, error)
	ListSupplySnapshots(ctx context.Context, registry domain.Address, limit int) ([]domain.SupplySnapshot, error)
}

// Server is the membership ledger HTTP API server.
type Server struct {
	svc            *membership.Service
	history        History
	tracer         *observability.Tracer
	logger         *zap.Logger
	validate       *requestValidator
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(svc *membership.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:      svc,
		logger:   logger.Named("api"),
		validate: newRequestValidator(),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHistory enables the entry and snapshot history endpoints.
func (s *Server) SetHistory(h History) { s.history = h }

// SetTracer exposes recorded spans on /api/traces.
func (s *Server) SetTracer(t *observability.Tracer) { s.tracer = t }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)
	r.Use(traceMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Get("/api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "memberledger is running",
			"version":  Version,
			"registry": s.svc.Registry().Address().String(),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/registry", s.handleRegistry)
		r.Get("/supply", s.handleSupply)

		r.Post("/members", s.handleJoin)
		r.Post("/rewards", s.handleReward)
		r.Post("/rewards/dual", s.handleDualReward)
		r.Post("/fees", s.handleDepositFee)

		r.Get("/accounts/{account}", s.handleAccount)
		r.Get("/certificates/{id}", s.handleCertificate)
		r.Put("/certificates/{id}/level", s.handleUpdateLevel)

		if s.history != nil {
			r.Get("/accounts/{account}/entries", s.handleAccountEntries)
			r.Get("/entries", s.handleEntries)
			r.Get("/supply/history", s.handleSupplyHistory)
		}
		if s.tracer != nil {
			r.Get("/traces", s.handleTraces)
		}
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    kind,
		},
	})
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// traceMiddleware makes the request id the trace id of every span the
// request produces.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(observability.WithTraceID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
