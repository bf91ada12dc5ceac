package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tutu-network/memberledger/internal/domain"
)

// ─── History API ────────────────────────────────────────────────────────────
// Mounted only when the server has a History backing store.

const maxListLimit = 1000

// queryLimit parses ?limit=, falling back to def.
func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errInvalidLimit
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

// handleAccountEntries lists ledger entries touching one account.
// GET /api/accounts/{account}/entries
func (s *Server) handleAccountEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 100)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	account := domain.Address(chi.URLParam(r, "account"))
	entries, err := s.history.ListEntries(r.Context(), s.svc.Registry().Address(), account, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": account,
		"entries": entries,
		"count":   len(entries),
	})
}

// handleEntries lists the registry's ledger entries, newest first.
// GET /api/entries
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 100)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	entries, err := s.history.ListEntries(r.Context(), s.svc.Registry().Address(), "", limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleSupplyHistory lists periodic supply snapshots, newest first.
// GET /api/supply/history
func (s *Server) handleSupplyHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 24)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	snaps, err := s.history.ListSupplySnapshots(r.Context(), s.svc.Registry().Address(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": snaps,
		"count":     len(snaps),
	})
}

// handleTraces returns the most recent spans.
// GET /api/traces
func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 50)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	spans := s.tracer.Spans(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"spans": spans,
		"total": s.tracer.SpanCount(),
	})
}

func traceID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
