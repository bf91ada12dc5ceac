// Package observability provides tracing, metrics and logging for the
// membership ledger.
//
// This provides:
//   - Trace spans around registry operations (mint, reward, deposit)
//   - Request-scoped trace IDs propagated from the HTTP layer
//   - Prometheus metrics for supply, issuance and authorization failures
//   - A zap logger factory shared by the daemon and CLI
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Trace Spans: lightweight span tracking kept in memory for inspection
// ═══════════════════════════════════════════════════════════════════════════

// Span represents one registry operation.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// ─── Tracer ─────────────────────────────────────────────────────────────────

// Tracer records finished spans in a bounded in-memory buffer.
// A nil *Tracer is valid and records nothing.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 10_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 10_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.MaxSpans <= 0 {
		cfg.MaxSpans = DefaultTracerConfig().MaxSpans
	}
	return &Tracer{
		spans:    make([]Span, 0, min(cfg.MaxSpans, 1024)),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a new span with the given operation name.
// Returns the span (caller must call EndSpan when done).
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) *Span {
	if t == nil || !t.enabled {
		return &Span{Operation: operation}
	}

	return &Span{
		TraceID:   traceIDFromContext(ctx),
		SpanID:    uuid.NewString(),
		ParentID:  spanIDFromContext(ctx),
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if t == nil || !t.enabled || span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
		TraceErrors.Inc()
	}
	TracesRecorded.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the most recent spans.
func (t *Tracer) Spans(limit int) []Span {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}

	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const (
	traceIDKey contextKey = "memberledger-trace-id"
	spanIDKey  contextKey = "memberledger-span-id"
)

// WithTraceID returns a context with the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithSpanID returns a context with the given span ID.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

func traceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return uuid.NewString()
}

func spanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(spanIDKey).(string); ok {
		return v
	}
	return ""
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Issuance Metrics ───────────────────────────────────────────────────────

// CreditsMinted tracks credits minted by resource kind and task.
var CreditsMinted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "memberledger",
	Subsystem: "issuance",
	Name:      "credits_minted_total",
	Help:      "Total credits minted by resource kind and task.",
}, []string{"kind", "task"})

// CertificatesIssued tracks membership certificates minted.
var CertificatesIssued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "memberledger",
	Subsystem: "issuance",
	Name:      "certificates_issued_total",
	Help:      "Total membership certificates minted.",
})

// AuthorizationDenied tracks aborted operations by operation name.
var AuthorizationDenied = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "memberledger",
	Subsystem: "issuance",
	Name:      "authorization_denied_total",
	Help:      "Total operations aborted for lack of authorization.",
}, []string{"operation"})

// ─── Fee Metrics ────────────────────────────────────────────────────────────

// FeeDeposited tracks settlement units added to the fee reserve.
var FeeDeposited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "memberledger",
	Subsystem: "fees",
	Name:      "deposited_total",
	Help:      "Total settlement units deposited into the fee reserve.",
})

// ─── Supply Gauges ──────────────────────────────────────────────────────────

// Supply tracks the latest snapshotted total supply per resource kind.
var Supply = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "memberledger",
	Subsystem: "supply",
	Name:      "total",
	Help:      "Total supply per resource kind at the last snapshot.",
}, []string{"kind"})

// FeeReserve tracks the fee reserve at the last snapshot.
var FeeReserve = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "memberledger",
	Subsystem: "fees",
	Name:      "reserve",
	Help:      "Fee reserve balance at the last snapshot.",
})

// ─── Trace Metrics ──────────────────────────────────────────────────────────

// TracesRecorded tracks total spans recorded.
var TracesRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "memberledger",
	Subsystem: "traces",
	Name:      "spans_recorded_total",
	Help:      "Total trace spans recorded.",
})

// TraceErrors tracks error spans.
var TraceErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "memberledger",
	Subsystem: "traces",
	Name:      "error_spans_total",
	Help:      "Total trace spans with error status.",
})
