package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks trade operations by name and outcome kind ("ok" or an error kind).
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_operations_total",
			Help: "Total number of trade operations by operation and result.",
		},
		[]string{"operation", "result"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trade_operation_duration_seconds",
			Help:    "Duration of trade operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"operation"},
	)

	// Funds moved through escrow, by currency and direction (blocked | released | deposited).
	EscrowAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_amount_total",
			Help: "Sum of amounts moved through escrow.",
		},
		[]string{"currency", "direction"},
	)

	// Outbound HTTP calls (FX rates provider).
	OutboundRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_requests_total",
			Help: "Total number of outbound HTTP requests by service and status.",
		},
		[]string{"service", "status"},
	)

	OutboundRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outbound_request_duration_seconds",
			Help:    "Duration of outbound HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"service"},
	)

	// Events handed to external buses by sink and result.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_events_published_total",
			Help: "Total number of trade events delivered to external sinks.",
		},
		[]string{"sink", "result"}, // result = "ok" | "error"
	)

	EventPublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trade_event_publish_latency_seconds",
			Help:    "Time taken to publish a trade event.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	// Tracks cache hits and misses for the API key cache.
	AuthCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_cache_access_total",
			Help: "Number of cache hits/misses when resolving API keys.",
		},
		[]string{"result"}, // hit | miss
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests by route and status code.",
		},
		[]string{"route", "method", "status"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_errors_total",
			Help: "Count of service-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	LedgerViolations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_audit_violations",
			Help: "Number of wallet invariant violations found by the last ledger audit.",
		},
	)

	LastAuditTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_last_audit_timestamp",
			Help: "Timestamp (unix seconds) of the last completed ledger audit.",
		},
	)
)

// ObserveDuration records the time taken for a function and updates the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	}
}

// IncOperation counts one trade operation. result is "ok" or the failure kind.
func IncOperation(operation, result string) {
	OperationsTotal.WithLabelValues(operation, result).Inc()
}

func AddEscrow(currency, direction string, amount float64) {
	EscrowAmountTotal.WithLabelValues(currency, direction).Add(amount)
}

// ObserveOutbound records one outbound HTTP attempt. status 0 means a transport error.
func ObserveOutbound(service string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	OutboundRequestsTotal.WithLabelValues(service, label).Inc()
	OutboundRequestDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}

func IncEventPublished(sink, result string) {
	EventsPublishedTotal.WithLabelValues(sink, result).Inc()
}

func IncCacheHit(result string) {
	AuthCacheHits.WithLabelValues(result).Inc()
}

func IncHTTPRequest(route, method string, status int) {
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLedgerAudit(violations int, t time.Time) {
	LedgerViolations.Set(float64(violations))
	LastAuditTimestamp.Set(float64(t.Unix()))
}
