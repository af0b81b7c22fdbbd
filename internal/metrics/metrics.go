package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Expiry engine metrics
	ExpiryRunTotal       *prometheus.CounterVec
	ExpiryRunDuration    *prometheus.HistogramVec
	NotificationsEmitted *prometheus.CounterVec

	// AI provider metrics
	AICallTotal    *prometheus.CounterVec
	AICallDuration *prometheus.HistogramVec

	// Email delivery metrics
	EmailDeliveryTotal *prometheus.CounterVec

	// Claim lifecycle metrics
	ClaimTransitionTotal *prometheus.CounterVec
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics creates a new Metrics instance with all required metrics
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		ExpiryRunTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expiry_runs_total",
			Help: "Total number of expiry check runs",
		}, []string{"scope", "status"}),

		ExpiryRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "expiry_run_duration_seconds",
			Help:    "Expiry check run duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"scope"}),

		NotificationsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_emitted_total",
			Help: "Total number of expiry notifications created, by alert kind",
		}, []string{"kind"}),

		AICallTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ai_calls_total",
			Help: "Total number of AI provider calls",
		}, []string{"operation", "status"}),

		AICallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ai_call_duration_seconds",
			Help:    "AI provider call duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"operation"}),

		EmailDeliveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "email_deliveries_total",
			Help: "Total number of email delivery attempts",
		}, []string{"purpose", "status"}),

		ClaimTransitionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claim_transitions_total",
			Help: "Total number of claim status transitions",
		}, []string{"from", "to"}),
	}

	registerMetrics(m)

	globalMetrics = m

	return m
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.ExpiryRunTotal)
	registerOrGet(m.ExpiryRunDuration)
	registerOrGet(m.NotificationsEmitted)
	registerOrGet(m.AICallTotal)
	registerOrGet(m.AICallDuration)
	registerOrGet(m.EmailDeliveryTotal)
	registerOrGet(m.ClaimTransitionTotal)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
