// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Engine metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	StreamsCreated    *prometheus.CounterVec
	ValueMoved        *prometheus.CounterVec
	InterestRealized  *prometheus.CounterVec

	// Event metrics
	EventsPublished *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec
	WSClients       prometheus.Gauge

	// Oracle metrics
	OracleCallLatency *prometheus.HistogramVec
	OracleErrors      *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulOperation prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "token_stream_ledger"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Total number of engine operations by name and status",
		}, []string{"operation", "status"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		StreamsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "streams_created_total",
			Help:      "Total number of streams created by kind",
		}, []string{"kind"}),
		ValueMoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "value_moved_total",
			Help:      "Token base units moved through the vault by token and direction",
		}, []string{"token", "direction"}),
		InterestRealized: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "interest_realized_total",
			Help:      "Interest base units distributed by token and party",
		}, []string{"token", "party"}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events published by sink",
		}, []string{"sink"}),
		PublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_errors_total",
			Help:      "Total number of failed event publishes by sink",
		}, []string{"sink"}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "ws_clients",
			Help:      "Current number of connected WebSocket event subscribers",
		}),

		OracleCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "call_latency_seconds",
			Help:      "Exchange-rate lookup latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"token"}),
		OracleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "errors_total",
			Help:      "Total number of failed exchange-rate lookups",
		}, []string{"token"}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulOperation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_operation_timestamp",
			Help:      "Unix timestamp of last committed engine operation",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordOperation records an engine operation outcome and latency.
func (m *Metrics) RecordOperation(operation, status string, seconds float64) {
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordStreamCreated increments the created-streams counter.
func (m *Metrics) RecordStreamCreated(compounding bool) {
	kind := "base"
	if compounding {
		kind = "compounding"
	}
	m.StreamsCreated.WithLabelValues(kind).Inc()
}

// RecordValueMoved adds amount to the vault flow counter.
// direction is "in" (deposits) or "out" (payouts).
func (m *Metrics) RecordValueMoved(token, direction string, amount decimal.Decimal) {
	if amount.IsPositive() {
		m.ValueMoved.WithLabelValues(token, direction).Add(amount.InexactFloat64())
	}
}

// RecordInterest adds a realized interest share for party.
func (m *Metrics) RecordInterest(token, party string, amount decimal.Decimal) {
	if amount.IsPositive() {
		m.InterestRealized.WithLabelValues(token, party).Add(amount.InexactFloat64())
	}
}

// RecordPublish records an event publish outcome for sink.
func (m *Metrics) RecordPublish(sink string, count int, err error) {
	if err != nil {
		m.PublishErrors.WithLabelValues(sink).Inc()
		return
	}
	m.EventsPublished.WithLabelValues(sink).Add(float64(count))
}

// RecordOracleCall records exchange-rate lookup latency.
func (m *Metrics) RecordOracleCall(token string, seconds float64, err error) {
	m.OracleCallLatency.WithLabelValues(token).Observe(seconds)
	if err != nil {
		m.OracleErrors.WithLabelValues(token).Inc()
	}
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordDBQuery records database query metrics on DefaultMetrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.RecordDBQuery(database, operation, seconds, err)
}
