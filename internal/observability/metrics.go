// Package observability provides Prometheus metrics and logger construction.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ledger node.
type Metrics struct {
	// Transaction metrics
	TransactionsTotal  *prometheus.CounterVec
	TransactionLatency *prometheus.HistogramVec
	QueriesTotal       *prometheus.CounterVec
	LedgerSequence     prometheus.Gauge
	CrossContractCalls *prometheus.CounterVec

	// Contract metrics
	EventsEmitted *prometheus.CounterVec
	PriceUpdates  *prometheus.CounterVec
	TokensMinted  *prometheus.CounterVec

	// Event delivery metrics
	EventSinkErrors   *prometheus.CounterVec
	StreamSubscribers prometheus.Gauge

	// RPC metrics
	RPCRequests *prometheus.CounterVec
	RPCLatency  *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on reg.
// A nil reg registers on the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "ambar_ledger"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		TransactionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "transactions_total",
			Help:      "Total number of submitted transactions by method and outcome",
		}, []string{"kind", "method", "status"}),
		TransactionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "transaction_latency_seconds",
			Help:      "Transaction execution latency in seconds, commit included",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "method"}),
		QueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "queries_total",
			Help:      "Total number of read-only queries by method and status",
		}, []string{"kind", "method", "status"}),
		LedgerSequence: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "ledger_sequence",
			Help:      "Sequence number of the last committed transaction",
		}),
		CrossContractCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "cross_contract_calls_total",
			Help:      "Total number of contract-to-contract calls by callee method",
		}, []string{"kind", "method"}),

		EventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contracts",
			Name:      "events_emitted_total",
			Help:      "Total number of committed contract events by topic",
		}, []string{"topic"}),
		PriceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contracts",
			Name:      "price_updates_total",
			Help:      "Total number of committed price updates by asset",
		}, []string{"asset"}),
		TokensMinted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contracts",
			Name:      "mint_with_reference_asset_total",
			Help:      "Total number of committed reference asset mints by orchestrator",
		}, []string{"contract"}),

		EventSinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "sink_errors_total",
			Help:      "Total number of failed event deliveries by sink",
		}, []string{"sink"}),
		StreamSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "stream_subscribers",
			Help:      "Current number of websocket event subscribers",
		}),

		RPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total number of JSON-RPC requests by method and status",
		}, []string{"method", "status"}),
		RPCLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_latency_seconds",
			Help:      "JSON-RPC request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Status is the label value recorded for a call outcome.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTransaction records one executed transaction with its outcome
// ("ok" or an error name). Safe on a nil receiver.
func (m *Metrics) RecordTransaction(kind, method string, seconds float64, outcome string) {
	if m == nil {
		return
	}
	m.TransactionsTotal.WithLabelValues(kind, method, outcome).Inc()
	m.TransactionLatency.WithLabelValues(kind, method).Observe(seconds)
}

// RecordQuery records one read-only query. Safe on a nil receiver.
func (m *Metrics) RecordQuery(kind, method string, err error) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(kind, method, Status(err)).Inc()
}

// RecordCall records a contract-to-contract call. Safe on a nil receiver.
func (m *Metrics) RecordCall(kind, method string) {
	if m == nil {
		return
	}
	m.CrossContractCalls.WithLabelValues(kind, method).Inc()
}

// SetSequence updates the last committed sequence. Safe on a nil receiver.
func (m *Metrics) SetSequence(seq uint64) {
	if m == nil {
		return
	}
	m.LedgerSequence.Set(float64(seq))
}

// RecordEvent counts one committed event. Safe on a nil receiver.
func (m *Metrics) RecordEvent(topic string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(topic).Inc()
}

// RecordPriceUpdate counts a committed price update. Safe on a nil receiver.
func (m *Metrics) RecordPriceUpdate(asset string) {
	if m == nil {
		return
	}
	m.PriceUpdates.WithLabelValues(asset).Inc()
}

// RecordMint counts a committed reference asset mint. Safe on a nil receiver.
func (m *Metrics) RecordMint(contract string) {
	if m == nil {
		return
	}
	m.TokensMinted.WithLabelValues(contract).Inc()
}

// RecordSinkError counts a failed event delivery. Safe on a nil receiver.
func (m *Metrics) RecordSinkError(sink string) {
	if m == nil {
		return
	}
	m.EventSinkErrors.WithLabelValues(sink).Inc()
}

// AddSubscribers adjusts the websocket subscriber gauge. Safe on a nil receiver.
func (m *Metrics) AddSubscribers(delta int) {
	if m == nil {
		return
	}
	m.StreamSubscribers.Add(float64(delta))
}

// RecordRPC records one JSON-RPC request. Safe on a nil receiver.
func (m *Metrics) RecordRPC(method string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.RPCRequests.WithLabelValues(method, Status(err)).Inc()
	m.RPCLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics. Safe on a nil receiver.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
