// Package metrics provides Prometheus metrics for the asset validator
// node.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the node.
type Metrics struct {
	// Consensus
	roundsTotal   *prometheus.CounterVec
	roundDuration *prometheus.HistogramVec

	// Messages
	messagesSentTotal     *prometheus.CounterVec
	messagesReceivedTotal *prometheus.CounterVec

	// Instructions
	instructionsSubmitted *prometheus.CounterVec
	instructionsFinalized prometheus.Counter
	poolSize              prometheus.Gauge

	// Escrow
	escrowOpened   prometheus.Counter
	escrowResolved *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{}

	m.roundsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consensus_rounds_total",
		Help:      "Consensus rounds finished, by outcome",
	}, []string{"outcome"})

	m.roundDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "consensus_round_seconds",
		Help:      "Duration of consensus rounds in seconds, by outcome",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
	}, []string{"outcome"})

	m.messagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Committee messages sent, by type",
	}, []string{"type"})

	m.messagesReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_received_total",
		Help:      "Committee messages received, by type",
	}, []string{"type"})

	m.instructionsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "instructions_submitted_total",
		Help:      "Instructions submitted, by admission result",
	}, []string{"result"})

	m.instructionsFinalized = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "instructions_finalized_total",
		Help:      "Instructions finalized through consensus",
	})

	m.poolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_pool_size",
		Help:      "Instructions waiting for a consensus round",
	})

	m.escrowOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escrow_opened_total",
		Help:      "Timed sub-transactions opened",
	})

	m.escrowResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escrow_resolved_total",
		Help:      "Timed sub-transactions resolved, by outcome",
	}, []string{"outcome"})

	prometheus.MustRegister(
		m.roundsTotal,
		m.roundDuration,
		m.messagesSentTotal,
		m.messagesReceivedTotal,
		m.instructionsSubmitted,
		m.instructionsFinalized,
		m.poolSize,
		m.escrowOpened,
		m.escrowResolved,
	)

	return m
}

// RecordRound records a finished consensus round.
func (m *Metrics) RecordRound(outcome string, duration time.Duration) {
	m.roundsTotal.WithLabelValues(outcome).Inc()
	m.roundDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncrementMessagesSent increments the messages sent counter.
func (m *Metrics) IncrementMessagesSent(msgType string) {
	m.messagesSentTotal.WithLabelValues(msgType).Inc()
}

// IncrementMessagesReceived increments the messages received counter.
func (m *Metrics) IncrementMessagesReceived(msgType string) {
	m.messagesReceivedTotal.WithLabelValues(msgType).Inc()
}

// RecordSubmission records an instruction admission result.
func (m *Metrics) RecordSubmission(result string) {
	m.instructionsSubmitted.WithLabelValues(result).Inc()
}

// AddInstructionsFinalized adds to the finalized instruction counter.
func (m *Metrics) AddInstructionsFinalized(count int) {
	m.instructionsFinalized.Add(float64(count))
}

// SetPoolSize sets the pending pool gauge.
func (m *Metrics) SetPoolSize(size int) {
	m.poolSize.Set(float64(size))
}

// RecordEscrowOpened counts a new timed sub-transaction.
func (m *Metrics) RecordEscrowOpened() {
	m.escrowOpened.Inc()
}

// RecordEscrowResolved counts a resolved timed sub-transaction.
func (m *Metrics) RecordEscrowResolved(outcome string) {
	m.escrowResolved.WithLabelValues(outcome).Inc()
}

// Server serves the Prometheus scrape endpoint.
type Server struct {
	addr   string
	server *http.Server
}

// NewServer creates a new metrics HTTP server.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start starts the metrics server.
func (s *Server) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()
	return nil
}

// Stop stops the metrics server.
func (s *Server) Stop() error {
	return s.server.Close()
}
