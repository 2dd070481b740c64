package scorer

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Call metrics
	processTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relevant_chunks_process_total",
			Help: "Total number of Process calls by status and mode",
		},
		[]string{"status", "mode"},
	)

	processDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relevant_chunks_process_duration_seconds",
			Help:    "Duration of Process calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// Chunking metrics
	chunksPerText = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relevant_chunks_chunks_per_text",
			Help:    "Number of chunks produced per input text",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200},
		},
	)

	chunksScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relevant_chunks_chunks_scored_total",
			Help: "Total number of chunks scored",
		},
	)

	unparsedReplies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relevant_chunks_unparsed_replies_total",
			Help: "Oracle replies that held no integer and scored 0",
		},
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relevant_chunks_errors_total",
			Help: "Total number of errors by type",
		},
		[]string{"error_type"},
	)

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relevant_chunks_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	circuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relevant_chunks_circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"name"},
	)

	// Retry metrics
	retryAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relevant_chunks_retry_attempts",
			Help:    "Number of attempts per oracle call",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	retryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relevant_chunks_retry_total",
			Help: "Total number of retries by reason",
		},
		[]string{"reason"},
	)

	// Oracle metrics
	oracleCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relevant_chunks_oracle_call_duration_seconds",
			Help:    "Duration of oracle calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "status"},
	)

	oracleTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relevant_chunks_oracle_tokens_used_total",
			Help: "Total number of tokens used in oracle calls",
		},
		[]string{"type"}, // prompt, completion
	)

	sessionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relevant_chunks_sessions_opened_total",
			Help: "Total number of oracle sessions opened",
		},
	)

	// Score distribution, normalised to the configured range
	scoreDistribution = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relevant_chunks_score_ratio",
			Help:    "Distribution of score / max score",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)

	// Concurrency metrics
	inFlightTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relevant_chunks_in_flight_tasks",
			Help: "Number of chunk scoring tasks currently running",
		},
	)
)

// MetricsRecorder records Prometheus metrics. A nil or disabled recorder
// does nothing.
type MetricsRecorder struct {
	enabled bool
}

// NewMetricsRecorder creates a new metrics recorder
func NewMetricsRecorder(enabled bool) *MetricsRecorder {
	return &MetricsRecorder{enabled: enabled}
}

func (m *MetricsRecorder) on() bool {
	return m != nil && m.enabled
}

// RecordProcess records a finished Process call
func (m *MetricsRecorder) RecordProcess(status, mode string, seconds float64) {
	if !m.on() {
		return
	}
	processTotal.WithLabelValues(status, mode).Inc()
	processDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordChunks records how many chunks a text produced
func (m *MetricsRecorder) RecordChunks(count int) {
	if !m.on() {
		return
	}
	chunksPerText.Observe(float64(count))
}

// RecordScore records a scored chunk
func (m *MetricsRecorder) RecordScore(score, maxScore int, parsed bool) {
	if !m.on() {
		return
	}
	chunksScored.Inc()
	if !parsed {
		unparsedReplies.Inc()
	}
	if maxScore > 0 {
		scoreDistribution.Observe(float64(score) / float64(maxScore))
	}
}

// RecordError records an error
func (m *MetricsRecorder) RecordError(errorType string) {
	if !m.on() {
		return
	}
	errorsTotal.WithLabelValues(errorType).Inc()
}

// RecordCircuitBreakerState records circuit breaker state
func (m *MetricsRecorder) RecordCircuitBreakerState(name string, state int) {
	if !m.on() {
		return
	}
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *MetricsRecorder) RecordCircuitBreakerTrip(name string) {
	if !m.on() {
		return
	}
	circuitBreakerTrips.WithLabelValues(name).Inc()
}

// RecordRetryAttempt records attempts used by one call
func (m *MetricsRecorder) RecordRetryAttempt(attempts int) {
	if !m.on() {
		return
	}
	retryAttempts.Observe(float64(attempts))
}

// RecordRetry records a retry
func (m *MetricsRecorder) RecordRetry(reason string) {
	if !m.on() {
		return
	}
	retryTotal.WithLabelValues(reason).Inc()
}

// RecordOracleCall records an oracle call duration
func (m *MetricsRecorder) RecordOracleCall(model, status string, seconds float64) {
	if !m.on() {
		return
	}
	oracleCallDuration.WithLabelValues(model, status).Observe(seconds)
}

// RecordTokensUsed records tokens used
func (m *MetricsRecorder) RecordTokensUsed(tokenType string, count int) {
	if !m.on() || count <= 0 {
		return
	}
	oracleTokensUsed.WithLabelValues(tokenType).Add(float64(count))
}

// RecordSessionOpened records a new oracle session
func (m *MetricsRecorder) RecordSessionOpened() {
	if !m.on() {
		return
	}
	sessionsOpened.Inc()
}

// RecordInFlight updates the running task count
func (m *MetricsRecorder) RecordInFlight(delta float64) {
	if !m.on() {
		return
	}
	inFlightTasks.Add(delta)
}

// GetMetricsHandler returns an HTTP handler for Prometheus metrics
func GetMetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RegisterCustomMetrics allows registration of custom metrics
func RegisterCustomMetrics(collector prometheus.Collector) error {
	return prometheus.Register(collector)
}
