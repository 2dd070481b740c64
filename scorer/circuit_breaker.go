package scorer

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreaker guards oracle sessions. One breaker is shared by every
// session a processor opens, so failures in any task count toward tripping.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker[openai.ChatCompletionResponse]

	// gobreaker clears its counts on every state change, so the failure
	// streak that opened the circuit is kept here.
	tripFailures atomic.Uint32
}

// NewCircuitBreaker creates a breaker. A nil config uses the defaults.
func NewCircuitBreaker(name string, config *CircuitBreakerConfig, metrics *MetricsRecorder) *CircuitBreaker {
	if config == nil {
		config = defaultCircuitBreakerConfig()
	}

	readyToTrip := config.ReadyToTrip
	if readyToTrip == nil {
		readyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		}
	}

	b := &CircuitBreaker{}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if !readyToTrip(counts) {
				return false
			}
			b.tripFailures.Store(counts.ConsecutiveFailures)
			return true
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			// A single failure while half-open reopens the circuit.
			if from == gobreaker.StateHalfOpen && to == gobreaker.StateOpen {
				b.tripFailures.Store(1)
			}

			slog.Warn("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())

			metrics.RecordCircuitBreakerState(name, stateToInt(to))
			if to == gobreaker.StateOpen {
				metrics.RecordCircuitBreakerTrip(name)
			}

			if config.OnStateChange != nil {
				config.OnStateChange(name, from, to)
			}
		},
		IsSuccessful: func(err error) bool {
			// Rate limits and timeouts are temporary and don't count as failures
			return err == nil || !ShouldTripCircuit(err)
		},
	}

	b.cb = gobreaker.NewCircuitBreaker[openai.ChatCompletionResponse](settings)
	return b
}

// Wrap returns a session that routes calls through the breaker
func (b *CircuitBreaker) Wrap(client OpenAIClient) *CircuitBreakerWrapper {
	return &CircuitBreakerWrapper{client: client, breaker: b}
}

// State returns the current state of the circuit breaker
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

// Counts returns the current counts of the circuit breaker
func (b *CircuitBreaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// TripFailures returns the consecutive failures that last opened the circuit
func (b *CircuitBreaker) TripFailures() uint32 {
	return b.tripFailures.Load()
}

// GetHealth returns the health status of the circuit breaker. Counts are
// those of the current state; failures_at_trip keeps the streak that last
// opened the circuit.
func (b *CircuitBreaker) GetHealth() HealthStatus {
	state := b.cb.State()
	counts := b.cb.Counts()

	var healthy bool
	var status string

	switch state {
	case gobreaker.StateClosed:
		healthy = true
		status = "closed"
	case gobreaker.StateHalfOpen:
		healthy = true // Degraded but operational
		status = "half-open"
	case gobreaker.StateOpen:
		healthy = false
		status = "open"
	default:
		status = "unknown"
	}

	return HealthStatus{
		Healthy: healthy,
		Status:  status,
		Details: map[string]interface{}{
			"state":                 state.String(),
			"requests":              counts.Requests,
			"total_successes":       counts.TotalSuccesses,
			"total_failures":        counts.TotalFailures,
			"consecutive_failures":  counts.ConsecutiveFailures,
			"consecutive_successes": counts.ConsecutiveSuccesses,
			"failures_at_trip":      b.tripFailures.Load(),
		},
	}
}

// CircuitBreakerWrapper is an oracle session guarded by a CircuitBreaker
type CircuitBreakerWrapper struct {
	client  OpenAIClient
	breaker *CircuitBreaker
}

// NewCircuitBreakerWrapper wraps a single session with its own breaker
func NewCircuitBreakerWrapper(client OpenAIClient, config *CircuitBreakerConfig) *CircuitBreakerWrapper {
	return NewCircuitBreaker("oracle", config, nil).Wrap(client)
}

// CreateChatCompletion executes the call through the circuit breaker
func (w *CircuitBreakerWrapper) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	resp, err := w.breaker.cb.Execute(func() (openai.ChatCompletionResponse, error) {
		return w.client.CreateChatCompletion(ctx, req)
	})

	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState):
			slog.Debug("Circuit breaker is open, request rejected", "error", err)
		case errors.Is(err, gobreaker.ErrTooManyRequests):
			slog.Debug("Circuit breaker in half-open state, too many requests", "error", err)
		default:
			slog.Debug("Request failed through circuit breaker",
				"error", err,
				"should_trip", ShouldTripCircuit(err))
		}
	}

	return resp, err
}

// State returns the current state of the underlying breaker
func (w *CircuitBreakerWrapper) State() gobreaker.State {
	return w.breaker.State()
}

// Counts returns the current counts of the underlying breaker
func (w *CircuitBreakerWrapper) Counts() gobreaker.Counts {
	return w.breaker.Counts()
}

// GetHealth returns the health status of the underlying breaker
func (w *CircuitBreakerWrapper) GetHealth() HealthStatus {
	return w.breaker.GetHealth()
}

// ShouldTripCircuit determines if an error should cause the circuit to trip
func ShouldTripCircuit(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429: // Rate limit - expected, don't trip
			return false
		case apiErr.HTTPStatusCode >= 400:
			return true
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	// Unknown errors should trip the circuit
	return true
}

// stateToInt converts circuit breaker state to int for metrics
func stateToInt(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
