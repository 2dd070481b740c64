package scorer

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"
)

// RetryWrapper wraps an oracle session with retry logic. The processor itself
// never retries; this wrapper is opt-in through Config.EnableRetry.
type RetryWrapper struct {
	client  OpenAIClient
	config  *RetryConfig
	metrics *MetricsRecorder
}

// NewRetryWrapper creates a new retry wrapper around an oracle session
func NewRetryWrapper(client OpenAIClient, config *RetryConfig) *RetryWrapper {
	if config == nil {
		config = defaultRetryConfig()
	}

	return &RetryWrapper{
		client: client,
		config: config,
	}
}

// withMetrics attaches a metrics recorder and returns the wrapper
func (w *RetryWrapper) withMetrics(m *MetricsRecorder) *RetryWrapper {
	w.metrics = m
	return w
}

// CreateChatCompletion executes the call, retrying transient failures
func (w *RetryWrapper) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var resp openai.ChatCompletionResponse
	attempts := 0

	err := retry.Do(ctx, w.backoff(), func(ctx context.Context) error {
		attempts++

		var err error
		resp, err = w.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return nil
		}

		if !IsRetryableError(err) {
			slog.Debug("Non-retryable error, giving up",
				"error", err,
				"attempts", attempts)
			return err
		}

		if attempts < w.config.MaxAttempts {
			slog.Debug("Retrying request",
				"attempt", attempts,
				"error", err)
			w.metrics.RecordRetry(classifyError(err))
		}
		return retry.RetryableError(err)
	})

	w.metrics.RecordRetryAttempt(attempts)

	if err != nil {
		if attempts >= w.config.MaxAttempts {
			slog.Warn("Max retry attempts reached",
				"attempts", attempts,
				"error", err)
		}
		return openai.ChatCompletionResponse{}, err
	}

	if attempts > 1 {
		slog.Info("Request succeeded after retry", "attempts", attempts)
	}
	return resp, nil
}

// backoff returns a fresh backoff for one call. Backoffs are stateful and
// must not be shared between calls.
func (w *RetryWrapper) backoff() retry.Backoff {
	retries := uint64(max(w.config.MaxAttempts-1, 0))
	jitter := w.config.InitialDelay / 10

	switch w.config.Strategy {
	case RetryStrategyConstant:
		return retry.WithMaxRetries(retries,
			retry.BackoffFunc(func() (time.Duration, bool) {
				// Jitter keeps concurrent sessions from retrying in lockstep.
				if jitter <= 0 {
					return w.config.InitialDelay, false
				}
				return w.config.InitialDelay + time.Duration(rand.Int63n(int64(jitter))), false
			}),
		)

	case RetryStrategyFibonacci:
		return retry.WithMaxRetries(retries,
			retry.WithCappedDuration(w.config.MaxDelay, withJitter(jitter, retry.NewFibonacci(w.config.InitialDelay))),
		)

	default:
		return retry.WithMaxRetries(retries,
			retry.WithCappedDuration(w.config.MaxDelay, withJitter(jitter, retry.NewExponential(w.config.InitialDelay))),
		)
	}
}

// withJitter skips jitter for delays too small to divide
func withJitter(jitter time.Duration, next retry.Backoff) retry.Backoff {
	if jitter <= 0 {
		return next
	}
	return retry.WithJitter(jitter, next)
}

// IsRetryableError determines if an error should trigger a retry
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429: // Rate limit - definitely retry
			return true
		case 500, 502, 503, 504:
			return true
		case 400, 401, 403, 404:
			return false
		default:
			return apiErr.HTTPStatusCode >= 500
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyReply) {
		return false
	}

	// Unknown errors are usually network failures
	return true
}
