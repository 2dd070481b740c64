package scorer

import (
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// openAISessionFactory opens an independent go-openai client per session,
// each with its own HTTP client so sessions share no transport state.
func openAISessionFactory(cfg Config) SessionFactory {
	return func() (OpenAIClient, error) {
		cc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			cc.BaseURL = cfg.BaseURL
		}
		cc.HTTPClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		}
		return openai.NewClientWithConfig(cc), nil
	}
}

// staticSessionFactory hands out the same client for every session
func staticSessionFactory(client OpenAIClient) SessionFactory {
	return func() (OpenAIClient, error) {
		return client, nil
	}
}

// layeredSessionFactory decorates every session the base factory opens:
// retry innermost, then the shared circuit breaker.
func layeredSessionFactory(base SessionFactory, cfg Config, breaker *CircuitBreaker, metrics *MetricsRecorder) SessionFactory {
	return func() (OpenAIClient, error) {
		session, err := base()
		if err != nil {
			return nil, fmt.Errorf("failed to open oracle session: %w", err)
		}
		if session == nil {
			return nil, ErrNilSession
		}
		metrics.RecordSessionOpened()

		if cfg.EnableRetry {
			session = NewRetryWrapper(session, cfg.RetryConfig).withMetrics(metrics)
		}
		if breaker != nil {
			session = breaker.Wrap(session)
		}
		return session, nil
	}
}
