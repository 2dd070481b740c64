package scorer

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"

	"github.com/JohnPlummer/relevant-chunks/chunker"
)

// BuildProductionProcessor creates a processor with retry, circuit breaker
// and metrics enabled
func BuildProductionProcessor(apiKey string) (*Processor, error) {
	return New(NewProductionConfig(apiKey))
}

// BuildCustomProcessor creates a processor from a custom configuration
func BuildCustomProcessor(cfg Config) (*Processor, error) {
	return New(cfg)
}

// classifyError returns error type for metrics
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return "rate_limit"
		case apiErr.HTTPStatusCode >= 500:
			return "server_error"
		case apiErr.HTTPStatusCode >= 400:
			return "client_error"
		default:
			return "api_error"
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, gobreaker.ErrOpenState):
		return "circuit_open"
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_half_open"
	case errors.Is(err, ErrEmptyReply):
		return "empty_reply"
	case errors.Is(err, ErrNilSession):
		return "session"
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, chunker.ErrInvalidConfig):
		return "config"
	}

	return "unknown"
}
