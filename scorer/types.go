package scorer

import (
	"context"
	"errors"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"

	"github.com/JohnPlummer/relevant-chunks/chunker"
)

// ScoredChunk is a chunk together with the relevance score the oracle gave it
type ScoredChunk struct {
	Index    int                           // Position of the chunk in the chunker output
	Chunk    chunker.Chunk                 // The chunk that was scored
	Score    int                           // Parsed score; 0 when the reply was not numeric
	Reply    ScoreReply                    // Typed view of the oracle's text reply
	Response openai.ChatCompletionResponse // Raw oracle response
}

// ScoreReply is the oracle's free-text answer and whether it held an integer
type ScoreReply struct {
	Text   string // Reply text as returned by the oracle
	Parsed bool   // False when the score fell back to zero
}

// Scorer chunks text and scores every chunk against a query
type Scorer interface {
	// Process returns one ScoredChunk per chunk, in chunk order
	Process(ctx context.Context, text, query string) ([]ScoredChunk, error)

	// GetHealth returns the current health status of the scorer
	GetHealth(ctx context.Context) HealthStatus
}

// HealthStatus represents the health state of the scorer
type HealthStatus struct {
	Healthy bool                   // Overall health status
	Status  string                 // Human-readable status message
	Details map[string]interface{} // Additional health details
}

// Config holds the configuration for the processor
type Config struct {
	APIKey         string  // Oracle API key (required by New)
	BaseURL        string  // Optional OpenAI-compatible endpoint
	Model          string  // Model identifier
	Temperature    float32 // Sampling temperature, 0 to 1
	SystemPrompt   string  // System prompt override; generated from MaxScore when empty
	PromptText     string  // User prompt template override
	MaxScore       int     // Upper end of the scoring range
	ReplyMaxTokens int     // Token budget for the oracle's reply

	MaxChunkSize int // Chunk window in characters; 0 selects 1000 with a default overlap
	OverlapSize  int // Overlap between chunks in characters; 0 means none once MaxChunkSize is set

	Parallel          bool          // Score chunks concurrently
	ConcurrentAllowed bool          // Caller-verified entitlement for Parallel
	MaxConcurrent     int           // Concurrency cap; UnboundedConcurrency for one task per chunk
	SessionPolicy     SessionPolicy // How oracle sessions are shared between tasks

	EnableCircuitBreaker bool                  // Enable circuit breaker pattern
	EnableRetry          bool                  // Enable retry with backoff
	EnableMetrics        bool                  // Record Prometheus metrics
	Timeout              time.Duration         // Per-session HTTP timeout
	CircuitBreakerConfig *CircuitBreakerConfig // Circuit breaker configuration
	RetryConfig          *RetryConfig          // Retry configuration
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	MaxRequests   uint32                                      // Max requests in half-open state
	Interval      time.Duration                               // Interval for closed state
	Timeout       time.Duration                               // Timeout for open state
	ReadyToTrip   func(counts gobreaker.Counts) bool          // Custom trip condition
	OnStateChange func(name string, from, to gobreaker.State) // State change callback
}

// RetryConfig holds retry settings
type RetryConfig struct {
	MaxAttempts  int           // Maximum number of attempts
	Strategy     RetryStrategy // Backoff strategy to use
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
}

// RetryStrategy defines the backoff strategy for retries
type RetryStrategy string

const (
	RetryStrategyExponential RetryStrategy = "exponential"
	RetryStrategyConstant    RetryStrategy = "constant"
	RetryStrategyFibonacci   RetryStrategy = "fibonacci"
)

// SessionPolicy controls whether concurrent tasks share an oracle session
type SessionPolicy string

const (
	// SessionPerTask gives every concurrent task its own session
	SessionPerTask SessionPolicy = "per-task"
	// SessionShared reuses one session for every task of a call
	SessionShared SessionPolicy = "shared"
)

const (
	DefaultMaxScore       = 100
	DefaultReplyMaxTokens = 10
	DefaultMaxConcurrent  = 8
	DefaultTimeout        = 30 * time.Second

	// UnboundedConcurrency dispatches every chunk at once
	UnboundedConcurrency = -1
)

// OpenAIClient is one oracle session. Implementations must be safe to call
// from the goroutine that owns the session.
type OpenAIClient interface {
	CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// SessionFactory opens a new oracle session
type SessionFactory func() (OpenAIClient, error)

// Error definitions
var (
	ErrMissingAPIKey         = errors.New("API key is required")
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrConcurrencyNotAllowed = errors.New("parallel processing requested without entitlement")
	ErrEmptyReply            = errors.New("oracle returned no choices")
	ErrNilSession            = errors.New("session factory returned nil client")
)
