package scorer

import (
	"fmt"
	"text/template"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"

	"github.com/JohnPlummer/relevant-chunks/chunker"
)

// NewDefaultConfig creates a config with sensible defaults
func NewDefaultConfig(apiKey string) Config {
	if apiKey == "" {
		panic("API key is required")
	}

	return Config{
		APIKey:         apiKey,
		Model:          openai.GPT4oMini,
		Temperature:    0,
		MaxScore:       DefaultMaxScore,
		ReplyMaxTokens: DefaultReplyMaxTokens,
		MaxChunkSize:   chunker.DefaultMaxChunkSize,
		OverlapSize:    chunker.DefaultOverlapSize,
		MaxConcurrent:  DefaultMaxConcurrent,
		SessionPolicy:  SessionPerTask,
		Timeout:        DefaultTimeout,
	}
}

// NewProductionConfig creates a production-ready config with all resilience features
func NewProductionConfig(apiKey string) Config {
	cfg := NewDefaultConfig(apiKey)
	cfg.Timeout = 60 * time.Second
	cfg.EnableMetrics = true

	cfg = cfg.WithCircuitBreaker()
	cfg = cfg.WithRetry()

	return cfg
}

func defaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip if 5 consecutive failures OR failure rate > 60%
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && failureRatio > 0.6)
		},
	}
}

func defaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		Strategy:     RetryStrategyExponential,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// WithCircuitBreaker enables circuit breaker with default settings
func (c Config) WithCircuitBreaker() Config {
	c.EnableCircuitBreaker = true
	c.CircuitBreakerConfig = defaultCircuitBreakerConfig()
	return c
}

// WithCircuitBreakerConfig enables circuit breaker with custom settings
func (c Config) WithCircuitBreakerConfig(config *CircuitBreakerConfig) Config {
	c.EnableCircuitBreaker = true
	c.CircuitBreakerConfig = config
	return c
}

// WithRetry enables retry with default exponential backoff
func (c Config) WithRetry() Config {
	c.EnableRetry = true
	c.RetryConfig = defaultRetryConfig()
	return c
}

// WithRetryStrategy enables retry with specified strategy
func (c Config) WithRetryStrategy(strategy RetryStrategy, maxAttempts int) Config {
	c.EnableRetry = true
	c.RetryConfig = defaultRetryConfig()
	c.RetryConfig.Strategy = strategy
	c.RetryConfig.MaxAttempts = maxAttempts
	return c
}

// WithRetryConfig enables retry with custom settings
func (c Config) WithRetryConfig(config *RetryConfig) Config {
	c.EnableRetry = true
	c.RetryConfig = config
	return c
}

// WithModel sets the oracle model
func (c Config) WithModel(model string) Config {
	c.Model = model
	return c
}

// WithBaseURL points sessions at an OpenAI-compatible endpoint
func (c Config) WithBaseURL(url string) Config {
	c.BaseURL = url
	return c
}

// WithTemperature sets the sampling temperature
func (c Config) WithTemperature(temperature float32) Config {
	if temperature < 0 || temperature > 1 {
		panic("temperature must be between 0 and 1")
	}
	c.Temperature = temperature
	return c
}

// WithMaxScore sets the upper end of the scoring range
func (c Config) WithMaxScore(maxScore int) Config {
	if maxScore <= 0 {
		panic("MaxScore must be positive")
	}
	c.MaxScore = maxScore
	return c
}

// WithSystemPrompt overrides the generated system prompt
func (c Config) WithSystemPrompt(prompt string) Config {
	c.SystemPrompt = prompt
	return c
}

// WithChunking sets the chunk window and overlap in characters
func (c Config) WithChunking(maxChunkSize, overlapSize int) Config {
	c.MaxChunkSize = maxChunkSize
	c.OverlapSize = overlapSize
	return c
}

// WithParallel enables concurrent scoring. allowed is the caller's
// entitlement decision; New rejects Parallel without it.
func (c Config) WithParallel(allowed bool) Config {
	c.Parallel = true
	c.ConcurrentAllowed = allowed
	return c
}

// WithSessionPolicy sets how concurrent tasks share oracle sessions
func (c Config) WithSessionPolicy(policy SessionPolicy) Config {
	c.SessionPolicy = policy
	return c
}

// WithMetrics toggles Prometheus metrics recording
func (c Config) WithMetrics(enabled bool) Config {
	c.EnableMetrics = enabled
	return c
}

// WithTimeout sets the request timeout
func (c Config) WithTimeout(timeout time.Duration) Config {
	if timeout < 0 {
		panic("timeout must be positive")
	}
	c.Timeout = timeout
	return c
}

// WithMaxConcurrent sets the maximum concurrent requests
func (c Config) WithMaxConcurrent(max int) Config {
	if max < UnboundedConcurrency {
		panic("MaxConcurrent must be non-negative or UnboundedConcurrency")
	}
	c.MaxConcurrent = max
	return c
}

// WithPromptTemplate sets a custom user prompt template
func (c Config) WithPromptTemplate(templateText string) Config {
	if _, err := template.New("prompt").Parse(templateText); err != nil {
		panic(fmt.Sprintf("invalid template syntax: %v", err))
	}
	c.PromptText = templateText
	return c
}

// Validate checks if the config is valid. Zero values that have a default
// are accepted; the API key is checked by New.
func (c Config) Validate() error {
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("%w: temperature must be between 0 and 1, got %v", ErrInvalidConfig, c.Temperature)
	}

	if c.MaxScore < 0 {
		return fmt.Errorf("%w: MaxScore must be non-negative", ErrInvalidConfig)
	}

	if c.ReplyMaxTokens < 0 {
		return fmt.Errorf("%w: ReplyMaxTokens must be non-negative", ErrInvalidConfig)
	}

	if err := c.withDefaults().chunkingConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}

	if c.MaxConcurrent < UnboundedConcurrency {
		return fmt.Errorf("%w: MaxConcurrent must be non-negative or UnboundedConcurrency", ErrInvalidConfig)
	}

	switch c.SessionPolicy {
	case "", SessionPerTask, SessionShared:
	default:
		return fmt.Errorf("%w: unknown session policy: %s", ErrInvalidConfig, c.SessionPolicy)
	}

	if c.EnableCircuitBreaker && c.CircuitBreakerConfig == nil {
		return fmt.Errorf("%w: circuit breaker enabled but config is nil", ErrInvalidConfig)
	}

	if c.EnableRetry {
		if c.RetryConfig == nil {
			return fmt.Errorf("%w: retry enabled but config is nil", ErrInvalidConfig)
		}

		if !isValidRetryStrategy(c.RetryConfig.Strategy) {
			return fmt.Errorf("%w: invalid retry strategy: %s", ErrInvalidConfig, c.RetryConfig.Strategy)
		}

		if c.RetryConfig.MaxAttempts <= 0 {
			return fmt.Errorf("%w: retry MaxAttempts must be positive", ErrInvalidConfig)
		}

		if c.RetryConfig.InitialDelay <= 0 {
			return fmt.Errorf("%w: retry InitialDelay must be positive", ErrInvalidConfig)
		}

		if c.RetryConfig.MaxDelay <= 0 {
			return fmt.Errorf("%w: retry MaxDelay must be positive", ErrInvalidConfig)
		}
	}

	if c.PromptText != "" {
		if _, err := template.New("prompt").Parse(c.PromptText); err != nil {
			return fmt.Errorf("%w: invalid prompt template: %w", ErrInvalidConfig, err)
		}
	}

	if c.Parallel && !c.ConcurrentAllowed {
		return ErrConcurrencyNotAllowed
	}

	return nil
}

// withDefaults fills zero values that have a documented default. An unset
// chunk window takes the default overlap too; an explicit window keeps its
// overlap, zero included.
func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = openai.GPT4oMini
	}
	if c.MaxScore == 0 {
		c.MaxScore = DefaultMaxScore
	}
	if c.ReplyMaxTokens == 0 {
		c.ReplyMaxTokens = DefaultReplyMaxTokens
	}
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = chunker.DefaultMaxChunkSize
		if c.OverlapSize == 0 {
			c.OverlapSize = chunker.DefaultOverlapSize
		}
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.SessionPolicy == "" {
		c.SessionPolicy = SessionPerTask
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

func (c Config) chunkingConfig() chunker.Config {
	return chunker.Config{
		MaxChunkSize: c.MaxChunkSize,
		OverlapSize:  c.OverlapSize,
	}
}

// isValidRetryStrategy checks if the retry strategy is valid
func isValidRetryStrategy(strategy RetryStrategy) bool {
	switch strategy {
	case RetryStrategyExponential, RetryStrategyConstant, RetryStrategyFibonacci:
		return true
	default:
		return false
	}
}
