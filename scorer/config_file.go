package scorer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk form of Config. The API key is never read from
// the file; pass it to ToConfig from the environment.
type FileConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	Temperature    float32 `yaml:"temperature"`
	SystemPrompt   string  `yaml:"system_prompt"`
	PromptTemplate string  `yaml:"prompt_template"`
	MaxScore       int     `yaml:"max_score"`
	ReplyMaxTokens int     `yaml:"reply_max_tokens"`

	Chunking struct {
		MaxChunkSize *int `yaml:"max_chunk_size"`
		OverlapSize  *int `yaml:"overlap_size"`
	} `yaml:"chunking"`

	Parallel          bool          `yaml:"parallel"`
	ConcurrentAllowed bool          `yaml:"concurrent_allowed"`
	MaxConcurrent     int           `yaml:"max_concurrent"`
	SessionPolicy     SessionPolicy `yaml:"session_policy"`
	Timeout           time.Duration `yaml:"timeout"`

	Retry *struct {
		MaxAttempts  int           `yaml:"max_attempts"`
		Strategy     RetryStrategy `yaml:"strategy"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
	} `yaml:"retry"`

	CircuitBreaker bool `yaml:"circuit_breaker"`
	Metrics        bool `yaml:"metrics"`
}

// LoadFileConfig reads a YAML config file
func LoadFileConfig(path string) (FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer f.Close()

	return ParseFileConfig(f)
}

// ParseFileConfig decodes YAML config. Unknown keys are rejected.
func ParseFileConfig(r io.Reader) (FileConfig, error) {
	var fc FileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return fc, nil
}

// ToConfig converts the file form into a Config, starting from
// NewDefaultConfig so omitted keys keep their defaults.
func (fc FileConfig) ToConfig(apiKey string) Config {
	cfg := NewDefaultConfig(apiKey)

	cfg.BaseURL = fc.BaseURL
	if fc.Model != "" {
		cfg.Model = fc.Model
	}
	cfg.Temperature = fc.Temperature
	cfg.SystemPrompt = fc.SystemPrompt
	cfg.PromptText = fc.PromptTemplate
	if fc.MaxScore != 0 {
		cfg.MaxScore = fc.MaxScore
	}
	if fc.ReplyMaxTokens != 0 {
		cfg.ReplyMaxTokens = fc.ReplyMaxTokens
	}
	if fc.Chunking.MaxChunkSize != nil {
		cfg.MaxChunkSize = *fc.Chunking.MaxChunkSize
	}
	if fc.Chunking.OverlapSize != nil {
		cfg.OverlapSize = *fc.Chunking.OverlapSize
	}

	cfg.Parallel = fc.Parallel
	cfg.ConcurrentAllowed = fc.ConcurrentAllowed
	if fc.MaxConcurrent != 0 {
		cfg.MaxConcurrent = fc.MaxConcurrent
	}
	if fc.SessionPolicy != "" {
		cfg.SessionPolicy = fc.SessionPolicy
	}
	if fc.Timeout != 0 {
		cfg.Timeout = fc.Timeout
	}

	if fc.Retry != nil {
		cfg = cfg.WithRetryConfig(&RetryConfig{
			MaxAttempts:  fc.Retry.MaxAttempts,
			Strategy:     fc.Retry.Strategy,
			InitialDelay: fc.Retry.InitialDelay,
			MaxDelay:     fc.Retry.MaxDelay,
		})
	}
	if fc.CircuitBreaker {
		cfg = cfg.WithCircuitBreaker()
	}
	cfg.EnableMetrics = fc.Metrics

	return cfg
}
