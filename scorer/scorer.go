package scorer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	relevantchunks "github.com/JohnPlummer/relevant-chunks"
	"github.com/JohnPlummer/relevant-chunks/chunker"
)

// Processor chunks text and scores each chunk with the oracle. It holds only
// read-only configuration plus the optional shared circuit breaker and is
// safe for concurrent use.
type Processor struct {
	config       Config
	chunker      *chunker.Chunker
	sessions     SessionFactory
	breaker      *CircuitBreaker
	metrics      *MetricsRecorder
	prompt       *template.Template
	systemPrompt string
}

var _ Scorer = (*Processor)(nil)

// New creates a Processor whose sessions are go-openai clients
func New(cfg Config) (*Processor, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	return NewWithSessionFactory(openAISessionFactory(cfg.withDefaults()), cfg)
}

// NewWithClient creates a Processor that uses client for every session
func NewWithClient(client OpenAIClient, cfg Config) (*Processor, error) {
	return NewWithSessionFactory(staticSessionFactory(client), cfg)
}

// NewWithSessionFactory creates a Processor that opens sessions with factory
func NewWithSessionFactory(factory SessionFactory, cfg Config) (*Processor, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: session factory is nil", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	c, err := chunker.New(cfg.chunkingConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	prompt, err := parsePromptTemplate(cfg.PromptText)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt(cfg.MaxScore)
	}

	metrics := NewMetricsRecorder(cfg.EnableMetrics)

	var breaker *CircuitBreaker
	if cfg.EnableCircuitBreaker {
		breaker = NewCircuitBreaker("oracle", cfg.CircuitBreakerConfig, metrics)
	}

	p := &Processor{
		config:       cfg,
		chunker:      c,
		sessions:     layeredSessionFactory(factory, cfg, breaker, metrics),
		breaker:      breaker,
		metrics:      metrics,
		prompt:       prompt,
		systemPrompt: systemPrompt,
	}

	slog.Info("Processor created",
		"version", relevantchunks.Version,
		"model", cfg.Model,
		"mode", p.mode(),
		"max_chunk_size", cfg.MaxChunkSize,
		"overlap_size", cfg.OverlapSize,
		"max_score", cfg.MaxScore,
		"max_concurrent", cfg.MaxConcurrent,
		"session_policy", cfg.SessionPolicy,
		"circuit_breaker", cfg.EnableCircuitBreaker,
		"retry", cfg.EnableRetry)

	return p, nil
}

// Config returns the effective configuration, defaults applied
func (p *Processor) Config() Config {
	return p.config
}

// Chunker returns the chunker used by Process
func (p *Processor) Chunker() *chunker.Chunker {
	return p.chunker
}

// SystemPrompt returns the system prompt sent with every request
func (p *Processor) SystemPrompt() string {
	return p.systemPrompt
}

// Process chunks text and scores every chunk against query. The result holds
// one entry per chunk in chunk order; empty text is a single empty chunk and
// the query is sent as given. The first oracle failure aborts the
// call; there is no partial result.
func (p *Processor) Process(ctx context.Context, text, query string) ([]ScoredChunk, error) {
	runID := uuid.NewString()
	start := time.Now()
	mode := p.mode()

	chunks := p.chunker.ChunkText(text)
	p.metrics.RecordChunks(len(chunks))

	slog.Info("Processing text",
		"run_id", runID,
		"mode", mode,
		"text_length", len([]rune(text)),
		"chunks", len(chunks))

	var (
		results []ScoredChunk
		err     error
	)
	if p.config.Parallel {
		results, err = p.scoreConcurrently(ctx, runID, chunks, query)
	} else {
		results, err = p.scoreSequentially(ctx, runID, chunks, query)
	}

	duration := time.Since(start)
	if err != nil {
		p.metrics.RecordProcess("error", mode, duration.Seconds())
		p.metrics.RecordError(classifyError(err))
		slog.Error("Processing failed",
			"run_id", runID,
			"duration", duration,
			"error", err)
		return nil, err
	}

	p.metrics.RecordProcess("success", mode, duration.Seconds())
	slog.Info("Processing completed",
		"run_id", runID,
		"chunks_scored", len(results),
		"duration", duration)

	return results, nil
}

// BuildRequest builds the oracle request for one chunk
func (p *Processor) BuildRequest(chunk chunker.Chunk, query string) (openai.ChatCompletionRequest, error) {
	userPrompt, err := renderPrompt(p.prompt, PromptData{
		Chunk:    chunk.Text,
		Query:    query,
		MaxScore: p.config.MaxScore,
	})
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	return openai.ChatCompletionRequest{
		Model:       p.config.Model,
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.ReplyMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: p.systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
	}, nil
}

// ScoreChunk sends one chunk to the oracle over session and parses the reply
func (p *Processor) ScoreChunk(ctx context.Context, session OpenAIClient, index int, chunk chunker.Chunk, query string) (ScoredChunk, error) {
	req, err := p.BuildRequest(chunk, query)
	if err != nil {
		return ScoredChunk{}, fmt.Errorf("failed to build request for chunk %d: %w", index, err)
	}

	start := time.Now()
	resp, err := session.CreateChatCompletion(ctx, req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		p.metrics.RecordOracleCall(p.config.Model, "error", elapsed)
		return ScoredChunk{}, fmt.Errorf("oracle request failed for chunk %d: %w", index, err)
	}
	p.metrics.RecordOracleCall(p.config.Model, "success", elapsed)
	p.metrics.RecordTokensUsed("prompt", resp.Usage.PromptTokens)
	p.metrics.RecordTokensUsed("completion", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return ScoredChunk{}, fmt.Errorf("oracle reply for chunk %d: %w", index, ErrEmptyReply)
	}

	score, reply := ParseScore(resp.Choices[0].Message.Content)
	p.metrics.RecordScore(score, p.config.MaxScore, reply.Parsed)

	if !reply.Parsed {
		slog.Warn("Oracle reply held no score, assigning 0",
			"chunk_index", index,
			"reply", strings.TrimSpace(reply.Text))
	}

	slog.Debug("Chunk scored",
		"chunk_index", index,
		"start", chunk.StartOffset,
		"end", chunk.EndOffset,
		"score", score)

	return ScoredChunk{
		Index:    index,
		Chunk:    chunk,
		Score:    score,
		Reply:    reply,
		Response: resp,
	}, nil
}

// GetHealth reports configuration and circuit breaker state
func (p *Processor) GetHealth(ctx context.Context) HealthStatus {
	health := HealthStatus{
		Healthy: true,
		Status:  "healthy",
		Details: map[string]interface{}{},
	}

	if p.breaker != nil {
		cbHealth := p.breaker.GetHealth()
		health.Details["circuit_breaker_state"] = cbHealth.Details["state"]
		health.Details["circuit_breaker_requests"] = cbHealth.Details["requests"]
		health.Details["circuit_breaker_failures"] = cbHealth.Details["total_failures"]
		if cbHealth.Status == "open" {
			health.Details["circuit_breaker_failures"] = cbHealth.Details["failures_at_trip"]
		}

		if !cbHealth.Healthy {
			health.Healthy = false
			health.Status = "circuit open"
		} else if cbHealth.Status == "half-open" {
			health.Status = "degraded"
		}
	}

	health.Details["integration"] = map[string]interface{}{
		"model":                   p.config.Model,
		"mode":                    p.mode(),
		"max_concurrent":          p.config.MaxConcurrent,
		"session_policy":          string(p.config.SessionPolicy),
		"circuit_breaker_enabled": p.config.EnableCircuitBreaker,
		"retry_enabled":           p.config.EnableRetry,
		"metrics_enabled":         p.config.EnableMetrics,
	}

	return health
}

func (p *Processor) mode() string {
	if p.config.Parallel {
		return "concurrent"
	}
	return "sequential"
}
