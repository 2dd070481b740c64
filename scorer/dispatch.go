package scorer

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/JohnPlummer/relevant-chunks/chunker"
)

// scoreSequentially scores chunks one at a time over a single session
func (p *Processor) scoreSequentially(ctx context.Context, runID string, chunks []chunker.Chunk, query string) ([]ScoredChunk, error) {
	session, err := p.sessions()
	if err != nil {
		return nil, err
	}

	results := make([]ScoredChunk, len(chunks))
	for i, chunk := range chunks {
		p.metrics.RecordInFlight(1)
		scored, err := p.ScoreChunk(ctx, session, i, chunk, query)
		p.metrics.RecordInFlight(-1)
		if err != nil {
			return nil, err
		}
		results[i] = scored
	}

	slog.Debug("Sequential scoring finished", "run_id", runID, "chunks", len(chunks))
	return results, nil
}

// scoreConcurrently fans chunks out to at most MaxConcurrent tasks. Each
// task writes only its own slot, so the result keeps chunk order however
// the tasks finish. The first failure cancels the context the remaining
// tasks run under.
func (p *Processor) scoreConcurrently(ctx context.Context, runID string, chunks []chunker.Chunk, query string) ([]ScoredChunk, error) {
	var shared OpenAIClient
	if p.config.SessionPolicy == SessionShared {
		var err error
		if shared, err = p.sessions(); err != nil {
			return nil, err
		}
	}

	limit := p.config.MaxConcurrent
	slog.Debug("Dispatching chunks concurrently",
		"run_id", runID,
		"chunks", len(chunks),
		"limit", limit,
		"session_policy", p.config.SessionPolicy)

	results := make([]ScoredChunk, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, chunk := range chunks {
		g.Go(func() error {
			session := shared
			if session == nil {
				var err error
				if session, err = p.sessions(); err != nil {
					return fmt.Errorf("chunk %d: %w", i, err)
				}
			}

			p.metrics.RecordInFlight(1)
			defer p.metrics.RecordInFlight(-1)

			scored, err := p.ScoreChunk(gctx, session, i, chunk, query)
			if err != nil {
				return err
			}
			results[i] = scored
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}
