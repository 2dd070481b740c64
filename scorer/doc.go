// Package scorer rates chunks of a long text for relevance to a query using
// an LLM chat-completion service as the scoring oracle.
//
// A Processor splits the text with the chunker package, sends one prompt per
// chunk and parses the leading integer of each reply. Replies without one
// score 0; scores are not clamped to the configured range. Results always
// come back in chunk order.
//
// Features:
//   - Sequential scoring over one session, or concurrent scoring with a
//     configurable cap and one session per task
//   - Custom prompt templates with Go template support
//   - Circuit breaker pattern for resilience
//   - Retry logic with exponential backoff
//   - Prometheus metrics integration
//   - YAML configuration files
//
// Basic usage:
//
//	cfg := scorer.NewDefaultConfig(os.Getenv("OPENAI_API_KEY"))
//	p, err := scorer.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	results, err := p.Process(ctx, text, "What is this about?")
//
// Concurrent scoring requires the caller's entitlement decision:
//
//	cfg = cfg.WithParallel(licensed).WithMaxConcurrent(4)
package scorer
