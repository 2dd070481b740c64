package scorer_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"

	"github.com/JohnPlummer/relevant-chunks/chunker"
	"github.com/JohnPlummer/relevant-chunks/scorer"
)

const (
	sentences = "This is a test sentence. Here is another one. And a third sentence for good measure."
	counting  = "One two three four five six seven eight nine ten eleven twelve"
)

// countingSessions opens a new session per call and counts them
func countingSessions(client scorer.OpenAIClient, opened *atomic.Int64) scorer.SessionFactory {
	return func() (scorer.OpenAIClient, error) {
		opened.Add(1)
		return client, nil
	}
}

func firstWord(chunk string) string {
	fields := strings.Fields(chunk)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// failFirstOracle fails its first call and holds every other call until the
// context is done
type failFirstOracle struct {
	calls atomic.Int64
}

func (f *failFirstOracle) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if f.calls.Add(1) == 1 {
		return openai.ChatCompletionResponse{}, errOracleDown
	}
	select {
	case <-ctx.Done():
		return openai.ChatCompletionResponse{}, ctx.Err()
	case <-time.After(5 * time.Second):
		return replyResponse("1"), nil
	}
}

var _ = Describe("Processor", func() {
	var (
		ctx context.Context
		cfg scorer.Config
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = scorer.NewDefaultConfig("test-key")
	})

	Describe("construction", func() {
		It("requires an API key for the default session factory", func() {
			_, err := scorer.New(scorer.Config{})
			Expect(err).To(MatchError(scorer.ErrMissingAPIKey))
		})

		It("builds go-openai sessions without contacting the oracle", func() {
			p, err := scorer.New(cfg.WithBaseURL("http://127.0.0.1:1/v1"))
			Expect(err).ToNot(HaveOccurred())
			Expect(p.Config().Model).To(Equal(openai.GPT4oMini))
		})

		It("rejects concurrent mode without entitlement", func() {
			_, err := scorer.NewWithClient(newStubOracle("1"), cfg.WithParallel(false))
			Expect(err).To(MatchError(scorer.ErrConcurrencyNotAllowed))
		})

		It("rejects a nil session factory", func() {
			_, err := scorer.NewWithSessionFactory(nil, cfg)
			Expect(err).To(MatchError(scorer.ErrInvalidConfig))
		})

		It("rejects an invalid chunk window", func() {
			_, err := scorer.NewWithClient(newStubOracle("1"), cfg.WithChunking(10, 10))
			Expect(err).To(MatchError(scorer.ErrInvalidConfig))
			Expect(errors.Is(err, chunker.ErrInvalidConfig)).To(BeTrue())
		})

		It("applies defaults to a sparse config", func() {
			p, err := scorer.NewWithClient(newStubOracle("1"), scorer.Config{})
			Expect(err).ToNot(HaveOccurred())

			effective := p.Config()
			Expect(effective.Model).To(Equal(openai.GPT4oMini))
			Expect(effective.MaxScore).To(Equal(scorer.DefaultMaxScore))
			Expect(effective.MaxConcurrent).To(Equal(scorer.DefaultMaxConcurrent))
			Expect(effective.SessionPolicy).To(Equal(scorer.SessionPerTask))
			Expect(p.Chunker().Config()).To(Equal(chunker.DefaultConfig()))
			Expect(p.SystemPrompt()).To(ContainSubstring("scale of 0-100"))
		})

		It("keeps an explicit overlap when only the window is defaulted", func() {
			p, err := scorer.NewWithClient(newStubOracle("1"), scorer.Config{OverlapSize: 50})
			Expect(err).ToNot(HaveOccurred())
			Expect(p.Chunker().Config()).To(Equal(chunker.Config{
				MaxChunkSize: chunker.DefaultMaxChunkSize,
				OverlapSize:  50,
			}))
		})

		It("keeps zero overlap alongside an explicit window", func() {
			p, err := scorer.NewWithClient(newStubOracle("1"), scorer.Config{}.WithChunking(500, 0))
			Expect(err).ToNot(HaveOccurred())
			Expect(p.Chunker().Config()).To(Equal(chunker.Config{MaxChunkSize: 500}))
		})
	})

	Describe("Process", func() {
		It("scores every chunk with the oracle reply", func() {
			p, err := scorer.NewWithClient(newStubOracle("75"), cfg.WithChunking(50, 10))
			Expect(err).ToNot(HaveOccurred())

			results, err := p.Process(ctx, sentences, "test query")
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(HaveLen(2))

			Expect(results[0].Chunk).To(Equal(chunker.Chunk{
				Text:        "This is a test sentence. Here is another one.",
				StartOffset: 0,
				EndOffset:   44,
			}))
			Expect(results[1].Chunk.StartOffset).To(Equal(35))
			Expect(results[1].Chunk.EndOffset).To(Equal(83))
			for i, r := range results {
				Expect(r.Index).To(Equal(i))
				Expect(r.Score).To(Equal(75))
				Expect(r.Reply).To(Equal(scorer.ScoreReply{Text: "75", Parsed: true}))
				Expect(r.Response.Choices).To(HaveLen(1))
			}
		})

		It("matches the chunker output one to one", func() {
			p, err := scorer.NewWithClient(newStubOracle("3"), cfg.WithChunking(20, 5))
			Expect(err).ToNot(HaveOccurred())

			results, err := p.Process(ctx, counting, "numbers")
			Expect(err).ToNot(HaveOccurred())

			chunks := p.Chunker().ChunkText(counting)
			Expect(results).To(HaveLen(len(chunks)))
			for i := range chunks {
				Expect(results[i].Chunk).To(Equal(chunks[i]))
			}
		})

		It("scores 0 when the reply holds no number", func() {
			oracle := &stubOracle{reply: func(chunk string) (string, error) {
				if strings.HasPrefix(chunk, "This") {
					return "Not relevant", nil
				}
				return "  42 \n", nil
			}}
			p, err := scorer.NewWithClient(oracle, cfg.WithChunking(50, 10))
			Expect(err).ToNot(HaveOccurred())

			results, err := p.Process(ctx, sentences, "q")
			Expect(err).ToNot(HaveOccurred())
			Expect(results[0].Score).To(BeZero())
			Expect(results[0].Reply).To(Equal(scorer.ScoreReply{Text: "Not relevant", Parsed: false}))
			Expect(results[1].Score).To(Equal(42))
			Expect(results[1].Reply.Parsed).To(BeTrue())
		})

		It("scores whitespace-only text as a single chunk", func() {
			p, err := scorer.NewWithClient(newStubOracle("0"), cfg)
			Expect(err).ToNot(HaveOccurred())

			results, err := p.Process(ctx, "   ", "q")
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Chunk.Text).To(Equal("   "))
		})

		It("scores empty text and an empty query like any other input", func() {
			oracle := newStubOracle("75")
			p, err := scorer.NewWithClient(oracle, cfg)
			Expect(err).ToNot(HaveOccurred())

			results, err := p.Process(ctx, "", "q")
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Chunk).To(Equal(chunker.Chunk{Text: "", StartOffset: 0, EndOffset: -1}))
			Expect(results[0].Score).To(Equal(75))

			results, err = p.Process(ctx, "some text", "")
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Score).To(Equal(75))

			Expect(oracle.calls.Load()).To(BeEquivalentTo(2))
			Expect(oracle.Requests()[1].Messages[1].Content).To(ContainSubstring("Query: \n\n"))
		})

		It("fails when the oracle returns no choices", func() {
			p, err := scorer.NewWithClient(&mockAPIClient{}, cfg)
			Expect(err).ToNot(HaveOccurred())

			results, err := p.Process(ctx, "some text", "q")
			Expect(err).To(MatchError(scorer.ErrEmptyReply))
			Expect(results).To(BeNil())
		})

		It("stops at a cancelled context", func() {
			p, err := scorer.NewWithClient(newStubOracle("1"), cfg)
			Expect(err).ToNot(HaveOccurred())

			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			_, err = p.Process(cancelled, "some text", "q")
			Expect(err).To(MatchError(context.Canceled))
		})
	})

	DescribeTableSubtree("dispatch modes",
		func(parallel bool) {
			var build func(scorer.OpenAIClient, scorer.Config) *scorer.Processor

			BeforeEach(func() {
				cfg = cfg.WithChunking(20, 5)
				if parallel {
					cfg = cfg.WithParallel(true)
				}
				build = func(client scorer.OpenAIClient, c scorer.Config) *scorer.Processor {
					p, err := scorer.NewWithClient(client, c)
					Expect(err).ToNot(HaveOccurred())
					return p
				}
			})

			It("returns results in chunk order whatever order replies arrive in", func() {
				scores := map[string]string{"One": "1", "four": "2", "even": "3", "ten": "4"}
				delays := map[string]time.Duration{"One": 60 * time.Millisecond, "four": 40 * time.Millisecond, "even": 20 * time.Millisecond}
				oracle := &stubOracle{
					reply: func(chunk string) (string, error) { return scores[firstWord(chunk)], nil },
					delay: func(chunk string) time.Duration { return delays[firstWord(chunk)] },
				}

				results, err := build(oracle, cfg).Process(ctx, counting, "numbers")
				Expect(err).ToNot(HaveOccurred())
				Expect(results).To(HaveLen(4))

				starts := make([]int, len(results))
				for i, r := range results {
					Expect(r.Index).To(Equal(i))
					Expect(r.Score).To(Equal(i + 1))
					starts[i] = r.Chunk.StartOffset
				}
				Expect(starts).To(Equal([]int{0, 14, 29, 44}))
			})

			It("propagates the first oracle failure and returns no results", func() {
				oracle := &stubOracle{reply: func(chunk string) (string, error) {
					if firstWord(chunk) == "even" {
						return "", errOracleDown
					}
					return "5", nil
				}}

				results, err := build(oracle, cfg).Process(ctx, counting, "numbers")
				Expect(err).To(MatchError(errOracleDown))
				Expect(err.Error()).To(ContainSubstring("chunk 2"))
				Expect(results).To(BeNil())
			})

			It("surfaces session factory failures", func() {
				boom := errors.New("dial refused")
				p, err := scorer.NewWithSessionFactory(func() (scorer.OpenAIClient, error) { return nil, boom }, cfg)
				Expect(err).ToNot(HaveOccurred())

				_, err = p.Process(ctx, counting, "numbers")
				Expect(err).To(MatchError(boom))
			})

			It("rejects a factory that returns no session", func() {
				p, err := scorer.NewWithSessionFactory(func() (scorer.OpenAIClient, error) { return nil, nil }, cfg)
				Expect(err).ToNot(HaveOccurred())

				_, err = p.Process(ctx, counting, "numbers")
				Expect(err).To(MatchError(scorer.ErrNilSession))
			})
		},
		Entry("sequential", false),
		Entry("concurrent", true),
	)

	Describe("concurrent dispatch", func() {
		var long string

		BeforeEach(func() {
			long = strings.Repeat("Some filler words here. ", 20)
			cfg = cfg.WithChunking(40, 5).WithParallel(true)
		})

		It("never exceeds MaxConcurrent tasks in flight", func() {
			oracle := newStubOracle("1")
			oracle.delay = func(string) time.Duration { return 15 * time.Millisecond }

			p, err := scorer.NewWithClient(oracle, cfg.WithMaxConcurrent(2))
			Expect(err).ToNot(HaveOccurred())

			results, err := p.Process(ctx, long, "filler")
			Expect(err).ToNot(HaveOccurred())
			Expect(len(results)).To(BeNumerically(">", 2))
			Expect(oracle.maxInFlight.Load()).To(BeNumerically("<=", 2))
			Expect(oracle.maxInFlight.Load()).To(BeNumerically(">=", 1))
		})

		It("runs every chunk at once when unbounded", func() {
			chunks, err := chunker.New(chunker.Config{MaxChunkSize: 40, OverlapSize: 5})
			Expect(err).ToNot(HaveOccurred())
			total := int64(len(chunks.ChunkText(long)))

			var arrived atomic.Int64
			release := make(chan struct{})
			var once sync.Once
			oracle := &stubOracle{reply: func(string) (string, error) {
				if arrived.Add(1) == total {
					once.Do(func() { close(release) })
				}
				select {
				case <-release:
					return "1", nil
				case <-time.After(2 * time.Second):
					return "", errors.New("not every chunk was dispatched at once")
				}
			}}

			p, err := scorer.NewWithClient(oracle, cfg.WithMaxConcurrent(scorer.UnboundedConcurrency))
			Expect(err).ToNot(HaveOccurred())

			results, err := p.Process(ctx, long, "filler")
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(HaveLen(int(total)))
			Expect(oracle.maxInFlight.Load()).To(Equal(total))
		})

		It("cancels outstanding tasks after a failure", func() {
			oracle := &failFirstOracle{}
			p, err := scorer.NewWithClient(oracle, cfg.WithMaxConcurrent(scorer.UnboundedConcurrency))
			Expect(err).ToNot(HaveOccurred())

			start := time.Now()
			_, err = p.Process(ctx, long, "filler")
			Expect(err).To(MatchError(errOracleDown))
			Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
		})

		Describe("session policy", func() {
			var (
				opened atomic.Int64
				oracle *stubOracle
				chunks int
			)

			BeforeEach(func() {
				opened.Store(0)
				oracle = newStubOracle("1")
				c, err := chunker.New(chunker.Config{MaxChunkSize: 40, OverlapSize: 5})
				Expect(err).ToNot(HaveOccurred())
				chunks = len(c.ChunkText(long))
			})

			It("opens one session per task by default", func() {
				p, err := scorer.NewWithSessionFactory(countingSessions(oracle, &opened), cfg)
				Expect(err).ToNot(HaveOccurred())

				_, err = p.Process(ctx, long, "filler")
				Expect(err).ToNot(HaveOccurred())
				Expect(opened.Load()).To(BeEquivalentTo(chunks))
			})

			It("opens a single session when shared", func() {
				p, err := scorer.NewWithSessionFactory(countingSessions(oracle, &opened), cfg.WithSessionPolicy(scorer.SessionShared))
				Expect(err).ToNot(HaveOccurred())

				_, err = p.Process(ctx, long, "filler")
				Expect(err).ToNot(HaveOccurred())
				Expect(opened.Load()).To(BeEquivalentTo(1))
				Expect(oracle.calls.Load()).To(BeEquivalentTo(chunks))
			})

			It("opens a single session in sequential mode", func() {
				cfg.Parallel = false
				p, err := scorer.NewWithSessionFactory(countingSessions(oracle, &opened), cfg)
				Expect(err).ToNot(HaveOccurred())

				_, err = p.Process(ctx, long, "filler")
				Expect(err).ToNot(HaveOccurred())
				Expect(opened.Load()).To(BeEquivalentTo(1))
				Expect(oracle.maxInFlight.Load()).To(BeEquivalentTo(1))
			})
		})
	})

	Describe("BuildRequest", func() {
		chunk := chunker.Chunk{Text: "Cats sleep a lot.", StartOffset: 0, EndOffset: 16}

		It("carries the configured model, temperature and token budget", func() {
			p, err := scorer.NewWithClient(newStubOracle("1"), cfg.WithModel(openai.GPT4o).WithTemperature(0.5).WithMaxScore(10))
			Expect(err).ToNot(HaveOccurred())

			req, err := p.BuildRequest(chunk, "feline habits")
			Expect(err).ToNot(HaveOccurred())
			Expect(req.Model).To(Equal(openai.GPT4o))
			Expect(req.Temperature).To(BeNumerically("~", 0.5, 0.0001))
			Expect(req.MaxTokens).To(Equal(scorer.DefaultReplyMaxTokens))

			Expect(req.Messages).To(HaveLen(2))
			Expect(req.Messages[0].Role).To(Equal(openai.ChatMessageRoleSystem))
			Expect(req.Messages[0].Content).To(ContainSubstring("scale of 0-10,"))
			Expect(req.Messages[1].Role).To(Equal(openai.ChatMessageRoleUser))
			Expect(req.Messages[1].Content).To(ContainSubstring("Text chunk to evaluate: Cats sleep a lot."))
			Expect(req.Messages[1].Content).To(ContainSubstring("Query: feline habits"))
			Expect(req.Messages[1].Content).To(HaveSuffix("a number from 0-10 indicating how relevant this text chunk is to the query."))
		})

		It("uses custom prompts", func() {
			p, err := scorer.NewWithClient(newStubOracle("1"), cfg.
				WithSystemPrompt("Answer with a digit.").
				WithPromptTemplate("Q={{.Query}} C={{.Chunk}} M={{.MaxScore}}"))
			Expect(err).ToNot(HaveOccurred())

			req, err := p.BuildRequest(chunk, "cats")
			Expect(err).ToNot(HaveOccurred())
			Expect(req.Messages[0].Content).To(Equal("Answer with a digit."))
			Expect(req.Messages[1].Content).To(Equal("Q=cats C=Cats sleep a lot. M=100"))
		})

		It("fails to render a template that references unknown fields", func() {
			p, err := scorer.NewWithClient(newStubOracle("1"), cfg.WithPromptTemplate("{{.Items}}"))
			Expect(err).ToNot(HaveOccurred())

			_, err = p.BuildRequest(chunk, "cats")
			Expect(err).To(HaveOccurred())

			_, err = p.Process(ctx, "text", "cats")
			Expect(err).To(MatchError(ContainSubstring("failed to build request for chunk 0")))
		})

		It("is what the oracle receives", func() {
			oracle := newStubOracle("9")
			p, err := scorer.NewWithClient(oracle, cfg)
			Expect(err).ToNot(HaveOccurred())

			_, err = p.Process(ctx, chunk.Text, "cats")
			Expect(err).ToNot(HaveOccurred())

			want, err := p.BuildRequest(chunk, "cats")
			Expect(err).ToNot(HaveOccurred())
			Expect(oracle.Requests()).To(ConsistOf(want))
		})
	})

	Describe("ScoreChunk", func() {
		It("scores a single chunk over a caller-provided session", func() {
			p, err := scorer.NewWithClient(newStubOracle("unused"), cfg)
			Expect(err).ToNot(HaveOccurred())

			session := &mockAPIClient{response: replyResponse("-5")}
			scored, err := p.ScoreChunk(ctx, session, 3, chunker.Chunk{Text: "x", EndOffset: 0}, "q")
			Expect(err).ToNot(HaveOccurred())
			Expect(scored.Index).To(Equal(3))
			Expect(scored.Score).To(Equal(-5))
			Expect(session.calls).To(Equal(1))
		})
	})

	Describe("resilience layers", func() {
		It("retries transient failures inside a session", func() {
			oracle := &mockRetryAPIClient{
				response: replyResponse("64"),
				errors:   []error{errOracleDown, nil},
			}
			p, err := scorer.NewWithClient(oracle, cfg.WithRetryConfig(&scorer.RetryConfig{
				MaxAttempts:  3,
				Strategy:     scorer.RetryStrategyConstant,
				InitialDelay: time.Millisecond,
				MaxDelay:     time.Millisecond,
			}))
			Expect(err).ToNot(HaveOccurred())

			results, err := p.Process(ctx, "short text", "q")
			Expect(err).ToNot(HaveOccurred())
			Expect(results[0].Score).To(Equal(64))
			Expect(oracle.calls).To(Equal(2))
		})

		It("does not retry without a retry config", func() {
			oracle := &mockRetryAPIClient{errors: []error{errOracleDown, nil}}
			p, err := scorer.NewWithClient(oracle, cfg)
			Expect(err).ToNot(HaveOccurred())

			_, err = p.Process(ctx, "short text", "q")
			Expect(err).To(MatchError(errOracleDown))
			Expect(oracle.calls).To(Equal(1))
		})

		It("opens the shared circuit after repeated failures", func() {
			oracle := &mockAPIClient{err: errOracleDown}
			p, err := scorer.NewWithClient(oracle, cfg.WithCircuitBreakerConfig(&scorer.CircuitBreakerConfig{
				MaxRequests: 1,
				Interval:    time.Minute,
				Timeout:     time.Minute,
				ReadyToTrip: tripAfterThree,
			}))
			Expect(err).ToNot(HaveOccurred())

			for range 3 {
				_, err = p.Process(ctx, "short text", "q")
				Expect(err).To(MatchError(errOracleDown))
			}

			_, err = p.Process(ctx, "short text", "q")
			Expect(err).To(MatchError(gobreaker.ErrOpenState))
			Expect(oracle.calls).To(Equal(3))

			health := p.GetHealth(ctx)
			Expect(health.Healthy).To(BeFalse())
			Expect(health.Status).To(Equal("circuit open"))
			Expect(health.Details).To(HaveKeyWithValue("circuit_breaker_state", "open"))
			Expect(health.Details).To(HaveKeyWithValue("circuit_breaker_failures", BeEquivalentTo(3)))
		})
	})

	Describe("GetHealth", func() {
		It("reports the integration settings", func() {
			p, err := scorer.NewWithClient(newStubOracle("1"), cfg.WithParallel(true).WithMaxConcurrent(4))
			Expect(err).ToNot(HaveOccurred())

			health := p.GetHealth(ctx)
			Expect(health.Healthy).To(BeTrue())
			Expect(health.Status).To(Equal("healthy"))
			Expect(health.Details).ToNot(HaveKey("circuit_breaker_state"))
			Expect(health.Details["integration"]).To(And(
				HaveKeyWithValue("mode", "concurrent"),
				HaveKeyWithValue("max_concurrent", 4),
				HaveKeyWithValue("session_policy", "per-task"),
				HaveKeyWithValue("retry_enabled", false),
			))
		})

		It("satisfies the Scorer interface", func() {
			p, err := scorer.NewWithClient(newStubOracle("1"), cfg)
			Expect(err).ToNot(HaveOccurred())

			var s scorer.Scorer = p
			Expect(s.GetHealth(ctx).Healthy).To(BeTrue())
		})
	})
})
