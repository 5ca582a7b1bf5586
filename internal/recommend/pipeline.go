// Package recommend runs the recommendation pipeline: build a prompt from the
// filtered candidates, dispatch it with retries, parse the reply and resolve
// the named cars back to dataset rows.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"carrec/internal/dataset"
	"carrec/internal/domain"
	"carrec/internal/logging"
	"carrec/internal/metrics"
	"carrec/internal/parser"
	"carrec/internal/retry"
)

// Config holds the per-pipeline settings. Zero values take the defaults below;
// a nil Temperature selects DefaultTemperature.
type Config struct {
	Model          string
	Temperature    *float64
	MaxTokens      int
	CandidateCap   int
	TopN           int
	AttemptTimeout time.Duration
}

const (
	DefaultTemperature    = 0.2
	DefaultMaxTokens      = 1000
	DefaultCandidateCap   = 200
	DefaultTopN           = 5
	DefaultAttemptTimeout = 60 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Temperature == nil {
		t := DefaultTemperature
		c.Temperature = &t
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.CandidateCap <= 0 {
		c.CandidateCap = DefaultCandidateCap
	}
	if c.TopN <= 0 {
		c.TopN = DefaultTopN
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	return c
}

// Request is one recommendation query against an already filtered dataset.
type Request struct {
	Requirements string
	Criteria     domain.FilterCriteria
	Candidates   *dataset.Dataset
}

// Pipeline is stateless between calls and safe for concurrent use.
type Pipeline struct {
	gen    domain.Generator
	parser domain.ResponseParser
	policy retry.Policy
	cfg    Config
	log    zerolog.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New assembles a pipeline. A nil parser selects parser.Default.
func New(gen domain.Generator, rp domain.ResponseParser, policy retry.Policy, cfg Config, opts ...Option) (*Pipeline, error) {
	if gen == nil {
		return nil, fmt.Errorf("%w: no text generator configured", domain.ErrInvalidConfig)
	}
	if rp == nil {
		rp = parser.Default()
	}
	p := &Pipeline{
		gen:    gen,
		parser: rp,
		policy: policy,
		cfg:    cfg.withDefaults(),
		log:    logging.Component("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Recommend runs one request. A reply naming no known car is an empty,
// successful result; service failures are returned as errors.
func (p *Pipeline) Recommend(ctx context.Context, req Request) (*domain.RecommendationResult, error) {
	start := time.Now()
	id := logging.RequestIDFromContext(ctx)
	if id == "" {
		id = logging.NewRequestID()
		ctx = logging.ContextWithRequestID(ctx, id)
	}
	log := logging.WithRequest(ctx, p.log)

	if strings.TrimSpace(req.Requirements) == "" {
		metrics.RecordPipeline("no_requirements", 0, 0, time.Since(start))
		return nil, domain.ErrEmptyRequirements
	}
	if req.Candidates.Len() == 0 {
		metrics.RecordPipeline("no_candidates", 0, 0, time.Since(start))
		return nil, domain.ErrEmptyCandidateSet
	}

	prompt := domain.Prompt{
		Text:        BuildPrompt(req.Requirements, req.Candidates, p.cfg.CandidateCap, p.cfg.TopN),
		Model:       p.cfg.Model,
		Temperature: *p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	}
	log.Info().
		Str("provider", p.gen.Name()).
		Int("candidates", req.Candidates.Len()).
		Int("prompt_bytes", len(prompt.Text)).
		Msg("dispatching recommendation request")

	policy := p.policy
	onBackoff := policy.OnBackoff
	policy.OnBackoff = func(b retry.Backoff) {
		log.Warn().Err(b.Err).
			Int("attempt", b.Attempt).
			Str("class", b.Class.String()).
			Dur("delay", b.Delay).
			Msg("dispatch failed, backing off")
		metrics.RecordBackoff(b.Class.String(), b.Delay)
		if onBackoff != nil {
			onBackoff(b)
		}
	}

	var reply string
	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		actx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		defer cancel()
		out, err := p.gen.Generate(actx, prompt)
		outcome := "ok"
		if err != nil {
			outcome = retry.Classify(err).String()
		}
		metrics.RecordDispatch(p.gen.Name(), outcome)
		log.Debug().Int("attempt", attempt).Str("outcome", outcome).Msg("dispatch attempt")
		if err != nil {
			return err
		}
		reply = out
		return nil
	})
	if err != nil {
		status := failureStatus(err)
		metrics.RecordPipeline(status, 0, 0, time.Since(start))
		log.Error().Err(err).Int("attempts", attempts).Str("status", status).Msg("recommendation request failed")
		return nil, err
	}

	parsed := p.parser.Parse(reply)
	recs, unresolved := Resolve(req.Candidates, parsed.Entries, p.cfg.TopN)
	result := &domain.RecommendationResult{
		RequestID:       id,
		Recommendations: recs,
		Explanation:     strings.TrimSpace(strings.ToValidUTF8(reply, "\uFFFD")),
		Unresolved:      unresolved,
		Attempts:        attempts,
		Candidates:      req.Candidates.Len(),
	}

	status := "ok"
	if result.Empty() {
		status = "empty"
	}
	metrics.RecordPipeline(status, len(recs), len(unresolved), time.Since(start))
	log.Info().
		Int("attempts", attempts).
		Int("identifiers", len(parsed.Entries)).
		Int("resolved", len(recs)).
		Strs("unresolved", unresolved).
		Dur("elapsed", time.Since(start)).
		Msg("recommendation request finished")
	return result, nil
}

func failureStatus(err error) string {
	switch {
	case errors.Is(err, domain.ErrCredential):
		return "credential"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrTransport):
		return "transport"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "transport"
	}
}
