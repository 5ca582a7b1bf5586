package cli

import (
	"errors"
	"fmt"
	"time"

	"carrec/internal/dataset"
	"carrec/internal/domain"
	"carrec/internal/llm"
	"carrec/internal/llm/anthropic"
	"carrec/internal/llm/breaker"
	"carrec/internal/llm/openai"
	"carrec/internal/logging"
	"carrec/internal/metrics"
	"carrec/internal/recommend"
	"carrec/internal/retry"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (a *app) loadDataset() (*dataset.Dataset, error) {
	raw, err := dataset.Load(a.cfg.Dataset.Path)
	if err != nil {
		return nil, err
	}
	d := dataset.Clean(raw)
	metrics.DatasetRows.Set(float64(d.Len()))
	log := logging.Component("cli")
	log.Info().
		Str("path", a.cfg.Dataset.Path).
		Int("rows", d.Len()).
		Int("columns", len(d.Columns)).
		Msg("dataset loaded")
	return d, nil
}

// generator builds the configured provider. A missing credential is not
// fatal here: the returned generator reports it on first use so data-only
// views keep working.
func (a *app) generator() (domain.Generator, error) {
	pc := a.cfg.Provider
	timeout := time.Duration(pc.TimeoutSecs) * time.Second

	var (
		gen domain.Generator
		err error
	)
	switch pc.Type {
	case "anthropic":
		gen, err = anthropic.NewClient(anthropic.Config{
			BaseURL:   pc.BaseURL,
			APIKeyEnv: pc.APIKeyEnv,
			Model:     pc.Model,
			MaxTokens: pc.MaxTokens,
			Timeout:   timeout,
		})
	case "openai":
		gen, err = openai.NewClient(openai.Config{
			BaseURL:   pc.BaseURL,
			APIKeyEnv: pc.APIKeyEnv,
			Model:     pc.Model,
			MaxTokens: pc.MaxTokens,
			Timeout:   timeout,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidConfig, pc.Type)
	}
	if errors.Is(err, domain.ErrCredential) {
		log := logging.Component("cli")
		log.Warn().Err(err).Msg("provider credential unavailable; recommendations will fail")
		return llm.Unavailable{Provider: pc.Type, Err: err}, nil
	}
	if err != nil {
		return nil, err
	}

	if a.cfg.Breaker.Enabled {
		gen = breaker.Wrap(gen, breaker.Settings{
			FailureThreshold: a.cfg.Breaker.FailureThreshold,
			OpenTimeout:      time.Duration(a.cfg.Breaker.OpenTimeoutSecs) * time.Second,
		})
	}
	return gen, nil
}

func (a *app) policy() retry.Policy {
	rc := a.cfg.Retry
	p := retry.DefaultPolicy()
	if rc.MaxRateLimitRetries != nil {
		p.MaxRateLimitRetries = *rc.MaxRateLimitRetries
	}
	if rc.MaxTransportRetries != nil {
		p.MaxTransportRetries = *rc.MaxTransportRetries
	}
	p.BaseDelay = ms(rc.BaseDelayMs)
	p.MaxDelay = ms(rc.MaxDelayMs)
	if rc.JitterMs != nil {
		p.Jitter = retry.UniformJitter(ms(*rc.JitterMs))
	}
	return p
}

func (a *app) pipeline() (*recommend.Pipeline, error) {
	gen, err := a.generator()
	if err != nil {
		return nil, err
	}
	pc := a.cfg.Provider
	return recommend.New(gen, nil, a.policy(), recommend.Config{
		Model:          pc.Model,
		Temperature:    pc.Temperature,
		MaxTokens:      pc.MaxTokens,
		CandidateCap:   a.cfg.Pipeline.CandidateCap,
		TopN:           a.cfg.Pipeline.TopN,
		AttemptTimeout: time.Duration(pc.TimeoutSecs) * time.Second,
	})
}
