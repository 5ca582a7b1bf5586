// Package breaker wraps a domain.Generator with a circuit breaker so a dead
// provider fails fast instead of burning the retry budget on every request.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"carrec/internal/domain"
	"carrec/internal/logging"
	"carrec/internal/metrics"
	"carrec/internal/retry"
)

// Settings configures the breaker.
type Settings struct {
	// FailureThreshold is the number of consecutive transport failures that opens the circuit.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before a trial request.
	OpenTimeout time.Duration
}

// Generator is a domain.Generator guarded by a circuit breaker.
type Generator struct {
	next domain.Generator
	cb   *gobreaker.CircuitBreaker[string]
}

// Wrap returns next guarded by a breaker named after the provider. Only
// transport failures count against the circuit; rate limits, credential
// errors and caller cancellation do not.
func Wrap(next domain.Generator, s Settings) *Generator {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	name := next.Name()
	log := logging.Component("breaker")
	metrics.SetBreakerState(name, stateValue(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || retry.Classify(err) != retry.ClassTransport
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.SetBreakerState(name, stateValue(to))
			metrics.BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return &Generator{next: next, cb: cb}
}

// Name returns the wrapped provider's name.
func (g *Generator) Name() string { return g.next.Name() }

// State reports the current breaker state.
func (g *Generator) State() gobreaker.State { return g.cb.State() }

// Generate forwards to the wrapped provider unless the circuit is open, in
// which case it fails immediately with a non-retryable transport error.
func (g *Generator) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	out, err := g.cb.Execute(func() (string, error) {
		return g.next.Generate(ctx, p)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", retry.Permanent(fmt.Errorf("%s: %w: %w", g.Name(), domain.ErrTransport, err))
	}
	return out, err
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
