// Package retry implements the dispatch retry policy: error classification,
// exponential backoff with jitter and bounded attempts per error class.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"carrec/internal/domain"
)

// Class groups errors by how the policy reacts to them.
type Class int

const (
	ClassNone Class = iota
	ClassRateLimit
	ClassTransport
	ClassCredential
	ClassPermanent
	ClassCanceled
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassRateLimit:
		return "rate_limit"
	case ClassTransport:
		return "transport"
	case ClassCredential:
		return "credential"
	case ClassPermanent:
		return "permanent"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as a transport failure that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

var rateLimitMarkers = []string{"rate_limit", "rate limit", "too many requests", "quota", "overloaded"}

// Classify maps an error from a text-generation call to a retry class.
// Anything unrecognized is a transport error.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return ClassPermanent
	}
	if errors.Is(err, domain.ErrCredential) {
		return ClassCredential
	}
	if errors.Is(err, domain.ErrRateLimited) {
		return ClassRateLimit
	}
	var se *domain.StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusTooManyRequests, 529:
			return ClassRateLimit
		case http.StatusUnauthorized, http.StatusForbidden:
			return ClassCredential
		}
		body := strings.ToLower(se.Body)
		for _, m := range rateLimitMarkers {
			if strings.Contains(body, m) {
				return ClassRateLimit
			}
		}
	}
	return ClassTransport
}

// RetryAfter returns the server-requested delay carried by err, if any.
func RetryAfter(err error) time.Duration {
	var se *domain.StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// Policy bounds retries per error class and computes backoff delays.
type Policy struct {
	MaxRateLimitRetries int
	MaxTransportRetries int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	// Jitter returns extra delay added to every backoff. Nil means none.
	Jitter func() time.Duration
	// Sleep waits for d or until ctx ends. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnBackoff is called before each wait.
	OnBackoff func(b Backoff)
}

// Backoff describes one scheduled retry.
type Backoff struct {
	Attempt int
	Class   Class
	Delay   time.Duration
	Err     error
}

// DefaultPolicy retries rate limits five times from a one second base and
// other transport failures once.
func DefaultPolicy() Policy {
	return Policy{
		MaxRateLimitRetries: 5,
		MaxTransportRetries: 1,
		BaseDelay:           time.Second,
		MaxDelay:            30 * time.Second,
		Jitter:              UniformJitter(time.Second),
	}
}

// UniformJitter returns a jitter source drawing uniformly from [0, max).
func UniformJitter(max time.Duration) func() time.Duration {
	return func() time.Duration {
		if max <= 0 {
			return 0
		}
		return time.Duration(rand.Int63n(int64(max)))
	}
}

// Delay returns the wait before retry n (0-based): BaseDelay doubled n times,
// raised to hint when the server asked for longer, capped at MaxDelay, plus jitter.
func (p Policy) Delay(n int, hint time.Duration) time.Duration {
	d := p.BaseDelay
	for i := 0; i < n && d > 0; i++ {
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			break
		}
		d *= 2
	}
	if hint > d {
		d = hint
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter != nil {
		d += p.Jitter()
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, or the retry
// budget of the failing class is spent. It returns the number of calls made.
// Failures are reported as *domain.DispatchError; caller cancellation is
// returned as the context error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	rateRetries, transportRetries := 0, 0
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		class := Classify(err)
		var kind error
		allowed := false
		switch class {
		case ClassCanceled:
			return attempt, err
		case ClassCredential:
			return attempt, &domain.DispatchError{Kind: domain.ErrCredential, Attempts: attempt, Err: err}
		case ClassRateLimit:
			kind = domain.ErrRateLimited
			allowed = rateRetries < p.MaxRateLimitRetries
			rateRetries++
		case ClassPermanent:
			kind = domain.ErrTransport
		default:
			kind = domain.ErrTransport
			allowed = transportRetries < p.MaxTransportRetries
			transportRetries++
		}
		if !allowed {
			return attempt, &domain.DispatchError{Kind: kind, Attempts: attempt, Err: err}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}

		delay := p.Delay(attempt-1, RetryAfter(err))
		if p.OnBackoff != nil {
			p.OnBackoff(Backoff{Attempt: attempt, Class: class, Delay: delay, Err: err})
		}
		if err := p.sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
