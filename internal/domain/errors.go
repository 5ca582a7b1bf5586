package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrDataLoad          = errors.New("dataset could not be loaded")
	ErrRateLimited       = errors.New("recommendation service rate limit exceeded")
	ErrTransport         = errors.New("could not reach the recommendation service")
	ErrCredential        = errors.New("recommendation service credential missing or rejected")
	ErrEmptyCandidateSet = errors.New("no cars match the selected filters")
	ErrEmptyRequirements = errors.New("requirements text is empty")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

// StatusError is a non-2xx reply from a text-generation service.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s: %d %s: %s", e.Provider, e.StatusCode, http.StatusText(e.StatusCode), body)
}

// DispatchError reports a dispatch that ran out of retries or hit a terminal
// error. It matches both its Kind sentinel and the last underlying cause.
type DispatchError struct {
	Kind     error
	Attempts int
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%v after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *DispatchError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
