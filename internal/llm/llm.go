// Package llm holds the HTTP plumbing shared by the text-generation
// providers: credential lookup, JSON round trips and status errors.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"carrec/internal/domain"
)

// maxErrorBody bounds how much of a failed response is kept for classification.
const maxErrorBody = 4 << 10

// APIKey reads the credential from the named environment variable.
func APIKey(env string) (string, error) {
	if env == "" {
		return "", fmt.Errorf("%w: no API key environment variable configured", domain.ErrCredential)
	}
	key := strings.TrimSpace(os.Getenv(env))
	if key == "" {
		return "", fmt.Errorf("%w: %s is not set", domain.ErrCredential, env)
	}
	return key, nil
}

// PostJSON sends in as a JSON body and decodes a 2xx reply into out. Non-2xx
// replies come back as *domain.StatusError.
func PostJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.StatusError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: RetryAfter(resp.Header, time.Now()),
		}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", provider, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", provider, err)
	}
	return nil
}

// RetryAfter parses a Retry-After header given either as seconds or as an
// HTTP date. Absent or unparseable values yield zero.
func RetryAfter(h http.Header, now time.Time) time.Duration {
	ra := strings.TrimSpace(h.Get("Retry-After"))
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(ra); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// Unavailable stands in for a provider that could not be constructed, such
// as one without a credential. Every Generate call fails with Err.
type Unavailable struct {
	Provider string
	Err      error
}

// Name returns the provider identifier.
func (u Unavailable) Name() string { return u.Provider }

// Generate always fails with u.Err.
func (u Unavailable) Generate(context.Context, domain.Prompt) (string, error) {
	return "", u.Err
}
