// Package anthropic is a Messages API client implementing domain.Generator.
package anthropic

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"carrec/internal/domain"
	"carrec/internal/llm"
	"carrec/internal/logging"
)

const (
	DefaultBaseURL = "https://api.anthropic.com/v1"
	DefaultModel   = "claude-3-haiku-20240307"
	APIVersion     = "2023-06-01"
)

// Client calls POST {base}/messages. It makes exactly one HTTP request per
// Generate call; retries belong to the caller.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
	log       zerolog.Logger
}

// Config configures the Messages client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
}

// NewClient reads the API key from cfg.APIKeyEnv and fails with
// domain.ErrCredential when it is unset.
func NewClient(cfg Config) (*Client, error) {
	key, err := llm.APIKey(cfg.APIKeyEnv)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	hc := cfg.HTTPClient
	if hc == nil {
		t := cfg.Timeout
		if t == 0 {
			t = 60 * time.Second
		}
		hc = &http.Client{Timeout: t}
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    key,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    hc,
		log:       logging.Component("anthropic"),
	}, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string { return "anthropic" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate sends one user message and concatenates the text blocks of the reply.
func (c *Client) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	body := request{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Messages:    []message{{Role: "user", Content: p.Text}},
		Temperature: p.Temperature,
	}
	if p.Model != "" {
		body.Model = p.Model
	}
	if p.MaxTokens > 0 {
		body.MaxTokens = p.MaxTokens
	}

	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": APIVersion,
	}
	var out response
	if err := llm.PostJSON(ctx, c.client, c.Name(), c.baseURL+"/messages", headers, body, &out); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" || block.Type == "" {
			sb.WriteString(block.Text)
		}
	}
	reqLog := logging.WithRequest(ctx, c.log)
	reqLog.Debug().
		Str("model", body.Model).
		Str("stop_reason", out.StopReason).
		Int("input_tokens", out.Usage.InputTokens).
		Int("output_tokens", out.Usage.OutputTokens).
		Msg("messages call completed")
	return sb.String(), nil
}
