// Package openai is an OpenAI-compatible chat completions client
// implementing domain.Generator. Works with any server exposing
// /chat/completions (OpenAI, Ollama, vLLM, LM Studio).
package openai

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
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

// Client calls POST {base}/chat/completions once per Generate call.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
	log       zerolog.Logger
}

// Config configures the chat completions client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
}

// NewClient creates a client using the key in cfg.APIKeyEnv.
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
		log:       logging.Component("openai"),
	}, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate returns the content of the first choice.
func (c *Client) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	body := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: p.Text}},
		Temperature: p.Temperature,
		MaxTokens:   c.maxTokens,
	}
	if p.Model != "" {
		body.Model = p.Model
	}
	if p.MaxTokens > 0 {
		body.MaxTokens = p.MaxTokens
	}

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	var out chatResponse
	if err := llm.PostJSON(ctx, c.client, c.Name(), c.baseURL+"/chat/completions", headers, body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	reqLog := logging.WithRequest(ctx, c.log)
	reqLog.Debug().
		Str("model", body.Model).
		Str("finish_reason", out.Choices[0].FinishReason).
		Int("prompt_tokens", out.Usage.PromptTokens).
		Int("completion_tokens", out.Usage.CompletionTokens).
		Msg("chat completion finished")
	return out.Choices[0].Message.Content, nil
}
