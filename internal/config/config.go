package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"carrec/internal/domain"
)

// DatasetConfig locates the vehicle CSV.
type DatasetConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// ProviderConfig selects and configures the text-generation service.
type ProviderConfig struct {
	Type        string   `yaml:"type" validate:"oneof=anthropic openai"`
	BaseURL     string   `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string   `yaml:"api_key_env" validate:"required"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int      `yaml:"max_tokens" validate:"gt=0"`
	TimeoutSecs int      `yaml:"timeout_secs" validate:"gt=0"`
}

// RetryConfig bounds dispatch retries. Nil pointers take the defaults; an
// explicit 0 disables retries for that class, or jitter.
type RetryConfig struct {
	MaxRateLimitRetries *int `yaml:"max_rate_limit_retries" validate:"omitempty,gte=0,lte=10"`
	MaxTransportRetries *int `yaml:"max_transport_retries" validate:"omitempty,gte=0,lte=5"`
	BaseDelayMs         int  `yaml:"base_delay_ms" validate:"gt=0"`
	MaxDelayMs          int  `yaml:"max_delay_ms" validate:"gtefield=BaseDelayMs"`
	JitterMs            *int `yaml:"jitter_ms" validate:"omitempty,gte=0"`
}

// BreakerConfig configures the provider circuit breaker.
type BreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failure_threshold" validate:"gte=1"`
	OpenTimeoutSecs  int    `yaml:"open_timeout_secs" validate:"gt=0"`
}

// PipelineConfig sizes the prompt and the answer.
type PipelineConfig struct {
	CandidateCap int `yaml:"candidate_cap" validate:"gt=0,lte=2000"`
	TopN         int `yaml:"top_n" validate:"gt=0,lte=20"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr              string `yaml:"addr" validate:"required"`
	RequestsPerMinute int    `yaml:"requests_per_minute" validate:"gte=0"`
	Images            bool   `yaml:"images"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error disabled off"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Dataset  DatasetConfig  `yaml:"dataset"`
	Provider ProviderConfig `yaml:"provider"`
	Retry    RetryConfig    `yaml:"retry"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrInvalidConfig, path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/carrec/config.yaml.
// If neither exists, it writes defaults to ~/.config/carrec/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "carrec", "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	cfg := &AppConfig{
		Dataset:  DatasetConfig{Path: "data/cars.csv"},
		Provider: ProviderConfig{Type: "anthropic"},
		Log:      LogConfig{Level: "info", Format: "console"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields, including provider-specific ones.
func ApplyDefaults(cfg *AppConfig) { applyConfigDefaults(cfg) }

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Provider.Type == "" {
		cfg.Provider.Type = "anthropic"
	}
	cfg.Provider.Type = strings.ToLower(cfg.Provider.Type)
	switch cfg.Provider.Type {
	case "anthropic":
		if cfg.Provider.BaseURL == "" {
			cfg.Provider.BaseURL = "https://api.anthropic.com/v1"
		}
		if cfg.Provider.APIKeyEnv == "" {
			cfg.Provider.APIKeyEnv = "CLAUDE_API_KEY"
		}
		if cfg.Provider.Model == "" {
			cfg.Provider.Model = "claude-3-haiku-20240307"
		}
	case "openai":
		if cfg.Provider.BaseURL == "" {
			cfg.Provider.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Provider.APIKeyEnv == "" {
			cfg.Provider.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Provider.Model == "" {
			cfg.Provider.Model = "gpt-4o-mini"
		}
	}
	if cfg.Provider.Temperature == nil {
		cfg.Provider.Temperature = floatPtr(0.2)
	}
	if cfg.Provider.MaxTokens == 0 {
		cfg.Provider.MaxTokens = 1000
	}
	if cfg.Provider.TimeoutSecs == 0 {
		cfg.Provider.TimeoutSecs = 60
	}

	if cfg.Retry.MaxRateLimitRetries == nil {
		cfg.Retry.MaxRateLimitRetries = intPtr(5)
	}
	if cfg.Retry.MaxTransportRetries == nil {
		cfg.Retry.MaxTransportRetries = intPtr(1)
	}
	if cfg.Retry.BaseDelayMs == 0 {
		cfg.Retry.BaseDelayMs = 1000
	}
	if cfg.Retry.MaxDelayMs == 0 {
		cfg.Retry.MaxDelayMs = 30000
	}
	if cfg.Retry.JitterMs == nil {
		cfg.Retry.JitterMs = intPtr(1000)
	}

	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.OpenTimeoutSecs == 0 {
		cfg.Breaker.OpenTimeoutSecs = 30
	}

	if cfg.Pipeline.CandidateCap == 0 {
		cfg.Pipeline.CandidateCap = 200
	}
	if cfg.Pipeline.TopN == 0 {
		cfg.Pipeline.TopN = 5
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.RequestsPerMinute == 0 {
		cfg.Server.RequestsPerMinute = 30
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate checks field constraints and reports every violation in one
// error wrapping domain.ErrInvalidConfig.
func (c *AppConfig) Validate() error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "AppConfig.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(msgs, "; "))
}
