// Package summarizer turns analysis reports into prose with a chat model.
package summarizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Providers.
const (
	ProviderNone   = "none"
	ProviderOpenAI = "openai"
)

// Config configures the chat model.
type Config struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	Token       string        `mapstructure:"token"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the defaults used when a field is unset.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderNone,
		MaxTokens:   1500,
		Temperature: 0.7,
		Timeout:     60 * time.Second,
	}
}

// Enabled reports whether a provider is selected.
func (c Config) Enabled() bool {
	return c.Provider != "" && c.Provider != ProviderNone
}

// LLMSummarizer sends one user message per report.
type LLMSummarizer struct {
	model       llms.Model
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      zerolog.Logger
}

// New builds the model for cfg.Provider. It returns nil when no provider is configured.
func New(cfg Config, logger zerolog.Logger) (*LLMSummarizer, error) {
	switch cfg.Provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.Token),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s model: %w", cfg.Provider, err)
		}
		return NewWithModel(model, cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported summarizer provider: %s", cfg.Provider)
	}
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, cfg Config, logger zerolog.Logger) *LLMSummarizer {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &LLMSummarizer{
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      logger.With().Str("component", "summarizer").Logger(),
	}
}

// Summarize returns the model's first choice.
func (s *LLMSummarizer) Summarize(ctx context.Context, report string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, report),
	}, llms.WithMaxTokens(s.maxTokens), llms.WithTemperature(s.temperature))
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}

	s.logger.Debug().Dur("duration", time.Since(start)).Int("chars", len(resp.Choices[0].Content)).Msg("Summary generated")
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
