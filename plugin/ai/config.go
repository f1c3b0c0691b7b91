package ai

import (
	"errors"

	"github.com/hrygo/marketsense/internal/profile"
)

// DefaultDimensions is the vector width of the corpus index.
const DefaultDimensions = 384

// Config represents AI configuration.
type Config struct {
	Embedding EmbeddingConfig
	LLM       LLMConfig
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string // local, openai, siliconflow
	Model      string // sentence-transformers/all-MiniLM-L6-v2
	Dimensions int    // 384
	APIKey     string
	BaseURL    string
}

// LLMConfig represents LLM configuration.
type LLMConfig struct {
	Provider    string // openai, deepseek, stub
	Model       string // gpt-4o-mini
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 700
	Temperature float32 // default: 0.3
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Embedding: EmbeddingConfig{
			Provider:   p.AIEmbeddingProvider,
			Model:      p.AIEmbeddingModel,
			Dimensions: DefaultDimensions,
			APIKey:     p.AIEmbeddingAPIKey,
			BaseURL:    p.AIEmbeddingBaseURL,
		},
		LLM: LLMConfig{
			Provider:    p.AILLMProvider,
			Model:       p.AILLMModel,
			APIKey:      p.AILLMAPIKey,
			BaseURL:     p.AILLMBaseURL,
			MaxTokens:   700,
			Temperature: 0.3,
		},
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "local"
	}
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "local":
	case "openai", "siliconflow":
		if c.Embedding.APIKey == "" {
			return errors.New("embedding API key is required")
		}
	default:
		return errors.New("unsupported embedding provider: " + c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}

	if c.LLM.Provider == "" {
		return errors.New("LLM provider is required")
	}
	if c.LLM.Provider != "stub" && c.LLM.APIKey == "" && c.LLM.BaseURL == "" {
		return errors.New("LLM API key or base URL is required")
	}
	return nil
}
