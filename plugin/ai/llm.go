package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// GenerateRequest is a single completion request built from an assembled prompt.
type GenerateRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// Generation is the outcome of a completion. TokensIn and TokensOut are zero
// when the provider does not report usage.
type Generation struct {
	Text      string
	Model     string
	TokensIn  int
	TokensOut int
	LatencyMs int64
}

// GenerationService is the text generation service interface.
type GenerationService interface {
	Generate(ctx context.Context, req GenerateRequest) (*Generation, error)
}

type generationService struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewGenerationService creates a GenerationService for an OpenAI compatible
// endpoint, or the offline stub when the provider is "stub".
func NewGenerationService(cfg *LLMConfig) (GenerationService, error) {
	switch cfg.Provider {
	case "stub":
		return &stubGenerationService{model: "stub"}, nil
	case "openai", "deepseek", "siliconflow":
		// DeepSeek and SiliconFlow are compatible with OpenAI API
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		return &generationService{
			client:      openai.NewClientWithConfig(clientConfig),
			model:       cfg.Model,
			maxTokens:   cfg.MaxTokens,
			temperature: cfg.Temperature,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

func (s *generationService) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.maxTokens
	}
	temperature := req.Temperature
	if temperature < 0 {
		temperature = s.temperature
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty response")
	}

	model := resp.Model
	if model == "" {
		model = s.model
	}
	return &Generation{
		Text:      strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:     model,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// stubGenerationService answers without a model by pointing at the first
// cited evidence entry. It lets the server run end to end offline.
type stubGenerationService struct {
	model string
}

func (s *stubGenerationService) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := "Based on the available evidence, see [1] for the strongest signal."
	if !strings.Contains(req.Prompt, "[1]") {
		text = "I could not find supporting evidence for this question."
	}
	return &Generation{Text: text, Model: s.model}, nil
}
