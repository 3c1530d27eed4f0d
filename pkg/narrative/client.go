// pkg/narrative/client.go
package narrative

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/chainintel/chainintel/pkg/config"
)

const systemPrompt = "You are a blockchain forensic analyst. Write concise summaries."

// Generator produces one risk summary per prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// chatCompleter is the slice of the OpenAI client the generator needs
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIGenerator calls an OpenAI-compatible chat completion endpoint
type OpenAIGenerator struct {
	client      chatCompleter
	model       string
	temperature float32
}

// NewOpenAIGenerator builds a generator from narrative settings
func NewOpenAIGenerator(cfg *config.NarrativeConfig) (*OpenAIGenerator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("narrative config is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Generate performs a single chat completion call
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: g.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
