// Package generate produces bios and cover letters. The entitlement core treats
// it as a black box: it is only called after access has been granted.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/jordanlanch/bioforge/pkg/models"
	"github.com/sashabaranov/go-openai"
)

// ErrEmptyCompletion is returned when the model answers with no content
var ErrEmptyCompletion = errors.New("no content returned by model")

// Generator turns user input into content for a tool
type Generator interface {
	Generate(ctx context.Context, tool models.ToolType, input string) (string, error)
}

var instructions = map[models.ToolType]string{
	models.ToolBioGenerator: "Write a concise professional bio in the first person from the details below. " +
		"Keep it under 150 words and do not invent employers or credentials.",
	models.ToolCoverLetter: "Write a cover letter from the candidate details and job description below. " +
		"Use three short paragraphs and a professional, warm tone.",
}

// Config for the OpenAI-compatible client
type Config struct {
	APIKey      string
	BaseURL     string // optional, for OpenAI-compatible servers
	Model       string // default: gpt-4o-mini
	Temperature float32
	MaxTokens   int
}

// OpenAIGenerator calls a chat-completion endpoint
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	log         logger.Logger
}

// NewOpenAIGenerator creates a generator backed by the OpenAI API
func NewOpenAIGenerator(cfg Config, log logger.Logger) *OpenAIGenerator {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 800
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(config),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		log:         log,
	}
}

// Generate implements Generator
func (g *OpenAIGenerator) Generate(ctx context.Context, tool models.ToolType, input string) (string, error) {
	instruction, ok := instructions[tool]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", tool)
	}

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instruction},
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		g.log.Error("chat completion failed", "tool", string(tool), "duration", time.Since(start), "error", err)
		return "", fmt.Errorf("openai chat failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}

	g.log.Debug("chat completion",
		"tool", string(tool),
		"tokens", resp.Usage.TotalTokens,
		"duration", time.Since(start),
	)
	return content, nil
}
