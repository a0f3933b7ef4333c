// Package openai provides an OpenAI-backed inference engine.
//
// Persona adapters map to fine-tuned model names: a non-empty adapter
// reference is used as the model for the request, the configured base model
// otherwise.
package openai

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/crave-labs/cravecore-go/pkg/inference"
)

// Client implements inference.Engine using the OpenAI Chat Completions API.
type Client struct {
	client    *openai.Client
	baseModel string
}

// Config is the configuration for the OpenAI inference engine.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// Model is the base model used when no adapter reference is given.
	Model string

	// BaseURL overrides the API base URL (optional).
	BaseURL string
}

// NewClient creates a new OpenAI inference client.
func NewClient(cfg *Config) (*Client, error) {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}

	return &Client{
		client:    openai.NewClientWithConfig(config),
		baseModel: model,
	}, nil
}

// Generate produces text for a prompt using the persona fine-tune named by
// adapterRef, or the base model when adapterRef is empty.
func (c *Client) Generate(ctx context.Context, prompt string, adapterRef string, opts ...inference.GenerateOption) (string, error) {
	options := inference.ApplyGenerateOptions(opts)

	model := c.baseModel
	if adapterRef != "" {
		model = adapterRef
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
		TopP:        float32(options.TopP),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("generation failed: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Close is retained for interface compatibility.
func (c *Client) Close() error {
	return nil
}
