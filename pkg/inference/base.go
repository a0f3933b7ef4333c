// Package inference provides the inference engine collaborator contract.
//
// The engine is treated as a single opaque, possibly slow call with its own
// timeout. An adapter reference selects the persona fine-tune to generate
// with; an empty reference selects the base model.
package inference

import "context"

// Engine defines the interface for inference backends.
type Engine interface {
	// Generate produces text for a prompt. adapterRef identifies the persona
	// fine-tune to apply; pass an empty string for the base model.
	Generate(ctx context.Context, prompt string, adapterRef string, opts ...GenerateOption) (string, error)

	// Close closes the engine and releases resources.
	Close() error
}

// GenerateOptions contains options for text generation.
type GenerateOptions struct {
	// Temperature controls randomness (0.0-2.0). Higher = more random.
	Temperature float64

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int

	// TopP controls nucleus sampling (0.0-1.0). Higher = more diverse.
	TopP float64
}

// GenerateOption is a function type for configuring generation options.
type GenerateOption func(*GenerateOptions)

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Temperature = temp
	}
}

// WithMaxTokens sets the maximum number of tokens in the response.
func WithMaxTokens(max int) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.MaxTokens = max
	}
}

// WithTopP sets the top-p (nucleus sampling) parameter.
func WithTopP(topP float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.TopP = topP
	}
}

// ApplyGenerateOptions applies option functions over the defaults:
// Temperature=0.7, MaxTokens=512, TopP=0.95 (the generation parameters the
// insight prompts were tuned against).
func ApplyGenerateOptions(opts []GenerateOption) *GenerateOptions {
	options := &GenerateOptions{
		Temperature: 0.7,
		MaxTokens:   512,
		TopP:        0.95,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
