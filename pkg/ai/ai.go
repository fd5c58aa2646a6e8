package ai

import (
	"context"
	"fmt"
)

// GenerateOptions holds configuration for AI generation requests.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	MaxTokens     int      // Upper bound for generated tokens, 0 leaves it to the provider
}

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	Requests       int     `json:"requests"`
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// GenerateOption is a functional option for configuring AI generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel returns a GenerateOption that sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts returns a GenerateOption that sets the system prompts
// to prepend to the generation request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature returns a GenerateOption that sets the sampling temperature.
// Higher values (e.g., 1.0) produce more random outputs, while lower values
// (e.g., 0.2) make outputs more focused and deterministic.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithMaxTokens returns a GenerateOption that caps the generated output length.
func WithMaxTokens(n int) GenerateOption {
	return func(o *GenerateOptions) {
		o.MaxTokens = n
	}
}

// ApplyOptions resolves opts on top of the given defaults.
func ApplyOptions(defaults GenerateOptions, opts ...GenerateOption) GenerateOptions {
	options := defaults
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// GenerativeModel is the capability every LLM backend provides.
//
// GenerateStructured fills out, which must be a pointer to a struct whose JSON
// schema is derived with GenerateSchema. Implementations return a
// *StructuredOutputError when the provider output cannot be turned into a
// valid value after JSON repair.
type GenerativeModel interface {
	GenerateText(
		ctx context.Context,
		prompt string,
		opts ...GenerateOption,
	) (string, error)
	GenerateStructured(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error

	ResetMetrics()
	GetMetrics() ModelMetrics
}

// Validator is implemented by structured output types that carry semantic
// constraints beyond their JSON schema.
type Validator interface {
	Validate() error
}

// StructuredOutputError reports a response that could not be decoded into the
// requested schema.
type StructuredOutputError struct {
	Name string
	Raw  string
	Err  error
}

func (e *StructuredOutputError) Error() string {
	return fmt.Sprintf("structured output %q: %v", e.Name, e.Err)
}

func (e *StructuredOutputError) Unwrap() error {
	return e.Err
}
