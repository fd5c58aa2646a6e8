package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/deepresearch/pkg/ai"
	"github.com/OFFIS-RIT/deepresearch/pkg/caller"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"

	"google.golang.org/genai"
)

// GeminiModel implements ai.GenerativeModel on the Gemini API.
type GeminiModel struct {
	ai.MetricsRecorder

	model string

	Client *genai.Client
}

// NewGeminiModelParams contains configuration options for creating a new GeminiModel.
type NewGeminiModelParams struct {
	Model   string
	BaseURL string
	ApiKey  string
}

// NewGeminiModel creates a new GeminiModel.
func NewGeminiModel(ctx context.Context, params NewGeminiModelParams) (*GeminiModel, error) {
	if params.ApiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  params.ApiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if params.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: params.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	return &GeminiModel{
		model:  params.Model,
		Client: client,
	}, nil
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return caller.FromStatus(apiErr.Code, err)
	}
	var ptrErr *genai.APIError
	if errors.As(err, &ptrErr) {
		return caller.FromStatus(ptrErr.Code, err)
	}
	return err
}

func (c *GeminiModel) generate(ctx context.Context, prompt string, options ai.GenerateOptions, jsonMode bool) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(options.Temperature)),
	}
	if options.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(options.MaxTokens)
	}
	if len(options.SystemPrompts) > 0 {
		parts := make([]*genai.Part, 0, len(options.SystemPrompts))
		for _, sp := range options.SystemPrompts {
			parts = append(parts, &genai.Part{Text: sp})
		}
		cfg.SystemInstruction = &genai.Content{Parts: parts}
	}
	if jsonMode {
		cfg.ResponseMIMEType = "application/json"
	}

	start := time.Now()
	resp, err := c.Client.Models.GenerateContent(ctx, options.Model, genai.Text(prompt), cfg)
	if err != nil {
		return "", classify(fmt.Errorf("gemini generate content: %w", err))
	}

	metrics := ai.ModelMetrics{DurationMs: time.Since(start).Milliseconds()}
	if resp.UsageMetadata != nil {
		metrics.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		metrics.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		metrics.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	c.Record(metrics)

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates in response from model")
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	return text.String(), nil
}

// GenerateText sends a single-turn prompt and returns the text of the first candidate.
func (c *GeminiModel) GenerateText(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.model,
		Temperature: 0.3,
	}, opts...)

	return c.generate(ctx, prompt, options, false)
}

// GenerateStructured requests JSON output, with the schema of out in the prompt.
func (c *GeminiModel) GenerateStructured(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.model,
		Temperature: 0.1,
	}, opts...)

	content, err := c.generate(ctx, ai.StructuredPrompt(name, description, prompt, out), options, true)
	if err != nil {
		return err
	}
	if err := ai.DecodeStructured(name, content, out); err != nil {
		logger.Debug("[Gemini] Structured output rejected", "name", name, "err", err)
		return err
	}
	return nil
}
