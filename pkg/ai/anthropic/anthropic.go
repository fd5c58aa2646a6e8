package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/deepresearch/pkg/ai"
	"github.com/OFFIS-RIT/deepresearch/pkg/caller"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// defaultMaxTokens is sent when no limit is configured, the messages API requires one.
const defaultMaxTokens = 4096

// AnthropicModel implements ai.GenerativeModel on the Anthropic messages API.
type AnthropicModel struct {
	ai.MetricsRecorder

	model string

	Client *anthropic.Client
}

// NewAnthropicModelParams contains configuration options for creating a new AnthropicModel.
type NewAnthropicModelParams struct {
	Model   string
	BaseURL string
	ApiKey  string
}

// NewAnthropicModel creates a new AnthropicModel.
func NewAnthropicModel(params NewAnthropicModelParams) (*AnthropicModel, error) {
	if params.ApiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}

	options := []option.RequestOption{
		option.WithAPIKey(params.ApiKey),
		option.WithMaxRetries(0),
	}
	if params.BaseURL != "" {
		options = append(options, option.WithBaseURL(params.BaseURL))
	}
	client := anthropic.NewClient(options...)

	return &AnthropicModel{
		model:  params.Model,
		Client: &client,
	}, nil
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return caller.FromStatus(apiErr.StatusCode, err)
	}
	return err
}

func (c *AnthropicModel) message(ctx context.Context, prompt string, options ai.GenerateOptions) (string, error) {
	maxTokens := int64(defaultMaxTokens)
	if options.MaxTokens > 0 {
		maxTokens = int64(options.MaxTokens)
	}

	body := anthropic.MessageNewParams{
		Model:     anthropic.Model(options.Model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(options.Temperature),
	}
	for _, sp := range options.SystemPrompts {
		body.System = append(body.System, anthropic.TextBlockParam{Text: sp})
	}

	start := time.Now()
	resp, err := c.Client.Messages.New(ctx, body)
	if err != nil {
		return "", classify(fmt.Errorf("anthropic messages: %w", err))
	}

	c.Record(ai.ModelMetrics{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		DurationMs:   time.Since(start).Milliseconds(),
	})

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

// GenerateText sends a single-turn prompt and returns the concatenated text blocks.
func (c *AnthropicModel) GenerateText(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.model,
		Temperature: 0.3,
	}, opts...)

	return c.message(ctx, prompt, options)
}

// GenerateStructured embeds the schema of out in the prompt and decodes the answer.
func (c *AnthropicModel) GenerateStructured(
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

	content, err := c.message(ctx, ai.StructuredPrompt(name, description, prompt, out), options)
	if err != nil {
		return err
	}
	if err := ai.DecodeStructured(name, content, out); err != nil {
		logger.Debug("[Anthropic] Structured output rejected", "name", name, "err", err)
		return err
	}
	return nil
}
