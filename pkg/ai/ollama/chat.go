package ollama

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/deepresearch/pkg/ai"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
)

// defaultContext is the context window Ollama uses unless told otherwise.
const defaultContext = 4096

// contextSize estimates the tokens a request needs, with headroom for the answer.
func contextSize(prompt string, options ai.GenerateOptions) (int, error) {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return 0, err
	}
	tokens := len(enc.Encode(prompt, nil, nil))
	for _, sp := range options.SystemPrompts {
		tokens += len(enc.Encode(sp, nil, nil))
	}
	if options.MaxTokens > 0 {
		tokens += options.MaxTokens
	} else {
		tokens += 1024
	}
	return tokens, nil
}

func (c *OllamaModel) chat(ctx context.Context, prompt string, options ai.GenerateOptions, format json.RawMessage) (string, error) {
	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sys := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sys})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Format:   format,
		Options:  map[string]any{"temperature": options.Temperature},
	}
	if options.MaxTokens > 0 {
		req.Options["num_predict"] = options.MaxTokens
	}

	tokens, err := contextSize(prompt, options)
	if err != nil {
		return "", err
	}
	if tokens > defaultContext {
		req.Options["num_ctx"] = tokens
	}

	if c.reqLock != nil {
		if err := c.reqLock.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer c.reqLock.Release(1)
	}

	var final api.ChatResponse
	if err := c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return "", classify(fmt.Errorf("ollama chat: %w", err))
	}

	c.Record(ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})

	return final.Message.Content, nil
}

// GenerateText sends a single-turn prompt and returns assistant text.
func (c *OllamaModel) GenerateText(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.model,
		Temperature: 0.3,
	}, opts...)

	return c.chat(ctx, prompt, options, nil)
}

// GenerateStructured enforces a JSON schema and unmarshals into out.
func (c *OllamaModel) GenerateStructured(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	formatBytes, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return err
	}

	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.model,
		Temperature: 0.1,
	}, opts...)

	content, err := c.chat(ctx, prompt, options, json.RawMessage(formatBytes))
	if err != nil {
		return err
	}
	if err := ai.DecodeStructured(name, content, out); err != nil {
		logger.Debug("[Ollama] Structured output rejected", "name", name, "err", err)
		return err
	}
	return nil
}
