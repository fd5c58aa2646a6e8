package ai

import (
	"context"

	"github.com/OFFIS-RIT/deepresearch/pkg/caller"
)

// LimitedModel routes every request of the wrapped model through a caller.Caller
// so that concurrency, request rate, timeouts and retries are enforced in one place.
type LimitedModel struct {
	model  GenerativeModel
	caller *caller.Caller
}

// NewLimitedModel wraps model with c.
func NewLimitedModel(model GenerativeModel, c *caller.Caller) *LimitedModel {
	return &LimitedModel{model: model, caller: c}
}

func (m *LimitedModel) GenerateText(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	return caller.Do(ctx, m.caller, "generate_text", func(ctx context.Context) (string, error) {
		return m.model.GenerateText(ctx, prompt, opts...)
	})
}

func (m *LimitedModel) GenerateStructured(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...GenerateOption,
) error {
	_, err := caller.Do(ctx, m.caller, "generate_structured:"+name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.model.GenerateStructured(ctx, name, description, prompt, out, opts...)
	})
	return err
}

func (m *LimitedModel) ResetMetrics() {
	m.model.ResetMetrics()
}

func (m *LimitedModel) GetMetrics() ModelMetrics {
	return m.model.GetMetrics()
}

// Stats exposes the retry counters of the underlying caller.
func (m *LimitedModel) Stats() caller.Stats {
	return m.caller.Stats()
}
