package config

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/deepresearch/pkg/ai"
	"github.com/OFFIS-RIT/deepresearch/pkg/ai/anthropic"
	"github.com/OFFIS-RIT/deepresearch/pkg/ai/google"
	"github.com/OFFIS-RIT/deepresearch/pkg/ai/ollama"
	"github.com/OFFIS-RIT/deepresearch/pkg/ai/openai"
	"github.com/OFFIS-RIT/deepresearch/pkg/caller"
	"github.com/OFFIS-RIT/deepresearch/pkg/loader"
	"github.com/OFFIS-RIT/deepresearch/pkg/loader/web"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger/console"
	"github.com/OFFIS-RIT/deepresearch/pkg/research"
	"github.com/OFFIS-RIT/deepresearch/pkg/search"
	"github.com/OFFIS-RIT/deepresearch/pkg/search/brave"
	"github.com/OFFIS-RIT/deepresearch/pkg/search/duckduckgo"
	"github.com/OFFIS-RIT/deepresearch/pkg/search/tavily"
)

// InitLogger installs the console logger described by c as global logger.
func (c LogConfig) InitLogger(prefix string) {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  c.Debug,
		Level:  c.Level,
		JSON:   c.JSON,
		Prefix: prefix,
	}))
}

// NewModel creates the configured backend wrapped in a caller that enforces
// LLM_MAX_PARALLEL_REQUESTS, LLM_MAX_RPM, LLM_TIMEOUT and the retry policy.
func NewModel(ctx context.Context, c LLMConfig) (*ai.LimitedModel, error) {
	var (
		model ai.GenerativeModel
		err   error
	)

	switch c.Provider {
	case "ollama":
		model, err = ollama.NewOllamaModel(ollama.NewOllamaModelParams{
			Model:   c.Model,
			BaseURL: c.BaseURL,
			ApiKey:  c.ApiKey,
		})
	case "anthropic":
		model, err = anthropic.NewAnthropicModel(anthropic.NewAnthropicModelParams{
			Model:   c.Model,
			BaseURL: c.BaseURL,
			ApiKey:  c.ApiKey,
		})
	case "google":
		model, err = google.NewGeminiModel(ctx, google.NewGeminiModelParams{
			Model:   c.Model,
			BaseURL: c.BaseURL,
			ApiKey:  c.ApiKey,
		})
	case "openai":
		model, err = openai.NewOpenAIModel(openai.NewOpenAIModelParams{
			Model:   c.Model,
			BaseURL: c.BaseURL,
			ApiKey:  c.ApiKey,
		})
	default:
		err = fmt.Errorf("unknown LLM provider %q", c.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", c.Provider, err)
	}

	limiter := caller.New(caller.Params{
		Name:              "llm",
		MaxConcurrent:     c.MaxParallel,
		RequestsPerMinute: c.MaxRPM,
		Timeout:           c.Timeout,
	})

	logger.Info("[Config] LLM ready", "provider", c.Provider, "model", c.Model, "max_rpm", c.MaxRPM, "max_parallel", c.MaxParallel)
	return ai.NewLimitedModel(model, limiter), nil
}

// NewSearch creates the configured search gateway.
func NewSearch(c SearchConfig, fetch FetchConfig) (search.Gateway, error) {
	client := &http.Client{Timeout: fetch.RetrievalTimeout}

	switch c.Provider {
	case "tavily":
		return tavily.NewTavily(tavily.NewTavilyParams{
			ApiKey: c.TavilyKey,
			Depth:  c.TavilyDepth,
			Client: client,
		})
	case "brave":
		return brave.NewBrave(brave.NewBraveParams{
			ApiKey: c.BraveKey,
			Client: client,
		})
	case "duckduckgo":
		return duckduckgo.NewDuckDuckGo(duckduckgo.NewDuckDuckGoParams{Client: client}), nil
	}
	return nil, fmt.Errorf("unknown search provider %q", c.Provider)
}

// NewSearchCaller retries transient search outages with the default backoff.
func NewSearchCaller(fetch FetchConfig) *caller.Caller {
	return caller.New(caller.Params{
		Name:    "search",
		Timeout: fetch.RetrievalTimeout,
	})
}

// NewFetcher creates the SSRF guarded content fetcher. The caller closes it.
func NewFetcher(c FetchConfig) *web.WebLoader {
	return web.NewWebLoader(web.NewWebLoaderParams{
		Timeout:    c.RetrievalTimeout,
		MaxBytes:   c.MaxBytes,
		ProcessPDF: c.ProcessPDF,
		UserAgent:  c.UserAgent,
	})
}

// Engine bundles the long lived parts of a research run. The content fetcher
// and its page cache are created per run.
type Engine struct {
	Model  *ai.LimitedModel
	Search search.Gateway
	Caller *caller.Caller
	Fetch  FetchConfig
}

// NewEngine builds model, search gateway and fetcher from c.
func NewEngine(ctx context.Context, c *Config) (*Engine, error) {
	model, err := NewModel(ctx, c.LLM)
	if err != nil {
		return nil, err
	}
	gw, err := NewSearch(c.Search, c.Fetch)
	if err != nil {
		return nil, err
	}
	return &Engine{
		Model:  model,
		Search: gw,
		Caller: NewSearchCaller(c.Fetch),
		Fetch:  c.Fetch,
	}, nil
}

// Orchestrator creates an orchestrator whose runs each get their own fetcher.
func (e *Engine) Orchestrator(settings research.Settings, hooks research.Hooks) *research.Orchestrator {
	return research.NewOrchestrator(research.NewOrchestratorParams{
		Model:  e.Model,
		Search: e.Search,
		NewFetcher: func() loader.ContentFetcher {
			return NewFetcher(e.Fetch)
		},
		SearchCaller: e.Caller,
		Settings:     settings,
		Hooks:        hooks,
	})
}

// LogMetrics logs the model usage since the last reset and resets it.
func (e *Engine) LogMetrics(component string) {
	metrics := e.Model.GetMetrics()
	stats := e.Model.Stats()
	logger.Info(
		"["+component+"] AI Metrics",
		"requests", metrics.Requests,
		"input_tokens", metrics.InputTokens,
		"output_tokens", metrics.OutputTokens,
		"total_tokens", metrics.TotalTokens,
		"retries", stats.Retries,
		"failures", stats.Failures,
		"duration", FormatClock(time.Duration(metrics.DurationMs)*time.Millisecond),
	)
	e.Model.ResetMetrics()
}

// FormatClock formats d as hh:mm:ss.
func FormatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
