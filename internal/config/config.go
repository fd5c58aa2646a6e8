// Package config reads the research engine configuration from the
// environment and validates it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/deepresearch/internal/util"
	"github.com/OFFIS-RIT/deepresearch/pkg/research"

	"github.com/go-playground/validator"
)

var (
	ErrMissingLLMKey    = errors.New("LLM_API_KEY is required for this provider")
	ErrMissingSearchKey = errors.New("search provider API key is missing")
)

var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"ollama":    "llama3.1",
	"anthropic": "claude-3-5-haiku-latest",
	"google":    "gemini-2.0-flash",
}

type LLMConfig struct {
	Provider    string        `validate:"required,oneof=openai ollama anthropic google"`
	Model       string        `validate:"required"`
	BaseURL     string        `validate:"omitempty,url"`
	ApiKey      string        `validate:"-"`
	MaxRPM      float64       `validate:"gte=0"`
	MaxParallel int64         `validate:"gte=0"`
	Timeout     time.Duration `validate:"gt=0"`
}

type SearchConfig struct {
	Provider    string `validate:"required,oneof=duckduckgo tavily brave"`
	TavilyKey   string `validate:"-"`
	TavilyDepth string `validate:"omitempty,oneof=basic advanced"`
	BraveKey    string `validate:"-"`
}

type ResearchConfig struct {
	MaxLoops           int  `validate:"min=1,max=20"`
	MaxResultsPerQuery int  `validate:"min=1,max=20"`
	SnippetsOnly       bool `validate:"-"`
	Interactive        bool `validate:"-"`

	ChunkSize      int `validate:"gt=0"`
	ChunkOverlap   int `validate:"gte=0,ltfield=ChunkSize"`
	ChunkMaxTokens int `validate:"gte=0"`
	MaxTextLength  int `validate:"gt=0"`

	MaxConcurrentChunks  int `validate:"min=1"`
	MaxConcurrentFetches int `validate:"min=1"`

	RelevanceFiltering bool    `validate:"-"`
	RelevanceThreshold float64 `validate:"gt=0,lte=1"`
	MaxRelevantResults int     `validate:"min=1"`

	QueryRegeneration bool `validate:"-"`
	PlanRefinement    bool `validate:"-"`
	CombineSummaries  bool `validate:"-"`
	SynthesizeReport  bool `validate:"-"`

	MinSections int    `validate:"min=1"`
	MaxSections int    `validate:"gtefield=MinSections"`
	Language    string `validate:"required"`
}

type FetchConfig struct {
	ProcessPDF       bool          `validate:"-"`
	RetrievalTimeout time.Duration `validate:"gt=0"`
	MaxBytes         int64         `validate:"gt=0"`
	UserAgent        string        `validate:"-"`
}

type LogConfig struct {
	Level string `validate:"omitempty,oneof=DEBUG INFO WARN WARNING ERROR FATAL CRITICAL"`
	JSON  bool   `validate:"-"`
	Debug bool   `validate:"-"`
}

// Config is the complete configuration of the research binaries.
type Config struct {
	LLM      LLMConfig
	Search   SearchConfig
	Research ResearchConfig
	Fetch    FetchConfig
	Log      LogConfig

	OutputFilename string `validate:"required"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	provider := strings.ToLower(strings.TrimSpace(util.GetEnvString("LLM_PROVIDER", "openai")))

	cfg := &Config{
		LLM: LLMConfig{
			Provider:    provider,
			Model:       util.GetEnvString("LLM_MODEL", defaultModels[provider]),
			BaseURL:     util.GetEnv("LLM_BASE_URL"),
			ApiKey:      util.GetEnv("LLM_API_KEY"),
			MaxRPM:      util.GetEnvFloat("LLM_MAX_RPM", 60),
			MaxParallel: int64(util.GetEnvInt("LLM_MAX_PARALLEL_REQUESTS", 5)),
			Timeout:     util.GetEnvDuration("LLM_TIMEOUT", 120*time.Second),
		},
		Search: SearchConfig{
			Provider:    strings.ToLower(strings.TrimSpace(util.GetEnvString("SEARCH_API", "duckduckgo"))),
			TavilyKey:   util.GetEnv("TAVILY_API_KEY"),
			TavilyDepth: util.GetEnvString("TAVILY_SEARCH_DEPTH", "basic"),
			BraveKey:    util.GetEnv("BRAVE_API_KEY"),
		},
		Research: ResearchConfig{
			MaxLoops:             util.GetEnvInt("MAX_RESEARCH_LOOPS", research.DefaultMaxLoops),
			MaxResultsPerQuery:   util.GetEnvInt("MAX_SEARCH_RESULTS_PER_QUERY", research.DefaultMaxResultsPerQuery),
			SnippetsOnly:         util.GetEnvBool("USE_SNIPPETS_ONLY_MODE", false),
			Interactive:          util.GetEnvBool("INTERACTIVE_MODE", false),
			ChunkSize:            util.GetEnvInt("SUMMARIZATION_CHUNK_SIZE_CHARS", research.DefaultChunkSize),
			ChunkOverlap:         util.GetEnvInt("SUMMARIZATION_CHUNK_OVERLAP_CHARS", research.DefaultChunkOverlap),
			ChunkMaxTokens:       util.GetEnvInt("SUMMARIZATION_CHUNK_MAX_TOKENS", 0),
			MaxTextLength:        util.GetEnvInt("MAX_TEXT_LENGTH_PER_SOURCE_CHARS", research.DefaultMaxTextLength),
			MaxConcurrentChunks:  util.GetEnvInt("MAX_CONCURRENT_CHUNKS", research.DefaultMaxConcurrentChunks),
			MaxConcurrentFetches: util.GetEnvInt("MAX_CONCURRENT_FETCHES", research.DefaultMaxConcurrentFetches),
			RelevanceFiltering:   util.GetEnvBool("ENABLE_RELEVANCE_FILTERING", true),
			RelevanceThreshold:   util.GetEnvFloat("RELEVANCE_THRESHOLD", research.DefaultRelevanceThreshold),
			MaxRelevantResults:   util.GetEnvInt("MAX_RELEVANT_RESULTS", research.DefaultMaxRelevantResults),
			QueryRegeneration:    util.GetEnvBool("ENABLE_QUERY_REGENERATION", true),
			PlanRefinement:       util.GetEnvBool("ENABLE_PLAN_REFINEMENT", false),
			CombineSummaries:     util.GetEnvBool("COMBINE_SUMMARIES", true),
			SynthesizeReport:     util.GetEnvBool("SYNTHESIZE_REPORT", true),
			MinSections:          util.GetEnvInt("RESEARCH_PLAN_MIN_SECTIONS", research.DefaultMinSections),
			MaxSections:          util.GetEnvInt("RESEARCH_PLAN_MAX_SECTIONS", research.DefaultMaxSections),
			Language:             util.GetEnvString("LANGUAGE", research.DefaultLanguage),
		},
		Fetch: FetchConfig{
			ProcessPDF:       util.GetEnvBool("PROCESS_PDF_FILES", true),
			RetrievalTimeout: util.GetEnvDuration("RETRIEVAL_TIMEOUT", 15*time.Second),
			MaxBytes:         int64(util.GetEnvInt("MAX_DOWNLOAD_BYTES", 10<<20)),
			UserAgent:        util.GetEnv("USER_AGENT"),
		},
		Log: LogConfig{
			Level: strings.ToUpper(strings.TrimSpace(util.GetEnvString("LOG_LEVEL", "INFO"))),
			JSON:  strings.EqualFold(util.GetEnv("LOG_FORMAT"), "json"),
			Debug: util.GetEnvBool("DEBUG", false),
		},
		OutputFilename: util.GetEnvString("OUTPUT_FILENAME", "research_report.md"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct constraints and the provider credentials.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch c.LLM.Provider {
	case "anthropic", "google":
		if c.LLM.ApiKey == "" {
			return fmt.Errorf("%s: %w", c.LLM.Provider, ErrMissingLLMKey)
		}
	case "openai":
		// OpenAI compatible servers behind LLM_BASE_URL may run without a key.
		if c.LLM.ApiKey == "" && c.LLM.BaseURL == "" {
			return fmt.Errorf("%s: %w", c.LLM.Provider, ErrMissingLLMKey)
		}
	}

	switch c.Search.Provider {
	case "tavily":
		if c.Search.TavilyKey == "" {
			return fmt.Errorf("TAVILY_API_KEY: %w", ErrMissingSearchKey)
		}
	case "brave":
		if c.Search.BraveKey == "" {
			return fmt.Errorf("BRAVE_API_KEY: %w", ErrMissingSearchKey)
		}
	}
	return nil
}

// Settings maps the configuration onto the research engine settings.
func (c *Config) Settings() research.Settings {
	r := c.Research
	return research.Settings{
		MaxLoops:             r.MaxLoops,
		MaxResultsPerQuery:   r.MaxResultsPerQuery,
		SnippetsOnly:         r.SnippetsOnly,
		ChunkSize:            r.ChunkSize,
		ChunkOverlap:         r.ChunkOverlap,
		ChunkMaxTokens:       r.ChunkMaxTokens,
		MaxTextLength:        r.MaxTextLength,
		MaxConcurrentChunks:  r.MaxConcurrentChunks,
		MaxConcurrentFetches: r.MaxConcurrentFetches,
		RelevanceFiltering:   r.RelevanceFiltering,
		RelevanceThreshold:   r.RelevanceThreshold,
		MaxRelevantResults:   r.MaxRelevantResults,
		QueryRegeneration:    r.QueryRegeneration,
		PlanRefinement:       r.PlanRefinement,
		CombineSummaries:     r.CombineSummaries,
		SynthesizeReport:     r.SynthesizeReport,
		MinSections:          r.MinSections,
		MaxSections:          r.MaxSections,
		MaxQueryWords:        research.DefaultMaxQueryWords,
		Language:             r.Language,
	}
}
