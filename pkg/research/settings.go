package research

import "time"

const (
	DefaultMaxLoops             = 3
	DefaultMaxResultsPerQuery   = 3
	DefaultChunkSize            = 10000
	DefaultChunkOverlap         = 500
	DefaultMaxTextLength        = 50000
	DefaultMaxConcurrentChunks  = 5
	DefaultMaxConcurrentFetches = 4
	DefaultRelevanceThreshold   = 0.6
	DefaultMaxRelevantResults   = 5
	DefaultMinSections          = 3
	DefaultMaxSections          = 5
	DefaultMaxQueryWords        = 12
	DefaultLanguage             = "English"
	DefaultSummaryMaxTokens     = 1024
)

// Settings tune the research engine. Zero values fall back to the defaults.
type Settings struct {
	MaxLoops           int
	MaxResultsPerQuery int
	SnippetsOnly       bool

	ChunkSize      int
	ChunkOverlap   int
	ChunkMaxTokens int
	MaxTextLength  int

	MaxConcurrentChunks  int
	MaxConcurrentFetches int

	RelevanceFiltering bool
	RelevanceThreshold float64
	MaxRelevantResults int

	QueryRegeneration bool
	PlanRefinement    bool
	CombineSummaries  bool
	SynthesizeReport  bool

	MinSections   int
	MaxSections   int
	MaxQueryWords int
	Language      string

	// ReflectionTimeout bounds the knowledge graph extraction that runs next
	// to each reflection.
	ReflectionTimeout time.Duration
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		MaxLoops:             DefaultMaxLoops,
		MaxResultsPerQuery:   DefaultMaxResultsPerQuery,
		ChunkSize:            DefaultChunkSize,
		ChunkOverlap:         DefaultChunkOverlap,
		MaxTextLength:        DefaultMaxTextLength,
		MaxConcurrentChunks:  DefaultMaxConcurrentChunks,
		MaxConcurrentFetches: DefaultMaxConcurrentFetches,
		RelevanceFiltering:   true,
		RelevanceThreshold:   DefaultRelevanceThreshold,
		MaxRelevantResults:   DefaultMaxRelevantResults,
		QueryRegeneration:    true,
		CombineSummaries:     true,
		SynthesizeReport:     true,
		MinSections:          DefaultMinSections,
		MaxSections:          DefaultMaxSections,
		MaxQueryWords:        DefaultMaxQueryWords,
		Language:             DefaultLanguage,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.MaxLoops <= 0 {
		s.MaxLoops = d.MaxLoops
	}
	if s.MaxResultsPerQuery <= 0 {
		s.MaxResultsPerQuery = d.MaxResultsPerQuery
	}
	if s.ChunkSize <= 0 {
		s.ChunkSize = d.ChunkSize
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		s.ChunkOverlap = min(d.ChunkOverlap, s.ChunkSize/2)
	}
	if s.MaxTextLength <= 0 {
		s.MaxTextLength = d.MaxTextLength
	}
	if s.MaxConcurrentChunks <= 0 {
		s.MaxConcurrentChunks = d.MaxConcurrentChunks
	}
	if s.MaxConcurrentFetches <= 0 {
		s.MaxConcurrentFetches = d.MaxConcurrentFetches
	}
	if s.RelevanceThreshold <= 0 || s.RelevanceThreshold > 1 {
		s.RelevanceThreshold = d.RelevanceThreshold
	}
	if s.MaxRelevantResults <= 0 {
		s.MaxRelevantResults = d.MaxRelevantResults
	}
	if s.MinSections <= 0 {
		s.MinSections = d.MinSections
	}
	if s.MaxSections < s.MinSections {
		s.MaxSections = max(d.MaxSections, s.MinSections)
	}
	if s.MaxQueryWords <= 0 {
		s.MaxQueryWords = d.MaxQueryWords
	}
	if s.Language == "" {
		s.Language = d.Language
	}
	if s.ReflectionTimeout <= 0 {
		s.ReflectionTimeout = 2 * time.Minute
	}
	return s
}
