package research

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/deepresearch/internal/util"
	"github.com/OFFIS-RIT/deepresearch/pkg/ai"
	"github.com/OFFIS-RIT/deepresearch/pkg/caller"
	"github.com/OFFIS-RIT/deepresearch/pkg/chunker"
	"github.com/OFFIS-RIT/deepresearch/pkg/common"
	"github.com/OFFIS-RIT/deepresearch/pkg/loader"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"
	"github.com/OFFIS-RIT/deepresearch/pkg/search"

	"golang.org/x/sync/errgroup"
)

var ErrNoSummaries = errors.New("every chunk summary failed")

// QueryRegenerator proposes an alternative for a query without results.
type QueryRegenerator interface {
	RegenerateQuery(ctx context.Context, state *State, section SectionPlan, failed string) (string, error)
}

// SourceSelector lets a user pick which search results of an iteration are
// retrieved.
type SourceSelector interface {
	ReviewSources(ctx context.Context, section SectionPlan, results []common.SearchResult) ([]common.SearchResult, error)
}

// Iteration is the outcome of one search, retrieve and summarize pass.
type Iteration struct {
	Query     string
	Results   int
	Documents int
	Summary   string
	SourceIDs []int
}

// Executor runs the research iterations of a section.
type Executor struct {
	model    ai.GenerativeModel
	search   search.Gateway
	fetcher  loader.ContentFetcher
	caller   *caller.Caller
	regen    QueryRegenerator
	selector SourceSelector
	settings Settings
}

type NewExecutorParams struct {
	Model   ai.GenerativeModel
	Search  search.Gateway
	Fetcher loader.ContentFetcher
	// SearchCaller retries transient search outages. Nil searches once.
	SearchCaller *caller.Caller
	Regenerator  QueryRegenerator
	// Selector reviews the new results before retrieval. Nil keeps all.
	Selector SourceSelector
	Settings Settings
}

func NewExecutor(params NewExecutorParams) *Executor {
	return &Executor{
		model:    params.Model,
		search:   params.Search,
		fetcher:  params.Fetcher,
		caller:   params.SearchCaller,
		regen:    params.Regenerator,
		selector: params.Selector,
		settings: params.Settings.withDefaults(),
	}
}

type relevanceScore struct {
	Index int     `json:"index" jsonschema_description:"Number of the search result"`
	Score float64 `json:"score" jsonschema_description:"Relevance between 0.0 and 1.0"`
}

type relevanceScores struct {
	Scores []relevanceScore `json:"scores" jsonschema_description:"One score per search result"`
}

type chunkJob struct {
	doc  int
	text string
}

// GenerateQuery asks the model for the next search query of section. When the
// model fails or answers with nothing usable the objective is used.
func (e *Executor) GenerateQuery(ctx context.Context, state *State, section SectionPlan) string {
	findings := state.Result(section.ID).Findings()
	if findings == "" {
		findings = "None yet."
	} else {
		findings = util.TruncateWords(findings, 4000)
	}

	prompt := fmt.Sprintf(
		ai.QueryPrompt,
		state.Topic,
		section.Title,
		section.Objective,
		findings,
		e.settings.MaxQueryWords,
	)

	raw, err := e.model.GenerateText(ctx, prompt, systemPrompt(state.Language), ai.WithTemperature(0.5), ai.WithMaxTokens(64))
	if err != nil {
		logger.Warn("[Executor] Query generation failed, using objective", "section", section.Title, "err", err)
		return fallbackQuery(section)
	}

	query := util.SanitizeQuery(raw)
	if query == "" {
		return fallbackQuery(section)
	}
	return query
}

// Run executes one research iteration for section. The returned Iteration is
// never nil. Sources that contributed to the summary are registered in state.
// An error means the iteration produced nothing because the context ended or
// every summarization request failed.
func (e *Executor) Run(ctx context.Context, state *State, section SectionPlan, query string) (*Iteration, error) {
	query = util.SanitizeQuery(query)
	if query == "" {
		query = fallbackQuery(section)
	}
	it := &Iteration{Query: query}

	results := e.searchQuery(ctx, query)
	if len(results) == 0 && e.settings.QueryRegeneration && e.regen != nil && ctx.Err() == nil {
		key := regenerationKey(query)
		if !state.RegeneratedQueries[key] {
			state.RegeneratedQueries[key] = true
			alt, err := e.regen.RegenerateQuery(ctx, state, section, query)
			if err != nil {
				logger.Warn("[Executor] Query regeneration failed", "query", query, "err", err)
			} else {
				logger.Info("[Executor] No results, retrying with regenerated query", "query", query, "regenerated", alt)
				it.Query = alt
				results = e.searchQuery(ctx, alt)
			}
		}
	}
	it.Results = len(results)
	if len(results) == 0 {
		return it, ctx.Err()
	}

	results = e.filterRelevant(ctx, state, section, results)
	candidates := newCandidates(state, results)
	if len(candidates) == 0 {
		logger.Debug("[Executor] No new sources", "query", it.Query)
		return it, ctx.Err()
	}

	candidates = e.selectSources(ctx, section, candidates)
	if len(candidates) == 0 {
		logger.Info("[Executor] No sources selected", "query", it.Query)
		return it, ctx.Err()
	}

	docs := e.retrieve(ctx, candidates)
	it.Documents = len(docs)
	if len(docs) == 0 {
		return it, ctx.Err()
	}

	perDoc, err := e.summarize(ctx, state, section, it.Query, docs)
	if err != nil {
		return it, err
	}

	parts := make([]string, 0, len(docs))
	for i, doc := range docs {
		if len(perDoc[i]) == 0 {
			continue
		}
		k, _ := state.Sources.Register(doc.Result.URL, doc.Result.Title, section.ID)
		it.SourceIDs = append(it.SourceIDs, k)
		marker := fmt.Sprintf(" [%d]", k)
		for _, s := range perDoc[i] {
			parts = append(parts, s+marker)
		}
	}
	if len(parts) == 0 {
		return it, ctx.Err()
	}

	summary := strings.Join(parts, "\n\n")
	if e.settings.CombineSummaries && len(parts) > 1 {
		summary = e.combine(ctx, state, it.Query, parts)
	}

	ids := it.SourceIDs
	it.Summary = util.NormalizeCitations(summary, func(k int) bool {
		return slices.Contains(ids, k)
	})

	logger.Info(
		"[Executor] Iteration finished",
		"section", section.Title,
		"query", it.Query,
		"results", it.Results,
		"documents", it.Documents,
		"sources", len(it.SourceIDs),
	)
	return it, nil
}

func (e *Executor) searchQuery(ctx context.Context, query string) []common.SearchResult {
	results, err := caller.Do(ctx, e.caller, "search", func(ctx context.Context) ([]common.SearchResult, error) {
		return e.search.Search(ctx, query, e.settings.MaxResultsPerQuery)
	})
	if err != nil {
		var unavailable *search.UnavailableError
		if errors.As(err, &unavailable) {
			logger.Warn("[Executor] Search unavailable, continuing without results", "provider", unavailable.Provider, "query", query)
		} else {
			logger.Warn("[Executor] Search failed, continuing without results", "query", query, "err", err)
		}
		return nil
	}
	return search.Finalize(results, e.settings.MaxResultsPerQuery)
}

// filterRelevant scores results against the section objective and keeps the
// best ones. A failed scoring request keeps every result.
func (e *Executor) filterRelevant(
	ctx context.Context,
	state *State,
	section SectionPlan,
	results []common.SearchResult,
) []common.SearchResult {
	if !e.settings.RelevanceFiltering || len(results) == 0 {
		return results
	}

	var listing strings.Builder
	for i, r := range results {
		fmt.Fprintf(&listing, "[%d] %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Snippet)
	}
	prompt := fmt.Sprintf(ai.RelevancePrompt, section.Objective, listing.String())

	var out relevanceScores
	if err := e.model.GenerateStructured(
		ctx,
		"relevance_scores",
		"Relevance of each search result for the objective",
		prompt,
		&out,
		systemPrompt(state.Language),
		ai.WithTemperature(0),
	); err != nil {
		logger.Warn("[Executor] Relevance scoring failed, keeping all results", "err", err)
		return results
	}

	scores := make([]float64, len(results))
	for _, s := range out.Scores {
		if s.Index < 1 || s.Index > len(results) {
			continue
		}
		scores[s.Index-1] = max(scores[s.Index-1], s.Score)
	}

	idx := make([]int, 0, len(results))
	for i := range results {
		if scores[i] >= e.settings.RelevanceThreshold {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	if len(idx) > e.settings.MaxRelevantResults {
		idx = idx[:e.settings.MaxRelevantResults]
	}

	kept := make([]common.SearchResult, 0, len(idx))
	for _, i := range idx {
		kept = append(kept, results[i])
	}
	logger.Debug("[Executor] Relevance filter applied", "results", len(results), "kept", len(kept))
	return kept
}

// selectSources lets the selector narrow candidates. Results it returns that
// are not candidates are ignored.
func (e *Executor) selectSources(ctx context.Context, section SectionPlan, candidates []common.SearchResult) []common.SearchResult {
	if e.selector == nil {
		return candidates
	}

	selected, err := e.selector.ReviewSources(ctx, section, slices.Clone(candidates))
	if err != nil {
		logger.Warn("[Executor] Source review failed, keeping all results", "err", err)
		return candidates
	}

	chosen := make(map[string]struct{}, len(selected))
	for _, r := range selected {
		chosen[loader.CacheKey(r.URL)] = struct{}{}
	}
	kept := make([]common.SearchResult, 0, len(selected))
	for _, r := range candidates {
		if _, ok := chosen[loader.CacheKey(r.URL)]; ok {
			kept = append(kept, r)
		}
	}
	return kept
}

// newCandidates drops results whose URL is already a source of the run or
// appears earlier in the batch.
func newCandidates(state *State, results []common.SearchResult) []common.SearchResult {
	seen := make(map[string]struct{}, len(results))
	out := make([]common.SearchResult, 0, len(results))
	for _, r := range results {
		if _, ok := state.Sources.Lookup(r.URL); ok {
			continue
		}
		key := loader.CacheKey(r.URL)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// retrieve loads the text of every candidate with a bounded number of
// concurrent fetches. Documents keep the order of results.
func (e *Executor) retrieve(ctx context.Context, results []common.SearchResult) []common.Document {
	docs := make([]*common.Document, len(results))

	if e.settings.SnippetsOnly || e.fetcher == nil {
		for i, r := range results {
			docs[i] = snippetDocument(r)
		}
		return compactDocuments(docs)
	}

	g := new(errgroup.Group)
	g.SetLimit(e.settings.MaxConcurrentFetches)
	for i, r := range results {
		g.Go(func() error {
			text, err := e.fetcher.Fetch(ctx, r.URL)

			var blocked *loader.BlockedHostError
			switch {
			case errors.As(err, &blocked):
				logger.Warn("[Executor] Skipping blocked URL", "url", r.URL, "reason", blocked.Reason)
			case err != nil:
				logger.Debug("[Executor] Fetch failed, using snippet", "url", r.URL, "err", err)
				docs[i] = snippetDocument(r)
			case strings.TrimSpace(text) == "":
				docs[i] = snippetDocument(r)
			default:
				docs[i] = &common.Document{Result: r, Text: text}
			}
			return nil
		})
	}
	_ = g.Wait()

	return compactDocuments(docs)
}

// summarize condenses every chunk of docs concurrently. The result holds the
// non-empty chunk summaries per document in chunk order.
func (e *Executor) summarize(
	ctx context.Context,
	state *State,
	section SectionPlan,
	query string,
	docs []common.Document,
) ([][]string, error) {
	var jobs []chunkJob
	for i, doc := range docs {
		text := chunker.Truncate(doc.Text, e.settings.MaxTextLength)
		chunks, err := chunker.Split(text, chunker.Params{
			Size:      e.settings.ChunkSize,
			Overlap:   e.settings.ChunkOverlap,
			MaxTokens: e.settings.ChunkMaxTokens,
		})
		if err != nil {
			logger.Warn("[Executor] Chunking failed, using whole text", "url", doc.Result.URL, "err", err)
			chunks = []chunker.Chunk{{Text: text}}
		}
		for _, c := range chunks {
			jobs = append(jobs, chunkJob{doc: i, text: c.Text})
		}
	}

	out := make([]string, len(jobs))
	failed := make([]bool, len(jobs))

	g := new(errgroup.Group)
	g.SetLimit(e.settings.MaxConcurrentChunks)
	for i, job := range jobs {
		g.Go(func() error {
			doc := docs[job.doc]
			source := fmt.Sprintf("%s (%s)", doc.Result.Title, doc.Result.URL)
			prompt := fmt.Sprintf(ai.SummarizeChunkPrompt, query, section.Objective, source, job.text)

			summary, err := e.model.GenerateText(
				ctx,
				prompt,
				systemPrompt(state.Language),
				ai.WithTemperature(0.2),
				ai.WithMaxTokens(DefaultSummaryMaxTokens),
			)
			if err != nil {
				logger.Warn("[Executor] Chunk summary failed", "url", doc.Result.URL, "err", err)
				failed[i] = true
				return nil
			}
			out[i] = cleanSummary(summary)
			return nil
		})
	}
	_ = g.Wait()

	if len(jobs) > 0 && !slices.Contains(failed, false) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoSummaries
	}

	perDoc := make([][]string, len(docs))
	for i, job := range jobs {
		if out[i] != "" {
			perDoc[job.doc] = append(perDoc[job.doc], out[i])
		}
	}
	return perDoc, nil
}

func (e *Executor) combine(ctx context.Context, state *State, query string, parts []string) string {
	joined := strings.Join(parts, "\n\n")
	prompt := fmt.Sprintf(ai.CombineSummariesPrompt, query, joined)

	combined, err := e.model.GenerateText(ctx, prompt, systemPrompt(state.Language), ai.WithTemperature(0.2))
	if err != nil {
		logger.Warn("[Executor] Combining summaries failed, using concatenation", "err", err)
		return joined
	}
	combined = strings.TrimSpace(combined)
	if combined == "" {
		return joined
	}
	return combined
}

// cleanSummary trims a chunk summary and removes citation markers the model
// added on its own; markers are attached after registration.
func cleanSummary(s string) string {
	s = strings.TrimSpace(s)
	switch s {
	case `""`, "''", "NONE", "None", "N/A":
		return ""
	}
	return strings.TrimSpace(util.NormalizeCitations(s, func(int) bool { return false }))
}

func snippetDocument(r common.SearchResult) *common.Document {
	if strings.TrimSpace(r.Snippet) == "" {
		return nil
	}
	return &common.Document{Result: r, Text: r.Snippet, FromSnippet: true}
}

func compactDocuments(docs []*common.Document) []common.Document {
	out := make([]common.Document, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out
}

func fallbackQuery(section SectionPlan) string {
	if q := util.SanitizeQuery(section.Objective); q != "" {
		return q
	}
	return util.SanitizeQuery(section.Title)
}
