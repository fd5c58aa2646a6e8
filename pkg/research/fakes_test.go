package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/deepresearch/pkg/ai"
	"github.com/OFFIS-RIT/deepresearch/pkg/common"
	"github.com/OFFIS-RIT/deepresearch/pkg/graph"
)

// fakeModel answers every prompt of the research loop deterministically.
type fakeModel struct {
	mu sync.Mutex

	plan     []plannedSection
	refined  []plannedSection
	planErr  error
	scores   []relevanceScore
	framing  *Framing
	combined string

	// reflect decides a section; nil means satisfied.
	reflect func(section string) reflection
	// summarize overrides chunk summaries.
	summarize func(source string) (string, error)

	calls map[string]int
}

func (m *fakeModel) count(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[kind]++
}

func (m *fakeModel) Calls(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[kind]
}

func promptField(prompt, label string) string {
	for line := range strings.SplitSeq(prompt, "\n") {
		if _, rest, ok := strings.Cut(line, "**"+label+":**"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

func (m *fakeModel) GenerateText(_ context.Context, prompt string, _ ...ai.GenerateOption) (string, error) {
	switch {
	case strings.Contains(prompt, "You write web search queries"):
		m.count("query")
		return fmt.Sprintf("**Query:** \"%s facts\"", promptField(prompt, "Section")), nil
	case strings.Contains(prompt, "A web search returned no results"):
		m.count("regenerate")
		return "alternative query", nil
	case strings.Contains(prompt, "You summarize one segment"):
		m.count("summarize")
		source := promptField(prompt, "Source")
		if m.summarize != nil {
			return m.summarize(source)
		}
		return "Finding from " + source, nil
	case strings.Contains(prompt, "You merge partial summaries"):
		m.count("combine")
		if m.combined == "" {
			return "", errors.New("combine unavailable")
		}
		return m.combined, nil
	case strings.Contains(prompt, "You answer a follow-up question"):
		m.count("answer")
		return "The answer is in the report **[1]**.", nil
	}
	return "", fmt.Errorf("unexpected prompt: %.60s", prompt)
}

func (m *fakeModel) GenerateStructured(
	_ context.Context,
	name string,
	_ string,
	prompt string,
	out any,
	_ ...ai.GenerateOption,
) error {
	m.count(name)
	switch name {
	case "research_plan", "refined_plan":
		if m.planErr != nil {
			return m.planErr
		}
		plan := researchPlan{Sections: m.plan}
		if name == "refined_plan" && m.refined != nil {
			plan.Sections = m.refined
		}
		if err := plan.Validate(); err != nil {
			return &ai.StructuredOutputError{Name: name, Err: err}
		}
		*(out.(*researchPlan)) = plan
	case "relevance_scores":
		if m.scores == nil {
			return errors.New("scoring unavailable")
		}
		*(out.(*relevanceScores)) = relevanceScores{Scores: m.scores}
	case "section_reflection":
		r := reflection{Satisfied: true}
		if m.reflect != nil {
			r = m.reflect(promptField(prompt, "Section"))
		}
		*(out.(*reflection)) = r
	case "knowledge_graph":
		section := promptField(prompt, "Section")
		*(out.(*graph.Extraction)) = graph.Extraction{
			Nodes: []graph.Node{
				{ID: "topic", Label: "Topic", Type: "Concept"},
				{ID: graph.NormalizeID(section), Label: section, Type: "Concept"},
			},
			Edges: []graph.Edge{{Source: "topic", Target: graph.NormalizeID(section), Label: "covers"}},
		}
	case "report_framing":
		if m.framing == nil {
			return errors.New("framing unavailable")
		}
		*(out.(*Framing)) = *m.framing
	default:
		return fmt.Errorf("unexpected structured request %q", name)
	}
	return nil
}

func (m *fakeModel) ResetMetrics()               {}
func (m *fakeModel) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

// fakeSearch returns two fresh results per call unless byQuery has an entry.
type fakeSearch struct {
	mu      sync.Mutex
	queries []string
	byQuery map[string][]common.SearchResult
	errs    []error
}

func (s *fakeSearch) Search(_ context.Context, query string, maxResults int) ([]common.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = append(s.queries, query)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if results, ok := s.byQuery[query]; ok {
		return results, nil
	}
	if s.byQuery != nil {
		return nil, nil
	}

	n := len(s.queries)
	var out []common.SearchResult
	for _, suffix := range []string{"a", "b"} {
		out = append(out, common.SearchResult{
			Title:   fmt.Sprintf("Result %d%s", n, suffix),
			URL:     fmt.Sprintf("https://example.com/%d/%s", n, suffix),
			Snippet: fmt.Sprintf("Snippet %d%s", n, suffix),
		})
	}
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

func (s *fakeSearch) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// fakeFetcher serves page text and per URL errors.
type fakeFetcher struct {
	mu      sync.Mutex
	errs    map[string]error
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (string, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, rawURL)
	f.mu.Unlock()

	if err, ok := f.errs[rawURL]; ok {
		return "", err
	}
	return "Full article text of " + rawURL + ". It contains several relevant facts.", nil
}

// recordingHooks records events and can edit plans or interrupt a run.
type recordingHooks struct {
	NopHooks
	mu     sync.Mutex
	events []Event

	editPlan func([]SectionPlan) ([]SectionPlan, error)
	onEvent  func(Event)
	queries  map[string]string
	// keepSources selects results by their 0-based position.
	keepSources []int
	reviewed    int
}

func (h *recordingHooks) ReviewPlan(_ context.Context, _ string, sections []SectionPlan) ([]SectionPlan, error) {
	if h.editPlan != nil {
		return h.editPlan(sections)
	}
	return sections, nil
}

func (h *recordingHooks) ReviewQuery(_ context.Context, _ SectionPlan, query string) (string, error) {
	if q, ok := h.queries[query]; ok {
		return q, nil
	}
	return query, nil
}

func (h *recordingHooks) ReviewSources(_ context.Context, _ SectionPlan, results []common.SearchResult) ([]common.SearchResult, error) {
	h.mu.Lock()
	h.reviewed++
	h.mu.Unlock()
	if h.keepSources == nil {
		return results, nil
	}
	var out []common.SearchResult
	for _, i := range h.keepSources {
		if i < len(results) {
			out = append(out, results[i])
		}
	}
	return out, nil
}

func (h *recordingHooks) Progress(e Event) {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
	if h.onEvent != nil {
		h.onEvent(e)
	}
}

func (h *recordingHooks) kinds(kind EventKind) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, e := range h.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func testSettings() Settings {
	s := DefaultSettings()
	s.MaxLoops = 2
	s.RelevanceFiltering = false
	s.CombineSummaries = false
	s.SynthesizeReport = false
	s.QueryRegeneration = false
	s.MinSections = 1
	return s
}

func twoSections() []plannedSection {
	return []plannedSection{
		{Title: "History", Objective: "How did the field develop"},
		{Title: "Outlook", Objective: "What are the expected trends"},
	}
}
