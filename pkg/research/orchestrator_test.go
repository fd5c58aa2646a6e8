package research

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/deepresearch/internal/util"
	"github.com/OFFIS-RIT/deepresearch/pkg/common"
	"github.com/OFFIS-RIT/deepresearch/pkg/loader"
)

func newTestOrchestrator(model *fakeModel, gw *fakeSearch, fetcher *fakeFetcher, settings Settings, hooks Hooks) *Orchestrator {
	return NewOrchestrator(NewOrchestratorParams{
		Model:    model,
		Search:   gw,
		Fetcher:  fetcher,
		Settings: settings,
		Hooks:    hooks,
	})
}

func TestRunTwoSections(t *testing.T) {
	model := &fakeModel{plan: twoSections()}
	gw := &fakeSearch{}
	fetcher := &fakeFetcher{}
	hooks := &recordingHooks{}

	o := newTestOrchestrator(model, gw, fetcher, testSettings(), hooks)
	state, err := o.Run(context.Background(), Params{Topic: "Solar energy"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if state.Phase != PhaseDone {
		t.Fatalf("expected phase %q, got %q", PhaseDone, state.Phase)
	}
	if len(state.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(state.Sections))
	}
	for _, s := range state.Sections {
		if s.Status != StatusSatisfied {
			t.Fatalf("expected section %q satisfied, got %q", s.Title, s.Status)
		}
		if got := state.Result(s.ID).IterationsUsed; got != 1 {
			t.Fatalf("expected 1 iteration for %q, got %d", s.Title, got)
		}
	}

	if got := state.Sources.Len(); got != 4 {
		t.Fatalf("expected 4 sources, got %d", got)
	}
	if got := gw.Queries(); !reflect.DeepEqual(got, []string{"History facts", "Outlook facts"}) {
		t.Fatalf("unexpected queries %v", got)
	}

	first := state.Result(state.Sections[0].ID)
	if !reflect.DeepEqual(first.SourceIDs, []int{1, 2}) {
		t.Fatalf("expected source ids [1 2], got %v", first.SourceIDs)
	}
	second := state.Result(state.Sections[1].ID)
	if !reflect.DeepEqual(second.SourceIDs, []int{3, 4}) {
		t.Fatalf("expected source ids [3 4], got %v", second.SourceIDs)
	}

	for _, want := range []string{
		"# Solar energy",
		"## History",
		"## Outlook",
		"## Sources",
		"[1] Result 1a (https://example.com/1/a)",
		"[4] Result 2b (https://example.com/2/b)",
		"Finding from Result 1a (https://example.com/1/a) [1]",
	} {
		if !strings.Contains(state.Report, want) {
			t.Fatalf("expected report to contain %q, got:\n%s", want, state.Report)
		}
	}
	if strings.Index(state.Report, "## History") > strings.Index(state.Report, "## Outlook") {
		t.Fatalf("expected sections in plan order")
	}

	for _, k := range util.ExtractCitations(state.Report) {
		if !state.Sources.Valid(k) {
			t.Fatalf("report cites unknown source [%d]", k)
		}
	}

	if nodes, _ := state.Graph.Len(); nodes != 3 {
		t.Fatalf("expected 3 graph nodes, got %d", nodes)
	}
	if len(hooks.kinds(EventSectionFinished)) != 2 {
		t.Fatalf("expected 2 section_finished events")
	}
	if len(hooks.kinds(EventReportReady)) != 1 {
		t.Fatalf("expected 1 report_ready event")
	}
}

func TestRunLoopBudget(t *testing.T) {
	model := &fakeModel{
		plan: twoSections(),
		reflect: func(string) reflection {
			return reflection{Satisfied: false, NextQuery: "deeper query"}
		},
	}
	gw := &fakeSearch{}
	settings := testSettings()
	settings.MaxLoops = 3

	o := newTestOrchestrator(model, gw, &fakeFetcher{}, settings, nil)
	state, err := o.Run(context.Background(), Params{Topic: "Solar energy"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for _, s := range state.Sections {
		if s.Status != StatusExhausted {
			t.Fatalf("expected section %q exhausted, got %q", s.Title, s.Status)
		}
		r := state.Result(s.ID)
		if r.IterationsUsed != 3 {
			t.Fatalf("expected 3 iterations, got %d", r.IterationsUsed)
		}
		if len(r.Summaries) != 3 {
			t.Fatalf("expected 3 summaries, got %d", len(r.Summaries))
		}
		if r.Queries[1] != "deeper query" {
			t.Fatalf("expected reflection query to be used, got %q", r.Queries[1])
		}
	}
	if got := len(gw.Queries()); got != 6 {
		t.Fatalf("expected 6 searches, got %d", got)
	}
	if !strings.Contains(state.Report, "ended before its objective was fully met") {
		t.Fatalf("expected exhausted note in report")
	}
}

func TestRunParamsOverrideLoops(t *testing.T) {
	model := &fakeModel{
		plan: twoSections()[:1],
		reflect: func(string) reflection {
			return reflection{Satisfied: false}
		},
	}
	o := newTestOrchestrator(model, &fakeSearch{}, &fakeFetcher{}, testSettings(), nil)
	state, err := o.Run(context.Background(), Params{Topic: "Solar energy", MaxLoops: 1})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := state.Result(state.Sections[0].ID).IterationsUsed; got != 1 {
		t.Fatalf("expected 1 iteration, got %d", got)
	}
}

func TestRunCitationStability(t *testing.T) {
	shared := common.SearchResult{Title: "Shared", URL: "https://example.com/shared", Snippet: "shared"}
	gw := &fakeSearch{byQuery: map[string][]common.SearchResult{
		"History facts": {
			shared,
			{Title: "Old", URL: "https://example.com/old", Snippet: "old"},
		},
		"Outlook facts": {
			{Title: "New", URL: "https://example.com/new", Snippet: "new"},
			{Title: "Shared again", URL: "https://example.com/shared#top", Snippet: "shared"},
		},
	}}
	hooks := &recordingHooks{}
	var afterFirst []common.Source
	hooks.onEvent = func(e Event) {
		if e.Kind == EventSectionFinished && afterFirst == nil {
			afterFirst = e.State.Sources.List()
		}
	}

	model := &fakeModel{plan: twoSections()}
	o := newTestOrchestrator(model, gw, &fakeFetcher{}, testSettings(), hooks)
	state, err := o.Run(context.Background(), Params{Topic: "Solar energy"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	final := state.Sources.List()
	if len(final) != 3 {
		t.Fatalf("expected 3 distinct sources, got %d: %v", len(final), final)
	}
	if !reflect.DeepEqual(final[:len(afterFirst)], afterFirst) {
		t.Fatalf("expected earlier citations to keep their numbers, got %v then %v", afterFirst, final)
	}
	if final[0].URL != shared.URL || final[0].FirstCitedIn != state.Sections[0].ID {
		t.Fatalf("unexpected first source %+v", final[0])
	}
	if strings.Count(state.Report, "] Shared (https://example.com/shared)") != 1 || strings.Contains(state.Report, "Shared again") {
		t.Fatalf("expected shared source listed once")
	}
}

func TestRunSkipsBlockedAndFallsBackToSnippet(t *testing.T) {
	gw := &fakeSearch{byQuery: map[string][]common.SearchResult{
		"History facts": {
			{Title: "Admin", URL: "http://127.0.0.1/admin", Snippet: "internal"},
			{Title: "Broken", URL: "https://example.com/broken", Snippet: "broken snippet"},
			{Title: "Empty", URL: "https://example.com/empty"},
		},
	}}
	fetcher := &fakeFetcher{errs: map[string]error{
		"http://127.0.0.1/admin":     &loader.BlockedHostError{URL: "http://127.0.0.1/admin", Host: "127.0.0.1", Reason: "loopback"},
		"https://example.com/broken": &loader.FetchError{URL: "https://example.com/broken", Status: 500},
		"https://example.com/empty":  &loader.FetchError{URL: "https://example.com/empty", Status: 404},
	}}
	model := &fakeModel{plan: twoSections()[:1]}

	o := newTestOrchestrator(model, gw, fetcher, testSettings(), nil)
	state, err := o.Run(context.Background(), Params{Topic: "Solar energy"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	sources := state.Sources.List()
	if len(sources) != 1 || sources[0].URL != "https://example.com/broken" {
		t.Fatalf("expected only the snippet fallback source, got %v", sources)
	}
	if strings.Contains(state.Report, "127.0.0.1") {
		t.Fatalf("blocked URL must not appear in the report")
	}
}

func TestRunSnippetsOnly(t *testing.T) {
	fetcher := &fakeFetcher{}
	model := &fakeModel{plan: twoSections()[:1]}

	o := newTestOrchestrator(model, &fakeSearch{}, fetcher, testSettings(), nil)
	state, err := o.Run(context.Background(), Params{Topic: "Solar energy", SnippetsOnly: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(fetcher.fetched) != 0 {
		t.Fatalf("expected no fetches, got %v", fetcher.fetched)
	}
	if state.Sources.Len() != 2 {
		t.Fatalf("expected 2 sources, got %d", state.Sources.Len())
	}
}

func TestRunPlanningFailure(t *testing.T) {
	model := &fakeModel{planErr: errors.New("model down")}
	gw := &fakeSearch{}
	hooks := &recordingHooks{}

	o := newTestOrchestrator(model, gw, &fakeFetcher{}, testSettings(), hooks)
	state, err := o.Run(context.Background(), Params{Topic: "Solar energy"})

	var planning *PlanningError
	if !errors.As(err, &planning) {
		t.Fatalf("expected PlanningError, got %v", err)
	}
	if state.Phase != PhaseFailed {
		t.Fatalf("expected phase %q, got %q", PhaseFailed, state.Phase)
	}
	if state.Err == "" {
		t.Fatalf("expected error message in state")
	}
	if len(gw.Queries()) != 0 {
		t.Fatalf("expected no searches after planning failure")
	}
	if len(hooks.kinds(EventFailed)) != 1 {
		t.Fatalf("expected failed event")
	}
}

func TestRunInvalidPlan(t *testing.T) {
	model := &fakeModel{plan: []plannedSection{
		{Title: "Same", Objective: "a"},
		{Title: "same", Objective: "b"},
	}}
	o := newTestOrchestrator(model, &fakeSearch{}, &fakeFetcher{}, testSettings(), nil)
	_, err := o.Run(context.Background(), Params{Topic: "Solar energy"})
	if !errors.Is(err, ErrDuplicateTitle) {
		t.Fatalf("expected ErrDuplicateTitle, got %v", err)
	}
}

func TestRunInteractiveEditsPlanAndQuery(t *testing.T) {
	hooks := &recordingHooks{
		editPlan: func(sections []SectionPlan) ([]SectionPlan, error) {
			return []SectionPlan{{Title: "Costs", Objective: "What does it cost"}}, nil
		},
		queries: map[string]string{"Costs facts": "solar panel prices 2024"},
	}
	gw := &fakeSearch{}
	model := &fakeModel{plan: twoSections()}

	o := newTestOrchestrator(model, gw, &fakeFetcher{}, testSettings(), hooks)
	state, err := o.Run(context.Background(), Params{Topic: "Solar energy", Interactive: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(state.Sections) != 1 || state.Sections[0].Title != "Costs" || state.Sections[0].ID == "" {
		t.Fatalf("expected edited plan, got %+v", state.Sections)
	}
	if got := gw.Queries(); !reflect.DeepEqual(got, []string{"solar panel prices 2024"}) {
		t.Fatalf("expected overridden query, got %v", got)
	}
}

func TestRunInteractiveSelectsSources(t *testing.T) {
	hooks := &recordingHooks{keepSources: []int{1}}
	fetcher := &fakeFetcher{}
	model := &fakeModel{plan: twoSections()}

	o := newTestOrchestrator(model, &fakeSearch{}, fetcher, testSettings(), hooks)
	state, err := o.Run(context.Background(), Params{Topic: "Solar energy", Interactive: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if hooks.reviewed != 2 {
		t.Fatalf("expected one source review per section, got %d", hooks.reviewed)
	}
	want := []string{"https://example.com/1/b", "https://example.com/2/b"}
	if !reflect.DeepEqual(fetcher.fetched, want) {
		t.Fatalf("expected only selected sources fetched %v, got %v", want, fetcher.fetched)
	}
	if got := state.Sources.Len(); got != 2 {
		t.Fatalf("expected 2 sources, got %d", got)
	}
}

func TestRunWithoutInteractionSkipsSourceReview(t *testing.T) {
	hooks := &recordingHooks{keepSources: []int{}}
	o := newTestOrchestrator(&fakeModel{plan: twoSections()}, &fakeSearch{}, &fakeFetcher{}, testSettings(), hooks)
	state, err := o.Run(context.Background(), Params{Topic: "Solar energy"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if hooks.reviewed != 0 {
		t.Fatalf("expected no source review, got %d", hooks.reviewed)
	}
	if got := state.Sources.Len(); got != 4 {
		t.Fatalf("expected 4 sources, got %d", got)
	}
}

func TestRunInteractiveRejectsInvalidEdit(t *testing.T) {
	hooks := &recordingHooks{
		editPlan: func([]SectionPlan) ([]SectionPlan, error) {
			return []SectionPlan{{Title: "No objective"}}, nil
		},
	}
	model := &fakeModel{plan: twoSections()}
	o := newTestOrchestrator(model, &fakeSearch{}, &fakeFetcher{}, testSettings(), hooks)
	state, err := o.Run(context.Background(), Params{Topic: "Solar energy", Interactive: true})
	if !errors.Is(err, ErrMissingObjective) {
		t.Fatalf("expected ErrMissingObjective, got %v", err)
	}
	if state.Phase != PhaseFailed {
		t.Fatalf("expected failed phase, got %q", state.Phase)
	}
}

func TestRunInterrupt(t *testing.T) {
	model := &fakeModel{
		plan: twoSections(),
		reflect: func(string) reflection {
			return reflection{Satisfied: false, NextQuery: "more"}
		},
	}
	gw := &fakeSearch{}
	hooks := &recordingHooks{}

	settings := testSettings()
	settings.MaxLoops = 5
	o := newTestOrchestrator(model, gw, &fakeFetcher{}, settings, hooks)
	hooks.onEvent = func(e Event) {
		if e.Kind == EventIteration {
			o.Interrupt()
		}
	}

	state, err := o.Run(context.Background(), Params{Topic: "Solar energy"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := len(gw.Queries()); got != 1 {
		t.Fatalf("expected 1 search before interruption, got %d", got)
	}
	for _, s := range state.Sections {
		if s.Status != StatusExhausted {
			t.Fatalf("expected section %q exhausted, got %q", s.Title, s.Status)
		}
	}
	if state.Phase != PhaseDone || state.Report == "" {
		t.Fatalf("expected report after interruption")
	}
	if !strings.Contains(state.Report, "[1] Result 1a") {
		t.Fatalf("expected findings of the finished iteration in report")
	}
}

func TestRunIterationErrorDegradesSection(t *testing.T) {
	model := &fakeModel{
		plan: twoSections()[:1],
		summarize: func(string) (string, error) {
			return "", errors.New("model down")
		},
	}
	o := newTestOrchestrator(model, &fakeSearch{}, &fakeFetcher{}, testSettings(), nil)
	state, err := o.Run(context.Background(), Params{Topic: "Solar energy"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	s := state.Sections[0]
	if s.Status != StatusExhausted {
		t.Fatalf("expected exhausted, got %q", s.Status)
	}
	if got := state.Result(s.ID).IterationsUsed; got != 2 {
		t.Fatalf("expected 2 iterations, got %d", got)
	}
	if state.Sources.Len() != 0 {
		t.Fatalf("expected no sources, got %d", state.Sources.Len())
	}
}

func TestRunPlanRefinement(t *testing.T) {
	model := &fakeModel{plan: []plannedSection{
		{Title: "History", Objective: "How did the field develop"},
		{Title: "Outlook", Objective: "What are the expected trends"},
		{Title: "Costs", Objective: "What does it cost"},
	}}
	model.refined = []plannedSection{
		{Title: "Outlook", Objective: "Which trends matter until 2035"},
		{Title: "Costs", Objective: "What does it cost"},
	}
	settings := testSettings()
	settings.PlanRefinement = true
	hooks := &recordingHooks{}

	o := newTestOrchestrator(model, &fakeSearch{}, &fakeFetcher{}, settings, hooks)
	state, err := o.Run(context.Background(), Params{Topic: "Solar energy"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(hooks.kinds(EventPlanRefined)) == 0 {
		t.Fatalf("expected plan refinement events")
	}
	if model.Calls("refined_plan") == 0 {
		t.Fatalf("expected refinement requests")
	}
	if len(state.Sections) != 3 || state.Sections[0].Title != "History" {
		t.Fatalf("unexpected sections %+v", state.Sections)
	}
	if got := state.Sections[1].Objective; got != "Which trends matter until 2035" {
		t.Fatalf("expected refined objective, got %q", got)
	}
	if !state.Done() {
		t.Fatalf("expected every section finished")
	}
}

type closingFetcher struct {
	fakeFetcher
	closed bool
}

func (f *closingFetcher) Close() { f.closed = true }

func TestRunCreatesFetcherPerRun(t *testing.T) {
	var created []*closingFetcher
	o := NewOrchestrator(NewOrchestratorParams{
		Model:  &fakeModel{plan: twoSections()},
		Search: &fakeSearch{},
		NewFetcher: func() loader.ContentFetcher {
			f := &closingFetcher{}
			created = append(created, f)
			return f
		},
		Settings: testSettings(),
	})

	for range 2 {
		if _, err := o.Run(context.Background(), Params{Topic: "Solar energy"}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}

	if len(created) != 2 {
		t.Fatalf("expected one fetcher per run, got %d", len(created))
	}
	for i, f := range created {
		if !f.closed {
			t.Fatalf("expected fetcher %d to be closed", i)
		}
		if len(f.fetched) == 0 {
			t.Fatalf("expected fetcher %d to be used", i)
		}
	}
}
