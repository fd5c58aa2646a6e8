package research

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/OFFIS-RIT/deepresearch/internal/util"
	"github.com/OFFIS-RIT/deepresearch/pkg/ai"
	"github.com/OFFIS-RIT/deepresearch/pkg/caller"
	"github.com/OFFIS-RIT/deepresearch/pkg/loader"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"
	"github.com/OFFIS-RIT/deepresearch/pkg/search"
)

// Params are the per run inputs. Zero values use the orchestrator settings.
type Params struct {
	// RunID names the run state. Empty generates a new id.
	RunID              string
	Topic              string
	MaxLoops           int
	MaxResultsPerQuery int
	SnippetsOnly       bool
	Interactive        bool
	Language           string
}

// Orchestrator drives one research run through planning, the section loop
// and synthesis.
type Orchestrator struct {
	model        ai.GenerativeModel
	search       search.Gateway
	fetcher      loader.ContentFetcher
	newFetcher   func() loader.ContentFetcher
	searchCaller *caller.Caller
	settings     Settings
	hooks        Hooks

	interrupted atomic.Bool
}

type NewOrchestratorParams struct {
	Model   ai.GenerativeModel
	Search  search.Gateway
	Fetcher loader.ContentFetcher
	// NewFetcher creates a fetcher for every run and takes precedence over
	// Fetcher. A fetcher with a Close method is closed when the run ends.
	NewFetcher   func() loader.ContentFetcher
	SearchCaller *caller.Caller
	Settings     Settings
	Hooks        Hooks
}

func NewOrchestrator(params NewOrchestratorParams) *Orchestrator {
	hooks := params.Hooks
	if hooks == nil {
		hooks = NopHooks{}
	}
	return &Orchestrator{
		model:        params.Model,
		search:       params.Search,
		fetcher:      params.Fetcher,
		newFetcher:   params.NewFetcher,
		searchCaller: params.SearchCaller,
		settings:     params.Settings.withDefaults(),
		hooks:        hooks,
	}
}

// Interrupt asks the run to stop. It is observed between iterations: the
// current iteration finishes, the remaining sections are marked exhausted and
// the report is still written.
func (o *Orchestrator) Interrupt() {
	o.interrupted.Store(true)
}

func (o *Orchestrator) Interrupted() bool {
	return o.interrupted.Load()
}

type run struct {
	o           *Orchestrator
	state       *State
	settings    Settings
	interactive bool

	planner   *Planner
	executor  *Executor
	reflector *Reflector
	reporter  *Reporter
}

// Run researches params.Topic. The returned state is never nil. An error is
// returned only when planning fails, in which case the state is in
// PhaseFailed. Section failures degrade the section to exhausted.
func (o *Orchestrator) Run(ctx context.Context, params Params) (*State, error) {
	settings := o.settings
	if params.MaxLoops > 0 {
		settings.MaxLoops = params.MaxLoops
	}
	if params.MaxResultsPerQuery > 0 {
		settings.MaxResultsPerQuery = params.MaxResultsPerQuery
	}
	if params.SnippetsOnly {
		settings.SnippetsOnly = true
	}
	if params.Language != "" {
		settings.Language = params.Language
	}

	state := NewState(params.Topic, settings.Language)
	if params.RunID != "" {
		state.ID = params.RunID
	}

	fetcher := o.fetcher
	if o.newFetcher != nil {
		fetcher = o.newFetcher()
		if c, ok := fetcher.(interface{ Close() }); ok {
			defer c.Close()
		}
	}

	var selector SourceSelector
	if params.Interactive {
		selector = o.hooks
	}

	planner := NewPlanner(o.model, settings)
	r := &run{
		o:           o,
		state:       state,
		settings:    settings,
		interactive: params.Interactive,
		planner:     planner,
		executor: NewExecutor(NewExecutorParams{
			Model:        o.model,
			Search:       o.search,
			Fetcher:      fetcher,
			SearchCaller: o.searchCaller,
			Regenerator:  planner,
			Selector:     selector,
			Settings:     settings,
		}),
		reflector: NewReflector(o.model, settings),
		reporter:  NewReporter(o.model, settings),
	}
	return r.execute(ctx)
}

func (r *run) execute(ctx context.Context) (*State, error) {
	state := r.state
	logger.Info("[Orchestrator] Research started", "id", state.ID, "topic", state.Topic, "language", state.Language)

	r.setPhase(PhasePlanning)
	sections, err := r.planner.Plan(ctx, state.Topic, state.Language)
	if err != nil {
		return r.fail(err)
	}

	if r.interactive {
		edited, err := r.o.hooks.ReviewPlan(ctx, state.Topic, sections)
		if err != nil {
			return r.fail(&PlanningError{Topic: state.Topic, Err: err})
		}
		sections, err = PrepareSections(edited)
		if err != nil {
			return r.fail(&PlanningError{Topic: state.Topic, Err: err})
		}
	}
	state.Sections = sections
	r.emit(Event{Kind: EventPlanCreated, Message: sectionTitles(sections)})

	for i := 0; i < len(state.Sections); i++ {
		if r.stopped(ctx) {
			r.exhaustFrom(i)
			break
		}

		r.researchSection(ctx, i)

		if r.settings.PlanRefinement && i+1 < len(state.Sections) && !r.stopped(ctx) {
			if err := r.planner.Refine(ctx, state); err != nil {
				logger.Warn("[Orchestrator] Plan refinement failed, keeping plan", "err", err)
			} else {
				r.emit(Event{Kind: EventPlanRefined, Message: sectionTitles(state.Sections)})
			}
		}
	}

	r.setPhase(PhaseSynthesizing)
	state.Report = r.reporter.Synthesize(ctx, state)
	state.FinishedAt = time.Now()
	r.setPhase(PhaseDone)
	r.emit(Event{Kind: EventReportReady})

	logger.Info(
		"[Orchestrator] Research finished",
		"id", state.ID,
		"sections", len(state.Sections),
		"sources", state.Sources.Len(),
		"duration", state.FinishedAt.Sub(state.StartedAt).Round(time.Millisecond),
	)
	return state, nil
}

func (r *run) researchSection(ctx context.Context, i int) {
	state := r.state
	section := &state.Sections[i]
	section.Status = StatusActive
	result := state.Result(section.ID)

	r.setPhase(PhaseExecuting)
	r.emit(Event{Kind: EventSectionStarted, SectionID: section.ID, Section: section.Title})

	query := r.executor.GenerateQuery(ctx, state, *section)
	for {
		if r.stopped(ctx) {
			section.Status = StatusExhausted
			break
		}

		if r.interactive {
			query = r.reviewQuery(ctx, *section, query)
		}

		r.setPhase(PhaseExecuting)
		r.emit(Event{Kind: EventQuery, SectionID: section.ID, Section: section.Title, Iteration: result.IterationsUsed + 1, Query: query})

		it, err := r.executor.Run(ctx, state, *section, query)
		result.IterationsUsed++
		result.Queries = append(result.Queries, it.Query)
		if err != nil {
			logger.Warn("[Orchestrator] Iteration produced nothing", "err", &SectionIterationError{
				SectionID: section.ID,
				Iteration: result.IterationsUsed,
				Err:       err,
			})
		} else if it.Summary != "" {
			result.Summaries = append(result.Summaries, it.Summary)
			result.AddSources(it.SourceIDs...)
		}
		r.emit(Event{Kind: EventIteration, SectionID: section.ID, Section: section.Title, Iteration: result.IterationsUsed, Query: it.Query})

		if err != nil {
			if result.IterationsUsed >= r.settings.MaxLoops || r.stopped(ctx) {
				section.Status = StatusExhausted
				break
			}
			query = r.executor.GenerateQuery(ctx, state, *section)
			continue
		}

		r.setPhase(PhaseReflecting)
		d := r.reflector.Reflect(ctx, state, *section, it.Summary)
		if d.Satisfied {
			section.Status = StatusSatisfied
			break
		}
		if !d.Continue {
			section.Status = StatusExhausted
			break
		}
		query = d.NextQuery
	}

	r.emit(Event{Kind: EventSectionFinished, SectionID: section.ID, Section: section.Title, Status: section.Status, Iteration: result.IterationsUsed})
	logger.Info(
		"[Orchestrator] Section finished",
		"section", section.Title,
		"status", section.Status,
		"iterations", result.IterationsUsed,
		"sources", len(result.SourceIDs),
	)
}

func (r *run) reviewQuery(ctx context.Context, section SectionPlan, query string) string {
	reviewed, err := r.o.hooks.ReviewQuery(ctx, section, query)
	if err != nil {
		logger.Warn("[Orchestrator] Query review failed, keeping proposed query", "err", err)
		return query
	}
	if q := util.SanitizeQuery(reviewed); q != "" {
		return q
	}
	return query
}

func (r *run) stopped(ctx context.Context) bool {
	return r.o.interrupted.Load() || ctx.Err() != nil
}

// exhaustFrom marks every unfinished section from index i on as exhausted.
func (r *run) exhaustFrom(i int) {
	for j := i; j < len(r.state.Sections); j++ {
		if !r.state.Sections[j].Status.Finished() {
			r.state.Sections[j].Status = StatusExhausted
		}
	}
	logger.Warn("[Orchestrator] Research interrupted", "remaining", len(r.state.Sections)-i)
	r.emit(Event{Kind: EventInterrupted})
}

func (r *run) fail(err error) (*State, error) {
	r.state.Phase = PhaseFailed
	r.state.Err = err.Error()
	r.state.FinishedAt = time.Now()

	var planning *PlanningError
	if !errors.As(err, &planning) {
		err = &PlanningError{Topic: r.state.Topic, Err: err}
	}
	logger.Error("[Orchestrator] Research failed", "id", r.state.ID, "phase", PhasePlanning, "err", err)
	r.emit(Event{Kind: EventFailed, Message: err.Error()})
	return r.state, err
}

func (r *run) setPhase(p Phase) {
	if r.state.Phase == p {
		return
	}
	r.state.Phase = p
	r.emit(Event{Kind: EventPhase})
}

func (r *run) emit(e Event) {
	e.Phase = r.state.Phase
	e.Sources = r.state.Sources.Len()
	e.State = r.state
	r.o.hooks.Progress(e)
}

func sectionTitles(sections []SectionPlan) string {
	titles := make([]string, len(sections))
	for i, s := range sections {
		titles[i] = s.Title
	}
	return strings.Join(titles, "; ")
}
