package research

import (
	"context"

	"github.com/OFFIS-RIT/deepresearch/pkg/common"
)

type EventKind string

const (
	EventPhase           EventKind = "phase"
	EventPlanCreated     EventKind = "plan_created"
	EventPlanRefined     EventKind = "plan_refined"
	EventSectionStarted  EventKind = "section_started"
	EventQuery           EventKind = "query"
	EventIteration       EventKind = "iteration"
	EventSectionFinished EventKind = "section_finished"
	EventInterrupted     EventKind = "interrupted"
	EventReportReady     EventKind = "report_ready"
	EventFailed          EventKind = "failed"
)

// Event describes progress of a run. State points at the live state and may
// only be read during the Progress call.
type Event struct {
	Kind      EventKind `json:"kind"`
	Phase     Phase     `json:"phase"`
	SectionID string    `json:"section_id,omitempty"`
	Section   string    `json:"section,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	Query     string    `json:"query,omitempty"`
	Sources   int       `json:"sources"`
	Message   string    `json:"message,omitempty"`
	State     *State    `json:"-"`
}

// Hooks let a user steer an interactive run and observe any run.
//
// ReviewPlan returns the plan to research, either unchanged or edited.
// An error rejects the plan and fails the run. ReviewQuery returns the query
// to search next; an error keeps the proposed query. ReviewSources returns
// the search results to retrieve and summarize; an error keeps all of them.
// Review hooks are only called for interactive runs.
type Hooks interface {
	ReviewPlan(ctx context.Context, topic string, sections []SectionPlan) ([]SectionPlan, error)
	ReviewQuery(ctx context.Context, section SectionPlan, query string) (string, error)
	ReviewSources(ctx context.Context, section SectionPlan, results []common.SearchResult) ([]common.SearchResult, error)
	Progress(event Event)
}

// NopHooks approves everything and ignores progress.
type NopHooks struct{}

func (NopHooks) ReviewPlan(_ context.Context, _ string, sections []SectionPlan) ([]SectionPlan, error) {
	return sections, nil
}

func (NopHooks) ReviewQuery(_ context.Context, _ SectionPlan, query string) (string, error) {
	return query, nil
}

func (NopHooks) ReviewSources(_ context.Context, _ SectionPlan, results []common.SearchResult) ([]common.SearchResult, error) {
	return results, nil
}

func (NopHooks) Progress(Event) {}
