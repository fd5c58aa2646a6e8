package research

import (
	"slices"
	"strings"
	"time"

	"github.com/OFFIS-RIT/deepresearch/pkg/graph"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Phase is the position of a run in the research state machine.
type Phase string

const (
	PhasePlanning     Phase = "planning"
	PhaseExecuting    Phase = "executing"
	PhaseReflecting   Phase = "reflecting"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseDone         Phase = "done"
	PhaseFailed       Phase = "failed"
)

// Status is the lifecycle state of a single section.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSatisfied Status = "satisfied"
	StatusExhausted Status = "exhausted"
)

// Finished reports whether a section left the loop.
func (s Status) Finished() bool {
	return s == StatusSatisfied || s == StatusExhausted
}

// SectionPlan is one planned part of the report.
type SectionPlan struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Objective string `json:"objective"`
	Status    Status `json:"status"`
}

// SectionResult accumulates what the research loop found for a section.
type SectionResult struct {
	SectionID      string   `json:"section_id"`
	Summaries      []string `json:"summaries"`
	Queries        []string `json:"queries"`
	IterationsUsed int      `json:"iterations_used"`
	SourceIDs      []int    `json:"source_ids"`
}

// AddSources records citation numbers, keeping SourceIDs sorted and unique.
func (r *SectionResult) AddSources(ids ...int) {
	for _, id := range ids {
		pos, found := slices.BinarySearch(r.SourceIDs, id)
		if found {
			continue
		}
		r.SourceIDs = slices.Insert(r.SourceIDs, pos, id)
	}
}

// Findings joins the non-empty summaries in iteration order.
func (r *SectionResult) Findings() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Summaries))
	for _, s := range r.Summaries {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// State is everything a research run knows. Topic never changes after the
// state is created. Only the orchestrator goroutine mutates sections and
// results; Sources and Graph are safe for concurrent use.
type State struct {
	ID                 string                    `json:"id"`
	Topic              string                    `json:"topic"`
	Language           string                    `json:"language"`
	Phase              Phase                     `json:"phase"`
	Sections           []SectionPlan             `json:"sections"`
	Results            map[string]*SectionResult `json:"results"`
	Graph              *graph.KnowledgeGraph     `json:"graph"`
	Sources            *SourceRegistry           `json:"sources"`
	RegeneratedQueries map[string]bool           `json:"regenerated_queries"`
	Report             string                    `json:"report"`
	Err                string                    `json:"error,omitempty"`
	StartedAt          time.Time                 `json:"started_at"`
	FinishedAt         time.Time                 `json:"finished_at"`
}

// NewState creates an empty state for topic.
func NewState(topic, language string) *State {
	id, err := gonanoid.New()
	if err != nil {
		id = ""
	}
	return &State{
		ID:                 id,
		Topic:              strings.TrimSpace(topic),
		Language:           language,
		Phase:              PhasePlanning,
		Results:            make(map[string]*SectionResult),
		Graph:              graph.NewKnowledgeGraph(),
		Sources:            NewSourceRegistry(),
		RegeneratedQueries: make(map[string]bool),
		StartedAt:          time.Now(),
	}
}

// Section returns the section with id.
func (s *State) Section(id string) (*SectionPlan, bool) {
	for i := range s.Sections {
		if s.Sections[i].ID == id {
			return &s.Sections[i], true
		}
	}
	return nil, false
}

// Result returns the result of a section, creating it on first use.
func (s *State) Result(sectionID string) *SectionResult {
	r, ok := s.Results[sectionID]
	if !ok {
		r = &SectionResult{SectionID: sectionID}
		s.Results[sectionID] = r
	}
	return r
}

// Active returns the section currently researched.
func (s *State) Active() (*SectionPlan, bool) {
	for i := range s.Sections {
		if s.Sections[i].Status == StatusActive {
			return &s.Sections[i], true
		}
	}
	return nil, false
}

// Done reports whether no section is pending or active.
func (s *State) Done() bool {
	for _, sec := range s.Sections {
		if !sec.Status.Finished() {
			return false
		}
	}
	return true
}

func regenerationKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func newSectionID() string {
	id, err := gonanoid.New(12)
	if err != nil {
		return ""
	}
	return id
}
