package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/deepresearch/internal/util"
	"github.com/OFFIS-RIT/deepresearch/pkg/ai"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"
)

var (
	ErrEmptyPlan         = errors.New("plan has no sections")
	ErrMissingTitle      = errors.New("section without title")
	ErrMissingObjective  = errors.New("section without objective")
	ErrDuplicateTitle    = errors.New("duplicate section title")
	ErrQueryNotAvailable = errors.New("no alternative query")
)

type plannedSection struct {
	Title     string `json:"title" jsonschema_description:"Short, distinct section title"`
	Objective string `json:"objective" jsonschema_description:"What has to be found out for this section"`
}

type researchPlan struct {
	Sections []plannedSection `json:"sections" jsonschema_description:"Sections in report order"`
}

func (p researchPlan) Validate() error {
	if len(p.Sections) == 0 {
		return ErrEmptyPlan
	}
	return nil
}

// Planner turns a topic into sections and adjusts the plan while research
// progresses.
type Planner struct {
	model    ai.GenerativeModel
	settings Settings
}

func NewPlanner(model ai.GenerativeModel, settings Settings) *Planner {
	return &Planner{model: model, settings: settings.withDefaults()}
}

// ValidatePlan checks that a plan can be researched: at least one section,
// every section titled and with an objective, titles distinct ignoring case.
func ValidatePlan(sections []SectionPlan) error {
	if len(sections) == 0 {
		return ErrEmptyPlan
	}
	seen := make(map[string]struct{}, len(sections))
	for i, s := range sections {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			return fmt.Errorf("section %d: %w", i+1, ErrMissingTitle)
		}
		if strings.TrimSpace(s.Objective) == "" {
			return fmt.Errorf("section %q: %w", title, ErrMissingObjective)
		}
		key := strings.ToLower(title)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("section %q: %w", title, ErrDuplicateTitle)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Plan asks the model for the sections of a report on topic. Any failure is
// returned as *PlanningError.
func (p *Planner) Plan(ctx context.Context, topic, language string) ([]SectionPlan, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, &PlanningError{Topic: topic, Err: errors.New("empty topic")}
	}

	prompt := fmt.Sprintf(ai.PlanPrompt, topic, p.settings.MinSections, p.settings.MaxSections)

	var out researchPlan
	if err := p.model.GenerateStructured(
		ctx,
		"research_plan",
		"Sections of the research report",
		prompt,
		&out,
		systemPrompt(language),
		ai.WithTemperature(0.2),
	); err != nil {
		return nil, &PlanningError{Topic: topic, Err: err}
	}

	sections := toSectionPlans(out.Sections)
	if len(sections) > p.settings.MaxSections {
		logger.Warn("[Planner] Plan exceeds section limit, truncating", "sections", len(sections), "max", p.settings.MaxSections)
		sections = sections[:p.settings.MaxSections]
	}
	if len(sections) < p.settings.MinSections {
		logger.Warn("[Planner] Plan has fewer sections than requested", "sections", len(sections), "min", p.settings.MinSections)
	}
	if err := ValidatePlan(sections); err != nil {
		return nil, &PlanningError{Topic: topic, Err: err}
	}

	logger.Info("[Planner] Plan created", "topic", topic, "sections", len(sections))
	return sections, nil
}

// PrepareSections fills in ids and resets the status of an externally
// edited plan, then validates it.
func PrepareSections(sections []SectionPlan) ([]SectionPlan, error) {
	out := make([]SectionPlan, len(sections))
	for i, s := range sections {
		s.Title = strings.TrimSpace(s.Title)
		s.Objective = strings.TrimSpace(s.Objective)
		if s.ID == "" {
			s.ID = newSectionID()
		}
		s.Status = StatusPending
		out[i] = s
	}
	if err := ValidatePlan(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Refine rewrites the pending sections of state from the findings of the
// finished ones. Finished and active sections keep their place and content.
// A failed or invalid refinement leaves the plan unchanged.
func (p *Planner) Refine(ctx context.Context, state *State) error {
	fixed := 0
	for i, s := range state.Sections {
		if s.Status != StatusPending {
			fixed = i + 1
		}
	}
	if fixed == 0 || fixed == len(state.Sections) {
		return nil
	}

	var completed strings.Builder
	var remaining strings.Builder
	for _, s := range state.Sections[:fixed] {
		fmt.Fprintf(&completed, "### %s\nObjective: %s\nFindings: %s\n\n",
			s.Title, s.Objective, util.TruncateWords(state.Result(s.ID).Findings(), 1500))
	}
	for _, s := range state.Sections[fixed:] {
		fmt.Fprintf(&remaining, "- %s: %s\n", s.Title, s.Objective)
	}

	limit := max(p.settings.MaxSections-fixed, 1)
	prompt := fmt.Sprintf(ai.RefinePlanPrompt, state.Topic, completed.String(), remaining.String(), limit)

	var out researchPlan
	if err := p.model.GenerateStructured(
		ctx,
		"refined_plan",
		"Revised remaining sections of the research plan",
		prompt,
		&out,
		systemPrompt(state.Language),
		ai.WithTemperature(0.2),
	); err != nil {
		return fmt.Errorf("refine plan: %w", err)
	}

	refined := toSectionPlans(out.Sections)
	if len(refined) > limit {
		refined = refined[:limit]
	}

	existing := make(map[string]string, len(state.Sections)-fixed)
	for _, s := range state.Sections[fixed:] {
		existing[strings.ToLower(s.Title)] = s.ID
	}
	for i := range refined {
		if id, ok := existing[strings.ToLower(refined[i].Title)]; ok {
			refined[i].ID = id
		}
	}

	next := make([]SectionPlan, 0, fixed+len(refined))
	next = append(next, state.Sections[:fixed]...)
	next = append(next, refined...)
	if err := ValidatePlan(next); err != nil {
		return fmt.Errorf("refine plan: %w", err)
	}

	state.Sections = next
	logger.Info("[Planner] Plan refined", "fixed", fixed, "remaining", len(refined))
	return nil
}

// RegenerateQuery proposes a replacement for a query that found nothing.
func (p *Planner) RegenerateQuery(ctx context.Context, state *State, section SectionPlan, failed string) (string, error) {
	prompt := fmt.Sprintf(
		ai.RegenerateQueryPrompt,
		state.Topic,
		section.Objective,
		failed,
		p.settings.MaxQueryWords,
	)

	raw, err := p.model.GenerateText(ctx, prompt, systemPrompt(state.Language), ai.WithTemperature(0.7), ai.WithMaxTokens(64))
	if err != nil {
		return "", fmt.Errorf("regenerate query: %w", err)
	}

	query := util.SanitizeQuery(raw)
	if query == "" || strings.EqualFold(query, strings.TrimSpace(failed)) {
		return "", ErrQueryNotAvailable
	}
	return query, nil
}

func toSectionPlans(in []plannedSection) []SectionPlan {
	out := make([]SectionPlan, 0, len(in))
	for _, s := range in {
		out = append(out, SectionPlan{
			ID:        newSectionID(),
			Title:     strings.TrimSpace(s.Title),
			Objective: strings.TrimSpace(s.Objective),
			Status:    StatusPending,
		})
	}
	return out
}

func systemPrompt(language string) ai.GenerateOption {
	if language == "" {
		language = DefaultLanguage
	}
	return ai.WithSystemPrompts(fmt.Sprintf(ai.ResearchSystemPrompt, language))
}
