package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/deepresearch/internal/util"
	"github.com/OFFIS-RIT/deepresearch/pkg/ai"
	"github.com/OFFIS-RIT/deepresearch/pkg/graph"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Decision is the verdict on a section after an iteration.
type Decision struct {
	Satisfied bool
	Continue  bool
	NextQuery string
	Reasoning string
}

type reflection struct {
	Satisfied bool   `json:"satisfied" jsonschema_description:"True when the findings answer the section objective"`
	NextQuery string `json:"next_query" jsonschema_description:"Next web search query when not satisfied"`
	Reasoning string `json:"reasoning" jsonschema_description:"Short explanation of the decision"`
}

// Reflector decides whether a section needs more research and feeds the
// findings into the knowledge graph.
type Reflector struct {
	model    ai.GenerativeModel
	settings Settings
}

func NewReflector(model ai.GenerativeModel, settings Settings) *Reflector {
	return &Reflector{model: model, settings: settings.withDefaults()}
}

// Reflect judges the accumulated findings of section and merges the entities
// of latest into the run's knowledge graph. Both run concurrently; a failed
// extraction never changes the decision.
func (r *Reflector) Reflect(ctx context.Context, state *State, section SectionPlan, latest string) Decision {
	g := new(errgroup.Group)
	g.Go(func() error {
		r.UpdateGraph(ctx, state, section, latest)
		return nil
	})

	d := r.decide(ctx, state, section)
	_ = g.Wait()

	logger.Info(
		"[Reflector] Section reviewed",
		"section", section.Title,
		"satisfied", d.Satisfied,
		"continue", d.Continue,
		"next_query", d.NextQuery,
	)
	return d
}

func (r *Reflector) decide(ctx context.Context, state *State, section SectionPlan) Decision {
	result := state.Result(section.ID)
	budgetLeft := result.IterationsUsed < r.settings.MaxLoops

	findings := result.Findings()
	var out reflection
	if findings != "" {
		prompt := fmt.Sprintf(
			ai.ReflectPrompt,
			state.Topic,
			section.Title,
			section.Objective,
			util.TruncateWords(findings, 12000),
			r.settings.MaxQueryWords,
		)
		if err := r.model.GenerateStructured(
			ctx,
			"section_reflection",
			"Whether the section objective is answered and the next query otherwise",
			prompt,
			&out,
			systemPrompt(state.Language),
			ai.WithTemperature(0.1),
		); err != nil {
			logger.Warn("[Reflector] Reflection failed, treating section as unsatisfied", "section", section.Title, "err", err)
			out = reflection{}
		}
	}

	if out.Satisfied {
		return Decision{Satisfied: true, Reasoning: out.Reasoning}
	}
	if !budgetLeft {
		return Decision{Reasoning: out.Reasoning}
	}

	next := util.SanitizeQuery(out.NextQuery)
	if next == "" {
		next = fallbackQuery(section)
	}
	return Decision{Continue: true, NextQuery: next, Reasoning: out.Reasoning}
}

// UpdateGraph extracts entities and relations from text and merges them into
// the knowledge graph of state. Failures are logged and ignored.
func (r *Reflector) UpdateGraph(ctx context.Context, state *State, section SectionPlan, text string) {
	text = strings.TrimSpace(util.NormalizeCitations(text, func(int) bool { return false }))
	if len([]rune(text)) < graph.MinExtractLength {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.settings.ReflectionTimeout)
	defer cancel()

	ext, err := graph.Extract(ctx, r.model, section.Title, text, systemPrompt(state.Language), ai.WithTemperature(0))
	if err != nil {
		logger.Warn("[Reflector] Knowledge graph extraction failed", "section", section.Title, "err", err)
		return
	}

	stats := state.Graph.Merge(ext)
	nodes, edges := state.Graph.Len()
	logger.Debug(
		"[Reflector] Knowledge graph updated",
		"section", section.Title,
		"new_nodes", stats.Nodes,
		"new_edges", stats.Edges,
		"nodes", nodes,
		"edges", edges,
	)
}
