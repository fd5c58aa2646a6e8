package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/deepresearch/internal/util"
	"github.com/OFFIS-RIT/deepresearch/pkg/ai"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"
)

const hubLimit = 10

// Framing is the model written introduction and conclusion of a report.
type Framing struct {
	Introduction string `json:"introduction" jsonschema_description:"Introduction stating the scope of the report"`
	Conclusion   string `json:"conclusion" jsonschema_description:"Conclusion summarizing the main findings"`
}

type reportLabels struct {
	Introduction string
	Conclusion   string
	Graph        string
	GraphSummary string
	KeyEntities  string
	Sources      string
	NoSources    string
	NoFindings   string
	Exhausted    string
}

var labels = map[string]reportLabels{
	"english": {
		Introduction: "Introduction",
		Conclusion:   "Conclusion",
		Graph:        "Knowledge Graph",
		GraphSummary: "The research identified %d entities and %d relations.",
		KeyEntities:  "Key entities",
		Sources:      "Sources",
		NoSources:    "No sources were used.",
		NoFindings:   "No findings were collected for this section.",
		Exhausted:    "Research for this section ended before its objective was fully met.",
	},
	"japanese": {
		Introduction: "はじめに",
		Conclusion:   "結論",
		Graph:        "ナレッジグラフ",
		GraphSummary: "調査により %d 個のエンティティと %d 個の関係が特定されました。",
		KeyEntities:  "主要なエンティティ",
		Sources:      "参考文献",
		NoSources:    "使用された情報源はありません。",
		NoFindings:   "このセクションについては情報が見つかりませんでした。",
		Exhausted:    "このセクションの調査は目的を完全に満たす前に終了しました。",
	},
}

func labelsFor(language string) reportLabels {
	if l, ok := labels[strings.ToLower(strings.TrimSpace(language))]; ok {
		return l
	}
	return labels["english"]
}

// Reporter turns a finished state into the final markdown report.
type Reporter struct {
	model    ai.GenerativeModel
	settings Settings
}

func NewReporter(model ai.GenerativeModel, settings Settings) *Reporter {
	return &Reporter{model: model, settings: settings.withDefaults()}
}

// Synthesize builds the report of state. With report synthesis enabled the
// model adds an introduction and a conclusion; without it, or when that
// request fails, the report is a pure function of state.
func (r *Reporter) Synthesize(ctx context.Context, state *State) string {
	var framing Framing
	if r.settings.SynthesizeReport && ctx.Err() == nil {
		f, err := r.frame(ctx, state)
		if err != nil {
			logger.Warn("[Reporter] Report framing failed, writing report without it", "err", err)
		} else {
			framing = f
		}
	}

	report := Render(state, framing)
	logger.Info("[Reporter] Report synthesized", "topic", state.Topic, "sources", state.Sources.Len())
	return report
}

func (r *Reporter) frame(ctx context.Context, state *State) (Framing, error) {
	var findings strings.Builder
	for _, s := range state.Sections {
		text := state.Result(s.ID).Findings()
		if text == "" {
			continue
		}
		fmt.Fprintf(&findings, "### %s\n%s\n\n", s.Title, util.TruncateWords(text, 6000))
	}
	if findings.Len() == 0 {
		return Framing{}, fmt.Errorf("no findings to frame")
	}

	var out Framing
	prompt := fmt.Sprintf(ai.SynthesizePrompt, state.Topic, findings.String(), sourceList(state))
	if err := r.model.GenerateStructured(
		ctx,
		"report_framing",
		"Introduction and conclusion of the research report",
		prompt,
		&out,
		systemPrompt(state.Language),
		ai.WithTemperature(0.3),
	); err != nil {
		return Framing{}, fmt.Errorf("frame report: %w", err)
	}
	return out, nil
}

// Render writes the report skeleton: title, optional introduction, sections
// in plan order, optional conclusion, graph overview and the source list.
func Render(state *State, framing Framing) string {
	l := labelsFor(state.Language)
	valid := state.Sources.Valid

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", state.Topic)

	if intro := strings.TrimSpace(framing.Introduction); intro != "" {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", l.Introduction, util.NormalizeCitations(intro, valid))
	}

	for _, s := range state.Sections {
		fmt.Fprintf(&b, "## %s\n\n", s.Title)
		if s.Status == StatusExhausted {
			fmt.Fprintf(&b, "_%s_\n\n", l.Exhausted)
		}
		if text := state.Result(s.ID).Findings(); text != "" {
			fmt.Fprintf(&b, "%s\n\n", util.NormalizeCitations(text, valid))
		} else {
			fmt.Fprintf(&b, "_%s_\n\n", l.NoFindings)
		}
	}

	if conclusion := strings.TrimSpace(framing.Conclusion); conclusion != "" {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", l.Conclusion, util.NormalizeCitations(conclusion, valid))
	}

	if nodes, edges := state.Graph.Len(); nodes > 0 {
		fmt.Fprintf(&b, "## %s\n\n", l.Graph)
		fmt.Fprintf(&b, l.GraphSummary+"\n\n", nodes, edges)
		hubs := state.Graph.Hubs(hubLimit)
		names := make([]string, 0, len(hubs))
		for _, n := range hubs {
			if n.Type != "" {
				names = append(names, fmt.Sprintf("%s (%s)", n.Label, n.Type))
			} else {
				names = append(names, n.Label)
			}
		}
		fmt.Fprintf(&b, "%s: %s\n\n", l.KeyEntities, strings.Join(names, ", "))
	}

	fmt.Fprintf(&b, "## %s\n\n", l.Sources)
	if state.Sources.Len() == 0 {
		fmt.Fprintf(&b, "_%s_\n", l.NoSources)
	} else {
		b.WriteString(sourceList(state))
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func sourceList(state *State) string {
	var b strings.Builder
	for i, src := range state.Sources.List() {
		fmt.Fprintf(&b, "[%d] %s (%s)\n\n", i+1, src.Title, src.URL)
	}
	return b.String()
}

// Answer responds to a follow-up question using only report.
func (r *Reporter) Answer(ctx context.Context, report, question, language string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("empty question")
	}

	prompt := fmt.Sprintf(ai.FollowUpPrompt, report, question)
	answer, err := r.model.GenerateText(ctx, prompt, systemPrompt(language), ai.WithTemperature(0.3))
	if err != nil {
		return "", fmt.Errorf("answer follow-up: %w", err)
	}
	return util.NormalizeCitations(strings.TrimSpace(answer), func(int) bool { return true }), nil
}
