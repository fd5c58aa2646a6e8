package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/deepresearch/pkg/common"
	"github.com/OFFIS-RIT/deepresearch/pkg/research"
)

var errPlanRejected = errors.New("plan rejected by user")

// progressPrinter writes a line per notable event.
type progressPrinter struct {
	research.NopHooks
	out io.Writer
}

func (p *progressPrinter) Progress(e research.Event) {
	switch e.Kind {
	case research.EventPlanCreated:
		fmt.Fprintf(p.out, "Plan: %s\n", e.Message)
	case research.EventPlanRefined:
		fmt.Fprintf(p.out, "Plan refined: %s\n", e.Message)
	case research.EventSectionStarted:
		fmt.Fprintf(p.out, "\n== %s\n", e.Section)
	case research.EventQuery:
		fmt.Fprintf(p.out, "  [%d] %s\n", e.Iteration, e.Query)
	case research.EventSectionFinished:
		fmt.Fprintf(p.out, "  %s after %d iterations, %d sources so far\n", e.Status, e.Iteration, e.Sources)
	case research.EventInterrupted:
		fmt.Fprintln(p.out, "Research interrupted, writing report with what was found.")
	case research.EventReportReady:
		fmt.Fprintln(p.out, "Report ready.")
	case research.EventFailed:
		fmt.Fprintf(p.out, "Research failed: %s\n", e.Message)
	}
}

// promptHooks asks the user on in to approve or edit the plan, to replace
// proposed queries and to pick the sources to summarize. End of input
// approves everything.
type promptHooks struct {
	progressPrinter
	in *bufio.Reader
}

func newPromptHooks(in io.Reader, out io.Writer) *promptHooks {
	return &promptHooks{
		progressPrinter: progressPrinter{out: out},
		in:              bufio.NewReader(in),
	}
}

func (h *promptHooks) ReviewPlan(ctx context.Context, topic string, sections []research.SectionPlan) ([]research.SectionPlan, error) {
	fmt.Fprintf(h.out, "\nProposed plan for %q:\n", topic)
	for i, s := range sections {
		fmt.Fprintf(h.out, "  %d. %s | %s\n", i+1, s.Title, s.Objective)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		answer, ok := h.ask("[a]pprove, [e]dit or [r]eject? ")
		if !ok {
			return sections, nil
		}
		switch strings.ToLower(answer) {
		case "", "a", "approve", "y", "yes":
			return sections, nil
		case "r", "reject", "n", "no":
			return nil, errPlanRejected
		case "e", "edit":
			return h.editPlan(sections)
		}
		fmt.Fprintln(h.out, "Please answer a, e or r.")
	}
}

// editPlan reads one "Title | Objective" line per section until an empty
// line. No lines keeps the proposed plan. Lines without objective keep the
// objective of the proposed section with the same position.
func (h *promptHooks) editPlan(sections []research.SectionPlan) ([]research.SectionPlan, error) {
	fmt.Fprintln(h.out, "Enter one section per line as \"Title | Objective\", finish with an empty line:")

	var edited []research.SectionPlan
	for {
		line, ok := h.ask("> ")
		if !ok || line == "" {
			break
		}
		title, objective, _ := strings.Cut(line, "|")
		s := research.SectionPlan{
			Title:     strings.TrimSpace(title),
			Objective: strings.TrimSpace(objective),
		}
		if s.Objective == "" && len(edited) < len(sections) {
			s.Objective = sections[len(edited)].Objective
		}
		edited = append(edited, s)
	}

	if len(edited) == 0 {
		return sections, nil
	}
	return edited, nil
}

func (h *promptHooks) ReviewQuery(ctx context.Context, section research.SectionPlan, query string) (string, error) {
	if err := ctx.Err(); err != nil {
		return query, err
	}
	fmt.Fprintf(h.out, "Next query for %q: %s\n", section.Title, query)
	answer, ok := h.ask("Press enter to keep it or type a replacement: ")
	if !ok || answer == "" {
		return query, nil
	}
	return answer, nil
}

// ReviewSources lists the results and reads the numbers of those to
// summarize. Enter or end of input keeps all, "none" skips them.
func (h *promptHooks) ReviewSources(ctx context.Context, section research.SectionPlan, results []common.SearchResult) ([]common.SearchResult, error) {
	fmt.Fprintf(h.out, "Search results for %q:\n", section.Title)
	for i, r := range results {
		fmt.Fprintf(h.out, "  %d. %s (%s)\n", i+1, r.Title, r.URL)
	}

	for {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		answer, ok := h.ask("Sources to summarize, e.g. 1,3 (enter for all, none to skip): ")
		if !ok || answer == "" || strings.EqualFold(answer, "all") {
			return results, nil
		}
		if strings.EqualFold(answer, "none") {
			return nil, nil
		}
		if selected, ok := pickResults(answer, results); ok {
			return selected, nil
		}
		fmt.Fprintf(h.out, "Please enter numbers between 1 and %d.\n", len(results))
	}
}

// pickResults resolves a list of 1-based numbers separated by commas or
// spaces. Duplicates are ignored, the order of results is kept.
func pickResults(answer string, results []common.SearchResult) ([]common.SearchResult, bool) {
	picked := make([]bool, len(results))
	fields := strings.FieldsFunc(answer, func(r rune) bool { return r == ',' || r == ' ' })
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 || n > len(results) {
			return nil, false
		}
		picked[n-1] = true
	}

	var selected []common.SearchResult
	for i, r := range results {
		if picked[i] {
			selected = append(selected, r)
		}
	}
	return selected, len(selected) > 0
}

// ask prints prompt and reads one trimmed line. ok is false at end of input.
func (h *promptHooks) ask(prompt string) (string, bool) {
	fmt.Fprint(h.out, prompt)
	line, err := h.in.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	return strings.TrimSpace(line), true
}
