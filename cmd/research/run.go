package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/deepresearch/internal/config"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"
	"github.com/OFFIS-RIT/deepresearch/pkg/research"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

func runResearch(cmd *cobra.Command, args []string) error {
	topic := strings.TrimSpace(strings.Join(args, " "))
	if topic == "" {
		return fmt.Errorf("topic must not be empty")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	engine, err := config.NewEngine(ctx, cfg)
	if err != nil {
		return err
	}

	out := cmd.ErrOrStderr()
	var hooks research.Hooks = &progressPrinter{out: out}
	if interactive || cfg.Research.Interactive {
		hooks = newPromptHooks(cmd.InOrStdin(), out)
	}
	orch := engine.Orchestrator(cfg.Settings(), hooks)

	stopSignals := watchInterrupts(orch, cancel, out)
	defer stopSignals()

	start := time.Now()
	state, runErr := orch.Run(ctx, research.Params{
		Topic:              topic,
		MaxLoops:           maxLoops,
		MaxResultsPerQuery: maxResults,
		SnippetsOnly:       snippetsOnly,
		Interactive:        interactive || cfg.Research.Interactive,
		Language:           language,
	})
	engine.LogMetrics("CLI")
	logger.Info("[CLI] Processing time", "duration", config.FormatClock(time.Since(start)))

	if stateFile != "" {
		if err := writeState(stateFile, state); err != nil {
			logger.Error("[CLI] Failed to write state", "file", stateFile, "err", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("research failed: %w", runErr)
	}

	path := outputFile
	if path == "" {
		path = cfg.OutputFilename
	}
	if err := os.WriteFile(path, []byte(state.Report), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Fprintf(out, "Report written to %s (%d sections, %d sources)\n", path, len(state.Sections), state.Sources.Len())

	if render {
		return printMarkdown(cmd.OutOrStdout(), state.Report)
	}
	return nil
}

// watchInterrupts interrupts the run on the first SIGINT and cancels it on
// the second. The returned func stops watching.
func watchInterrupts(orch *research.Orchestrator, cancel context.CancelFunc, out io.Writer) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-sigs:
				if orch.Interrupted() {
					fmt.Fprintln(out, "Aborting.")
					cancel()
					return
				}
				fmt.Fprintln(out, "Stopping after the current iteration, press Ctrl+C again to abort.")
				orch.Interrupt()
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func writeState(path string, state *research.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func printMarkdown(w io.Writer, markdown string) error {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		_, err = fmt.Fprintln(w, markdown)
		return err
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		_, err = fmt.Fprintln(w, markdown)
		return err
	}
	_, err = fmt.Fprint(w, rendered)
	return err
}

func askReport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	question := strings.TrimSpace(strings.Join(args[1:], " "))
	if question == "" {
		return fmt.Errorf("question must not be empty")
	}

	model, err := config.NewModel(cmd.Context(), cfg.LLM)
	if err != nil {
		return err
	}

	lang := language
	if lang == "" {
		lang = cfg.Research.Language
	}
	answer, err := research.NewReporter(model, cfg.Settings()).Answer(cmd.Context(), string(data), question, lang)
	if err != nil {
		return fmt.Errorf("answer question: %w", err)
	}

	if render {
		return printMarkdown(cmd.OutOrStdout(), answer)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), answer)
	return err
}
