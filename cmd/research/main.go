package main

import (
	"fmt"
	"os"

	"github.com/OFFIS-RIT/deepresearch/internal/config"
	"github.com/OFFIS-RIT/deepresearch/internal/util"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	envFile string

	// Run flags
	maxLoops     int
	maxResults   int
	snippetsOnly bool
	interactive  bool
	language     string
	outputFile   string
	stateFile    string
	render       bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "research",
	Short: "Autonomous multi-section web research",
	Long: `research plans a report on a topic, researches every section with
web searches, reflects on what is still missing and writes a cited markdown
report.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			util.LoadEnv(envFile)
		} else {
			util.LoadEnv()
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		cfg.Log.InitLogger("research")
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run [topic]",
	Short: "Research a topic and write the report",
	Long: `Researches the topic and writes the markdown report to --output.

With --interactive the plan is shown for approval or editing before research
starts, and every proposed search query can be replaced. Ctrl+C stops after
the current iteration and still writes the report.

Example:
  research run "History of solar energy" --max-loops 2 --render`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

var askCmd = &cobra.Command{
	Use:   "ask [report-file] [question]",
	Short: "Answer a follow-up question from a written report",
	Args:  cobra.MinimumNArgs(2),
	RunE:  askReport,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment from this file instead of .env")

	runCmd.Flags().IntVar(&maxLoops, "max-loops", 0, "Research iterations per section (default MAX_RESEARCH_LOOPS)")
	runCmd.Flags().IntVar(&maxResults, "max-results", 0, "Search results per query (default MAX_SEARCH_RESULTS_PER_QUERY)")
	runCmd.Flags().BoolVar(&snippetsOnly, "snippets-only", false, "Summarize search snippets without fetching pages")
	runCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Review the plan and queries on stdin")
	runCmd.Flags().StringVar(&language, "language", "", "Report language (default LANGUAGE)")
	runCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Report file (default OUTPUT_FILENAME)")
	runCmd.Flags().StringVar(&stateFile, "state", "", "Also write the final research state as JSON")
	runCmd.Flags().BoolVar(&render, "render", false, "Render the report in the terminal")

	askCmd.Flags().StringVar(&language, "language", "", "Answer language (default LANGUAGE)")
	askCmd.Flags().BoolVar(&render, "render", false, "Render the answer in the terminal")

	rootCmd.AddCommand(runCmd, askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
