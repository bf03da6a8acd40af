package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/themeagent/internal/transcript"
)

var replayJSON bool

// replayCmd rebuilds a transcript from a recorded event stream
var replayCmd = &cobra.Command{
	Use:   "replay <events.jsonl>",
	Short: "Build a transcript from a recorded event stream",
	Long: `Build a transcript from a JSONL event stream written by "tagent run --record".

Examples:
  # Summarize a recorded run
  tagent replay run.jsonl

  # Full transcript as JSON
  tagent replay --json run.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "print the transcript as JSON")
}

func runReplay(cmd *cobra.Command, args []string) error {
	var in io.Reader
	if args[0] == "-" {
		in = cmd.InOrStdin()
	} else {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()
		in = f
	}

	evs, err := transcript.ReadJSONL(in)
	if err != nil {
		return err
	}
	t := transcript.Build(evs, transcript.Options{})

	out := cmd.OutOrStdout()
	if replayJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	}
	printTranscript(out, t)
	return nil
}

func printTranscript(w io.Writer, t transcript.Transcript) {
	fmt.Fprintf(w, "Run %s\n", t.RunID)
	for _, c := range t.Calls {
		status := "ok"
		switch {
		case c.Result.Synthesized:
			status = "no result"
		case c.Result.IsError:
			status = "error"
		}
		fmt.Fprintf(w, "  #%d %-8s %s %s [%s]\n", c.Seq, c.Agent, c.Name, target(c.Input), status)
	}
	m := t.Metrics
	fmt.Fprintf(w, "Calls: %d (edit %d, read %d, search %d, errors %d)\n",
		m.TotalCalls, m.EditCalls, m.ReadCalls, m.SearchCalls, m.ErrorResults)
	fmt.Fprintf(w, "Tokens: %d in, %d out, cost %.2f cents, %dms\n",
		m.InputTokens, m.OutputTokens, m.CostCents, m.ElapsedMS)
	if len(t.Orphans) > 0 {
		fmt.Fprintf(w, "Orphan results: %v\n", t.Orphans)
	}
	if t.Outcome != nil {
		printOutcome(w, *t.Outcome)
	}
}
