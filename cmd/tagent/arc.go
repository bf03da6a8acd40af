package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/themeagent/internal/arc"
	httpapi "github.com/fyrsmithlabs/themeagent/internal/http"
)

var arcConversation string

// arcCmd evaluates a sequence of action types against the arc detectors
var arcCmd = &cobra.Command{
	Use:   "arc [action-type...]",
	Short: "Check a turn sequence for loops and error cascades",
	Long: `Feed action types through a fresh conversation arc and print the
escalations, escalation factor and suggestion level. With --conversation the
arc is fetched from the themeagentd server instead.

Examples:
  # Three identical edits trip loop detection
  tagent arc edit edit edit

  # Inspect a conversation on the server
  tagent arc --conversation conv-42`,
	RunE: runArc,
}

func init() {
	arcCmd.Flags().StringVar(&arcConversation, "conversation", "", "fetch this conversation's arc from the server")
}

func runArc(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if arcConversation != "" {
		if len(args) > 0 {
			return fmt.Errorf("action types cannot be combined with --conversation")
		}
		var resp httpapi.ArcResponse
		path := "/api/v1/conversations/" + url.PathEscape(arcConversation) + "/arc"
		if err := call(http.MethodGet, path, nil, http.StatusOK, &resp); err != nil {
			return err
		}
		printArc(out, len(resp.Turns), resp.Escalations, resp.EscalationFactor, resp.SuggestionLevel)
		return nil
	}
	if len(args) == 0 {
		return fmt.Errorf("at least one action type is required")
	}

	s := arc.New()
	for _, action := range args {
		s, _ = arc.Append(s, arc.Turn{Role: "user", ActionType: action})
	}
	printArc(out, s.TurnCount(), s.Escalations(), s.EscalationFactor(), s.SuggestionLevel())
	return nil
}

func printArc(w io.Writer, turns int, escalations []arc.Escalation, factor float64, level arc.SuggestionLevel) {
	fmt.Fprintf(w, "Turns: %d\n", turns)
	for _, e := range escalations {
		fmt.Fprintf(w, "Escalation: %s at turn %d (%s)\n", e.Trigger, e.Turn, e.Details)
	}
	fmt.Fprintf(w, "Escalation factor: %.1f\n", factor)
	fmt.Fprintf(w, "Suggestion level: %s\n", level)
}
