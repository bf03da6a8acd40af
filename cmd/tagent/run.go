package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/themeagent/internal/app"
	"github.com/fyrsmithlabs/themeagent/internal/config"
	"github.com/fyrsmithlabs/themeagent/internal/coordinator"
	"github.com/fyrsmithlabs/themeagent/internal/events"
	"github.com/fyrsmithlabs/themeagent/internal/logging"
	"github.com/fyrsmithlabs/themeagent/internal/outcome"
	"github.com/fyrsmithlabs/themeagent/internal/planner"
	"github.com/fyrsmithlabs/themeagent/internal/transcript"
)

var runFlags struct {
	workspace    string
	script       string
	tier         string
	plan         string
	scope        []string
	files        []string
	conversation string
	record       string
	quiet        bool
}

// runCmd runs one request against a local theme directory
var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Run a request against a local theme",
	Long: `Run a request against a theme directory and stream the run's events.

Without --script the configured LLM provider plans each step. With --script a
YAML file supplies the steps, which makes runs reproducible.

Examples:
  # Edit the theme in ./theme
  tagent run --workspace ./theme "Make the header sticky"

  # Replay a scripted run and record its events
  tagent run --workspace ./theme --script steps.yaml --record run.jsonl "Fix footer"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.workspace, "workspace", "", "theme directory (overrides workspace.root)")
	f.StringVar(&runFlags.script, "script", "", "YAML planner script")
	f.StringVar(&runFlags.tier, "tier", "", "requested tier: simple, hybrid or god_mode")
	f.StringVar(&runFlags.plan, "plan", "", "caller plan used to cap the tier")
	f.StringSliceVar(&runFlags.scope, "scope", nil, "paths the request is scoped to")
	f.StringSliceVar(&runFlags.files, "file", nil, "files to consider first")
	f.StringVar(&runFlags.conversation, "conversation", "", "conversation id")
	f.StringVar(&runFlags.record, "record", "", "write the event stream to this JSONL file")
	f.BoolVarP(&runFlags.quiet, "quiet", "q", false, "print only the outcome")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}
	if runFlags.workspace != "" {
		cfg.Workspace.Root = runFlags.workspace
	}
	// Runs from the CLI are recorded with --record instead.
	cfg.Archive.Disabled = true
	cfg.Events.NATSURL = ""

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return err
	}
	// Keep stdout for the event stream.
	logCfg.Output.Stdout = false
	logCfg.Output.Stderr = true
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts := app.Options{Config: cfg, Logger: logger}
	if runFlags.script != "" {
		p, err := planner.LoadScript(runFlags.script)
		if err != nil {
			return err
		}
		opts.Planner = p
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	run, err := a.Coordinator.NewRun(coordinator.Request{
		ConversationID: runFlags.conversation,
		Text:           strings.Join(args, " "),
		Plan:           runFlags.plan,
		Tier:           runFlags.tier,
		Scope:          runFlags.scope,
		FileHints:      runFlags.files,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	sub := run.Bus().Subscribe(true)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for e := range sub.Events() {
			if !runFlags.quiet {
				printEvent(out, e)
			}
		}
	}()

	result := a.Coordinator.Execute(ctx, run)
	<-printed

	if runFlags.record != "" {
		if err := record(runFlags.record, run.Bus().History()); err != nil {
			return err
		}
	}
	printOutcome(out, result)
	if result.Status == outcome.BlockedPolicy {
		return fmt.Errorf("run blocked: %s", result.FailureReason)
	}
	return nil
}

func record(path string, evs []events.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := transcript.WriteJSONL(f, evs); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// printEvent renders one event as a single line.
func printEvent(w io.Writer, e events.Event) {
	agent := e.Agent
	if agent == "" {
		agent = coordinator.RootAgent
	}
	switch e.Type {
	case events.TypeThinking:
		if e.Thinking.Phase == transcript.PhaseUsage {
			return
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", agent, e.Thinking.Phase, e.Thinking.Label)
	case events.TypeReasoning:
		fmt.Fprintf(w, "[%s] thinks: %s\n", agent, firstLine(e.Reasoning.Text))
	case events.TypeToolCall:
		fmt.Fprintf(w, "[%s] -> %s %s\n", agent, e.ToolCall.Name, target(e.ToolCall.Input))
	case events.TypeToolResult:
		status := "ok"
		if e.ToolResult.IsError {
			status = "error"
		}
		fmt.Fprintf(w, "[%s] <- %s %s (%dms): %s\n", agent, e.ToolResult.ID, status, e.ToolResult.ElapsedMS, firstLine(e.ToolResult.Content))
	case events.TypeTextChunk:
		fmt.Fprintf(w, "[%s] %s\n", agent, e.Text.Text)
	}
}

func printOutcome(w io.Writer, o outcome.Outcome) {
	fmt.Fprintf(w, "\nOutcome: %s\n", o.Status)
	if o.ChangeSummary != "" {
		fmt.Fprintf(w, "Summary: %s\n", o.ChangeSummary)
	}
	if o.ChangedFiles > 0 {
		fmt.Fprintf(w, "Changed files: %d\n", o.ChangedFiles)
	}
	if o.FailureReason != "" {
		fmt.Fprintf(w, "Reason: %s\n", o.FailureReason)
	}
	if o.FailedTool != "" {
		fmt.Fprintf(w, "Failed tool: %s %s\n", o.FailedTool, o.FailedFilePath)
	}
	if o.SuggestedAction != "" {
		fmt.Fprintf(w, "Next: %s\n", o.SuggestedAction)
	}
	for _, is := range o.ValidationIssues {
		kept := "rolled back"
		if is.ChangesKept {
			kept = "kept"
		}
		fmt.Fprintf(w, "Gate %s (%s): %s\n", is.Gate, kept, strings.Join(is.Errors, "; "))
	}
}

func target(in map[string]any) string {
	for _, k := range []string{"path", "pattern", "query", "domain"} {
		if v, ok := in[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
