package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/themeagent/internal/http"
)

// statusCmd shows a run on the server
var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a run on the themeagentd server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var st httpapi.RunStatus
		if err := call(http.MethodGet, "/api/v1/runs/"+args[0], nil, http.StatusOK, &st); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run:        %s\n", st.RunID)
		fmt.Fprintf(out, "Request:    %s\n", st.Request)
		fmt.Fprintf(out, "Tier:       %s\n", st.Tier)
		fmt.Fprintf(out, "State:      %s\n", st.State)
		fmt.Fprintf(out, "Iterations: %d\n", st.Iterations)
		fmt.Fprintf(out, "Cost:       %.2f cents\n", st.CostCents)
		if st.Outcome != nil {
			printOutcome(out, *st.Outcome)
		}
		return nil
	},
}

var cancelReason string

// cancelCmd cancels a run on the server
var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run on the themeagentd server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := httpapi.CancelRequest{Reason: cancelReason}
		if err := call(http.MethodPost, "/api/v1/runs/"+args[0]+"/cancel", body, http.StatusAccepted, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
		return nil
	},
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check themeagentd server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		var h httpapi.HealthResponse
		if err := call(http.MethodGet, "/health", nil, http.StatusOK, &h); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s (%d active runs)\n", h.Status, h.ActiveRuns)
		return nil
	},
}

func init() {
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "cancelled from tagent", "cancellation reason")
}

// call sends a JSON request to the server and decodes the response into out
// when out is non-nil.
func call(method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := serverURL + path
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
