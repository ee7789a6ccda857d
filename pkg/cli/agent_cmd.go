package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Service function names the setup script creates in the app_public schema.
// Each one forwards to the matching endpoint on the agent container.
const (
	fnHealth       = "test_health"
	fnReachability = "test_reachability"
	fnMetrics      = "test_metrics"
)

func newAgentCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Probe the deployed agent through its service functions",
	}

	cmd.AddCommand(newAgentProbeCmd(s, "health", fnHealth,
		"Fetch the agent's health report"))
	cmd.AddCommand(newAgentProbeCmd(s, "reachability", fnReachability,
		"Check the agent can reach the orchestrator"))
	cmd.AddCommand(newAgentProbeCmd(s, "metrics", fnMetrics,
		"Trigger a platform metrics push and report the line count"))

	return cmd
}

// newAgentProbeCmd builds one probe subcommand. All three probes share the
// same shape: call the service function, print the JSON cell it returns.
func newAgentProbeCmd(s *session, use, function, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := s.callServiceFunction(cmd.Context(), function)
			if err != nil {
				return err
			}
			var parsed interface{}
			if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
				// Not JSON; show it raw rather than failing the probe.
				fmt.Fprintln(os.Stdout, doc)
				return nil
			}
			return printJSON(os.Stdout, parsed)
		},
	}
}

// callServiceFunction invokes one of the app_public probes and returns the
// single string cell the row-format endpoint produced.
func (s *session) callServiceFunction(ctx context.Context, function string) (string, error) {
	gw, err := s.gateway()
	if err != nil {
		return "", err
	}
	statement := fmt.Sprintf("SELECT %s.%s()", s.names().ServiceFunction, function)
	rows, err := gw.Query(ctx, statement)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 || len(rows[0]) == 0 || rows[0][0] == nil {
		return "", fmt.Errorf("%s returned no rows", function)
	}
	return cellString(rows[0][0]), nil
}
