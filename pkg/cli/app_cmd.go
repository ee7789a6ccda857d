package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"snowbridge/internal/domain"
)

func newAppCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Manage the deployed agent service",
	}

	cmd.AddCommand(newAppStartCmd(s))
	cmd.AddCommand(newAppSuspendCmd(s))
	cmd.AddCommand(newAppResumeCmd(s))
	cmd.AddCommand(newAppRestartCmd(s))
	cmd.AddCommand(newAppStatusCmd(s))
	cmd.AddCommand(newAppLogsCmd(s))

	return cmd
}

func newAppStartCmd(s *session) *cobra.Command {
	var (
		minNodes   int
		maxNodes   int
		family     string
		whSize     string
		whSuspend  int
		backendURL string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Create or resize the compute pool, warehouse, and service",
		Long:  "Converge the agent's compute pool, warehouse, and container service to the requested sizing. Safe to run against a live deployment: existing objects are resized, never recreated.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer s.close()
			if cmd.Flags().Changed("backend-url") {
				s.profile.BackendURL = backendURL
			}
			ctl, err := s.controller()
			if err != nil {
				return err
			}
			if err := ctl.StartApp(cmd.Context(), domain.StartAppParams{
				MinNodes:          minNodes,
				MaxNodes:          maxNodes,
				InstanceFamily:    family,
				WarehouseSize:     whSize,
				WarehouseAutoSusp: whSuspend,
			}); err != nil {
				return err
			}
			names := s.names()
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]string{
					"status":       "ok",
					"service":      names.Service,
					"compute_pool": names.ComputePool,
					"warehouse":    names.Warehouse,
				})
			}
			fmt.Fprintf(os.Stdout, "Service %s started (pool %s, warehouse %s)\n",
				names.Service, names.ComputePool, names.Warehouse)
			return nil
		},
	}

	cmd.Flags().IntVar(&minNodes, "min-nodes", 1, "Minimum compute pool nodes")
	cmd.Flags().IntVar(&maxNodes, "max-nodes", 1, "Maximum compute pool nodes")
	cmd.Flags().StringVar(&family, "family", "CPU_X64_XS", "Compute pool instance family")
	cmd.Flags().StringVar(&whSize, "wh-size", "XSMALL", "Warehouse size")
	cmd.Flags().IntVar(&whSuspend, "wh-auto-suspend", 60, "Warehouse auto-suspend seconds")
	cmd.Flags().StringVar(&backendURL, "backend-url", "", "Orchestrator URL baked into the service environment")

	return cmd
}

func newAppSuspendCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "suspend",
		Short: "Suspend the agent service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer s.close()
			ctl, err := s.controller()
			if err != nil {
				return err
			}
			if err := ctl.Suspend(cmd.Context()); err != nil {
				return err
			}
			return printStatusLine(cmd, "suspended", s.names().Service)
		},
	}
}

func newAppResumeCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a suspended agent service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer s.close()
			ctl, err := s.controller()
			if err != nil {
				return err
			}
			if err := ctl.Resume(cmd.Context()); err != nil {
				return err
			}
			return printStatusLine(cmd, "resumed", s.names().Service)
		},
	}
}

func newAppRestartCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Suspend and resume the agent service",
		Long:  "Bounce the service so the container restarts with fresh state, e.g. after rotating credentials. An interrupted restart is journaled locally and finished on the next lifecycle command.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer s.close()
			ctl, err := s.controller()
			if err != nil {
				return err
			}
			if err := ctl.Restart(cmd.Context()); err != nil {
				return err
			}
			return printStatusLine(cmd, "restarted", s.names().Service)
		},
	}
}

func printStatusLine(cmd *cobra.Command, status, service string) error {
	if getOutputFormat(cmd) == "json" {
		return printJSON(os.Stdout, map[string]string{"status": status, "service": service})
	}
	fmt.Fprintf(os.Stdout, "Service %s %s\n", service, status)
	return nil
}

func newAppStatusCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the agent service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer s.close()
			ctl, err := s.controller()
			if err != nil {
				return err
			}
			// Finish any restart an earlier invocation left half-done
			// before reporting, so status never shows a stale suspend.
			if err := ctl.RetryPendingResume(cmd.Context()); err != nil {
				s.log.Warn("pending resume not finished", "error", err)
			}
			status, err := ctl.Status(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, status)
			}
			return printTable(os.Stdout,
				[]string{"SERVICE", "STATE", "RESTARTS", "STARTED", "MESSAGE"},
				[][]string{{
					s.names().Service,
					string(status.State),
					strconv.Itoa(status.RestartCount),
					status.StartTime,
					status.Message,
				}})
		},
	}
}

func newAppLogsCmd(s *session) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Fetch recent agent container logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer s.close()
			ctl, err := s.controller()
			if err != nil {
				return err
			}
			lines, err := ctl.ServiceLogs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]interface{}{"lines": lines})
			}
			for _, line := range lines {
				if line.Timestamp.IsZero() {
					fmt.Fprintln(os.Stdout, line.Message)
					continue
				}
				fmt.Fprintf(os.Stdout, "%s %s\n", line.Timestamp.Format("2006-01-02T15:04:05Z07:00"), line.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum log lines to fetch")

	return cmd
}
