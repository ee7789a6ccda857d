package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

func newConfigCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write the agent's dynamic configuration",
		Long:  "Operate on the deployed agent's configuration table. Changes are picked up by the running agent on its next refresh, without a restart.",
	}

	cmd.AddCommand(newConfigListCmd(s))
	cmd.AddCommand(newConfigGetCmd(s))
	cmd.AddCommand(newConfigSetCmd(s))

	return cmd
}

func newConfigListCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configured keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := s.dynamicStore()
			if err != nil {
				return err
			}
			values, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, values)
			}
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				rows = append(rows, []string{k, values[k]})
			}
			return printTable(os.Stdout, []string{"KEY", "VALUE"}, rows)
		},
	}
}

func newConfigGetCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value of one key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.dynamicStore()
			if err != nil {
				return err
			}
			values, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			value, ok := values[args[0]]
			if !ok {
				return fmt.Errorf("key %q is not set", args[0])
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]string{args[0]: value})
			}
			fmt.Fprintln(os.Stdout, value)
			return nil
		},
	}
}

func newConfigSetCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.dynamicStore()
			if err != nil {
				return err
			}
			if err := store.Set(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]string{"status": "ok", "key": args[0]})
			}
			fmt.Fprintf(os.Stdout, "%s set\n", args[0])
			return nil
		},
	}
}
