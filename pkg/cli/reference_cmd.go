package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newReferenceCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reference",
		Short: "Manage the app's platform references",
	}

	cmd.AddCommand(newReferenceRegisterCmd(s))
	cmd.AddCommand(newReferenceConfigCmd(s))

	return cmd
}

func newReferenceRegisterCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "register <name> <operation> <ref-or-alias>",
		Short: "Add, remove, or clear a reference binding",
		Long:  "Run a reference operation (ADD, REMOVE, or CLEAR) against the deployed app. Mirrors the callback the platform invokes during the grant wizard.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer s.close()
			ctl, err := s.controller()
			if err != nil {
				return err
			}
			result, err := ctl.RegisterSingleReference(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]string{"result": result})
			}
			fmt.Fprintln(os.Stdout, result)
			return nil
		},
	}
}

func newReferenceConfigCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "config <name>",
		Short: "Show the configuration payload for a reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer s.close()
			ctl, err := s.controller()
			if err != nil {
				return err
			}
			doc, err := ctl.GetConfigForReference(args[0])
			if err != nil {
				return err
			}
			// The payload is already JSON; re-indent it for display.
			var parsed interface{}
			if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
				fmt.Fprintln(os.Stdout, doc)
				return nil
			}
			return printJSON(os.Stdout, parsed)
		},
	}
}
