package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]string{
					"version": version,
					"commit":  commit,
				})
			}
			fmt.Fprintf(os.Stdout, "snowbridge version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
