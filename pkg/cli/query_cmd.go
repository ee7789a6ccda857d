package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func newQueryCmd(s *session) *cobra.Command {
	var timeout int

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a query through the helper procedure and wait for rows",
		Long:  "Submit a statement through the same privilege-crossing helper procedure the agent uses for inbound operations, wait for completion, and print the rows. Intended for troubleshooting a deployment end to end.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := s.gateway()
			if err != nil {
				return err
			}
			rs, err := gw.ExecuteHelperQuery(cmd.Context(), args[0], timeout)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]interface{}{
					"columns":  rs.Columns,
					"rows":     rs.Rows,
					"num_rows": rs.NumRows,
				})
			}
			headers := make([]string, len(rs.Columns))
			for i, col := range rs.Columns {
				headers[i] = col.Name
			}
			rows := make([][]string, len(rs.Rows))
			for i, row := range rs.Rows {
				cells := make([]string, len(row))
				for j, cell := range row {
					cells[j] = cellString(cell)
				}
				rows[i] = cells
			}
			return printTable(os.Stdout, headers, rows)
		},
	}

	cmd.Flags().IntVar(&timeout, "timeout", 300, "Statement timeout in seconds")

	return cmd
}
