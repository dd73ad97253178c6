package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/gatewright/internal/report"
	"github.com/lucasnoah/gatewright/internal/routing"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Emit the JSON gate report for the revision",
	Long: `Report assembles the machine-readable receipt for a revision: every
registered gate with its state, reason, and metrics, plus the overall
verdict. Written to --out when given, stdout otherwise.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.cleanup()

		rev, err := resolveRevision(cmd)
		if err != nil {
			return err
		}

		statuses, err := eng.statuses.List(ctx, rev)
		if err != nil {
			return err
		}
		d, err := routing.Decide(rev, statuses, eng.reg, routing.Options{
			Now:        time.Now(),
			StaleAfter: eng.staleAfter,
		})
		if err != nil {
			return err
		}
		r := report.Build(rev, statuses, eng.reg, d, time.Now())

		out, _ := cmd.Flags().GetString("out")
		if out != "" {
			if err := report.WriteFile(out, r); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", out)
			return nil
		}
		return writeJSON(cmd, r)
	},
}

func init() {
	reportCmd.Flags().String("revision", "", "revision id to report on (default: derive from git)")
	reportCmd.Flags().String("out", "", "write the report to this file instead of stdout")
}
