package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <gate>",
	Short: "Run a single gate against the current revision",
	Long: `Run invokes one gate's worker: it checks the flow lock, runs the
configured command, records the terminal status, and appends the hop to
the ledger. The revision is derived from the git tree unless --revision
is given.`,
	Args: cobra.ExactArgs(1),
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

		res, err := eng.worker.Run(ctx, args[0], rev)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, res)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "gate:     %s\n", res.Gate)
		fmt.Fprintf(w, "revision: %s\n", res.Revision)
		fmt.Fprintf(w, "action:   %s\n", res.Action)
		if res.State != "" {
			fmt.Fprintf(w, "state:    %s\n", res.State)
		}
		if res.Evidence != "" {
			fmt.Fprintf(w, "evidence: %s\n", res.Evidence)
		}
		if res.NextAction != "" {
			next := res.NextAction
			if res.NextGate != "" {
				next += " " + res.NextGate
			}
			fmt.Fprintf(w, "next:     %s\n", next)
		}
		if res.Message != "" {
			fmt.Fprintf(w, "note:     %s\n", res.Message)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("revision", "", "revision id to run against (default: derive from git)")
	runCmd.Flags().String("format", "", "output format (json)")
}
