package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Drive the revision until it settles or halts",
	Long: `Drive repeatedly asks the routing engine what to do next and runs
the named gate, until the revision finalizes, a halt condition fires, or
the hop bound is reached. Halts leave the run resumable: a later drive
picks up from the recorded statuses.`,
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

		maxHops, _ := cmd.Flags().GetInt("max-hops")
		out, err := eng.newLoop(maxHops).Run(ctx, rev)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, out)
		}

		w := cmd.OutOrStdout()
		for i, step := range out.Steps {
			switch {
			case step.Worker != nil:
				fmt.Fprintf(w, "hop %d: ran %s, state=%s\n", i+1, step.Worker.Gate, step.Worker.State)
			case step.Gate != "":
				fmt.Fprintf(w, "hop %d: %s %s\n", i+1, step.Action, step.Gate)
			default:
				fmt.Fprintf(w, "hop %d: %s\n", i+1, step.Action)
			}
		}
		fmt.Fprintf(w, "revision: %s\n", out.Revision)
		fmt.Fprintf(w, "result:   %s", out.Action)
		if out.Verdict != "" {
			fmt.Fprintf(w, " (%s)", out.Verdict)
		}
		fmt.Fprintln(w)
		if out.Justification != "" {
			fmt.Fprintf(w, "reason:   %s\n", out.Justification)
		}
		if out.Message != "" {
			fmt.Fprintf(w, "note:     %s\n", out.Message)
		}
		return nil
	},
}

func init() {
	driveCmd.Flags().String("revision", "", "revision id to drive (default: derive from git)")
	driveCmd.Flags().Int("max-hops", 0, "hop bound for this drive (default: engine default)")
	driveCmd.Flags().String("format", "", "output format (json)")
}
