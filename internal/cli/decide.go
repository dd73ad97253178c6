package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/gatewright/internal/routing"
)

// decisionView mirrors routing.Decision for JSON output.
type decisionView struct {
	Revision      string `json:"revision"`
	Action        string `json:"action"`
	Gate          string `json:"gate,omitempty"`
	Verdict       string `json:"verdict,omitempty"`
	Justification string `json:"justification"`
}

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Show the next routing decision without acting on it",
	Long: `Decide reads the recorded statuses for the revision and prints what
the drive loop would do next. Nothing runs and nothing is written.`,
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

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, decisionView{
				Revision:      rev,
				Action:        string(d.Action),
				Gate:          d.Gate,
				Verdict:       string(d.Verdict),
				Justification: d.Justification,
			})
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "revision: %s\n", rev)
		switch d.Action {
		case routing.ActionInvoke:
			fmt.Fprintf(w, "next:     invoke %s\n", d.Gate)
		case routing.ActionFinalize:
			fmt.Fprintf(w, "next:     finalize (%s)\n", d.Verdict)
		}
		fmt.Fprintf(w, "reason:   %s\n", d.Justification)
		return nil
	},
}

func init() {
	decideCmd.Flags().String("revision", "", "revision id to evaluate (default: derive from git)")
	decideCmd.Flags().String("format", "", "output format (json)")
}
