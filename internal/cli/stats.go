package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/gatewright/internal/analytics"
)

// statsView bundles the analytics queries for JSON output.
type statsView struct {
	Since        string                  `json:"since,omitempty"`
	Gates        []analytics.GateStats   `json:"gates"`
	Verdicts     analytics.VerdictCounts `json:"verdicts"`
	ReworkNamers []analytics.ReworkNamer `json:"rework_namers,omitempty"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show gate health from the local audit log",
	Long: `Stats aggregates the audit log: per-gate pass and fail rates, run
durations, verdict counts, and which gates most often name a revision
needs-rework. --since takes a duration like 72h and limits the window.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		audit, err := openAudit(cfg)
		if err != nil {
			return err
		}
		defer audit.Close()

		var cutoff string
		if since, _ := cmd.Flags().GetString("since"); since != "" {
			d, err := time.ParseDuration(since)
			if err != nil {
				return fmt.Errorf("bad --since %q: %w", since, err)
			}
			cutoff = time.Now().UTC().Add(-d).Format("2006-01-02 15:04:05")
		}

		gates, err := analytics.QueryGateStats(audit, cutoff)
		if err != nil {
			return err
		}
		verdicts, err := analytics.QueryVerdicts(audit, cutoff)
		if err != nil {
			return err
		}
		namers, err := analytics.QueryReworkNamers(audit, cutoff)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, statsView{
				Since:        cutoff,
				Gates:        gates,
				Verdicts:     verdicts,
				ReworkNamers: namers,
			})
		}

		w := cmd.OutOrStdout()
		if len(gates) == 0 {
			fmt.Fprintln(w, "No gate runs recorded.")
			return nil
		}

		fmt.Fprintf(w, "%-14s %-6s %-7s %-7s %-7s %-8s %-8s %s\n",
			"GATE", "RUNS", "PASS%", "FAIL%", "SKIP%", "P50MS", "P95MS", "LAST_FAIL")
		fmt.Fprintf(w, "%-14s %-6s %-7s %-7s %-7s %-8s %-8s %s\n",
			strings.Repeat("-", 14),
			strings.Repeat("-", 6),
			strings.Repeat("-", 7),
			strings.Repeat("-", 7),
			strings.Repeat("-", 7),
			strings.Repeat("-", 8),
			strings.Repeat("-", 8),
			strings.Repeat("-", 9))
		for _, g := range gates {
			lastFail := g.LastFail
			if lastFail == "" {
				lastFail = "-"
			}
			fmt.Fprintf(w, "%-14s %-6d %-7.1f %-7.1f %-7.1f %-8.0f %-8.0f %s\n",
				g.Gate, g.Runs, g.PassPct, g.FailPct, g.SkipPct, g.P50Ms, g.P95Ms, lastFail)
		}

		fmt.Fprintf(w, "\nverdicts: %d finalized (%d ready, %d needs-rework)\n",
			verdicts.Finalized, verdicts.Ready, verdicts.NeedsRework)
		if len(namers) > 0 {
			fmt.Fprintln(w, "rework named by:")
			for _, n := range namers {
				fmt.Fprintf(w, "  %-14s %d\n", n.Gate, n.Count)
			}
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().String("since", "", "limit to the trailing window, e.g. 72h")
	statsCmd.Flags().String("format", "text", "Output format: text or json")
}
