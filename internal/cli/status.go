package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/gatewright/internal/evidence"
	"github.com/lucasnoah/gatewright/internal/status"
)

// statusView mirrors one gate's stored status for JSON output.
type statusView struct {
	Gate      string `json:"gate"`
	Required  bool   `json:"required"`
	State     string `json:"state"`
	Evidence  string `json:"evidence,omitempty"`
	Reason    string `json:"reason,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded gate statuses for the revision",
	Long: `Status lists every registered gate with its recorded state for the
revision. Gates that never ran show as absent.`,
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
		byGate := make(map[string]status.StoredStatus, len(statuses))
		for _, st := range statuses {
			byGate[st.Gate] = st
		}

		views := make([]statusView, 0, len(eng.reg.Names()))
		for _, name := range eng.reg.Names() {
			def, _ := eng.reg.Definition(name)
			v := statusView{Gate: name, Required: def.Required, State: "absent"}
			if st, ok := byGate[name]; ok {
				v.State = string(st.State)
				v.Reason = st.Evidence.ReasonCode
				if !st.Evidence.IsZero() {
					v.Evidence = evidence.Encode(st.Evidence)
				}
				v.UpdatedAt = st.UpdatedAt.UTC().Format(time.RFC3339)
			}
			views = append(views, v)
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, views)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "revision: %s\n\n", rev)
		fmt.Fprintf(w, "%-14s %-8s %-8s %-20s %s\n", "GATE", "REQ", "STATE", "REASON", "UPDATED")
		fmt.Fprintf(w, "%-14s %-8s %-8s %-20s %s\n",
			strings.Repeat("-", 14),
			strings.Repeat("-", 8),
			strings.Repeat("-", 8),
			strings.Repeat("-", 20),
			strings.Repeat("-", 7))
		for _, v := range views {
			req := "no"
			if v.Required {
				req = "yes"
			}
			reason := v.Reason
			if reason == "" {
				reason = "-"
			}
			updated := v.UpdatedAt
			if updated == "" {
				updated = "-"
			}
			fmt.Fprintf(w, "%-14s %-8s %-8s %-20s %s\n", v.Gate, req, v.State, reason, updated)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("revision", "", "revision id to inspect (default: derive from git)")
	statusCmd.Flags().String("format", "text", "Output format: text or json")
}
