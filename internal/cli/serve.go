package cli

import (
	"github.com/spf13/cobra"

	"github.com/lucasnoah/gatewright/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only dashboard",
	Long: `Serve starts a local browser UI over the configured stores: recent
revisions with their verdicts, per-gate detail with the hop trail, gate
health stats, and the ledger text. The dashboard never writes; every
mutation still goes through a worker.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.cleanup()

		port, _ := cmd.Flags().GetInt("port")
		return web.NewServer(web.Deps{
			Statuses:  eng.statuses,
			Audit:     eng.audit,
			Registry:  eng.reg,
			Ledger:    eng.ledger,
			LedgerKey: eng.ledgerKey,
			Port:      port,
			Log:       eng.log,
		}).Start()
	},
}

func init() {
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
}
