package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/gatewright/internal/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Manage the shared ledger document",
}

var ledgerInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the ledger document with empty regions",
	Long: `Init scaffolds the ledger document at the configured location: a
gates table, a hop log, and a decision block, each between its anchor
pair. Init on an existing document is a no-op.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.cleanup()

		title, _ := cmd.Flags().GetString("title")
		if title == "" {
			title = eng.ledgerKey
		}
		if err := eng.ledger.Init(ctx, eng.ledgerKey, title); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ledger %s ready\n", eng.ledgerKey)
		return nil
	},
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the ledger document or one of its regions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.cleanup()

		doc, err := eng.ledger.Read(ctx, eng.ledgerKey)
		if err != nil {
			return err
		}

		region, _ := cmd.Flags().GetString("region")
		if region == "" {
			fmt.Fprint(cmd.OutOrStdout(), doc.Text)
			return nil
		}
		switch region {
		case ledger.RegionGates, ledger.RegionHopLog, ledger.RegionDecision:
		default:
			return fmt.Errorf("unknown region %q (want gates, hoplog, or decision)", region)
		}
		content, err := eng.ledger.Region(doc, region)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), content)
		return nil
	},
}

func init() {
	ledgerInitCmd.Flags().String("title", "", "document title (default: the ledger key)")
	ledgerShowCmd.Flags().String("region", "", "print only one region: gates, hoplog, or decision")
	ledgerCmd.AddCommand(ledgerInitCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)
}
