package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the local audit database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the audit database schema",
	Args:  cobra.NoArgs,
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
		fmt.Fprintf(cmd.OutOrStdout(), "audit database ready at %s\n", audit.Path())
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the audit tables (destructive!)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		confirmed, _ := cmd.Flags().GetBool("yes")
		if !confirmed {
			return fmt.Errorf("db reset deletes all audit history; rerun with --yes to confirm")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		audit, err := openAudit(cfg)
		if err != nil {
			return err
		}
		defer audit.Close()
		if err := audit.Reset(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "audit database reset at %s\n", audit.Path())
		return nil
	},
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "confirm the destructive reset")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
