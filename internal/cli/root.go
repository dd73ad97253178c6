// Package cli is the cobra command surface over the engine. Commands wire
// stores and workers from the YAML config; all gate semantics live in the
// internal packages, never here.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "gatewright",
	Short: "gatewright — a gate orchestration engine",
	Long: `gatewright evaluates a unit of work against a configured set of gates:
each gate's collaborator command produces machine-readable evidence, the
engine records idempotent per-revision statuses, keeps a shared ledger
document current, and computes the next step until the revision is ready
or needs rework.

Configuration comes from gatewright.yaml (or ~/.gatewright/config.yaml).
Workers may run on separate hosts against shared stores; the drive loop
is a single-host convenience, not a coordinator.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "f", "", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "log engine internals to stderr")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(driveCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(registryCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(serveCmd)
}
