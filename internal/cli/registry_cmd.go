package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/gatewright/internal/config"
	"github.com/lucasnoah/gatewright/internal/registry"
)

// gateView mirrors one registry definition for JSON output.
type gateView struct {
	Gate        string   `json:"gate"`
	Required    bool     `json:"required"`
	DependsOn   []string `json:"depends_on,omitempty"`
	SkipReasons []string `json:"skip_reasons,omitempty"`
}

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect the configured gate registry",
}

var registryValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config and gate graph without running anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg *config.Config
		var err error
		if configFile != "" {
			cfg, err = config.Load(configFile)
		} else {
			cfg, err = config.LoadDefault()
		}
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if errs := config.Validate(cfg); len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintf(w, "error: %s\n", e)
			}
			return fmt.Errorf("config has %d validation error(s)", len(errs))
		}
		reg, err := registry.New(cfg.Definitions())
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "config OK: %d gates, %d required\n", reg.Len(), len(reg.RequiredGates()))
		return nil
	},
}

var registryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List the registered gates in evaluation order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := registry.New(cfg.Definitions())
		if err != nil {
			return err
		}

		views := make([]gateView, 0, reg.Len())
		for _, name := range reg.Names() {
			def, _ := reg.Definition(name)
			views = append(views, gateView{
				Gate:        def.Name,
				Required:    def.Required,
				DependsOn:   def.DependsOn,
				SkipReasons: def.SkipReasons,
			})
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, views)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-14s %-8s %-24s %s\n", "GATE", "REQ", "DEPENDS_ON", "SKIP_REASONS")
		fmt.Fprintf(w, "%-14s %-8s %-24s %s\n",
			strings.Repeat("-", 14),
			strings.Repeat("-", 8),
			strings.Repeat("-", 24),
			strings.Repeat("-", 12))
		for _, v := range views {
			req := "no"
			if v.Required {
				req = "yes"
			}
			deps := strings.Join(v.DependsOn, ",")
			if deps == "" {
				deps = "-"
			}
			skips := strings.Join(v.SkipReasons, ",")
			if skips == "" {
				skips = "-"
			}
			fmt.Fprintf(w, "%-14s %-8s %-24s %s\n", v.Gate, req, deps, skips)
		}
		return nil
	},
}

func init() {
	registryShowCmd.Flags().String("format", "text", "Output format: text or json")
	registryCmd.AddCommand(registryValidateCmd)
	registryCmd.AddCommand(registryShowCmd)
}
