package config

import (
	"fmt"
	"time"

	"github.com/lucasnoah/gatewright/internal/collab"
	"github.com/lucasnoah/gatewright/internal/registry"
)

// Store and ledger backend names.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendGitHub   = "github"
)

// Config is the top-level engine configuration parsed from YAML.
type Config struct {
	Flow               string            `yaml:"flow"`
	StalenessThreshold string            `yaml:"staleness_threshold"`
	StatusStore        StatusStoreConfig `yaml:"status_store"`
	Ledger             LedgerConfig      `yaml:"ledger"`
	AuditDB            string            `yaml:"audit_db"`
	Gates              []GateConfig      `yaml:"gates"`
}

// StatusStoreConfig selects where gate statuses live.
type StatusStoreConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	DSN     string `yaml:"dsn"`
}

// LedgerConfig selects where the shared ledger document lives.
type LedgerConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Owner   string `yaml:"owner"`
	Repo    string `yaml:"repo"`
	Issue   int    `yaml:"issue"`
}

// Key returns the ledger document key for the configured backend.
func (l LedgerConfig) Key() string {
	if l.Backend == BackendGitHub {
		return fmt.Sprintf("%s/%s#%d", l.Owner, l.Repo, l.Issue)
	}
	return l.Path
}

// GateConfig declares one gate: its place in the taxonomy plus how the
// worker runs it.
type GateConfig struct {
	Name        string   `yaml:"name"`
	Required    bool     `yaml:"required"`
	DependsOn   []string `yaml:"depends_on"`
	Run         string   `yaml:"run"`
	Parser      string   `yaml:"parser"`
	Timeout     string   `yaml:"timeout"`
	SkipReasons []string `yaml:"skip_reasons"`
}

// Definitions maps the configured gates onto registry definitions,
// preserving declaration order.
func (c *Config) Definitions() []registry.Definition {
	defs := make([]registry.Definition, 0, len(c.Gates))
	for _, g := range c.Gates {
		defs = append(defs, registry.Definition{
			Name:        g.Name,
			Required:    g.Required,
			DependsOn:   g.DependsOn,
			SkipReasons: g.SkipReasons,
		})
	}
	return defs
}

// Specs builds the collaborator run specs keyed by gate name.
func (c *Config) Specs() (map[string]collab.Spec, error) {
	specs := make(map[string]collab.Spec, len(c.Gates))
	for _, g := range c.Gates {
		spec := collab.Spec{Gate: g.Name, Command: g.Run, Parser: g.Parser}
		if g.Timeout != "" {
			d, err := time.ParseDuration(g.Timeout)
			if err != nil {
				return nil, fmt.Errorf("gate %s: parsing timeout: %w", g.Name, err)
			}
			spec.Timeout = d
		}
		specs[g.Name] = spec
	}
	return specs, nil
}

// Staleness parses the pending-staleness threshold.
func (c *Config) Staleness() (time.Duration, error) {
	if c.StalenessThreshold == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.StalenessThreshold)
	if err != nil {
		return 0, fmt.Errorf("parsing staleness_threshold: %w", err)
	}
	return d, nil
}
