package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses an engine configuration from the given YAML file
// path. After parsing, it fills in defaults for fields left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./gatewright.yaml, ./.gatewright.yaml,
// ~/.gatewright/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"gatewright.yaml", ".gatewright.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".gatewright", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no config found (searched: %v)", candidates)
}

// applyDefaults fills in backend selections and the staleness threshold for
// configs that leave them unset. Gate-level parser and timeout stay empty:
// the runner detects a parser from the command and applies its own default
// timeout.
func applyDefaults(cfg *Config) {
	if cfg.StalenessThreshold == "" {
		cfg.StalenessThreshold = "30m"
	}
	if cfg.StatusStore.Backend == "" {
		cfg.StatusStore.Backend = BackendFile
	}
	if cfg.StatusStore.Backend == BackendFile && cfg.StatusStore.Dir == "" {
		cfg.StatusStore.Dir = "~/.gatewright/status"
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = BackendFile
	}
	if cfg.Ledger.Backend == BackendFile && cfg.Ledger.Path == "" {
		cfg.Ledger.Path = "LEDGER.md"
	}
}
