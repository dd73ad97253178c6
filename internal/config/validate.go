package config

import (
	"fmt"
	"time"

	"github.com/lucasnoah/gatewright/internal/collab"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedParsers is the set of valid parser names for gates. Empty means
// detect from the command.
var recognizedParsers = map[string]bool{
	collab.ParserGeneric:      true,
	collab.ParserGoTest:       true,
	collab.ParserLintCount:    true,
	collab.ParserEvidenceLine: true,
}

var statusBackends = map[string]bool{
	BackendMemory:   true,
	BackendFile:     true,
	BackendPostgres: true,
}

var ledgerBackends = map[string]bool{
	BackendMemory: true,
	BackendFile:   true,
	BackendGitHub: true,
}

// Validate checks a Config for structural and semantic errors. It returns a
// slice of all validation errors found (empty if valid). Graph problems the
// registry would reject (cycles, bad names) are reported there; Validate
// covers what the registry cannot see.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Flow == "" {
		errs = append(errs, ValidationError{Field: "flow", Message: "is required"})
	}
	if cfg.StalenessThreshold != "" {
		if _, err := time.ParseDuration(cfg.StalenessThreshold); err != nil {
			errs = append(errs, ValidationError{
				Field:   "staleness_threshold",
				Message: fmt.Sprintf("not a duration: %q", cfg.StalenessThreshold),
			})
		}
	}

	errs = append(errs, validateStores(cfg)...)

	if len(cfg.Gates) == 0 {
		errs = append(errs, ValidationError{Field: "gates", Message: "at least one gate is required"})
	}

	names := make(map[string]bool)
	for i, g := range cfg.Gates {
		prefix := fmt.Sprintf("gates[%d]", i)
		if g.Name == "" {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: "is required"})
			continue
		}
		if names[g.Name] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".name",
				Message: fmt.Sprintf("duplicate gate %q", g.Name),
			})
		}
		names[g.Name] = true
	}

	for i, g := range cfg.Gates {
		prefix := fmt.Sprintf("gates[%d]", i)
		if g.Run == "" {
			errs = append(errs, ValidationError{Field: prefix + ".run", Message: "is required"})
		}
		if g.Parser != "" && !recognizedParsers[g.Parser] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".parser",
				Message: fmt.Sprintf("unrecognized parser %q", g.Parser),
			})
		}
		if g.Timeout != "" {
			if _, err := time.ParseDuration(g.Timeout); err != nil {
				errs = append(errs, ValidationError{
					Field:   prefix + ".timeout",
					Message: fmt.Sprintf("not a duration: %q", g.Timeout),
				})
			}
		}
		for _, dep := range g.DependsOn {
			if !names[dep] {
				errs = append(errs, ValidationError{
					Field:   prefix + ".depends_on",
					Message: fmt.Sprintf("references undefined gate %q", dep),
				})
			}
		}
	}

	return errs
}

func validateStores(cfg *Config) []ValidationError {
	var errs []ValidationError

	if !statusBackends[cfg.StatusStore.Backend] {
		errs = append(errs, ValidationError{
			Field:   "status_store.backend",
			Message: fmt.Sprintf("unknown backend %q (memory, file, postgres)", cfg.StatusStore.Backend),
		})
	}
	if cfg.StatusStore.Backend == BackendPostgres && cfg.StatusStore.DSN == "" {
		errs = append(errs, ValidationError{Field: "status_store.dsn", Message: "is required for the postgres backend"})
	}
	if cfg.StatusStore.Backend == BackendFile && cfg.StatusStore.Dir == "" {
		errs = append(errs, ValidationError{Field: "status_store.dir", Message: "is required for the file backend"})
	}

	if !ledgerBackends[cfg.Ledger.Backend] {
		errs = append(errs, ValidationError{
			Field:   "ledger.backend",
			Message: fmt.Sprintf("unknown backend %q (memory, file, github)", cfg.Ledger.Backend),
		})
	}
	if cfg.Ledger.Backend == BackendFile && cfg.Ledger.Path == "" {
		errs = append(errs, ValidationError{Field: "ledger.path", Message: "is required for the file backend"})
	}
	if cfg.Ledger.Backend == BackendGitHub {
		if cfg.Ledger.Owner == "" {
			errs = append(errs, ValidationError{Field: "ledger.owner", Message: "is required for the github backend"})
		}
		if cfg.Ledger.Repo == "" {
			errs = append(errs, ValidationError{Field: "ledger.repo", Message: "is required for the github backend"})
		}
		if cfg.Ledger.Issue <= 0 {
			errs = append(errs, ValidationError{Field: "ledger.issue", Message: "must be a positive issue number"})
		}
	}

	return errs
}
