package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/gatewright/internal/collab"
	"github.com/lucasnoah/gatewright/internal/config"
	"github.com/lucasnoah/gatewright/internal/db"
	"github.com/lucasnoah/gatewright/internal/fsutil"
	"github.com/lucasnoah/gatewright/internal/github"
	"github.com/lucasnoah/gatewright/internal/ledger"
	"github.com/lucasnoah/gatewright/internal/orchestrator"
	"github.com/lucasnoah/gatewright/internal/postgres"
	"github.com/lucasnoah/gatewright/internal/registry"
	"github.com/lucasnoah/gatewright/internal/revision"
	"github.com/lucasnoah/gatewright/internal/status"
	"github.com/lucasnoah/gatewright/internal/worker"
)

// engine bundles the wired components a command needs. Always release it
// with cleanup.
type engine struct {
	cfg        *config.Config
	log        *zap.Logger
	reg        *registry.Registry
	statuses   *status.Synchronizer
	ledger     *ledger.Manager
	ledgerKey  string
	audit      *db.DB
	worker     *worker.Worker
	staleAfter time.Duration
	cleanup    func()
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.Load(configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "config: %s\n", e)
		}
		return nil, fmt.Errorf("config has %d validation error(s)", len(errs))
	}
	return cfg, nil
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// buildEngine wires stores, ledger, audit log, and a worker from the
// config. The returned cleanup closes everything buildEngine opened.
func buildEngine(ctx context.Context) (*engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := newLogger()

	reg, err := registry.New(cfg.Definitions())
	if err != nil {
		return nil, err
	}
	staleAfter, err := cfg.Staleness()
	if err != nil {
		return nil, err
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*engine, error) {
		cleanup()
		return nil, err
	}

	store, closeStore, err := newStatusStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	docStore, labeler, err := newDocStore(ctx, cfg, log)
	if err != nil {
		return fail(err)
	}

	audit, err := openAudit(cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { audit.Close() })

	specs, err := cfg.Specs()
	if err != nil {
		return fail(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return fail(fmt.Errorf("working directory: %w", err))
	}

	manager := ledger.NewManager(docStore)
	key := cfg.Ledger.Key()
	sync := status.NewSynchronizer(store)

	w := worker.New(worker.Deps{
		Flow:       cfg.Flow,
		Dir:        wd,
		Registry:   reg,
		Statuses:   sync,
		Ledger:     manager,
		LedgerKey:  key,
		Runner:     collab.NewRunner(&collab.ExecRunner{}),
		Specs:      specs,
		StaleAfter: staleAfter,
		Audit:      audit,
		Labeler:    labeler,
		Log:        log,
	})

	return &engine{
		cfg:        cfg,
		log:        log,
		reg:        reg,
		statuses:   sync,
		ledger:     manager,
		ledgerKey:  key,
		audit:      audit,
		worker:     w,
		staleAfter: staleAfter,
		cleanup:    cleanup,
	}, nil
}

// newLoop builds a drive loop over the engine. maxHops zero means the
// default bound.
func (e *engine) newLoop(maxHops int) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Deps{
		Worker:     e.worker,
		Statuses:   e.statuses,
		Registry:   e.reg,
		StaleAfter: e.staleAfter,
		MaxHops:    maxHops,
		Audit:      e.audit,
		Log:        e.log,
	})
}

func newStatusStore(ctx context.Context, cfg *config.Config) (status.Store, func(), error) {
	switch cfg.StatusStore.Backend {
	case config.BackendMemory:
		return status.NewMemStore(), nil, nil
	case config.BackendFile:
		store, err := status.NewFileStore(cfg.StatusStore.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.StatusStore.DSN)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.New(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("status store backend %q is not supported", cfg.StatusStore.Backend)
}

// newDocStore returns the ledger document store and, for the github
// backend, the labeler that flips verdict labels on the issue.
func newDocStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (ledger.DocStore, worker.Labeler, error) {
	switch cfg.Ledger.Backend {
	case config.BackendMemory:
		return ledger.NewMemDocStore(), nil, nil
	case config.BackendFile:
		return ledger.NewFileDocStore(), nil, nil
	case config.BackendGitHub:
		client, err := github.NewClient(ctx, github.ResolveToken())
		if err != nil {
			return nil, nil, err
		}
		store := github.NewIssueDocStore(client, log)
		return store, store, nil
	}
	return nil, nil, fmt.Errorf("ledger backend %q is not supported", cfg.Ledger.Backend)
}

func openAudit(cfg *config.Config) (*db.DB, error) {
	path := cfg.AuditDB
	if path == "" {
		p, err := db.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		path = p
	} else {
		p, err := fsutil.ExpandHome(path)
		if err != nil {
			return nil, err
		}
		path = p
	}
	audit, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := audit.Migrate(); err != nil {
		audit.Close()
		return nil, err
	}
	return audit, nil
}

// resolveRevision returns the --revision flag value, or derives one from
// the git tree in the current directory when the flag is empty.
func resolveRevision(cmd *cobra.Command) (string, error) {
	rev, _ := cmd.Flags().GetString("revision")
	if rev != "" {
		if err := revision.Validate(rev); err != nil {
			return "", err
		}
		return rev, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("working directory: %w", err)
	}
	return revision.Derive(&revision.ExecGit{}, wd)
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
