// Package orchestrator is the optional drive loop over the engine: ask
// routing what comes next, run that gate's worker once, repeat until a
// terminal verdict. The engine itself never loops; this convenience exists
// for single-host use where no external scheduler invokes workers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/gatewright/internal/db"
	"github.com/lucasnoah/gatewright/internal/registry"
	"github.com/lucasnoah/gatewright/internal/routing"
	"github.com/lucasnoah/gatewright/internal/status"
	"github.com/lucasnoah/gatewright/internal/worker"
)

// DefaultMaxHops bounds Run. The bound guards against configs whose gates
// can never all settle, not against engine bugs.
const DefaultMaxHops = 32

// Step and run actions.
const (
	ActionInvoked   = "invoked"
	ActionFinalized = "finalized"
	ActionHalted    = "halted"
)

// GateWorker runs one gate invocation. Satisfied by *worker.Worker.
type GateWorker interface {
	Run(ctx context.Context, gate, revision string) (*worker.Result, error)
}

// Deps wires the drive loop. Audit may be nil; MaxHops zero means
// DefaultMaxHops.
type Deps struct {
	Worker     GateWorker
	Statuses   *status.Synchronizer
	Registry   *registry.Registry
	StaleAfter time.Duration
	MaxHops    int
	Audit      *db.DB
	Log        *zap.Logger
}

// Orchestrator drives workers until the revision settles.
type Orchestrator struct {
	deps Deps
	log  *zap.Logger
	now  func() time.Time
}

// New builds the drive loop.
func New(deps Deps) *Orchestrator {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	if deps.MaxHops <= 0 {
		deps.MaxHops = DefaultMaxHops
	}
	return &Orchestrator{deps: deps, log: log, now: time.Now}
}

// StepResult describes one Advance.
type StepResult struct {
	Action        string         `json:"action"`
	Gate          string         `json:"gate,omitempty"`
	Verdict       string         `json:"verdict,omitempty"`
	Justification string         `json:"justification,omitempty"`
	Message       string         `json:"message,omitempty"`
	Worker        *worker.Result `json:"worker,omitempty"`
}

// RunResult describes a whole drive loop.
type RunResult struct {
	Action        string       `json:"action"`
	Revision      string       `json:"revision"`
	Hops          int          `json:"hops"`
	Verdict       string       `json:"verdict,omitempty"`
	Justification string       `json:"justification,omitempty"`
	Message       string       `json:"message,omitempty"`
	Steps         []StepResult `json:"steps"`
}

// Advance computes the routing decision for the revision and, when it
// names a gate, runs that gate's worker once. It never loops.
func (o *Orchestrator) Advance(ctx context.Context, revision string) (*StepResult, error) {
	statuses, err := o.deps.Statuses.List(ctx, revision)
	if err != nil {
		return nil, fmt.Errorf("list statuses for %s: %w", revision, err)
	}
	d, err := routing.Decide(revision, statuses, o.deps.Registry, routing.Options{
		Now:        o.now(),
		StaleAfter: o.deps.StaleAfter,
	})
	if err != nil {
		return nil, err
	}

	if d.Action == routing.ActionFinalize {
		o.log.Info("revision finalized",
			zap.String("revision", revision),
			zap.String("verdict", string(d.Verdict)),
		)
		// A finalize reached here ran no worker, so no worker audited it.
		if o.deps.Audit != nil {
			if err := o.deps.Audit.LogDecision(revision, string(d.Action), d.Gate, string(d.Verdict), d.Justification); err != nil {
				o.log.Warn("audit decision not recorded", zap.Error(err))
			}
		}
		return &StepResult{
			Action:        ActionFinalized,
			Gate:          d.Gate,
			Verdict:       string(d.Verdict),
			Justification: d.Justification,
		}, nil
	}

	res, err := o.deps.Worker.Run(ctx, d.Gate, revision)
	if err != nil {
		return nil, fmt.Errorf("run gate %q: %w", d.Gate, err)
	}
	o.log.Info("gate invoked",
		zap.String("revision", revision),
		zap.String("gate", d.Gate),
		zap.String("worker_action", res.Action),
		zap.String("state", string(res.State)),
	)
	return &StepResult{
		Action:        ActionInvoked,
		Gate:          d.Gate,
		Justification: d.Justification,
		Worker:        res,
	}, nil
}

// Run loops Advance until the revision finalizes, a halt condition is hit,
// or the hop bound is spent. Conflicting writers that need a human
// (ErrManualResolution) halt the loop rather than fail it: the state is
// consistent, it just cannot be advanced from here.
func (o *Orchestrator) Run(ctx context.Context, revision string) (*RunResult, error) {
	out := &RunResult{Revision: revision, Steps: []StepResult{}}

	for hop := 0; hop < o.deps.MaxHops; hop++ {
		step, err := o.Advance(ctx, revision)
		if err != nil {
			if errors.Is(err, status.ErrManualResolution) {
				out.Action = ActionHalted
				out.Hops = hop + 1
				out.Message = err.Error()
				return out, nil
			}
			return nil, err
		}
		out.Steps = append(out.Steps, *step)
		out.Hops = hop + 1

		switch {
		case step.Action == ActionFinalized:
			out.Action = ActionFinalized
			out.Verdict = step.Verdict
			out.Justification = step.Justification
			return out, nil
		case step.Worker != nil && step.Worker.Action == db.ActionSkippedOutOfScope:
			// This execution context cannot make progress on the flow;
			// further hops would just pile up skips.
			out.Action = ActionHalted
			out.Message = step.Worker.Message
			return out, nil
		}
	}

	out.Action = ActionHalted
	out.Message = fmt.Sprintf("hop bound %d reached before a terminal verdict", o.deps.MaxHops)
	o.log.Warn("drive loop halted at hop bound",
		zap.String("revision", revision),
		zap.Int("max_hops", o.deps.MaxHops),
	)
	return out, nil
}
