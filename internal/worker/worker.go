// Package worker is the thin driver for one gate invocation: flow-lock
// check, collaborator run, evidence mapping, status upsert, ledger update,
// and the routing query that names the next step. A worker only ever
// writes the status of its own gate.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucasnoah/gatewright/internal/collab"
	"github.com/lucasnoah/gatewright/internal/db"
	"github.com/lucasnoah/gatewright/internal/evidence"
	"github.com/lucasnoah/gatewright/internal/ledger"
	"github.com/lucasnoah/gatewright/internal/registry"
	"github.com/lucasnoah/gatewright/internal/routing"
	"github.com/lucasnoah/gatewright/internal/status"
)

// FlowEnvVar names the environment variable carrying the execution-context
// identity the flow lock checks against the configured flow.
const FlowEnvVar = "GATEWRIGHT_FLOW"

// GateRunner runs one gate's collaborator command.
type GateRunner interface {
	Run(ctx context.Context, dir string, spec collab.Spec) (collab.Outcome, error)
}

// Labeler applies the terminal verdict label to the unit of work. Labels
// are observational; failures are logged, never fatal.
type Labeler interface {
	ApplyVerdictLabel(ctx context.Context, key string, verdict routing.Verdict) error
}

// Deps wires one worker. Audit and Labeler may be nil.
type Deps struct {
	Flow       string
	Dir        string
	Registry   *registry.Registry
	Statuses   *status.Synchronizer
	Ledger     *ledger.Manager
	LedgerKey  string
	Runner     GateRunner
	Specs      map[string]collab.Spec
	StaleAfter time.Duration
	Audit      *db.DB
	Labeler    Labeler
	Log        *zap.Logger
}

// Worker executes single gate invocations.
type Worker struct {
	deps Deps
	log  *zap.Logger

	now      func() time.Time
	newHopID func() string
	env      func(string) string
}

// New builds a worker from its dependencies.
func New(deps Deps) *Worker {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		deps:     deps,
		log:      log,
		now:      time.Now,
		newHopID: uuid.NewString,
		env:      os.Getenv,
	}
}

// Result describes one worker invocation and the routing outcome computed
// after it.
type Result struct {
	HopID         string       `json:"hop_id"`
	Gate          string       `json:"gate"`
	Revision      string       `json:"revision"`
	Action        string       `json:"action"` // ran, skipped_out_of_scope, blocked, already_terminal
	State         status.State `json:"state,omitempty"`
	Evidence      string       `json:"evidence,omitempty"`
	NextAction    string       `json:"next_action,omitempty"` // invoke or finalize
	NextGate      string       `json:"next_gate,omitempty"`
	Verdict       string       `json:"verdict,omitempty"`
	Justification string       `json:"justification,omitempty"`
	Message       string       `json:"message,omitempty"`
}

// Run performs one invocation of the named gate against the revision.
func (w *Worker) Run(ctx context.Context, gate, revision string) (*Result, error) {
	if !w.deps.Registry.Has(gate) {
		return nil, &registry.ConfigError{Reason: fmt.Sprintf("gate %q is not registered", gate)}
	}
	if revision == "" {
		return nil, errors.New("worker: revision is empty")
	}

	hopID := w.newHopID()
	res := &Result{HopID: hopID, Gate: gate, Revision: revision}
	log := w.log.With(
		zap.String("hop_id", hopID),
		zap.String("gate", gate),
		zap.String("revision", revision),
	)

	// Flow lock. A worker spawned under a different flow must not validate
	// this revision; it records that it bowed out and stops.
	if envFlow := w.env(FlowEnvVar); envFlow != "" && envFlow != w.deps.Flow {
		return w.skipOutOfScope(ctx, res, envFlow, log)
	}

	cur, err := w.deps.Statuses.Find(ctx, gate, revision)
	if err != nil && !errors.Is(err, status.ErrNotFound) {
		return nil, fmt.Errorf("read status for %s@%s: %w", gate, revision, err)
	}
	if err == nil && cur.State.Terminal() {
		res.Action = db.ActionAlreadyTerminal
		res.State = cur.State
		res.Evidence = evidence.Encode(cur.Evidence)
		log.Info("gate already terminal, not re-running")
		w.auditInvocation(res, 0, 0)
		return w.finishWithDecision(ctx, res)
	}

	if blockedOn := w.unfinishedDependency(ctx, gate, revision); blockedOn != "" {
		res.Action = db.ActionBlocked
		res.Message = fmt.Sprintf("dependency %q has no terminal status", blockedOn)
		log.Info("gate blocked", zap.String("dependency", blockedOn))
		w.auditInvocation(res, 0, 0)
		return res, nil
	}

	spec, ok := w.deps.Specs[gate]
	if !ok {
		return nil, &registry.ConfigError{Reason: fmt.Sprintf("gate %q has no collaborator command", gate)}
	}

	start := w.now()
	if _, err := w.upsert(ctx, gate, revision, status.StatePending, evidence.Evidence{}); err != nil {
		return nil, fmt.Errorf("record pending for %s@%s: %w", gate, revision, err)
	}
	w.auditStatusEvent(hopID, gate, revision, status.StatePending, "")

	ev, exitCode, durationMS := w.runCollaborator(ctx, spec, log)

	// A terminal record always follows the pending one, even when the
	// collaborator could not run at all.
	st := stateFor(ev.Kind)
	if _, err := w.upsert(ctx, gate, revision, st, ev); err != nil {
		return nil, fmt.Errorf("record %s for %s@%s: %w", st, gate, revision, err)
	}

	res.Action = db.ActionRan
	res.State = st
	res.Evidence = evidence.Encode(ev)
	log.Info("gate finished",
		zap.String("state", string(st)),
		zap.Int("exit_code", exitCode),
		zap.Int64("duration_ms", durationMS),
		zap.Duration("elapsed", w.now().Sub(start)),
	)
	w.auditInvocation(res, exitCode, durationMS)
	w.auditStatusEvent(hopID, gate, revision, st, res.Evidence)

	return w.finishWithDecision(ctx, res)
}

// skipOutOfScope records the flow-lock skip. An existing terminal status is
// left untouched so a stray worker can never undo real work; the hop log
// still shows that it came by.
func (w *Worker) skipOutOfScope(ctx context.Context, res *Result, envFlow string, log *zap.Logger) (*Result, error) {
	res.Action = db.ActionSkippedOutOfScope
	res.Message = fmt.Sprintf("execution context flow %q does not match configured flow %q", envFlow, w.deps.Flow)
	log.Info("flow lock mismatch, skipping", zap.String("env_flow", envFlow), zap.String("flow", w.deps.Flow))

	ev := evidence.Skip(evidence.ReasonOutOfScope)
	ev.FreeText = evidence.Truncate(fmt.Sprintf("flow lock: running under %q, gate belongs to %q", envFlow, w.deps.Flow))

	cur, err := w.deps.Statuses.Find(ctx, res.Gate, res.Revision)
	switch {
	case err == nil && cur.State.Terminal():
		res.State = cur.State
		res.Message += "; existing terminal status left untouched"
	case err == nil || errors.Is(err, status.ErrNotFound):
		stored, uerr := w.upsert(ctx, res.Gate, res.Revision, status.StateSkip, ev)
		if uerr != nil {
			return nil, fmt.Errorf("record out-of-scope skip for %s@%s: %w", res.Gate, res.Revision, uerr)
		}
		res.State = stored.State
		res.Evidence = evidence.Encode(ev)
		w.auditStatusEvent(res.HopID, res.Gate, res.Revision, status.StateSkip, res.Evidence)
	default:
		return nil, fmt.Errorf("read status for %s@%s: %w", res.Gate, res.Revision, err)
	}

	if err := w.appendHop(ctx, res, "flow mismatch: "+envFlow); err != nil {
		return nil, err
	}
	w.auditInvocation(res, 0, 0)
	return res, nil
}

// runCollaborator executes the gate command and maps every failure mode to
// evidence. Plumbing failures become terminal fail evidence so the pending
// record never dangles.
func (w *Worker) runCollaborator(ctx context.Context, spec collab.Spec, log *zap.Logger) (evidence.Evidence, int, int64) {
	out, err := w.deps.Runner.Run(ctx, w.deps.Dir, spec)
	if err != nil {
		log.Warn("collaborator could not run", zap.Error(err))
		ev := evidence.Fail("")
		ev.FreeText = evidence.Truncate(err.Error())
		return ev, -1, 0
	}

	ev := out.Evidence
	if verr := ev.Validate(); verr != nil {
		ev = evidence.Fail(evidence.ReasonEvidenceCorrupt)
		ev.FreeText = evidence.Truncate(verr.Error())
	}
	return ev, out.ExitCode, out.DurationMS
}

// finishWithDecision updates the ledger regions and asks routing for the
// next step.
func (w *Worker) finishWithDecision(ctx context.Context, res *Result) (*Result, error) {
	statuses, err := w.deps.Statuses.List(ctx, res.Revision)
	if err != nil {
		return nil, fmt.Errorf("list statuses for %s: %w", res.Revision, err)
	}

	rows := ledger.RowsFromStatuses(w.deps.Registry, statuses)
	if err := w.deps.Ledger.RewriteGatesTable(ctx, w.deps.LedgerKey, rows); err != nil {
		return nil, fmt.Errorf("rewrite gates table: %w", err)
	}
	note := res.Message
	if res.Evidence != "" {
		if ev, derr := evidence.Decode(res.Evidence); derr == nil {
			note = ev.Summary()
		}
	}
	if err := w.appendHop(ctx, res, note); err != nil {
		return nil, err
	}

	now := w.now()
	d, err := routing.Decide(res.Revision, statuses, w.deps.Registry, routing.Options{
		Now:        now,
		StaleAfter: w.deps.StaleAfter,
	})
	if err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}
	res.NextAction = string(d.Action)
	res.NextGate = d.Gate
	res.Verdict = string(d.Verdict)
	res.Justification = d.Justification

	if err := w.deps.Ledger.ReplaceDecision(ctx, w.deps.LedgerKey, ledger.FormatDecision(d, res.Revision, now)); err != nil {
		return nil, fmt.Errorf("replace decision block: %w", err)
	}
	w.auditDecision(res.Revision, d)

	if d.Action == routing.ActionFinalize && w.deps.Labeler != nil {
		if err := w.deps.Labeler.ApplyVerdictLabel(ctx, w.deps.LedgerKey, d.Verdict); err != nil {
			w.log.Warn("verdict label not applied", zap.Error(err))
		}
	}
	return res, nil
}

func (w *Worker) appendHop(ctx context.Context, res *Result, note string) error {
	entry := ledger.FormatHopEntry(w.now(), res.HopID, w.deps.Flow, res.Gate, res.Revision, res.State, note)
	if err := w.deps.Ledger.AppendHopLog(ctx, w.deps.LedgerKey, entry); err != nil {
		return fmt.Errorf("append hop log: %w", err)
	}
	return nil
}

// upsert writes this worker's own gate status. The gate name is taken from
// the argument rather than any shared state so the own-gate rule is visible
// at every call site.
func (w *Worker) upsert(ctx context.Context, gate, revision string, st status.State, ev evidence.Evidence) (status.StoredStatus, error) {
	return w.deps.Statuses.Upsert(ctx, status.Status{
		Gate:      gate,
		Revision:  revision,
		State:     st,
		Evidence:  ev,
		UpdatedAt: w.now().UTC(),
	})
}

func (w *Worker) unfinishedDependency(ctx context.Context, gate, revision string) string {
	for _, dep := range w.deps.Registry.DependsOn(gate) {
		cur, err := w.deps.Statuses.Find(ctx, dep, revision)
		if err != nil || !cur.State.Terminal() {
			return dep
		}
	}
	return ""
}

func stateFor(k evidence.Kind) status.State {
	switch k {
	case evidence.KindPass:
		return status.StatePass
	case evidence.KindSkip:
		return status.StateSkip
	default:
		return status.StateFail
	}
}

func (w *Worker) auditInvocation(res *Result, exitCode int, durationMS int64) {
	if w.deps.Audit == nil {
		return
	}
	err := w.deps.Audit.LogInvocation(res.HopID, res.Gate, res.Revision, w.deps.Flow, res.Action, exitCode, durationMS)
	if err != nil {
		w.log.Warn("audit invocation not recorded", zap.Error(err))
	}
}

func (w *Worker) auditStatusEvent(hopID, gate, revision string, st status.State, line string) {
	if w.deps.Audit == nil {
		return
	}
	if err := w.deps.Audit.LogStatusEvent(hopID, gate, revision, string(st), line); err != nil {
		w.log.Warn("audit status event not recorded", zap.Error(err))
	}
}

func (w *Worker) auditDecision(revision string, d routing.Decision) {
	if w.deps.Audit == nil {
		return
	}
	if err := w.deps.Audit.LogDecision(revision, string(d.Action), d.Gate, string(d.Verdict), d.Justification); err != nil {
		w.log.Warn("audit decision not recorded", zap.Error(err))
	}
}
