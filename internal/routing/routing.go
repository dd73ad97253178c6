// Package routing computes the next action for a revision from its current
// gate statuses and the registry. Decide is a pure function: identical
// inputs always produce the identical decision, which is what makes
// re-invocation after a crash safe and test assertions reproducible.
package routing

import (
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/gatewright/internal/registry"
	"github.com/lucasnoah/gatewright/internal/status"
)

// Action is what the caller should do next.
type Action string

const (
	ActionInvoke   Action = "invoke"
	ActionFinalize Action = "finalize"
)

// Verdict is the terminal outcome of an evaluation.
type Verdict string

const (
	VerdictReady       Verdict = "ready"
	VerdictNeedsRework Verdict = "needs-rework"
)

// Decision is the computed next step. For invoke, Gate names the worker to
// run. For finalize(needs-rework), Gate names the first failing required
// gate; the justification carries the full story either way.
type Decision struct {
	Action        Action
	Gate          string
	Verdict       Verdict
	Justification string
}

// Options tune how pending records age. Now and StaleAfter are inputs, not
// ambient state, so Decide stays deterministic. A zero StaleAfter disables
// staleness handling.
type Options struct {
	Now        time.Time
	StaleAfter time.Duration
}

// gateView is one gate's effective standing after staleness and skip
// validity are applied.
type gateView struct {
	present     bool
	state       status.State // as stored; meaningful when present
	stale       bool         // pending past the staleness threshold
	invalidSkip bool         // skip that does not satisfy the gate
	summary     string
	skipReason  string
}

// satisfied reports that the gate needs no further work.
func (v gateView) satisfied() bool {
	if !v.present || v.stale || v.invalidSkip {
		return false
	}
	return v.state == status.StatePass || v.state == status.StateSkip
}

// terminal reports that the gate counts as settled for dependents. A failed
// gate is settled; an invalid skip or stale pending is not.
func (v gateView) terminal() bool {
	if !v.present || v.stale || v.invalidSkip {
		return false
	}
	return v.state.Terminal()
}

// failed reports a recorded fail outcome.
func (v gateView) failed() bool {
	return v.present && !v.stale && v.state == status.StateFail
}

// Decide maps the current status set to the next action:
//
//  1. a failed required gate finalizes the revision as needs-rework;
//  2. otherwise the lowest-ordered required gate that is owed and unblocked
//     is invoked;
//  3. otherwise a blocked required gate pulls in its lowest-ordered
//     not-yet-terminal dependency;
//  4. otherwise every required gate is satisfied and the revision is ready.
//
// Optional gates never block finalization; their failures are surfaced in
// the justification. A status for a gate the registry does not know is a
// configuration failure: routing halts rather than guesses.
func Decide(revision string, statuses []status.StoredStatus, reg *registry.Registry, opts Options) (Decision, error) {
	if reg == nil {
		return Decision{}, &registry.ConfigError{Reason: "routing called without a registry"}
	}

	byGate := make(map[string]status.StoredStatus, len(statuses))
	for _, st := range statuses {
		if st.Revision != revision {
			continue
		}
		if !reg.Has(st.Gate) {
			return Decision{}, &registry.ConfigError{
				Reason: fmt.Sprintf("status record references unregistered gate %q", st.Gate),
			}
		}
		if prev, ok := byGate[st.Gate]; !ok || st.Version > prev.Version {
			byGate[st.Gate] = st
		}
	}

	views := make(map[string]gateView, reg.Len())
	for _, name := range reg.Names() {
		views[name] = buildView(name, byGate, reg, opts)
	}

	// Rule 1: any failed required gate rejects the revision.
	for _, name := range reg.RequiredGates() {
		if v := views[name]; v.failed() {
			just := fmt.Sprintf("required gate %q failed: %s", name, v.summary)
			return Decision{
				Action:        ActionFinalize,
				Verdict:       VerdictNeedsRework,
				Gate:          name,
				Justification: withNotes(just, collectNotes(reg, views, name)),
			}, nil
		}
	}

	// Rule 2: invoke the lowest-ordered owed, unblocked required gate.
	// Remember the first blocked one for rule 3.
	firstBlocked := ""
	for _, name := range reg.RequiredGates() {
		v := views[name]
		if v.satisfied() {
			continue
		}
		if depsTerminal(name, reg, views) {
			return Decision{
				Action:        ActionInvoke,
				Gate:          name,
				Justification: withNotes(owedReason(name, v), collectNotes(reg, views, name)),
			}, nil
		}
		if firstBlocked == "" {
			firstBlocked = name
		}
	}

	// Rule 3: unblock the first blocked required gate through its
	// dependency chain.
	if firstBlocked != "" {
		dep := unblockingDependency(firstBlocked, reg, views)
		if dep == "" {
			return Decision{}, &registry.ConfigError{
				Reason: fmt.Sprintf("gate %q is blocked but no invocable dependency exists", firstBlocked),
			}
		}
		just := fmt.Sprintf("gate %q is blocked; invoking dependency %q first", firstBlocked, dep)
		return Decision{
			Action:        ActionInvoke,
			Gate:          dep,
			Justification: withNotes(just, collectNotes(reg, views, dep)),
		}, nil
	}

	// Rule 4: everything required is satisfied.
	passed, skipped := 0, []string{}
	for _, name := range reg.RequiredGates() {
		if views[name].state == status.StateSkip {
			skipped = append(skipped, fmt.Sprintf("%s [%s]", name, views[name].skipReason))
		} else {
			passed++
		}
	}
	just := fmt.Sprintf("all %d required gates passed", passed)
	if len(skipped) > 0 {
		just = fmt.Sprintf("%d required gates passed, %d validly skipped (%s)",
			passed, len(skipped), strings.Join(skipped, ", "))
	}
	return Decision{
		Action:        ActionFinalize,
		Verdict:       VerdictReady,
		Justification: withNotes(just, collectNotes(reg, views, "")),
	}, nil
}

func buildView(name string, byGate map[string]status.StoredStatus, reg *registry.Registry, opts Options) gateView {
	st, ok := byGate[name]
	if !ok {
		return gateView{}
	}
	v := gateView{
		present: true,
		state:   st.State,
		summary: st.Evidence.Summary(),
	}
	if st.State == status.StatePending && opts.StaleAfter > 0 && !opts.Now.IsZero() &&
		opts.Now.Sub(st.UpdatedAt) > opts.StaleAfter {
		v.stale = true
	}
	if st.State == status.StateSkip {
		v.skipReason = st.Evidence.ReasonCode
		if !reg.IsSkippable(name) || !reg.AllowsSkipReason(name, st.Evidence.ReasonCode) {
			v.invalidSkip = true
		}
	}
	return v
}

// depsTerminal reports whether every dependency of name is settled.
func depsTerminal(name string, reg *registry.Registry, views map[string]gateView) bool {
	for _, dep := range reg.DependsOn(name) {
		if !views[dep].terminal() {
			return false
		}
	}
	return true
}

// unblockingDependency walks the transitive dependencies of name and
// returns the lowest-ordered not-yet-terminal one that can actually run.
func unblockingDependency(name string, reg *registry.Registry, views map[string]gateView) string {
	seen := map[string]bool{}
	var closure []string
	var collect func(gate string)
	collect = func(gate string) {
		for _, dep := range reg.DependsOn(gate) {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			closure = append(closure, dep)
			collect(dep)
		}
	}
	collect(name)

	best := ""
	for _, dep := range closure {
		if views[dep].terminal() {
			continue
		}
		if !depsTerminal(dep, reg, views) {
			continue
		}
		if best == "" || reg.Order(dep) < reg.Order(best) {
			best = dep
		}
	}
	return best
}

// owedReason explains why an owed gate is being invoked.
func owedReason(name string, v gateView) string {
	switch {
	case !v.present:
		return fmt.Sprintf("gate %q has not been attempted and its dependencies are terminal", name)
	case v.stale:
		return fmt.Sprintf("gate %q pending record went stale; treating it as not attempted", name)
	case v.invalidSkip:
		return fmt.Sprintf("gate %q was skipped without an allowed reason (%q); it is still owed", name, v.skipReason)
	default:
		return fmt.Sprintf("gate %q is pending and unblocked", name)
	}
}

// collectNotes gathers the non-blocking observations every decision should
// surface: optional failures and invalid skips. The gate already named by
// the main justification is excluded.
func collectNotes(reg *registry.Registry, views map[string]gateView, exclude string) []string {
	var notes []string
	for _, name := range reg.Names() {
		if name == exclude {
			continue
		}
		v := views[name]
		def, _ := reg.Definition(name)
		if !def.Required && v.failed() {
			notes = append(notes, fmt.Sprintf("optional gate %q failed (non-blocking): %s", name, v.summary))
		}
		if v.invalidSkip {
			notes = append(notes, fmt.Sprintf("gate %q has an invalid skip (reason %q)", name, v.skipReason))
		}
	}
	return notes
}

func withNotes(just string, notes []string) string {
	if len(notes) == 0 {
		return just
	}
	return just + "; " + strings.Join(notes, "; ")
}
