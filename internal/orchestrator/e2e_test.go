package orchestrator

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucasnoah/gatewright/internal/collab"
	"github.com/lucasnoah/gatewright/internal/db"
	"github.com/lucasnoah/gatewright/internal/evidence"
	"github.com/lucasnoah/gatewright/internal/ledger"
	"github.com/lucasnoah/gatewright/internal/registry"
	"github.com/lucasnoah/gatewright/internal/status"
	"github.com/lucasnoah/gatewright/internal/worker"
)

const (
	e2eKey  = "LEDGER.md"
	e2eFlow = "change-validation"
)

// scriptedRunner returns canned evidence per gate instead of executing
// collaborator commands. Unknown gates pass.
type scriptedRunner struct {
	evidence map[string]evidence.Evidence
	calls    []string
}

func (r *scriptedRunner) Run(ctx context.Context, dir string, spec collab.Spec) (collab.Outcome, error) {
	r.calls = append(r.calls, spec.Gate)
	ev, ok := r.evidence[spec.Gate]
	if !ok {
		ev = evidence.Pass()
	}
	return collab.Outcome{Gate: spec.Gate, Evidence: ev, ExitCode: 0, DurationMS: 3}, nil
}

type e2eEnv struct {
	orch    *Orchestrator
	reg     *registry.Registry
	sync    *status.Synchronizer
	manager *ledger.Manager
	runner  *scriptedRunner
	audit   *db.DB
	workDir string
}

func setupE2E(t *testing.T) *e2eEnv {
	t.Helper()
	t.Setenv(worker.FlowEnvVar, e2eFlow)

	reg, err := registry.New([]registry.Definition{
		{Name: "format", Required: true},
		{Name: "build", Required: true, DependsOn: []string{"format"}},
		{Name: "tests", Required: true, DependsOn: []string{"build"}},
		{Name: "bench", SkipReasons: []string{"bounded-by-policy"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	sync := status.NewSynchronizer(status.NewMemStore())
	manager := ledger.NewManager(ledger.NewMemDocStore())
	if err := manager.Init(context.Background(), e2eKey, "Gate Ledger"); err != nil {
		t.Fatalf("init ledger: %v", err)
	}

	audit, err := db.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open audit db: %v", err)
	}
	if err := audit.Migrate(); err != nil {
		t.Fatalf("migrate audit db: %v", err)
	}
	t.Cleanup(func() { audit.Close() })

	env := &e2eEnv{
		reg:     reg,
		sync:    sync,
		manager: manager,
		runner:  &scriptedRunner{evidence: map[string]evidence.Evidence{}},
		audit:   audit,
		workDir: t.TempDir(),
	}
	env.orch = env.newLoop(env.runner)
	return env
}

// newLoop assembles a worker plus drive loop over the environment's shared
// stores. Tests call it a second time to simulate a fresh process resuming.
func (env *e2eEnv) newLoop(runner *scriptedRunner) *Orchestrator {
	specs := map[string]collab.Spec{
		"format": {Gate: "format", Command: "fmtcheck .", Parser: "generic"},
		"build":  {Gate: "build", Command: "compile ./...", Parser: "generic"},
		"tests":  {Gate: "tests", Command: "testsuite ./...", Parser: "gotest"},
		"bench":  {Gate: "bench", Command: "bench ./...", Parser: "generic"},
	}
	w := worker.New(worker.Deps{
		Flow:      e2eFlow,
		Dir:       env.workDir,
		Registry:  env.reg,
		Statuses:  env.sync,
		Ledger:    env.manager,
		LedgerKey: e2eKey,
		Runner:    runner,
		Specs:     specs,
		Audit:     env.audit,
	})
	return New(Deps{
		Worker:   w,
		Statuses: env.sync,
		Registry: env.reg,
		Audit:    env.audit,
	})
}

func (env *e2eEnv) region(t *testing.T, region string) string {
	t.Helper()
	doc, err := env.manager.Read(context.Background(), e2eKey)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	content, err := env.manager.Region(doc, region)
	if err != nil {
		t.Fatalf("region %s: %v", region, err)
	}
	return content
}

// TestE2E_DriveRevisionToReady exercises the full stack over real stores:
// drive an empty revision through format → build → tests, then verify the
// status records, all three ledger regions, and the audit trail.
func TestE2E_DriveRevisionToReady(t *testing.T) {
	env := setupE2E(t)
	ctx := context.Background()
	rev := "4f9a1c2e8b3d"

	// ================================
	// Step 1: Drive to a terminal verdict
	// ================================
	t.Log("Step 1: Drive revision")
	out, err := env.orch.Run(ctx, rev)
	if err != nil {
		t.Fatalf("drive: %v", err)
	}
	if out.Action != ActionFinalized {
		t.Fatalf("expected 'finalized', got %q", out.Action)
	}
	if out.Verdict != "ready" {
		t.Errorf("expected verdict 'ready', got %q", out.Verdict)
	}
	if out.Hops != 4 {
		t.Errorf("expected 4 hops, got %d", out.Hops)
	}

	wantOrder := []string{"format", "build", "tests"}
	if len(env.runner.calls) != len(wantOrder) {
		t.Fatalf("expected runner calls %v, got %v", wantOrder, env.runner.calls)
	}
	for i, gate := range wantOrder {
		if env.runner.calls[i] != gate {
			t.Errorf("runner call %d: expected %q, got %q", i, gate, env.runner.calls[i])
		}
	}

	// ================================
	// Step 2: Verify status records
	// ================================
	t.Log("Step 2: Verify status records")
	statuses, err := env.sync.List(ctx, rev)
	if err != nil {
		t.Fatalf("list statuses: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 status records, got %d", len(statuses))
	}
	for _, st := range statuses {
		if st.State != status.StatePass {
			t.Errorf("%s: expected state 'pass', got %q", st.Gate, st.State)
		}
		if st.Revision != rev {
			t.Errorf("%s: expected revision %q, got %q", st.Gate, rev, st.Revision)
		}
	}

	// ================================
	// Step 3: Verify ledger regions
	// ================================
	t.Log("Step 3: Verify ledger regions")
	gates := env.region(t, ledger.RegionGates)
	for _, row := range []string{
		"| format | yes | pass |",
		"| build | yes | pass |",
		"| tests | yes | pass |",
		"| bench | no | - | - | - |",
	} {
		if !strings.Contains(gates, row) {
			t.Errorf("gates table missing %q:\n%s", row, gates)
		}
	}

	hops := env.region(t, ledger.RegionHopLog)
	lines := strings.Split(strings.TrimSpace(hops), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 hop-log lines, got %d:\n%s", len(lines), hops)
	}
	for i, gate := range wantOrder {
		if !strings.Contains(lines[i], "gate="+gate) {
			t.Errorf("hop line %d: expected gate=%s, got %q", i, gate, lines[i])
		}
		if !strings.Contains(lines[i], "state=pass") {
			t.Errorf("hop line %d: expected state=pass, got %q", i, lines[i])
		}
		if !strings.Contains(lines[i], "flow="+e2eFlow) {
			t.Errorf("hop line %d: expected flow=%s, got %q", i, e2eFlow, lines[i])
		}
	}

	decision := env.region(t, ledger.RegionDecision)
	if !strings.Contains(decision, "**Status:** ready") {
		t.Errorf("decision region should record ready:\n%s", decision)
	}
	if !strings.Contains(decision, "revision "+rev) {
		t.Errorf("decision region should name the revision:\n%s", decision)
	}

	// ================================
	// Step 4: Verify audit trail
	// ================================
	t.Log("Step 4: Verify audit trail")
	invocations, err := env.audit.GetInvocations(rev)
	if err != nil {
		t.Fatalf("get invocations: %v", err)
	}
	if len(invocations) != 3 {
		t.Fatalf("expected 3 invocations, got %d", len(invocations))
	}
	for _, inv := range invocations {
		if inv.Action != db.ActionRan {
			t.Errorf("%s: expected action 'ran', got %q", inv.Gate, inv.Action)
		}
		if inv.Flow != e2eFlow {
			t.Errorf("%s: expected flow %q, got %q", inv.Gate, e2eFlow, inv.Flow)
		}
	}

	events, err := env.audit.GetStatusEvents(rev)
	if err != nil {
		t.Fatalf("get status events: %v", err)
	}
	// Each gate writes pending then its terminal state.
	if len(events) != 6 {
		t.Fatalf("expected 6 status events, got %d", len(events))
	}
	if events[0].Gate != "format" || events[0].State != "pending" {
		t.Errorf("first event: expected format/pending, got %s/%s", events[0].Gate, events[0].State)
	}
	if events[5].Gate != "tests" || events[5].State != "pass" {
		t.Errorf("last event: expected tests/pass, got %s/%s", events[5].Gate, events[5].State)
	}

	latest, err := env.audit.GetLatestDecision(rev)
	if err != nil {
		t.Fatalf("get latest decision: %v", err)
	}
	if latest == nil {
		t.Fatal("expected a decision record")
	}
	if latest.Action != "finalize" || latest.Verdict != "ready" {
		t.Errorf("latest decision: expected finalize/ready, got %s/%s", latest.Action, latest.Verdict)
	}
}

// TestE2E_RequiredFailureThenFixedRevision drives a revision whose build
// fails, then drives the fixed revision and checks the two revisions stay
// isolated.
func TestE2E_RequiredFailureThenFixedRevision(t *testing.T) {
	env := setupE2E(t)
	ctx := context.Background()
	broken := "0a1b2c3d4e5f"
	fixed := "5f4e3d2c1b0a"

	env.runner.evidence["build"] = evidence.Fail("compile-errors", evidence.MetricInt("errors", 2))

	// ================================
	// Step 1: Drive the broken revision
	// ================================
	t.Log("Step 1: Drive broken revision")
	out, err := env.orch.Run(ctx, broken)
	if err != nil {
		t.Fatalf("drive broken: %v", err)
	}
	if out.Action != ActionFinalized {
		t.Fatalf("expected 'finalized', got %q", out.Action)
	}
	if out.Verdict != "needs-rework" {
		t.Errorf("expected verdict 'needs-rework', got %q", out.Verdict)
	}
	for _, gate := range env.runner.calls {
		if gate == "tests" {
			t.Errorf("tests ran after the build failure: %v", env.runner.calls)
		}
	}

	decision := env.region(t, ledger.RegionDecision)
	if !strings.Contains(decision, "**Status:** needs-rework") {
		t.Errorf("decision region should record needs-rework:\n%s", decision)
	}
	if !strings.Contains(decision, "build") {
		t.Errorf("decision region should name the failing gate:\n%s", decision)
	}

	// ================================
	// Step 2: Fix and drive the new revision
	// ================================
	t.Log("Step 2: Drive fixed revision")
	delete(env.runner.evidence, "build")
	env.runner.calls = nil

	out, err = env.orch.Run(ctx, fixed)
	if err != nil {
		t.Fatalf("drive fixed: %v", err)
	}
	if out.Action != ActionFinalized || out.Verdict != "ready" {
		t.Fatalf("expected finalized/ready, got %s/%s", out.Action, out.Verdict)
	}
	if len(env.runner.calls) != 3 {
		t.Errorf("fixed revision should run all gates fresh, got %v", env.runner.calls)
	}

	// ================================
	// Step 3: Old revision keeps its failure
	// ================================
	t.Log("Step 3: Verify revision isolation")
	st, err := env.sync.Find(ctx, "build", broken)
	if err != nil {
		t.Fatalf("find build@broken: %v", err)
	}
	if st.State != status.StateFail {
		t.Errorf("broken revision build: expected 'fail', got %q", st.State)
	}
	if st.Evidence.ReasonCode != "compile-errors" {
		t.Errorf("expected reason 'compile-errors', got %q", st.Evidence.ReasonCode)
	}

	latest, err := env.audit.GetLatestDecision(broken)
	if err != nil {
		t.Fatalf("get latest decision: %v", err)
	}
	if latest == nil || latest.Verdict != "needs-rework" {
		t.Errorf("broken revision audit should still say needs-rework, got %+v", latest)
	}
}

// TestE2E_ResumeAfterRestart finishes a half-driven revision from a fresh
// worker and loop over the same stores. Gates already terminal must not
// run again.
func TestE2E_ResumeAfterRestart(t *testing.T) {
	env := setupE2E(t)
	ctx := context.Background()
	rev := "77e6d5c4b3a2"

	// ================================
	// Step 1: Two hops, then stop
	// ================================
	t.Log("Step 1: Partial drive")
	for i := 0; i < 2; i++ {
		if _, err := env.orch.Advance(ctx, rev); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}
	if len(env.runner.calls) != 2 {
		t.Fatalf("expected 2 runner calls, got %v", env.runner.calls)
	}

	// ================================
	// Step 2: Fresh process picks up the revision
	// ================================
	t.Log("Step 2: Resume from a fresh loop")
	resumed := &scriptedRunner{evidence: map[string]evidence.Evidence{}}
	out, err := env.newLoop(resumed).Run(ctx, rev)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if out.Action != ActionFinalized || out.Verdict != "ready" {
		t.Fatalf("expected finalized/ready, got %s/%s", out.Action, out.Verdict)
	}
	if len(resumed.calls) != 1 || resumed.calls[0] != "tests" {
		t.Errorf("resume should only run the owed gate, got %v", resumed.calls)
	}

	// The audit trail spans both processes.
	invocations, err := env.audit.GetInvocations(rev)
	if err != nil {
		t.Fatalf("get invocations: %v", err)
	}
	if len(invocations) != 3 {
		t.Errorf("expected 3 invocations across both processes, got %d", len(invocations))
	}
}

// TestE2E_OptionalSkipDoesNotBlock records a policy skip for the optional
// bench gate, then drives to ready. The skip shows in the ledger but never
// withholds the verdict.
func TestE2E_OptionalSkipDoesNotBlock(t *testing.T) {
	env := setupE2E(t)
	ctx := context.Background()
	rev := "9c8b7a6f5e4d"

	env.runner.evidence["bench"] = evidence.Skip("bounded-by-policy")

	// Optional gates are never owed, so invoke bench directly.
	if _, err := env.orch.deps.Worker.Run(ctx, "bench", rev); err != nil {
		t.Fatalf("run bench: %v", err)
	}

	out, err := env.orch.Run(ctx, rev)
	if err != nil {
		t.Fatalf("drive: %v", err)
	}
	if out.Action != ActionFinalized || out.Verdict != "ready" {
		t.Fatalf("expected finalized/ready, got %s/%s", out.Action, out.Verdict)
	}

	gates := env.region(t, ledger.RegionGates)
	if !strings.Contains(gates, "| bench | no | skip |") {
		t.Errorf("gates table should show the bench skip:\n%s", gates)
	}
	st, err := env.sync.Find(ctx, "bench", rev)
	if err != nil {
		t.Fatalf("find bench: %v", err)
	}
	if st.Evidence.ReasonCode != "bounded-by-policy" {
		t.Errorf("expected reason 'bounded-by-policy', got %q", st.Evidence.ReasonCode)
	}
}
