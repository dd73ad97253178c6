package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/gatewright/internal/evidence"
	"github.com/lucasnoah/gatewright/internal/registry"
	"github.com/lucasnoah/gatewright/internal/routing"
	"github.com/lucasnoah/gatewright/internal/status"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.Definition{
		{Name: "format", Required: true},
		{Name: "build", Required: true, DependsOn: []string{"format"}},
		{Name: "bench", Required: false, SkipReasons: []string{"bounded-by-policy"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func stored(gate, revision string, state status.State, ev evidence.Evidence, at time.Time) status.StoredStatus {
	return status.StoredStatus{
		Status: status.Status{Gate: gate, Revision: revision, State: state, Evidence: ev, UpdatedAt: at},
		ID:     gate + "@" + revision,
	}
}

func TestBuildCoversWholeRegistry(t *testing.T) {
	reg := testRegistry(t)
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	statuses := []status.StoredStatus{
		stored("format", "rev-1", status.StatePass, evidence.Pass(evidence.MetricInt("warnings_count", 0)), now.Add(-time.Hour)),
		stored("build", "rev-1", status.StateFail, evidence.Fail("tests-failed", evidence.MetricInt("tests_failed", 3)), now.Add(-30*time.Minute)),
		// Different revision and unregistered gate must be ignored.
		stored("build", "rev-0", status.StatePass, evidence.Pass(), now),
		stored("mystery", "rev-1", status.StatePass, evidence.Pass(), now),
	}
	d := routing.Decision{Action: routing.ActionFinalize, Verdict: routing.VerdictNeedsRework, Gate: "build"}

	r := Build("rev-1", statuses, reg, d, now)

	if r.SchemaVersion != 1 {
		t.Errorf("SchemaVersion = %d, want 1", r.SchemaVersion)
	}
	if r.Revision != "rev-1" {
		t.Errorf("Revision = %q", r.Revision)
	}
	if r.Overall != OverallNeedsRework {
		t.Errorf("Overall = %q, want needs-rework", r.Overall)
	}
	if len(r.Gates) != 3 {
		t.Fatalf("len(Gates) = %d, want 3 (whole registry)", len(r.Gates))
	}

	format := r.Gates[0]
	if format.Name != "format" || format.State != "pass" || !format.Required {
		t.Errorf("format entry = %+v", format)
	}
	if len(format.Metrics) != 1 || format.Metrics[0].Label != "warnings_count" || format.Metrics[0].Value != "0" {
		t.Errorf("format.Metrics = %v", format.Metrics)
	}
	if format.UpdatedAt == nil {
		t.Error("format.UpdatedAt should be set")
	}

	build := r.Gates[1]
	if build.State != "fail" || build.Reason != "tests-failed" {
		t.Errorf("build entry = %+v", build)
	}

	bench := r.Gates[2]
	if bench.State != "absent" {
		t.Errorf("bench.State = %q, want absent", bench.State)
	}
	if bench.UpdatedAt != nil {
		t.Error("absent gate should have no UpdatedAt")
	}

	if len(r.BlockingFailures) != 1 || r.BlockingFailures[0] != "build" {
		t.Errorf("BlockingFailures = %v, want [build]", r.BlockingFailures)
	}
}

func TestBuildOverall(t *testing.T) {
	reg := testRegistry(t)
	now := time.Now()

	cases := map[string]struct {
		d    routing.Decision
		want string
	}{
		"finalize ready":  {routing.Decision{Action: routing.ActionFinalize, Verdict: routing.VerdictReady}, OverallReady},
		"finalize rework": {routing.Decision{Action: routing.ActionFinalize, Verdict: routing.VerdictNeedsRework}, OverallNeedsRework},
		"invoke":          {routing.Decision{Action: routing.ActionInvoke, Gate: "format"}, OverallInProgress},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := Build("rev-1", nil, reg, tc.d, now)
			if r.Overall != tc.want {
				t.Errorf("Overall = %q, want %q", r.Overall, tc.want)
			}
		})
	}
}

func TestBuildNoFailures(t *testing.T) {
	reg := testRegistry(t)
	now := time.Now()
	statuses := []status.StoredStatus{
		stored("format", "rev-1", status.StatePass, evidence.Pass(), now),
		stored("build", "rev-1", status.StatePass, evidence.Pass(), now),
		stored("bench", "rev-1", status.StateSkip, evidence.Skip("bounded-by-policy"), now),
	}
	d := routing.Decision{Action: routing.ActionFinalize, Verdict: routing.VerdictReady}

	r := Build("rev-1", statuses, reg, d, now)
	if r.Overall != OverallReady {
		t.Errorf("Overall = %q, want ready", r.Overall)
	}
	if len(r.BlockingFailures) != 0 {
		t.Errorf("BlockingFailures = %v, want empty", r.BlockingFailures)
	}
	if r.Gates[2].Reason != "bounded-by-policy" {
		t.Errorf("bench.Reason = %q", r.Gates[2].Reason)
	}
}

func TestOptionalFailureDoesNotBlock(t *testing.T) {
	reg := testRegistry(t)
	now := time.Now()
	statuses := []status.StoredStatus{
		stored("format", "rev-1", status.StatePass, evidence.Pass(), now),
		stored("build", "rev-1", status.StatePass, evidence.Pass(), now),
		stored("bench", "rev-1", status.StateFail, evidence.Fail("regression"), now),
	}
	d := routing.Decision{Action: routing.ActionFinalize, Verdict: routing.VerdictReady}

	r := Build("rev-1", statuses, reg, d, now)
	if len(r.BlockingFailures) != 0 {
		t.Errorf("BlockingFailures = %v, optional failures must not block", r.BlockingFailures)
	}
	if r.Gates[2].State != "fail" {
		t.Errorf("bench.State = %q, optional failure must still be visible", r.Gates[2].State)
	}
}

func TestWriteFile(t *testing.T) {
	reg := testRegistry(t)
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	r := Build("rev-1", nil, reg, routing.Decision{Action: routing.ActionInvoke, Gate: "format"}, now)

	path := filepath.Join(t.TempDir(), "receipt.json")
	if err := WriteFile(path, r); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("expected trailing newline")
	}
	if !strings.Contains(string(data), "\"schema_version\": 1") {
		t.Errorf("expected schema_version field, got:\n%s", data)
	}
	if !strings.Contains(string(data), "\"blocking_failures\": []") {
		t.Errorf("expected empty blocking_failures array, got:\n%s", data)
	}

	var decoded Report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report does not round-trip: %v", err)
	}
	if decoded.Overall != OverallInProgress {
		t.Errorf("decoded Overall = %q", decoded.Overall)
	}
	if len(decoded.Gates) != 3 {
		t.Errorf("decoded %d gates, want 3", len(decoded.Gates))
	}
}
