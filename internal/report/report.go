// Package report builds the machine-readable receipt for one revision: every
// registered gate with its recorded outcome, the overall verdict, and the
// failures that block readiness.
package report

import (
	"time"

	"github.com/lucasnoah/gatewright/internal/evidence"
	"github.com/lucasnoah/gatewright/internal/fsutil"
	"github.com/lucasnoah/gatewright/internal/registry"
	"github.com/lucasnoah/gatewright/internal/routing"
	"github.com/lucasnoah/gatewright/internal/status"
)

// SchemaVersion identifies the report layout. Bump it when a field changes
// meaning, never for additions.
const SchemaVersion = 1

// Overall verdict values.
const (
	OverallReady       = "ready"
	OverallNeedsRework = "needs-rework"
	OverallInProgress  = "in-progress"
)

// Metric is one named measurement carried over from gate evidence.
// Order follows the evidence line.
type Metric struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Gate is one registered gate's standing at report time. State "absent"
// means no record exists for the revision.
type Gate struct {
	Name      string     `json:"name"`
	Required  bool       `json:"required"`
	State     string     `json:"state"`
	Reason    string     `json:"reason,omitempty"`
	Metrics   []Metric   `json:"metrics,omitempty"`
	Summary   string     `json:"summary,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Report is the receipt for one revision.
type Report struct {
	SchemaVersion    int       `json:"schema_version"`
	Revision         string    `json:"revision"`
	GeneratedAt      time.Time `json:"generated_at"`
	Overall          string    `json:"overall"`
	Gates            []Gate    `json:"gates"`
	BlockingFailures []string  `json:"blocking_failures"`
}

// Build assembles a report from the stored statuses and the routing
// decision for the same revision. Gates appear in registry order; statuses
// for other revisions or unregistered gates are ignored.
func Build(revision string, statuses []status.StoredStatus, reg *registry.Registry, d routing.Decision, now time.Time) Report {
	byGate := make(map[string]status.StoredStatus, len(statuses))
	for _, s := range statuses {
		if s.Revision == revision && reg.Has(s.Gate) {
			byGate[s.Gate] = s
		}
	}

	r := Report{
		SchemaVersion:    SchemaVersion,
		Revision:         revision,
		GeneratedAt:      now.UTC(),
		Overall:          overall(d),
		BlockingFailures: []string{},
	}

	for _, name := range reg.Names() {
		def, _ := reg.Definition(name)
		g := Gate{Name: name, Required: def.Required, State: "absent"}
		if s, ok := byGate[name]; ok {
			g.State = string(s.State)
			g.Reason = s.Evidence.ReasonCode
			g.Metrics = metricsFrom(s.Evidence)
			g.Summary = s.Evidence.Summary()
			if !s.UpdatedAt.IsZero() {
				at := s.UpdatedAt.UTC()
				g.UpdatedAt = &at
			}
			if def.Required && s.State == status.StateFail {
				r.BlockingFailures = append(r.BlockingFailures, name)
			}
		}
		r.Gates = append(r.Gates, g)
	}
	return r
}

func overall(d routing.Decision) string {
	if d.Action == routing.ActionFinalize {
		switch d.Verdict {
		case routing.VerdictReady:
			return OverallReady
		case routing.VerdictNeedsRework:
			return OverallNeedsRework
		}
	}
	return OverallInProgress
}

func metricsFrom(e evidence.Evidence) []Metric {
	if len(e.Metrics) == 0 {
		return nil
	}
	out := make([]Metric, 0, len(e.Metrics))
	for _, m := range e.Metrics {
		out = append(out, Metric{Label: m.Label, Value: m.Value})
	}
	return out
}

// WriteFile writes the report as indented JSON with a trailing newline.
func WriteFile(path string, r Report) error {
	return fsutil.WriteJSONFile(path, r)
}
