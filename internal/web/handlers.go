package web

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/lucasnoah/gatewright/internal/analytics"
	"github.com/lucasnoah/gatewright/internal/db"
	"github.com/lucasnoah/gatewright/internal/evidence"
	"github.com/lucasnoah/gatewright/internal/status"
)

// ---- view models ----

type DashboardData struct {
	Verdicts     analytics.VerdictCounts
	Revisions    []RevisionRow
	Stats        []analytics.GateStats
	ReworkNamers []analytics.ReworkNamer
}

type RevisionRow struct {
	Revision     string
	Verdict      string // raw verdict for badge class, empty while in progress
	VerdictLabel string
	Next         string
	Updated      string // audit timestamp of the latest activity
}

type RevisionDetailData struct {
	Revision      string
	Verdict       string
	VerdictLabel  string
	Justification string
	Gates         []GateRow
	Hops          []db.Invocation
	Decisions     []db.DecisionEvent
}

type GateRow struct {
	Gate     string
	Required bool
	State    string // pass, fail, skip, pending, or absent
	Evidence string
	Updated  string
}

type LedgerData struct {
	Key  string
	Text string
}

// ---- helpers ----

func relTime(ts string) string {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}
	var t time.Time
	for _, f := range formats {
		if parsed, err := time.Parse(f, ts); err == nil {
			t = parsed
			break
		}
	}
	if t.IsZero() {
		return ts
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func verdictLabel(verdict string) string {
	switch verdict {
	case "ready":
		return "ready"
	case "needs-rework":
		return "needs rework"
	}
	return "in progress"
}

func (s *Server) execTemplate(w http.ResponseWriter, tmpl *template.Template, data interface{}) {
	if err := tmpl.ExecuteTemplate(w, "base", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ---- Dashboard ----

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	var data DashboardData
	if s.deps.Audit != nil {
		revisions, err := s.revisionRows(20)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data.Revisions = revisions

		if data.Verdicts, err = analytics.QueryVerdicts(s.deps.Audit, ""); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if data.Stats, err = analytics.QueryGateStats(s.deps.Audit, ""); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if data.ReworkNamers, err = analytics.QueryReworkNamers(s.deps.Audit, ""); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	s.execTemplate(w, s.dashboardTmpl, data)
}

// ---- Revision detail ----

func (s *Server) handleRevisionDetail(w http.ResponseWriter, r *http.Request, rev string) {
	statuses, err := s.deps.Statuses.List(r.Context(), rev)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := RevisionDetailData{Revision: rev}
	if s.deps.Audit != nil {
		invocations, err := s.deps.Audit.GetInvocations(rev)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		// GetInvocations is newest first; the trail reads top down.
		for i := len(invocations) - 1; i >= 0; i-- {
			data.Hops = append(data.Hops, invocations[i])
		}
		if data.Decisions, err = s.deps.Audit.GetDecisions(rev); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if len(statuses) == 0 && len(data.Hops) == 0 && len(data.Decisions) == 0 {
		http.NotFound(w, r)
		return
	}

	if n := len(data.Decisions); n > 0 {
		last := data.Decisions[n-1]
		if last.Action == "finalize" {
			data.Verdict = last.Verdict
		}
		data.Justification = last.Justification
	}
	data.VerdictLabel = verdictLabel(data.Verdict)
	data.Gates = s.gateRows(statuses)

	s.execTemplate(w, s.revisionTmpl, data)
}

// gateRows renders every registered gate in registry order; gates without a
// record for this revision show as absent.
func (s *Server) gateRows(statuses []status.StoredStatus) []GateRow {
	byGate := make(map[string]status.StoredStatus, len(statuses))
	for _, st := range statuses {
		byGate[st.Gate] = st
	}
	var rows []GateRow
	for _, name := range s.deps.Registry.Names() {
		def, _ := s.deps.Registry.Definition(name)
		row := GateRow{Gate: name, Required: def.Required, State: "absent"}
		if st, ok := byGate[name]; ok {
			row.State = string(st.State)
			if !st.Evidence.IsZero() {
				row.Evidence = evidence.Encode(st.Evidence)
			}
			row.Updated = relTime(st.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
		}
		rows = append(rows, row)
	}
	return rows
}

// ---- Ledger ----

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		http.Error(w, "no ledger configured", http.StatusNotFound)
		return
	}
	doc, err := s.deps.Ledger.Read(r.Context(), s.deps.LedgerKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.execTemplate(w, s.ledgerTmpl, LedgerData{Key: doc.Key, Text: doc.Text})
}
