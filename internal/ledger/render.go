package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/gatewright/internal/evidence"
	"github.com/lucasnoah/gatewright/internal/registry"
	"github.com/lucasnoah/gatewright/internal/routing"
	"github.com/lucasnoah/gatewright/internal/status"
)

// Row is one gates-table line. Absent gates still get a row: the table is
// keyed by the registry, not by what has run so far.
type Row struct {
	Gate      string
	Required  bool
	Present   bool
	State     status.State
	Evidence  evidence.Evidence
	UpdatedAt time.Time
}

// RowsFromStatuses builds the full table in registry order from whatever
// statuses exist for the revision.
func RowsFromStatuses(reg *registry.Registry, statuses []status.StoredStatus) []Row {
	byGate := make(map[string]status.StoredStatus, len(statuses))
	for _, st := range statuses {
		byGate[st.Gate] = st
	}
	rows := make([]Row, 0, reg.Len())
	for _, name := range reg.Names() {
		def, _ := reg.Definition(name)
		row := Row{Gate: name, Required: def.Required}
		if st, ok := byGate[name]; ok {
			row.Present = true
			row.State = st.State
			row.Evidence = st.Evidence
			row.UpdatedAt = st.UpdatedAt
		}
		rows = append(rows, row)
	}
	return rows
}

func renderGatesTable(rows []Row) string {
	var b strings.Builder
	b.WriteString("| Gate | Required | State | Evidence | Updated (UTC) |\n")
	b.WriteString("|------|----------|-------|----------|---------------|\n")
	for _, r := range rows {
		required := "no"
		if r.Required {
			required = "yes"
		}
		state, ev, updated := "-", "-", "-"
		if r.Present {
			state = string(r.State)
			if !r.Evidence.IsZero() {
				ev = "`" + cell(evidence.Encode(r.Evidence)) + "`"
			}
			updated = r.UpdatedAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n", cell(r.Gate), required, state, ev, updated)
	}
	return strings.TrimRight(b.String(), "\n")
}

// cell escapes the table delimiter inside a cell.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// FormatHopEntry renders one append-only hop-log line.
func FormatHopEntry(at time.Time, hopID, flow, gate, revision string, state status.State, note string) string {
	line := fmt.Sprintf("- %s hop=%s flow=%s gate=%s revision=%s state=%s",
		at.UTC().Format(time.RFC3339), hopID, flow, gate, revision, state)
	if note != "" {
		line += " " + strings.ReplaceAll(note, "\n", " ")
	}
	return line
}

// FormatDecision renders the replaceable decision block for the current
// routing decision.
func FormatDecision(d routing.Decision, revision string, at time.Time) string {
	var b strings.Builder
	switch d.Action {
	case routing.ActionFinalize:
		fmt.Fprintf(&b, "**Status:** %s\n", d.Verdict)
		b.WriteString("**Next:** none, evaluation finalized\n")
	default:
		b.WriteString("**Status:** in-progress\n")
		fmt.Fprintf(&b, "**Next:** invoke `%s`\n", d.Gate)
	}
	b.WriteString("\n")
	b.WriteString(d.Justification)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "_revision %s, updated %s_", revision, at.UTC().Format(time.RFC3339))
	return b.String()
}
