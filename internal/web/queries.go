package web

// revisionRows returns the most recently active revisions with their latest
// decision, newest first.
func (s *Server) revisionRows(limit int) ([]RevisionRow, error) {
	recent, err := s.deps.Audit.RecentRevisions(limit)
	if err != nil {
		return nil, err
	}

	out := make([]RevisionRow, 0, len(recent))
	for _, r := range recent {
		row := RevisionRow{Revision: r.Revision, Updated: r.LastSeen}
		d, err := s.deps.Audit.GetLatestDecision(r.Revision)
		if err != nil {
			return nil, err
		}
		switch {
		case d == nil:
			row.Next = "no decision yet"
		case d.Action == "finalize":
			row.Verdict = d.Verdict
			row.Next = "none, finalized"
		default:
			row.Next = "invoke " + d.Gate
		}
		row.VerdictLabel = verdictLabel(row.Verdict)
		out = append(out, row)
	}
	return out, nil
}
