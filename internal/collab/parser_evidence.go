package collab

import (
	"strings"

	"github.com/lucasnoah/gatewright/internal/evidence"
)

// EvidenceLineParser trusts the collaborator to speak the evidence format
// itself: the last non-empty stdout line must be an encoded evidence line.
// A line that does not decode becomes a fail with the evidence-corrupt
// reason; the engine never guesses an outcome from garbage.
type EvidenceLineParser struct{}

func (p *EvidenceLineParser) Parse(stdout string, stderr string, exitCode int) evidence.Evidence {
	line := lastNonEmptyLine(stdout)
	if line == "" {
		ev := evidence.Fail(evidence.ReasonEvidenceCorrupt)
		ev.FreeText = "collaborator printed no evidence line"
		return ev
	}
	ev, err := evidence.Decode(line)
	if err != nil {
		out := evidence.Fail(evidence.ReasonEvidenceCorrupt)
		out.FreeText = evidence.Truncate(err.Error())
		return out
	}
	return ev
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if t := strings.TrimSpace(lines[i]); t != "" {
			return lines[i]
		}
	}
	return ""
}
