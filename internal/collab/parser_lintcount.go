package collab

import (
	"strings"

	"github.com/lucasnoah/gatewright/internal/evidence"
)

// LintCountParser handles line-oriented linters: every non-empty stdout
// line is one finding. Tools like `gofmt -l` exit 0 even with findings, so
// the count decides the outcome, not the exit code alone.
type LintCountParser struct{}

func (p *LintCountParser) Parse(stdout string, stderr string, exitCode int) evidence.Evidence {
	var findings []string
	for _, line := range strings.Split(stdout, "\n") {
		if strings.TrimSpace(line) != "" {
			findings = append(findings, strings.TrimSpace(line))
		}
	}

	count := int64(len(findings))
	if exitCode == 0 && count == 0 {
		return evidence.Pass(evidence.MetricInt(evidence.MetricErrorsCount, 0))
	}

	ev := evidence.Fail("lint-findings", evidence.MetricInt(evidence.MetricErrorsCount, count))
	switch {
	case count > 0:
		ev.FreeText = evidence.Truncate("first finding: " + findings[0])
	case stderr != "":
		ev.FreeText = evidence.Truncate(strings.TrimSpace(stderr))
	}
	return ev
}
