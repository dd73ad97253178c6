package collab

import (
	"encoding/json"
	"strings"

	"github.com/lucasnoah/gatewright/internal/evidence"
)

// GoTestParser reads `go test -json` event streams and falls back to plain
// `go test` output when the stream does not parse.
type GoTestParser struct{}

// testEvent is the subset of test2json events the parser cares about.
type testEvent struct {
	Action string `json:"Action"`
	Test   string `json:"Test"`
}

func (p *GoTestParser) Parse(stdout string, stderr string, exitCode int) evidence.Evidence {
	passed, failed, skipped, sawJSON := countJSONEvents(stdout)
	if !sawJSON {
		passed, failed, skipped = countPlainMarkers(stdout)
	}

	if passed == 0 && failed == 0 && skipped == 0 {
		// Nothing recognizable. Exit code is all we have.
		return (&GenericParser{}).Parse(stdout, stderr, exitCode)
	}

	metrics := []evidence.Metric{
		evidence.MetricInt(evidence.MetricTestsPassed, passed),
		evidence.MetricInt(evidence.MetricTestsFailed, failed),
	}
	if failed > 0 || exitCode != 0 {
		ev := evidence.Fail("tests-failed", metrics...)
		ev.FreeText = firstFailureName(stdout, sawJSON)
		return ev
	}
	return evidence.Pass(metrics...)
}

func countJSONEvents(stdout string) (passed, failed, skipped int64, sawJSON bool) {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var ev testEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		sawJSON = true
		if ev.Test == "" {
			continue // package-level event
		}
		switch ev.Action {
		case "pass":
			passed++
		case "fail":
			failed++
		case "skip":
			skipped++
		}
	}
	return passed, failed, skipped, sawJSON
}

func countPlainMarkers(stdout string) (passed, failed, skipped int64) {
	for _, line := range strings.Split(stdout, "\n") {
		switch {
		case strings.HasPrefix(strings.TrimSpace(line), "--- PASS:"):
			passed++
		case strings.HasPrefix(strings.TrimSpace(line), "--- FAIL:"):
			failed++
		case strings.HasPrefix(strings.TrimSpace(line), "--- SKIP:"):
			skipped++
		}
	}
	return passed, failed, skipped
}

// firstFailureName pulls the first failing test's name for the summary.
func firstFailureName(stdout string, sawJSON bool) string {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if sawJSON && strings.HasPrefix(line, "{") {
			var ev testEvent
			if json.Unmarshal([]byte(line), &ev) == nil && ev.Action == "fail" && ev.Test != "" {
				return "first failure: " + ev.Test
			}
			continue
		}
		if name, ok := strings.CutPrefix(line, "--- FAIL: "); ok {
			if i := strings.IndexByte(name, ' '); i > 0 {
				name = name[:i]
			}
			return "first failure: " + name
		}
	}
	return ""
}
