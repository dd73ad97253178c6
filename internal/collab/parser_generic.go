package collab

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/gatewright/internal/evidence"
)

// GenericParser is the fallback parser: exit code decides the outcome and
// failures keep a tail of the output as the free-text summary.
type GenericParser struct{}

func (p *GenericParser) Parse(stdout string, stderr string, exitCode int) evidence.Evidence {
	if exitCode == 0 {
		return evidence.Pass()
	}

	combined := stdout
	if stderr != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += stderr
	}
	ev := evidence.Fail("")
	// Keep the tail. Error summaries and tracebacks are usually at the end.
	ev.FreeText = strings.TrimSpace(tail(combined, evidence.MaxFreeText))
	if ev.FreeText == "" {
		ev.FreeText = fmt.Sprintf("exit code %d with no output", exitCode)
	}
	return ev
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
