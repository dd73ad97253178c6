package collab

import "github.com/lucasnoah/gatewright/internal/evidence"

// Registered parser names. Gate configs reference these; an unknown name
// falls back to generic.
const (
	ParserGeneric      = "generic"
	ParserGoTest       = "gotest"
	ParserLintCount    = "lintcount"
	ParserEvidenceLine = "evidence-line"
)

// Parser converts raw command output into evidence. Parsers never error:
// output they cannot interpret degrades to exit-code semantics so a gate
// always ends up with a usable outcome.
type Parser interface {
	Parse(stdout string, stderr string, exitCode int) evidence.Evidence
}
