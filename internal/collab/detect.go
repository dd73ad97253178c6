package collab

import "regexp"

// Parser detection from the command text, used when a gate config names no
// parser. First match wins; the order puts the most specific signals first.
var detectRules = []struct {
	pattern *regexp.Regexp
	parser  string
}{
	{regexp.MustCompile(`\bgo\s+test\b`), ParserGoTest},
	{regexp.MustCompile(`\bgotestsum\b`), ParserGoTest},
	{regexp.MustCompile(`\bgofmt\s+-l\b|\bgoimports\s+-l\b`), ParserLintCount},
	{regexp.MustCompile(`\bgolangci-lint\b|\bstaticcheck\b|\bgo\s+vet\b`), ParserLintCount},
	{regexp.MustCompile(`\bgatewright-evidence\b|--emit-evidence\b`), ParserEvidenceLine},
}

// DetectParser picks a parser name for a collaborator command. Unknown
// commands get the generic exit-code parser.
func DetectParser(command string) string {
	for _, rule := range detectRules {
		if rule.pattern.MatchString(command) {
			return rule.parser
		}
	}
	return ParserGeneric
}
