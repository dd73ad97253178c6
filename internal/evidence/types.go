// Package evidence defines the structured proof a worker attaches to a gate
// outcome and the single-line text codec used to embed it in status records
// and ledger documents.
package evidence

import (
	"fmt"
	"regexp"
	"strconv"
)

// Kind is the outcome class an Evidence value proves.
type Kind string

const (
	KindPass Kind = "pass"
	KindFail Kind = "fail"
	KindSkip Kind = "skip"
)

// Valid reports whether k is one of the three outcome kinds.
func (k Kind) Valid() bool {
	return k == KindPass || k == KindFail || k == KindSkip
}

// Reason codes shared across the engine. Gates may define their own; these
// are the ones the engine itself produces.
const (
	ReasonMissingTool     = "missing-tool"
	ReasonBoundedByPolicy = "bounded-by-policy"
	ReasonOutOfScope      = "out-of-scope"
	ReasonEvidenceCorrupt = "evidence-corrupt"
	ReasonTimeout         = "timeout"
)

// Conventional metric labels. The codec accepts any label; collaborator
// parsers stick to these so downstream comparisons line up.
const (
	MetricTestsPassed     = "tests_passed"
	MetricTestsFailed     = "tests_failed"
	MetricWarningsCount   = "warnings_count"
	MetricErrorsCount     = "errors_count"
	MetricCoveragePercent = "coverage_percent"
	MetricDurationMS      = "duration_ms"
)

// Bounds on what a single evidence line may carry. Ledger documents are
// human-read, so a line must stay scannable.
const (
	MaxFreeText = 500
	MaxEncoded  = 2048
)

// Metric is one ordered (label, value) pair. Values are kept as strings so
// unknown fields decoded from foreign text survive re-encoding; Validate
// requires values produced here to be literal numbers.
type Metric struct {
	Label string
	Value string
}

// MetricInt builds a metric with an integer value.
func MetricInt(label string, v int64) Metric {
	return Metric{Label: label, Value: strconv.FormatInt(v, 10)}
}

// MetricFloat builds a metric with a decimal value.
func MetricFloat(label string, v float64) Metric {
	return Metric{Label: label, Value: strconv.FormatFloat(v, 'f', -1, 64)}
}

// Evidence is the structured proof for one gate outcome.
type Evidence struct {
	Kind       Kind
	ReasonCode string   // optional, required for meaningful skips
	Metrics    []Metric // ordered; unknown decoded fields are preserved here
	FreeText   string   // bounded human summary
}

// Pass builds passing evidence with the given metrics.
func Pass(metrics ...Metric) Evidence {
	return Evidence{Kind: KindPass, Metrics: metrics}
}

// Fail builds failing evidence. reason may be empty when the failure is
// self-explanatory from the metrics or free text.
func Fail(reason string, metrics ...Metric) Evidence {
	return Evidence{Kind: KindFail, ReasonCode: reason, Metrics: metrics}
}

// Skip builds skip evidence carrying the mandatory reason code.
func Skip(reason string) Evidence {
	return Evidence{Kind: KindSkip, ReasonCode: reason}
}

// IsZero reports whether e carries nothing at all. Pending status records
// hold zero evidence until their worker produces proof.
func (e Evidence) IsZero() bool {
	return e.Kind == "" && e.ReasonCode == "" && len(e.Metrics) == 0 && e.FreeText == ""
}

// Summary returns a short human description: free text if present, then the
// reason code, then the bare kind.
func (e Evidence) Summary() string {
	if e.FreeText != "" {
		return e.FreeText
	}
	if e.ReasonCode != "" {
		return e.ReasonCode
	}
	return string(e.Kind)
}

var (
	labelRe  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	reasonRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
)

// Validate checks that e is well-formed for encoding by a producer: a known
// kind, token-shaped reason code, numeric metric values under non-reserved
// labels, and bounded text. Decoded foreign evidence may fail Validate and
// is still carried opaquely.
func (e Evidence) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("evidence kind %q is not pass, fail, or skip", e.Kind)
	}
	if e.ReasonCode != "" && !reasonRe.MatchString(e.ReasonCode) {
		return fmt.Errorf("reason code %q is not a lowercase token", e.ReasonCode)
	}
	for _, m := range e.Metrics {
		if !labelRe.MatchString(m.Label) {
			return fmt.Errorf("metric label %q is not a valid token", m.Label)
		}
		if reservedKey(m.Label) {
			return fmt.Errorf("metric label %q is reserved", m.Label)
		}
		if _, err := strconv.ParseFloat(m.Value, 64); err != nil {
			return fmt.Errorf("metric %s value %q is not a literal number", m.Label, m.Value)
		}
	}
	if len(e.FreeText) > MaxFreeText {
		return fmt.Errorf("free text is %d bytes, limit %d", len(e.FreeText), MaxFreeText)
	}
	if n := len(Encode(e)); n > MaxEncoded {
		return fmt.Errorf("encoded evidence is %d bytes, limit %d", n, MaxEncoded)
	}
	return nil
}

// Truncate clips s to the free-text bound, marking the cut.
func Truncate(s string) string {
	if len(s) <= MaxFreeText {
		return s
	}
	const mark = "...(truncated)"
	return s[:MaxFreeText-len(mark)] + mark
}
