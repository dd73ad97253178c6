package evidence

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ev   Evidence
	}{
		{
			name: "bare pass",
			ev:   Pass(),
		},
		{
			name: "pass with metrics",
			ev: Pass(
				MetricInt(MetricTestsPassed, 42),
				MetricInt(MetricTestsFailed, 0),
				MetricFloat(MetricCoveragePercent, 81.5),
			),
		},
		{
			name: "fail with reason and note",
			ev: Evidence{
				Kind:       KindFail,
				ReasonCode: "build-broken",
				Metrics:    []Metric{MetricInt(MetricErrorsCount, 3)},
				FreeText:   "undefined symbol in pkg/parser",
			},
		},
		{
			name: "skip with reason",
			ev:   Skip(ReasonBoundedByPolicy),
		},
		{
			name: "note containing delimiters",
			ev: Evidence{
				Kind:     KindFail,
				FreeText: `exit 2; stderr said \bad\ things` + "\nsecond line",
			},
		},
		{
			name: "note with trailing space",
			ev:   Evidence{Kind: KindPass, FreeText: "done "},
		},
		{
			name: "duplicate metric labels keep order",
			ev: Evidence{
				Kind:    KindPass,
				Metrics: []Metric{{Label: "lap", Value: "1"}, {Label: "lap", Value: "2"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := Encode(tt.ev)
			if strings.ContainsAny(line, "\n\r") {
				t.Fatalf("Encode produced a multi-line string: %q", line)
			}
			got, err := Decode(line)
			if err != nil {
				t.Fatalf("Decode(%q): %v", line, err)
			}
			if !reflect.DeepEqual(got, tt.ev) {
				t.Errorf("round trip mismatch\n in: %#v\nout: %#v\nline: %q", tt.ev, got, line)
			}
		})
	}
}

func TestDecodeKnownShapes(t *testing.T) {
	line := "kind:pass; tests_passed:42; coverage_percent:81.5; reason:bounded-by-policy; note:all green"
	ev, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Kind != KindPass {
		t.Errorf("Kind = %q, want pass", ev.Kind)
	}
	if ev.ReasonCode != "bounded-by-policy" {
		t.Errorf("ReasonCode = %q", ev.ReasonCode)
	}
	if ev.FreeText != "all green" {
		t.Errorf("FreeText = %q", ev.FreeText)
	}
	want := []Metric{{"tests_passed", "42"}, {"coverage_percent", "81.5"}}
	if !reflect.DeepEqual(ev.Metrics, want) {
		t.Errorf("Metrics = %#v, want %#v", ev.Metrics, want)
	}
}

func TestDecodePreservesUnknownFields(t *testing.T) {
	line := "kind:pass; tests_passed:3; x-experiment:variant-b; reason:bounded-by-policy"
	ev, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	found := false
	for _, m := range ev.Metrics {
		if m.Label == "x-experiment" && m.Value == "variant-b" {
			found = true
		}
	}
	if !found {
		t.Fatalf("unknown field dropped: %#v", ev.Metrics)
	}
	re := Encode(ev)
	if !strings.Contains(re, "x-experiment:variant-b") {
		t.Errorf("re-encode lost unknown field: %q", re)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"whitespace only", "   \n"},
		{"missing kind", "tests_passed:42"},
		{"kind not first", "tests_passed:42; kind:pass"},
		{"unknown kind", "kind:maybe"},
		{"duplicate kind", "kind:pass; kind:fail"},
		{"duplicate reason", "kind:skip; reason:a; reason:b"},
		{"duplicate note", "kind:pass; note:a; note:b"},
		{"field without separator", "kind:pass; garbage"},
		{"key with spaces", "kind:pass; bad key:1"},
		{"dangling escape", `kind:pass; note:ends with \`},
		{"unknown escape", `kind:pass; note:\q`},
		{"random prose", "the build failed because of reasons"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.in)
			if err == nil {
				t.Fatalf("Decode(%q) succeeded, want malformed error", tt.in)
			}
			var me *MalformedError
			if !errors.As(err, &me) {
				t.Errorf("Decode(%q) error %T, want *MalformedError", tt.in, err)
			}
		})
	}
}

func TestDecodeToleratesHandEditing(t *testing.T) {
	// Extra spacing and a trailing newline are what humans leave behind.
	line := "  kind:fail;  errors_count:2 ;reason: build-broken \n"
	ev, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Kind != KindFail || ev.ReasonCode != "build-broken" {
		t.Errorf("got %#v", ev)
	}
}
