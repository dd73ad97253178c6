package evidence

import (
	"fmt"
	"strings"
)

// Wire grammar: one line of "key:value" fields joined by "; ". The kind
// field comes first, then metrics in order, then reason and note when
// present. Values escape backslash, semicolon, and line breaks; keys are
// bare tokens. Decode accepts any field order after kind and preserves
// unrecognized keys so hand-added fields survive a rewrite.
const (
	fieldSep = "; "
	keySep   = ":"

	keyKind   = "kind"
	keyReason = "reason"
	keyNote   = "note"
)

func reservedKey(k string) bool {
	return k == keyKind || k == keyReason || k == keyNote
}

// MalformedError reports undecodable evidence text. Callers recover by
// treating the gate outcome as fail with reason "evidence-corrupt".
type MalformedError struct {
	Reason string
	Input  string
}

func (e *MalformedError) Error() string {
	in := e.Input
	if len(in) > 80 {
		in = in[:80] + "..."
	}
	return fmt.Sprintf("malformed evidence: %s (input %q)", e.Reason, in)
}

func malformed(input, format string, args ...any) error {
	return &MalformedError{Reason: fmt.Sprintf(format, args...), Input: input}
}

// Encode renders e as a single delimiter-safe line. It is total: any
// Evidence value encodes, valid or not. Decode inverts it exactly for
// every value that passes Validate.
func Encode(e Evidence) string {
	var b strings.Builder
	b.WriteString(keyKind + keySep + string(e.Kind))
	for _, m := range e.Metrics {
		b.WriteString(fieldSep)
		b.WriteString(m.Label + keySep + escapeValue(m.Value))
	}
	if e.ReasonCode != "" {
		b.WriteString(fieldSep)
		b.WriteString(keyReason + keySep + escapeValue(e.ReasonCode))
	}
	if e.FreeText != "" {
		b.WriteString(fieldSep)
		b.WriteString(keyNote + keySep + escapeValue(e.FreeText))
	}
	return b.String()
}

// Decode parses one encoded line back into an Evidence value. It never
// panics on foreign input; anything outside the grammar yields a
// *MalformedError. Unknown keys are kept, in order, as Metrics entries.
func Decode(line string) (Evidence, error) {
	// Strip line endings and leading indentation but keep trailing spaces,
	// which may belong to the last value.
	trimmed := strings.TrimLeft(strings.Trim(line, "\r\n"), " \t")
	if trimmed == "" {
		return Evidence{}, malformed(line, "empty input")
	}
	fields, err := splitFields(trimmed)
	if err != nil {
		return Evidence{}, err
	}

	var e Evidence
	seenKind, seenReason, seenNote := false, false, false
	for i, f := range fields {
		key, rawValue, ok := strings.Cut(f, keySep)
		if !ok {
			return Evidence{}, malformed(line, "field %q has no %q separator", f, keySep)
		}
		key = strings.TrimSpace(key)
		if !labelRe.MatchString(key) {
			return Evidence{}, malformed(line, "field key %q is not a token", key)
		}
		value, err := unescapeValue(rawValue)
		if err != nil {
			return Evidence{}, malformed(line, "field %q: %v", key, err)
		}

		switch key {
		case keyKind:
			if seenKind {
				return Evidence{}, malformed(line, "duplicate kind field")
			}
			if i != 0 {
				return Evidence{}, malformed(line, "kind must be the first field")
			}
			k := Kind(strings.TrimSpace(value))
			if !k.Valid() {
				return Evidence{}, malformed(line, "unknown kind %q", value)
			}
			e.Kind = k
			seenKind = true
		case keyReason:
			if seenReason {
				return Evidence{}, malformed(line, "duplicate reason field")
			}
			e.ReasonCode = strings.TrimSpace(value)
			seenReason = true
		case keyNote:
			if seenNote {
				return Evidence{}, malformed(line, "duplicate note field")
			}
			e.FreeText = value
			seenNote = true
		default:
			e.Metrics = append(e.Metrics, Metric{Label: key, Value: value})
		}
	}
	if !seenKind {
		return Evidence{}, malformed(line, "missing kind field")
	}
	return e, nil
}

// splitFields splits on semicolons that are not escaped with a backslash.
func splitFields(s string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteByte('\\')
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ';':
			fields = append(fields, strings.TrimLeft(cur.String(), " "))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		return nil, malformed(s, "dangling escape at end of input")
	}
	fields = append(fields, strings.TrimLeft(cur.String(), " "))
	return fields, nil
}

var valueEscaper = strings.NewReplacer(
	`\`, `\\`,
	";", `\;`,
	"\n", `\n`,
	"\r", `\r`,
)

func escapeValue(s string) string {
	return valueEscaper.Replace(s)
}

func unescapeValue(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if !escaped {
			if r == '\\' {
				escaped = true
			} else {
				b.WriteRune(r)
			}
			continue
		}
		switch r {
		case '\\':
			b.WriteByte('\\')
		case ';':
			b.WriteByte(';')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			return "", fmt.Errorf("unknown escape %q", `\`+string(r))
		}
		escaped = false
	}
	if escaped {
		return "", fmt.Errorf("dangling escape")
	}
	return b.String(), nil
}
