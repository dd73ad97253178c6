package ledger

import (
	"fmt"
	"strings"
)

func beginAnchor(region string) string { return "<!-- " + region + ":begin -->" }
func endAnchor(region string) string   { return "<!-- " + region + ":end -->" }

// locateRegion finds the content span between a region's anchors. The
// returned bounds exclude the anchors themselves.
func locateRegion(text, region string) (start, end int, err error) {
	begin := beginAnchor(region)
	bi := strings.Index(text, begin)
	if bi < 0 {
		return 0, 0, &AnchorError{Region: region}
	}
	start = bi + len(begin)
	ei := strings.Index(text[start:], endAnchor(region))
	if ei < 0 {
		return 0, 0, &AnchorError{Region: region}
	}
	return start, start + ei, nil
}

// spliceRegion replaces a region's content, leaving every byte outside the
// anchor pair untouched.
func spliceRegion(text, region, content string) (string, error) {
	start, end, err := locateRegion(text, region)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(text) + len(content))
	b.WriteString(text[:start])
	b.WriteString("\n")
	if content != "" {
		b.WriteString(content)
		b.WriteString("\n")
	}
	b.WriteString(text[end:])
	return b.String(), nil
}

// regionContent extracts a region's current content without the padding
// newlines the splicer maintains.
func regionContent(text, region string) (string, error) {
	start, end, err := locateRegion(text, region)
	if err != nil {
		return "", err
	}
	return strings.Trim(text[start:end], "\n"), nil
}

// appendToRegion adds one line to the end of a region, preserving whatever
// is already there.
func appendToRegion(text, region, line string) (string, error) {
	cur, err := regionContent(text, region)
	if err != nil {
		return "", err
	}
	if cur == "" {
		return spliceRegion(text, region, line)
	}
	return spliceRegion(text, region, cur+"\n"+line)
}

// Scaffold renders a fresh ledger document with all three regions in
// place. Region anchors must never be edited by hand.
func Scaffold(title string) string {
	return fmt.Sprintf(`# Gate Ledger: %s

## Gates
%s
_no gate activity recorded yet_
%s

## Hop Log
%s
%s

## Decision
%s
_no decision yet_
%s
`,
		title,
		beginAnchor(RegionGates), endAnchor(RegionGates),
		beginAnchor(RegionHopLog), endAnchor(RegionHopLog),
		beginAnchor(RegionDecision), endAnchor(RegionDecision))
}
