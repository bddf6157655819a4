package script

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// segmentType indicates whether a segment is unchanged, missing or extra.
type segmentType int

const (
	segmentEqual segmentType = iota
	// segmentMissing is expected text absent from the actual value.
	segmentMissing
	// segmentExtra is actual text that was not expected.
	segmentExtra
)

type segment struct {
	Type segmentType
	Text string
}

// diffSegments computes a character diff from expected to actual, cleaned
// up so it reads in whole words where possible.
func diffSegments(expected, actual string) []segment {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(expected, actual, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	segments := make([]segment, 0, len(diffs))
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			segments = append(segments, segment{Type: segmentEqual, Text: d.Text})
		case diffmatchpatch.DiffDelete:
			segments = append(segments, segment{Type: segmentMissing, Text: d.Text})
		case diffmatchpatch.DiffInsert:
			segments = append(segments, segment{Type: segmentExtra, Text: d.Text})
		}
	}
	return segments
}

// InlineDiff renders the difference between expected and actual as one
// string, marking missing text [-like this-] and extra text {+like this+}.
func InlineDiff(expected, actual string) string {
	return renderDiff(diffSegments(expected, actual), plainStyles())
}

func renderDiff(segments []segment, st Styles) string {
	var b strings.Builder
	for _, s := range segments {
		text := visible(s.Text)
		switch s.Type {
		case segmentEqual:
			b.WriteString(text)
		case segmentMissing:
			b.WriteString(st.Missing.Render("[-" + text + "-]"))
		case segmentExtra:
			b.WriteString(st.Extra.Render("{+" + text + "+}"))
		}
	}
	return b.String()
}

// visible makes line breaks and tabs in a diff readable on one line.
func visible(s string) string {
	return strings.NewReplacer("\n", `\n`, "\t", `\t`).Replace(s)
}
