package critique

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DraftDiff renders a line-oriented diff between two drafts, suitable for
// feeding back to the producer alongside revision feedback. Unchanged runs
// longer than a few lines are elided.
func DraftDiff(previous, current string) string {
	if previous == current {
		return ""
	}
	dmp := diffmatchpatch.New()
	prevChars, curChars, lines := dmp.DiffLinesToChars(previous, current)
	diffs := dmp.DiffMain(prevChars, curChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var out strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			writePrefixed(&out, "- ", d.Text)
		case diffmatchpatch.DiffInsert:
			writePrefixed(&out, "+ ", d.Text)
		case diffmatchpatch.DiffEqual:
			writeContext(&out, d.Text)
		}
	}
	return strings.TrimRight(out.String(), "\n")
}

func writePrefixed(out *strings.Builder, prefix, text string) {
	for _, line := range splitLines(text) {
		out.WriteString(prefix)
		out.WriteString(line)
		out.WriteString("\n")
	}
}

const contextLines = 2

func writeContext(out *strings.Builder, text string) {
	lines := splitLines(text)
	if len(lines) <= contextLines*2+1 {
		writePrefixed(out, "  ", text)
		return
	}
	for _, line := range lines[:contextLines] {
		out.WriteString("  ")
		out.WriteString(line)
		out.WriteString("\n")
	}
	out.WriteString("  ...\n")
	for _, line := range lines[len(lines)-contextLines:] {
		out.WriteString("  ")
		out.WriteString(line)
		out.WriteString("\n")
	}
}

func splitLines(text string) []string {
	trimmed := strings.TrimRight(text, "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}
