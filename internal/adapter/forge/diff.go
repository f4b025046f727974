package forge

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
)

// Diff size caps applied when rendering for the review prompt.
const (
	maxPatchChars = 15000
	maxPatchLines = 500
	maxDiffChars  = 100000
)

var hunkHeaderRe = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,\d+)? @@`)

// FormatDiff renders changed files as annotated text for the review prompt.
// Each file gets a "### path (status, +adds -dels)" header followed by a
// fenced diff block whose added and context lines carry their new-file line
// numbers. Oversized files and diffs are truncated with explicit markers.
func FormatDiff(files []port.FileChange) string {
	var b strings.Builder
	for i, f := range files {
		section := formatFileSection(f)
		if b.Len()+len(section) > maxDiffChars {
			fmt.Fprintf(&b, "... (%d more files truncated)\n", len(files)-i)
			break
		}
		b.WriteString(section)
	}
	return b.String()
}

func formatFileSection(f port.FileChange) string {
	header := fmt.Sprintf("### %s (%s, +%d -%d)\n", f.Path, f.Status, f.Additions, f.Deletions)
	if f.Patch == "" {
		return header + "\n"
	}

	annotated, truncated := annotatePatch(f.Patch)
	body := strings.Join(annotated, "\n")
	if len(body) > maxPatchChars {
		body = body[:maxPatchChars]
		truncated = true
	}
	if truncated {
		body += "\n... (truncated)"
	}
	return header + "```diff\n" + body + "\n```\n\n"
}

// annotatePatch prefixes each patch line: added and context lines get their
// new-file line number, removed lines get a three-space pad. Hunk headers
// pass through unchanged and reset the counter.
func annotatePatch(patch string) ([]string, bool) {
	lines := strings.Split(strings.TrimSuffix(patch, "\n"), "\n")
	out := make([]string, 0, len(lines))
	newLine := 0
	truncated := false

	for _, line := range lines {
		if len(out) >= maxPatchLines {
			truncated = true
			break
		}
		switch {
		case strings.HasPrefix(line, "@@"):
			if m := hunkHeaderRe.FindStringSubmatch(line); m != nil {
				newLine, _ = strconv.Atoi(m[1])
			}
			out = append(out, line)
		case strings.HasPrefix(line, "+"):
			out = append(out, fmt.Sprintf("%d:%s", newLine, line))
			newLine++
		case strings.HasPrefix(line, "-"):
			out = append(out, "   "+line)
		case strings.HasPrefix(line, "\\"):
			// "\ No newline at end of file" — not a content line
			out = append(out, line)
		default:
			out = append(out, fmt.Sprintf("%d:%s", newLine, line))
			newLine++
		}
	}
	return out, truncated
}

// FormatComment renders a review comment body: the message, followed by a
// fenced suggestion block when the comment carries one.
func FormatComment(c domain.ReviewComment) string {
	if c.Suggestion == "" {
		return c.Message
	}
	return c.Message + "\n\n```suggestion\n" + c.Suggestion + "\n```"
}
