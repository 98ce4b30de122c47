// Package textutil holds small helpers for console output.
package textutil

import (
	"strings"
)

// DefaultSummaryMaxLen bounds one-line failure summaries.
const DefaultSummaryMaxLen = 160

// MinOneLineLen is the smallest maxLen OneLine honours.
const MinOneLineLen = 4

// OneLine collapses all whitespace runs in s, newlines included, into single
// spaces and cuts the result to maxLen runes, ending it with "..." when cut.
// A maxLen below MinOneLineLen is raised to it.
func OneLine(s string, maxLen int) string {
	if maxLen < MinOneLineLen {
		maxLen = MinOneLineLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
