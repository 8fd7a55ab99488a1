// Package htmlutils holds small helpers for cleaning HTML fragments that
// arrive in feed items.
package htmlutils

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagRegex    = regexp.MustCompile(`<[^>]*>`)
	spacesRegex = regexp.MustCompile(`\s+`)
)

// StripHTMLTags removes all markup and collapses whitespace, returning plain
// text suitable for deks and tokenization.
func StripHTMLTags(s string) string {
	s = tagRegex.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = spacesRegex.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}

// Truncate cuts s to at most max runes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}

	return string(runes[:max]) + "..."
}
