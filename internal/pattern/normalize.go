package pattern

import (
	"path"
	"regexp"
	"strings"
)

// Normalization strips run-specific noise from failure text so that the
// same underlying failure produces the same signature across sessions.
var (
	// ISO-8601-ish timestamps, with optional fractional seconds and zone.
	timestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)

	// Bare clock times like 12:34:56 that carry no date.
	clockRe = regexp.MustCompile(`\b\d{1,2}:\d{2}:\d{2}\b`)

	// Hex addresses like 0x7f3a9c001234.
	hexAddrRe = regexp.MustCompile(`0x[0-9a-fA-F]+`)

	// Textual line references like "line 12".
	lineWordRe = regexp.MustCompile(`(?i)\bline \d+\b`)

	// file.go:123 or file.py:123:45 style line references.
	lineRefRe = regexp.MustCompile(`:(\d+)(:\d+)?\b`)

	// Absolute unix paths; reduced to their final component.
	absPathRe = regexp.MustCompile(`(?:/[\w.@+-]+){2,}`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize reduces a raw failure message to a stable signature:
// timestamps removed, hex addresses removed, line numbers replaced with N,
// absolute paths reduced to their basename, whitespace collapsed.
// Normalize is idempotent.
func Normalize(raw string) string {
	s := timestampRe.ReplaceAllString(raw, "")
	s = clockRe.ReplaceAllString(s, "")
	s = hexAddrRe.ReplaceAllString(s, "")
	s = absPathRe.ReplaceAllStringFunc(s, func(p string) string {
		return path.Base(p)
	})
	s = lineWordRe.ReplaceAllString(s, "line N")
	s = lineRefRe.ReplaceAllString(s, ":N")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
