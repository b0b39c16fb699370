// Package keys canonicalizes the free-text dotted tag paths emitted by the
// analytics backend (root.<scope>.<tail0>[.<tail1>...]).
package keys

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// RootMarker is the first segment of every well-formed key.
	RootMarker = "root"
	// Separator splits a key into segments.
	Separator = "."
)

var separatorRuns = regexp.MustCompile(`[\s_\-]+`)

// Normalize lower-cases a segment, strips diacritics, drops punctuation other
// than ':' and '.', and collapses whitespace/underscore/hyphen runs into a
// single space.
func Normalize(segment string) string {
	s := strings.ToLower(segment)
	s = stripMarks(s)
	s = strings.Map(keepRune, s)
	s = separatorRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Slug is the identifier form of Normalize: spaces become underscores.
func Slug(segment string) string {
	return strings.ReplaceAll(Normalize(segment), " ", "_")
}

// Segments splits a key on the separator without normalizing.
func Segments(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, Separator)
}

// Depth is the number of segments in key.
func Depth(key string) int { return len(Segments(key)) }

// TailAfterScope returns the normalized segments that follow root.<scope>.
// Spaces are kept and ':' survives so qualified sub-activity names still
// compare. Keys that do not start with the root marker, or have fewer than
// two segments, yield nil.
func TailAfterScope(key string) []string {
	parts := Segments(key)
	if len(parts) < 2 || parts[0] != RootMarker {
		return nil
	}
	tail := make([]string, 0, len(parts)-2)
	for _, p := range parts[2:] {
		tail = append(tail, Normalize(p))
	}
	return tail
}

// RawTail is TailAfterScope without normalization; the untouched tokens are
// what the backend indexed and what lookahead patterns must use.
func RawTail(key string) []string {
	parts := Segments(key)
	if len(parts) < 2 || parts[0] != RootMarker {
		return nil
	}
	return parts[2:]
}

// Join builds a key from root and the given segments.
func Join(segments ...string) string {
	return RootMarker + Separator + strings.Join(segments, Separator)
}

func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func keepRune(r rune) rune {
	switch {
	case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
		return r
	case r == '_', r == ':', r == '.':
		return r
	}
	return -1
}
