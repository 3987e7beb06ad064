package facts

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes a value for comparison: lowercased, leading
// and trailing whitespace removed, interior runs of whitespace
// collapsed to a single space.
//
// Immutable-field equality and verifiable-claim traceability are both
// defined over normalized values so that formatting differences never
// count as drift.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	space := false
	wrote := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = wrote
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
		wrote = true
	}
	return b.String()
}

// ContainsNormalized reports whether needle appears in haystack after
// both are normalized. An empty needle never matches.
func ContainsNormalized(haystack, needle string) bool {
	n := Normalize(needle)
	if n == "" {
		return false
	}
	return strings.Contains(Normalize(haystack), n)
}
