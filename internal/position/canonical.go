package position

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// CanonicalPlace returns the search form of a place description:
// NFC-normalized, trimmed and case folded.
//
// A cases.Caser is stateful, so a fresh one is built per call.
func CanonicalPlace(place string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(place)))
}

// PlaceMatches reports whether canonicalPlace contains query as a
// case-insensitive substring. An empty query matches everything.
func PlaceMatches(canonicalPlace, query string) bool {
	q := CanonicalPlace(query)
	if q == "" {
		return true
	}
	return strings.Contains(canonicalPlace, q)
}
