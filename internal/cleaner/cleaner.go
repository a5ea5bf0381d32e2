// Package cleaner normalizes extracted text before it is returned or sent to
// the structuring model.
package cleaner

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

var (
	nonPrintable = runes.Predicate(func(r rune) bool {
		return !unicode.IsPrint(r) && !unicode.IsSpace(r)
	})
	nonASCII = runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	})
)

// Clean drops non-printable characters, collapses whitespace runs to a single
// space, then drops non-ASCII characters. The output contains only printable
// ASCII with no leading, trailing or repeated spaces, and Clean(Clean(x)) ==
// Clean(x).
func Clean(text string) string {
	text = strip(text, nonPrintable)
	text = collapse(text)
	text = strip(text, nonASCII)
	// Removing a non-ASCII rune between two spaces leaves a double space.
	return collapse(text)
}

func strip(s string, drop runes.Set) string {
	out, _, err := transform.String(runes.Remove(drop), s)
	if err != nil {
		return strings.Map(func(r rune) rune {
			if drop.Contains(r) {
				return -1
			}
			return r
		}, s)
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
