package geoid

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold strips diacritics so "Zürich" and "Zurich" compare equal. Letters
// without a decomposition are kept as is.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// sameName compares two place names case- and accent-insensitively.
func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(Fold(a)), strings.TrimSpace(Fold(b)))
}
