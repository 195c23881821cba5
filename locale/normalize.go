// Package locale matches vendor control text across the supported UI
// languages (Spanish, English, German, French).
//
// Control text coming back from the vendor UI is unstable: titles embed HTML
// fragments, labels carry punctuation and diacritics, and the language can
// change between sessions. All comparisons therefore go through Normalize,
// and matching is substring-of-normalized against a per-control translation
// table. No single language is ever hardcoded in callers.
package locale

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var htmlStripper = bluemonday.StrictPolicy()

var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize prepares observed control text for comparison: strips HTML tags,
// decodes entities, folds diacritics, lowercases, drops punctuation and
// collapses whitespace.
//
//	Normalize("<b>An&aacute;lisis</b>  Rápido!") == "analisis rapido"
func Normalize(s string) string {
	s = html.UnescapeString(htmlStripper.Sanitize(s))
	if folded, _, err := transform.String(diacriticFolder, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			// Punctuation and whitespace both collapse to one separator.
			space = true
		}
	}
	return b.String()
}

// Contains reports whether the normalized haystack contains the normalized
// needle.
func Contains(haystack, needle string) bool {
	return strings.Contains(Normalize(haystack), Normalize(needle))
}
