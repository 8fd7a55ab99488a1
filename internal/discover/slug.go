package discover

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// diacriticFold strips combining marks so accented hosts slugify cleanly.
var diacriticFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify turns a host into a stable source slug: diacritics folded,
// non-alphanumerics collapsed to single dashes.
func Slugify(s string) string {
	folded, _, err := transform.String(diacriticFold, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}

	var sb strings.Builder

	lastDash := true // suppress a leading dash

	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			sb.WriteRune(r)

			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')

				lastDash = true
			}
		}
	}

	return strings.TrimSuffix(sb.String(), "-")
}
