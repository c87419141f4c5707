package tagger

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxSlugLen bounds generated file names for portability.
const maxSlugLen = 50

// deaccent decomposes characters and drops the combining marks, so "é"
// becomes "e" and "ø"-style characters without a decomposition are dropped
// later with the rest of the non-ASCII input.
var deaccent = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

// Slug converts a free-text title to a filesystem-safe name: accents are
// transliterated, remaining non-ASCII is dropped, runs of punctuation become
// single hyphens and each token is capitalized. The result is at most
// maxSlugLen characters and never starts or ends with a hyphen.
//
// An empty result is a valid, explicit signal that the title contained
// nothing usable; the caller must substitute a synthetic name.
func Slug(title string) string {
	s, _, err := transform.String(deaccent, title)
	if err != nil {
		s = title
	}

	var b strings.Builder
	lastHyphen := true // trims leading hyphens
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r > unicode.MaxASCII:
			// dropped
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	out := strings.TrimRight(b.String(), "-")

	parts := strings.Split(out, "-")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	out = strings.Join(parts, "-")

	if len(out) > maxSlugLen {
		out = strings.TrimRight(out[:maxSlugLen], "-")
	}
	return out
}
