package models

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const defaultSlugRunes = 60

// Slugify converts s to a lowercase, hyphen-separated identifier safe for branch
// names and file paths. Accented latin letters fold to their base letter.
// An empty result becomes fallback.
func Slugify(s, fallback string) string {
	var b strings.Builder
	hyphen := false
	for _, r := range norm.NFKD.String(s) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToLower(r))
			hyphen = false
		case b.Len() > 0 && !hyphen:
			b.WriteByte('-')
			hyphen = true
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if runes := []rune(slug); len(runes) > defaultSlugRunes {
		slug = strings.TrimRight(string(runes[:defaultSlugRunes]), "-")
	}
	if slug == "" {
		return fallback
	}
	return slug
}
