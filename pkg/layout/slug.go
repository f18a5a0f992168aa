package layout

import (
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slug transliterates s to ASCII, lowercases it, keeps [a-z0-9._-],
// replaces spaces with '-', and collapses repeated separators. It never
// returns an empty string for non-empty input with at least one ASCII
// letter or digit in it after folding; callers that need a guaranteed
// non-empty slug should fall back themselves.
func Slug(s string) string {
	folded := transliterate(s)
	folded = strings.ToLower(folded)

	var b strings.Builder
	lastWasSep := false
	for _, r := range folded {
		switch {
		case r == ' ' || r == '_' || r == '-':
			if !lastWasSep && b.Len() > 0 {
				b.WriteByte('-')
				lastWasSep = true
			}
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.':
			b.WriteRune(r)
			lastWasSep = false
		default:
			// drop anything else: punctuation, emoji, combining marks
			// left behind by transliteration.
		}
	}

	return strings.Trim(b.String(), "-.")
}

// transliterate decomposes s (NFKD) and drops combining marks, folding
// accented Latin characters to their ASCII base and discarding
// non-Latin scripts it cannot fold.
func transliterate(s string) string {
	t := transform.Chain(norm.NFKD, transform.RemoveFunc(isCombiningMark))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func isCombiningMark(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}

// CaptionSnippet returns the first n words of a transliterated, slugged
// caption, joined with '-'. An empty or whitespace-only caption yields "".
func CaptionSnippet(caption string, n int) string {
	slug := Slug(caption)
	if slug == "" {
		return ""
	}
	words := strings.Split(slug, "-")
	var kept []string
	for _, w := range words {
		if w == "" {
			continue
		}
		kept = append(kept, w)
		if len(kept) == n {
			break
		}
	}
	return strings.Join(kept, "-")
}
