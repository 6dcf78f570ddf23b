// Package normalize folds raw chat text into the canonical form every
// other parser stage consumes. It is a single pure function: no state,
// no I/O, safe to call from the hot path without yielding.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// decorativeSymbols is the blocklist of emoji/marks that carry no
// signal content but otherwise survive NFKC folding.
var decorativeSymbols = []rune{
	'✅', // white heavy check mark
	'❌', // cross mark
	'✔', // heavy check mark
	'✖', // heavy multiplication x
	'⭕', // heavy large circle
}

// allowedPunctuation is kept verbatim; everything outside it (plus
// letters, digits, and whitespace) is dropped in the whitelist pass.
const allowedPunctuation = ".,:;!?(){}[]/+-=@#%&*'\"<>"

// Normalize applies the fold/strip pipeline described for TextNormalizer:
// strip subscripts/superscripts, NFKC, collapse horizontal whitespace,
// drop decorative symbols, whitelist Latin/Arabic-Persian/digit/punct,
// collapse again the whitespace runs those deletions leave behind, then
// trim. The result still contains newlines (price extractors split
// on them) and Persian letters (symbol/action keywords depend on them).
func Normalize(raw string) string {
	s := stripSuperSubscripts(raw)
	s = norm.NFKC.String(s)
	s = collapseHorizontalWhitespace(s)
	s = stripDecorative(s)
	s = whitelist(s)
	s = collapseHorizontalWhitespace(s)
	return strings.TrimSpace(s)
}

// superSubRanges covers the Unicode "Superscripts and Subscripts" block
// (U+2070-U+209F) plus the handful of legacy superscript digits that
// live outside it in Latin-1 Supplement.
var superSubRanges = []*unicode.RangeTable{
	{R16: []unicode.Range16{{Lo: 0x2070, Hi: 0x209F, Stride: 1}}},
	{R16: []unicode.Range16{
		{Lo: 0x00B2, Hi: 0x00B3, Stride: 1}, // ², ³
		{Lo: 0x00B9, Hi: 0x00B9, Stride: 1}, // ¹
	}},
}

func stripSuperSubscripts(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsOneOf(superSubRanges, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func collapseHorizontalWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastWasSpace := false
	for _, r := range s {
		if r == '\n' || r == '\r' {
			b.WriteRune('\n')
			lastWasSpace = false
			continue
		}
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				b.WriteRune(' ')
			}
			lastWasSpace = true
			continue
		}
		lastWasSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func stripDecorative(s string) string {
	return strings.Map(func(r rune) rune {
		for _, d := range decorativeSymbols {
			if r == d {
				return -1
			}
		}
		return r
	}, s)
}

// isArabicPersian reports whether r falls in the Arabic block used by
// Persian chat text (U+0600-U+06FF).
func isArabicPersian(r rune) bool {
	return r >= 0x0600 && r <= 0x06FF
}

func whitelist(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteRune(r)
		case unicode.IsLetter(r) && r < 0x0250: // Basic Latin through Latin Extended-B
			b.WriteRune(r)
		case isArabicPersian(r):
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(r)
		case strings.ContainsRune(allowedPunctuation, r):
			b.WriteRune(r)
		}
	}
	return b.String()
}
