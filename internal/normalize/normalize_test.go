package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_BasicASCII(t *testing.T) {
	got := Normalize("  BUY   EURUSD  @ 1.0850  ")
	assert.Equal(t, "BUY EURUSD @ 1.0850", got)
}

func TestNormalize_PreservesNewlines(t *testing.T) {
	got := Normalize("BUY EURUSD @ 1.0850\nSL: 1.0800\nTP: 1.0900")
	assert.Contains(t, got, "\n")
	lines := 0
	for _, r := range got {
		if r == '\n' {
			lines++
		}
	}
	assert.Equal(t, 2, lines)
}

func TestNormalize_PreservesPersian(t *testing.T) {
	got := Normalize("خرید یورو @ 1.0850")
	assert.Contains(t, got, "خرید")
	assert.Contains(t, got, "یورو")
}

func TestNormalize_StripsDecorativeEmoji(t *testing.T) {
	got := Normalize("BUY GOLD ✅ 1950")
	assert.NotContains(t, got, "✅")
}

func TestNormalize_StripsSuperscripts(t *testing.T) {
	// U+00B2 SUPERSCRIPT TWO should be removed, not folded into "2".
	got := Normalize("TP² 1950")
	assert.NotContains(t, got, "2")
}

func TestNormalize_StripsDisallowedSymbols(t *testing.T) {
	got := Normalize("BUY~GOLD^1950")
	assert.NotContains(t, got, "~")
	assert.NotContains(t, got, "^")
}

func TestNormalize_KeepsAllowedPunctuation(t *testing.T) {
	got := Normalize("tp1:1950,tp2:1960")
	assert.Equal(t, "tp1:1950,tp2:1960", got)
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"  BUY   EURUSD  @ 1.0850  ",
		"خرید یورو @ 1.0850\nحد ضرر: 1.0800",
		"BUY GOLD ✅ 1950 ²",
		"SELL XAUUSD @ 1950.50\r\nSL: 1945",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		require.Equal(t, once, twice, "normalize must be idempotent for input %q", in)
	}
}

func TestNormalize_CollapsesHorizontalWhitespace(t *testing.T) {
	got := Normalize("BUY\t\tGOLD   1950")
	assert.Equal(t, "BUY GOLD 1950", got)
}
