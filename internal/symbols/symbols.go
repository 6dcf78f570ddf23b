// Package symbols resolves free-text instrument names, including
// Persian aliases, to the exact symbol spelling a broker recognizes.
package symbols

import (
	"encoding/json"
	"os"
	"strings"
)

// DefaultSymbol is the last-resort canonical symbol returned when no
// alias matches and strict mode is disabled. Gold is the predominant
// signal domain in the source chat feeds.
const DefaultSymbol = "XAUUSD"

// aliasEntry maps a set of free-text patterns to one canonical symbol.
type aliasEntry struct {
	canonical string
	patterns  []string
}

// aliasTable is the fixed alias set. Order matters only in that every
// entry is checked; patterns never overlap across entries in practice.
var aliasTable = []aliasEntry{
	{canonical: "XAUUSD", patterns: []string{"طلا", "انس", "اونس", "گلد", "GOLD", "GLD", "XAU/USD", "XAUUSD", "#XAUUSD"}},
	{canonical: "DJIUSD", patterns: []string{"US30", "داوجونز"}},
	{canonical: "EURUSD", patterns: []string{"یورو", "EURUSD"}},
	{canonical: "NDAQ", patterns: []string{"NASDAQ"}},
	{canonical: "OIL", patterns: []string{"OIL"}},
}

// Resolver resolves candidate instrument tokens against a broker's live
// symbol set, a static alias table, and an optional user override.
type Resolver struct {
	// Overrides maps a canonical symbol (as produced by step 2/3 below)
	// to the exact broker symbol string the user wants used instead,
	// consulted only when that broker symbol is actually present.
	Overrides map[string]string
	// Strict, when true, makes Resolve return ("", false) instead of
	// DefaultSymbol when nothing matches (Open Question #3 in
	// SPEC_FULL.md / spec.md §9).
	Strict bool
}

// NewResolver builds a Resolver with no overrides and lenient (default
// XAUUSD fallback) behavior.
func NewResolver() *Resolver {
	return &Resolver{Overrides: map[string]string{}}
}

// Resolve maps candidate to the broker's exact spelling given its live
// symbol set. ok is false only in Strict mode with no match. It is a
// single-candidate convenience wrapper around ResolveTokens.
func (r *Resolver) Resolve(candidate string, brokerSymbols []string) (symbol string, ok bool) {
	return r.ResolveTokens([]string{candidate}, brokerSymbols)
}

// ResolveTokens implements the original detector's two-pass scan
// (symbol_detector.py detect_symbol): every token is checked for a
// direct broker-symbol match first, then every token is checked
// against the alias table, and only once both full passes come up
// empty does resolution fall back to DefaultSymbol. Scanning every
// token (rather than stopping at the first non-numeric, non-action
// word) matters because the instrument is rarely the first word in a
// message — a leading "Scalp", "VIP", channel tag, or emoji that
// normalize didn't strip would otherwise shadow the real symbol.
func (r *Resolver) ResolveTokens(tokens []string, brokerSymbols []string) (symbol string, ok bool) {
	for _, tok := range tokens {
		canon := canonicalize(tok)
		if m, found := matchBrokerSymbol(canon, brokerSymbols); found {
			return r.applyOverride(canon, m, brokerSymbols), true
		}
	}

	for _, tok := range tokens {
		canon := canonicalize(tok)
		if aliasCanon, found := matchAlias(tok, canon); found {
			if m, found := matchBrokerSymbol(aliasCanon, brokerSymbols); found {
				return r.applyOverride(aliasCanon, m, brokerSymbols), true
			}
			// Alias matched but the broker doesn't carry that exact
			// spelling; still return the canonical form.
			return r.applyOverride(aliasCanon, aliasCanon, brokerSymbols), true
		}
	}

	if r.Strict {
		return "", false
	}
	return r.applyOverride(DefaultSymbol, DefaultSymbol, brokerSymbols), true
}

// applyOverride keys the user override table by the candidate's own
// canonical form (spec.md §4.2; the original's find_similar_word keys
// mappings by the word passed in, not the broker symbol it resolved
// to), falling back to fallback when no override applies.
func (r *Resolver) applyOverride(candidateCanonical, fallback string, brokerSymbols []string) string {
	if r.Overrides == nil {
		return fallback
	}
	if mapped, ok := r.Overrides[candidateCanonical]; ok {
		for _, s := range brokerSymbols {
			if s == mapped {
				return mapped
			}
		}
	}
	return fallback
}

// canonicalize uppercases and strips broker-irrelevant separators.
func canonicalize(candidate string) string {
	c := strings.ToUpper(candidate)
	c = strings.ReplaceAll(c, "/", "")
	c = strings.ReplaceAll(c, "-", "")
	return c
}

// matchBrokerSymbol finds broker symbols containing canon as a
// substring (case-insensitively), preferring one with neither '!' nor
// '#' (special-variant suffixes), else the first match in list order.
func matchBrokerSymbol(canon string, brokerSymbols []string) (string, bool) {
	if canon == "" {
		return "", false
	}
	var plain, any string
	for _, s := range brokerSymbols {
		if strings.Contains(strings.ToUpper(s), canon) {
			if any == "" {
				any = s
			}
			if plain == "" && !strings.ContainsAny(s, "!#") {
				plain = s
			}
		}
	}
	if plain != "" {
		return plain, true
	}
	if any != "" {
		return any, true
	}
	return "", false
}

// matchAlias checks both the raw candidate (for Persian patterns) and
// its canonical form (for Latin patterns) against the alias table.
func matchAlias(raw, canon string) (string, bool) {
	for _, entry := range aliasTable {
		for _, p := range entry.patterns {
			up := strings.ToUpper(p)
			if strings.Contains(raw, p) || strings.Contains(canon, up) {
				return entry.canonical, true
			}
		}
	}
	return "", false
}

// symbolListDoc is the on-disk shape of the symbols reference file.
type symbolListDoc struct {
	SymbolList []string `json:"SymbolList"`
}

// LoadSymbolListFile reads a fallback symbol list used when the
// broker's live enumeration is unavailable, per spec.md §6.
func LoadSymbolListFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc symbolListDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.SymbolList, nil
}
