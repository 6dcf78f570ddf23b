// Package signal composes the text normalizer, symbol resolver, price
// extractor, and action detector into a single canonical ParsedSignal.
package signal

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/parsatrade/signalbridge/internal/action"
	"github.com/parsatrade/signalbridge/internal/normalize"
	"github.com/parsatrade/signalbridge/internal/priceparse"
	"github.com/parsatrade/signalbridge/internal/symbols"
)

// ParsedSignal is derived from exactly one chat message. It is never
// persisted in this form; Dispatcher turns an accepted ParsedSignal
// into a Signal row.
type ParsedSignal struct {
	Action      action.Action
	Symbol      string
	FirstPrice  decimal.Decimal
	SecondPrice decimal.Decimal
	HasSecond   bool
	TakeProfits []decimal.Decimal
	StopLoss    decimal.Decimal
}

// Parser orchestrates C1-C4 against a live broker symbol set.
type Parser struct {
	Symbols *symbols.Resolver
}

// NewParser builds a Parser with a default (lenient) symbol resolver.
func NewParser() *Parser {
	return &Parser{Symbols: symbols.NewResolver()}
}

// Parse implements C5: normalize -> lowercase for action detection ->
// detect action (None short-circuits) -> extract prices -> resolve
// symbol. Returns ok=false when the message is not a signal.
func (p *Parser) Parse(raw string, brokerSymbols []string) (ParsedSignal, bool) {
	normalized := normalize.Normalize(raw)
	act := action.Detect(strings.ToLower(normalized))
	if act == action.None {
		return ParsedSignal{}, false
	}

	first, hasFirst := priceparse.ExtractFirstPrice(normalized)
	if !hasFirst {
		return ParsedSignal{}, false
	}
	sl, hasSL := priceparse.ExtractStopLoss(normalized)
	if !hasSL {
		return ParsedSignal{}, false
	}
	second, hasSecond := priceparse.ExtractSecondPrice(normalized)
	tps := priceparse.ExtractTakeProfits(normalized)

	candidates := symbolCandidates(normalized)
	sym, symOK := p.Symbols.ResolveTokens(candidates, brokerSymbols)
	if !symOK {
		return ParsedSignal{}, false
	}

	ps := ParsedSignal{
		Action:      act,
		Symbol:      sym,
		FirstPrice:  first,
		SecondPrice: second,
		HasSecond:   hasSecond,
		TakeProfits: tps,
		StopLoss:    sl,
	}

	clearSecondIfCoincident(&ps)
	return ps, true
}

// clearSecondIfCoincident implements C5's defensive post-condition:
// a second_price that coincides with first_price, stop_loss, or any
// TP is a misparse symptom and is cleared to absent.
func clearSecondIfCoincident(ps *ParsedSignal) {
	if !ps.HasSecond {
		return
	}
	if ps.SecondPrice.Equal(ps.FirstPrice) || ps.SecondPrice.Equal(ps.StopLoss) {
		ps.HasSecond = false
		ps.SecondPrice = decimal.Decimal{}
		return
	}
	for _, tp := range ps.TakeProfits {
		if ps.SecondPrice.Equal(tp) {
			ps.HasSecond = false
			ps.SecondPrice = decimal.Decimal{}
			return
		}
	}
}

// symbolCandidates collects every instrument candidate out of the
// normalized text: every whitespace-delimited token that isn't a pure
// number and isn't a known action keyword, scanning both Latin and
// Persian tokens (symbol aliases may be single Persian words). C2
// scopes a single candidate per spec.md §4.2, but candidate
// *selection* belongs to C5 (§4.5), so every eligible token is handed
// to the resolver's two-pass scan rather than just the first — the
// instrument is frequently not the first word (a leading "Scalp",
// "VIP", channel tag, or emoji normalize didn't strip).
func symbolCandidates(normalized string) []string {
	var out []string
	for _, line := range strings.Split(normalized, "\n") {
		for _, tok := range strings.Fields(line) {
			if looksLikeNumber(tok) || looksLikeActionWord(tok) {
				continue
			}
			out = append(out, tok)
		}
	}
	return out
}

func looksLikeNumber(tok string) bool {
	hasDigit := false
	for _, r := range tok {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '.' || r == '@' || r == ':' || r == '-' || r == '/':
		default:
			return false
		}
	}
	return hasDigit
}

var actionWords = map[string]bool{
	"buy": true, "sell": true, "selling": true, "selll": true,
	"بخر": true, "خرید": true, "بای": true, "بفروش": true, "فروش": true,
}

func looksLikeActionWord(tok string) bool {
	return actionWords[strings.ToLower(tok)]
}
