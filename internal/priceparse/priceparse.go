// Package priceparse extracts entry, second-entry, take-profit, and
// stop-loss price fields from normalized signal text. Each extractor
// tries an ordered list of patterns and accepts the first that
// yields a value; the ordering is load-bearing, not cosmetic, and
// mirrors the union of forms observed in years of chat history.
package priceparse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var firstPricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(\d+\.\d+)`),
	regexp.MustCompile(`@ (\d+\.\d+)`),
}

type secondPricePattern struct {
	re     *regexp.Regexp
	groups []int
}

var secondPricePatterns = []secondPricePattern{
	{regexp.MustCompile(`\d+\.?\d*///(\d+\.?\d*)`), []int{1}},
	{regexp.MustCompile(`@\d+\.?\d*\s*-\s*(\d+\.?\d*)`), []int{1}},
	{regexp.MustCompile(`(?i)2(?:nd)?\s+limit\s*@\s*(\d+\.?\d*)`), []int{1}},
	{regexp.MustCompile(`\d+\.?\d*__+(\d+\.?\d*)`), []int{1}},
	{regexp.MustCompile(`@\s*\d+\.?\d*\s*-\s*(\d+\.?\d*)`), []int{1}},
	{regexp.MustCompile(`@\s*\d+\.?\d*\s*-\s*(\d+\.?\d*)|:\s*\d+\.?\d*\s*-\s*(\d+\.?\d*)`), []int{1, 2}},
	{regexp.MustCompile(`\d+\.?\d*\s*-\s*(\d+\.?\d*)`), []int{1}},
	{regexp.MustCompile(`\d+\s*و\s*(\d+)\s*فروش`), []int{1}},
	{regexp.MustCompile(`\d+\s*و\s*(\d+)\s*خرید`), []int{1}},
	{regexp.MustCompile(`\d+\.?\d*/(\d+\.?\d*)`), []int{1}},
	{regexp.MustCompile(`=\s*(\d+\.?\d*)`), []int{1}},
	{regexp.MustCompile(`(?:\d+\.\d+)[^\d]+(\d+\.\d+)`), []int{1}},
}

// tpPatterns is tried per-line; once one matches on a line, all of
// that pattern's matches on the line are collected (FindAllString in
// the original).
var tpPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)tp\s*\d*\s*[@:.\-]?\s*(\d+\.\d+|\d+)`),
	regexp.MustCompile(`(?i)tp\s*(?:\d*\s*:\s*)?(\d+\.\d+)`),
	regexp.MustCompile(`(?i)\btp\b\s*[:\-@.]?\s*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)tp\s*:\s*(\d+\.?\d*)`),
	regexp.MustCompile(`(?i)tp1\s*:\s*(\d+\.?\d*)`),
	regexp.MustCompile(`(?i)tp1\s*\s*(\d+\.?\d*)`),
	regexp.MustCompile(`(?i)tp\s*[-:]\s*(\d+\.\d+|\d+)`),
	regexp.MustCompile(`(?i)tp\s*1\s*[-:]\s*(\d+\.\d+|\d+)`),
	regexp.MustCompile(`(?i)checkpoint\s*1\s*:\s*(\d+\.?\d*|OPEN)`),
	regexp.MustCompile(`(?i)takeprofit\s*1\s*=\s*(\d+\.\d+|\d+)`),
	regexp.MustCompile(`(?i)take\s*profit\s*1\s*:\s*(\d+\.\d+|\d+)`),
	regexp.MustCompile(`(?i)تی پی\s*(\d+)`),
}

var tpNumberedPattern = regexp.MustCompile(`(?i)tp(\d+)\s*[:\-]?\s*(\d+\.\d+|\d+)`)
var tpTakeProfitIndexedPattern = regexp.MustCompile(`(?i)take\s*profit\s*\d+\s*[-:]\s*(\d+\.\d+|\d+)`)
var tpPersianListPattern = regexp.MustCompile(`تی پی\s*([\d\s,،]+)`)
var persianListSplit = regexp.MustCompile(`[,\s،]+`)

// tpLabelListPattern collects the comma-separated prices that follow a
// TP label ("TP: 1.0900, 1.0950", "Take Profit: 1960, 1970", "تی پی: 1.09").
var tpLabelListPattern = regexp.MustCompile(`(?i)(?:\btp|take\s*profit|تی پی)\s*\d*\s*[:@\-=]\s*(\d+(?:\.\d+)?(?:\s*[,،]\s*\d+(?:\.\d+)?)*)`)

var slPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)sl\s*:\s*(\d+\.\d+)`),
	regexp.MustCompile(`(?i)sl\s*:\s*(\d+\.?\d*)`),
	regexp.MustCompile(`(?i)stop\s*(\d+\.?\d*)`),
	regexp.MustCompile(`(?i)حد\s*(?:ضرر)?\s*[:\-]?\s*(\d+\.\d+|\d+)`),
	regexp.MustCompile(`(?i)STOP LOSS\s*:\s*(\d+\.?\d*)`),
	regexp.MustCompile(`(?i)sl\s*[-:]\s*(\d+\.\d+|\d+)`),
	regexp.MustCompile(`(?i)sl\s*[:\-]\s*(\d+\.?\d*)`),
	regexp.MustCompile(`(?i)stop\s*loss\s*[:\-]\s*(\d+\.?\d*)`),
	regexp.MustCompile(`(?i)sl\s*(\d+\.?\d*)`),
	regexp.MustCompile(`(?i)stop\s*loss\s*[@:]\s*(\d+\.?\d*)`),
	regexp.MustCompile(`(?i)Stoploss\s*=\s*(\d+\.\d+|\d+)`),
	regexp.MustCompile(`(?i)SL\s*@\s*(\d+\.\d+|\d+)`),
	regexp.MustCompile(`(?i)stop\s*loss\s*(\d+)`),
	regexp.MustCompile(`(?i)استاپ\s*(\d+\.?\d*)`),
	regexp.MustCompile(`(?i)sl[\s.:]*([\d]+\.?\d*)`),
	regexp.MustCompile(`(?i)stop\s*loss\s*(?:point)?\s*[:\-]?\s*(\d+\.\d+|\d+)`),
}

var slNumberWord = regexp.MustCompile(`\b\d+\b`)

func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// ExtractFirstPrice returns the first decimal number found in the
// text, after replacing US30 with DJIUSD so its digits are not
// mistaken for a price.
func ExtractFirstPrice(text string) (decimal.Decimal, bool) {
	up := strings.ReplaceAll(strings.ToUpper(text), "US30", "DJIUSD")
	for _, p := range firstPricePatterns {
		if m := p.FindStringSubmatch(up); m != nil {
			return parseDecimal(m[1])
		}
	}
	return decimal.Decimal{}, false
}

// ExtractSecondPrice tries the ordered family of second-price
// patterns and returns the first match.
func ExtractSecondPrice(text string) (decimal.Decimal, bool) {
	for _, p := range secondPricePatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		for _, g := range p.groups {
			if g < len(m) && m[g] != "" {
				return parseDecimal(m[g])
			}
		}
	}
	return decimal.Decimal{}, false
}

// ExtractTakeProfits scans the message line by line and returns the
// deduplicated set of take-profit prices, filtering the value 1.0 as
// a known parsing-noise artifact (a TP index mistakenly captured as a
// price).
func ExtractTakeProfits(text string) []decimal.Decimal {
	seen := map[string]decimal.Decimal{}
	add := func(s string) {
		d, ok := parseDecimal(s)
		if !ok {
			return
		}
		if d.Equal(decimal.NewFromInt(1)) {
			return
		}
		seen[d.String()] = d
	}

	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}

		matchedAny := false
		for _, p := range tpPatterns {
			matches := p.FindAllStringSubmatch(line, -1)
			if len(matches) == 0 {
				continue
			}
			matchedAny = true
			for _, m := range matches {
				if strings.EqualFold(m[1], "open") {
					continue
				}
				if m[1] == "0" {
					continue
				}
				add(m[1])
			}
			break
		}
		_ = matchedAny

		for _, m := range tpTakeProfitIndexedPattern.FindAllStringSubmatch(line, -1) {
			add(m[1])
		}

		for _, m := range tpNumberedPattern.FindAllStringSubmatch(line, -1) {
			add(m[2])
		}

		for _, m := range tpLabelListPattern.FindAllStringSubmatch(line, -1) {
			for _, piece := range persianListSplit.Split(m[1], -1) {
				if piece != "" {
					add(piece)
				}
			}
		}

		if pm := tpPersianListPattern.FindAllStringSubmatch(line, -1); len(pm) > 0 {
			var persianOnly []decimal.Decimal
			for _, m := range pm {
				for _, piece := range persianListSplit.Split(m[1], -1) {
					piece = strings.TrimSpace(piece)
					if piece == "" || strings.Contains(piece, "/") {
						continue
					}
					if !isAllDigits(piece) {
						continue
					}
					if d, ok := parseDecimal(piece); ok {
						persianOnly = append(persianOnly, d)
					}
				}
			}
			return persianOnly
		}
	}

	if len(seen) == 0 {
		return nil
	}
	out := make([]decimal.Decimal, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	return out
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ExtractStopLoss returns the first matching stop-loss price found
// line by line, falling back to "the first number before the literal
// 'sl'" when no labeled pattern matches.
func ExtractStopLoss(text string) (decimal.Decimal, bool) {
	lower := strings.ToLower(text)
	for _, line := range strings.Split(lower, "\n") {
		if line == "" {
			continue
		}
		for _, p := range slPatterns {
			if m := p.FindStringSubmatch(line); m != nil {
				return parseDecimal(m[1])
			}
		}

		if idx := strings.Index(line, "sl"); idx >= 0 {
			for _, loc := range slNumberWord.FindAllStringIndex(line, -1) {
				if loc[0] < idx {
					if d, ok := parseDecimal(line[loc[0]:loc[1]]); ok {
						return d, true
					}
				}
			}
		}
	}
	return decimal.Decimal{}, false
}
