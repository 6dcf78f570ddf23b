// Package validate reconstructs short-form prices typed by chat
// operators against a symbol's live quote, and validates take-profit
// ordering. Broker quotes for gold and indices carry four or five
// integer digits; operators routinely abbreviate (e.g. "850" meaning
// "2850.00"). Reconstruction only ever applies to those multi-digit
// symbols — FX majors are returned unchanged.
package validate

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/parsatrade/signalbridge/internal/action"
	"github.com/parsatrade/signalbridge/internal/broker"
)

// reconstructable reports whether symbol's quote can carry enough
// integer digits to make short-form reconstruction meaningful. The
// source restricts this to gold and the Dow index.
func reconstructable(symbol string) bool {
	return symbol == "XAUUSD" || symbol == "DJIUSD"
}

// intDigits returns the decimal digit count of the integer part of d,
// matching Python's len(str(int(price))).
func intDigits(d decimal.Decimal) int {
	s := d.Truncate(0).Abs().String()
	return len(s)
}

// Validate reconstructs price against currentQuote for symbol when the
// candidate's integer part is shorter than the quote's. isSl enforces
// the Buy/Sell directional SL constraint; isSecondPrice enforces the
// correct side of the quote for a second entry.
func Validate(act action.Action, price decimal.Decimal, symbol string, currentQuote decimal.Decimal, isSl, isSecondPrice bool) decimal.Decimal {
	if !reconstructable(symbol) {
		return price
	}

	priceDigits := intDigits(price)
	quoteInt := currentQuote.Truncate(0)
	quoteDigits := intDigits(currentQuote)
	if priceDigits >= quoteDigits {
		return price
	}

	fractional := price.Sub(price.Truncate(0))
	priceIntStr := price.Truncate(0).Abs().String()

	quoteStr := quoteInt.Abs().String()
	baseStr := quoteStr[:len(quoteStr)-len(priceIntStr)]
	base, _ := strconv.ParseInt(baseStr, 10, 64)

	newPrice := joinBaseAndSuffix(base, priceIntStr)

	adjustDirectional := func() {
		switch {
		case isSl && act == action.Buy:
			for newPrice.GreaterThanOrEqual(quoteInt) {
				base--
				newPrice = joinBaseAndSuffix(base, priceIntStr)
			}
		case isSl && act == action.Sell:
			for newPrice.LessThanOrEqual(quoteInt) {
				base++
				newPrice = joinBaseAndSuffix(base, priceIntStr)
			}
		case isSecondPrice && act == action.Buy:
			for newPrice.GreaterThanOrEqual(quoteInt) {
				base--
				newPrice = joinBaseAndSuffix(base, priceIntStr)
			}
		case isSecondPrice && act == action.Sell:
			for newPrice.LessThanOrEqual(quoteInt) {
				base++
				newPrice = joinBaseAndSuffix(base, priceIntStr)
			}
		}
	}
	adjustDirectional()

	return newPrice.Add(fractional)
}

func joinBaseAndSuffix(base int64, suffix string) decimal.Decimal {
	s := strconv.FormatInt(base, 10) + suffix
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ValidateTPList reconstructs every too-short TP so it lies on the
// profitable side of both firstPrice and secondPrice (above both for
// Buy, below both for Sell). The previous valid TP's high-order digits
// are used as the reconstruction hint whenever they are longer than
// the current candidate's. Only applied to XAUUSD; other symbols pass
// through unchanged.
func ValidateTPList(act action.Action, tps []decimal.Decimal, symbol string, firstPrice, secondPrice decimal.Decimal, hasSecond bool) []decimal.Decimal {
	if symbol != "XAUUSD" {
		return tps
	}

	out := make([]decimal.Decimal, 0, len(tps))
	firstInt := firstPrice.Truncate(0)
	var lastPrice *decimal.Decimal

	for _, tp := range tps {
		if intDigits(tp) == intDigits(firstPrice) {
			out = append(out, tp)
			v := tp.Truncate(0)
			lastPrice = &v
			continue
		}

		priceInt := tp.Truncate(0)
		priceStr := priceInt.Abs().String()

		var base int64
		if lastPrice != nil && len(priceStr) < len(lastPrice.Abs().String()) {
			lastStr := lastPrice.Abs().String()
			baseStr := lastStr[:len(lastStr)-len(priceStr)]
			base, _ = strconv.ParseInt(baseStr, 10, 64)
		} else {
			firstStr := firstInt.Abs().String()
			if len(priceStr) >= len(firstStr) {
				out = append(out, tp)
				continue
			}
			baseStr := firstStr[:len(firstStr)-len(priceStr)]
			base, _ = strconv.ParseInt(baseStr, 10, 64)
		}

		newPrice := joinBaseAndSuffix(base, priceStr)

		switch act {
		case action.Buy:
			for newPrice.LessThanOrEqual(firstInt) || (hasSecond && newPrice.LessThanOrEqual(secondPrice)) {
				base++
				newPrice = joinBaseAndSuffix(base, priceStr)
			}
		case action.Sell:
			for newPrice.GreaterThanOrEqual(firstInt) || (hasSecond && newPrice.GreaterThanOrEqual(secondPrice)) {
				base--
				newPrice = joinBaseAndSuffix(base, priceStr)
			}
		}

		if !newPrice.IsZero() {
			out = append(out, newPrice)
			v := newPrice.Truncate(0)
			lastPrice = &v
		}
	}

	return out
}

// ApplyCloserPriceEntry implements the closer-price isCurrentPrice
// branch: add for BuyLimit/SellStop, subtract for BuyStop/SellLimit,
// no-op for plain market orders.
func ApplyCloserPriceEntry(symbol string, orderType broker.OrderType, price, offset decimal.Decimal) decimal.Decimal {
	if offset.IsZero() || symbol != "XAUUSD" {
		return price
	}
	switch orderType {
	case broker.OrderBuyLimit, broker.OrderSellStop:
		return price.Add(offset)
	case broker.OrderBuyStop, broker.OrderSellLimit:
		return price.Sub(offset)
	default:
		return price
	}
}
