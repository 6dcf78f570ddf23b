// Package risk computes order volume from a risk-percent spec, the
// stop distance, and a symbol's tick economics.
package risk

import (
	"log"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// lotFloor is the broker's minimum tradable volume increment.
var lotFloor = decimal.NewFromFloat(0.01)
var lotStep = decimal.NewFromFloat(0.01)

// Sizer computes lot size from a risk spec ("N%" or a bare decimal
// lot string), the entry/stop distance, and a symbol's tick value and
// size. Logging is injected so callers can route the floor-breach
// warning through their own logger.
type Sizer struct {
	Logger *log.Logger
}

// NewSizer builds a Sizer with log.Default() as its warning sink.
func NewSizer() *Sizer {
	return &Sizer{Logger: log.Default()}
}

// Lot implements C7. If riskSpec has no '%' it is a literal lot size,
// returned verbatim. Otherwise lot size is derived from risk percent
// of accountSize, the stop distance in ticks, and tick value, then
// iteratively decremented by the lot step while the realized risk
// still exceeds the target; the decrement stops at lotFloor. A
// computed lot already below lotFloor is not raised to it: it is
// returned as is, with a warning logged.
func (s *Sizer) Lot(riskSpec string, openPrice, slPrice, accountSize, tickSize, tickValue decimal.Decimal) decimal.Decimal {
	if !strings.Contains(riskSpec, "%") {
		lit, err := decimal.NewFromString(strings.TrimSpace(riskSpec))
		if err != nil {
			return lotFloor
		}
		return lit
	}

	pctStr := strings.TrimSpace(strings.ReplaceAll(riskSpec, "%", ""))
	pct, err := strconv.ParseFloat(pctStr, 64)
	if err != nil {
		return lotFloor
	}

	riskAmount := accountSize.Mul(decimal.NewFromFloat(pct / 100))
	if tickSize.IsZero() {
		return lotFloor
	}
	distanceTicks := openPrice.Sub(slPrice).Abs().Div(tickSize)

	denom := distanceTicks.Mul(tickValue)
	if denom.IsZero() {
		return lotFloor
	}

	lot := riskAmount.Div(denom).Round(2)

	actualRisk := lot.Mul(distanceTicks).Mul(tickValue)
	for actualRisk.GreaterThan(riskAmount) && lot.GreaterThan(lotFloor) {
		lot = lot.Sub(lotStep).Round(2)
		actualRisk = lot.Mul(distanceTicks).Mul(tickValue)
	}

	if lot.LessThan(lotFloor) {
		s.Logger.Printf("risk amount of %s exceeds %s%%: lot size cannot be lower than %s, proceeding at operator's own risk", riskAmount, pctStr, lotFloor)
	}

	return lot
}
