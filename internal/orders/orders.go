// Package orders implements C8 OrderCompiler: order-type selection,
// the closer-price slippage adjustment, idempotent dedup against
// existing positions and pending orders, and broker request assembly.
package orders

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/parsatrade/signalbridge/internal/action"
	"github.com/parsatrade/signalbridge/internal/broker"
	"github.com/parsatrade/signalbridge/internal/util"
	"github.com/parsatrade/signalbridge/internal/validate"
)

// MarketWindow is the gold-specific market-order window: if
// the requested price is within this distance of the current quote, a
// market order is used instead of a stop/limit. Zero disables the
// window (spec.md §4.8: "For other symbols, the market-window rule is
// disabled").
type MarketWindow struct {
	Symbol    string
	Threshold decimal.Decimal
}

// Compiler selects order type and submits the broker request for one
// leg of a parsed signal.
type Compiler struct {
	Broker       broker.Broker
	Logger       *log.Logger
	MarketWindow MarketWindow // zero value disables the window
	CloserPrice  decimal.Decimal
	ExpireMinutes int
}

// NewCompiler builds a Compiler with log.Default() as its sink.
func NewCompiler(b broker.Broker) *Compiler {
	return &Compiler{Broker: b, Logger: log.Default()}
}

// DetermineOrderType implements §4.8's determine_order_type: for the
// configured market-window symbol, a request within the threshold of
// the current quote becomes a market order; otherwise (and for every
// other symbol) the four-way stop/limit selection applies directly.
func (c *Compiler) DetermineOrderType(symbol string, act action.Action, requestedPrice, currentQuote decimal.Decimal) broker.OrderType {
	if c.MarketWindow.Symbol != "" && symbol == c.MarketWindow.Symbol && !c.MarketWindow.Threshold.IsZero() {
		distance := requestedPrice.Sub(currentQuote).Abs()
		within := distance.LessThanOrEqual(c.MarketWindow.Threshold)
		switch act {
		case action.Buy:
			if within {
				return broker.OrderBuy
			}
			if requestedPrice.GreaterThan(currentQuote) {
				return broker.OrderBuyStop
			}
			return broker.OrderBuyLimit
		case action.Sell:
			if within {
				return broker.OrderSell
			}
			if requestedPrice.LessThan(currentQuote) {
				return broker.OrderSellStop
			}
			return broker.OrderSellLimit
		}
	}

	switch act {
	case action.Buy:
		if requestedPrice.GreaterThan(currentQuote) {
			return broker.OrderBuyStop
		}
		if requestedPrice.LessThan(currentQuote) {
			return broker.OrderBuyLimit
		}
		return broker.OrderBuy
	case action.Sell:
		if requestedPrice.GreaterThan(currentQuote) {
			return broker.OrderSellLimit
		}
		if requestedPrice.LessThan(currentQuote) {
			return broker.OrderSellStop
		}
		return broker.OrderSell
	}
	return broker.OrderBuy
}

// quoteForSide returns ask for Buy, bid for Sell, matching
// get_current_price's action-keyed selection.
func quoteForSide(act action.Action, q broker.Quote) decimal.Decimal {
	if act == action.Sell {
		return q.Bid
	}
	return q.Ask
}

// OpenRequest is the input to Open: one leg (first or second entry) of
// a dispatched signal.
type OpenRequest struct {
	Symbol   string
	Action   action.Action
	Price    decimal.Decimal
	SL       decimal.Decimal
	TP       decimal.Decimal
	Lot      decimal.Decimal
	SignalID int64
	IsFirst  bool
	IsSecond bool
	Force    bool
}

// OpenResult carries the broker ticket on success, or Skipped=true
// when an identical open/sl/tp already exists (dedup, §4.8 step 3).
type OpenResult struct {
	Ticket  int64
	Skipped bool
}

// Open implements the full §4.8 "Open protocol": determine order type,
// apply the closer-price adjustment, dedup, assemble and submit the
// request, retry once as a market order on invalid-price.
func (c *Compiler) Open(ctx context.Context, req OpenRequest) (OpenResult, error) {
	info, err := c.Broker.SymbolInfo(ctx, req.Symbol)
	if err != nil {
		return OpenResult{}, err
	}
	quote, err := c.Broker.Tick(ctx, req.Symbol)
	if err != nil {
		return OpenResult{}, err
	}
	currentQuote := quoteForSide(req.Action, quote)

	orderType := req.orderTypeOrForced(c, currentQuote)

	openPrice := validate.ApplyCloserPriceEntry(req.Symbol, orderType, req.Price, c.CloserPrice)

	// Re-check order type after the closer-price nudge; if it changed
	// direction relative to the quote, revert to the unadjusted price
	// (mirrors open_position's post-adjustment re-check).
	if c.DetermineOrderType(req.Symbol, req.Action, openPrice, currentQuote) != orderType {
		openPrice = req.Price
	}

	stopLoss := req.SL
	takeProfit := req.TP

	existingPositions, err := c.Broker.PositionsGet(ctx)
	if err != nil {
		return OpenResult{}, err
	}
	existingOrders, err := c.Broker.OrdersGet(ctx)
	if err != nil {
		return OpenResult{}, err
	}
	if anyPositionByData(existingPositions, existingOrders, req.Symbol, openPrice, stopLoss, takeProfit) {
		c.Logger.Printf("position already exists: symbol=%s openPrice=%s sl=%s tp=%s", req.Symbol, openPrice, stopLoss, takeProfit)
		return OpenResult{Skipped: true}, nil
	}

	tradeAction := broker.ActionPending
	if orderType.IsMarket() {
		tradeAction = broker.ActionDeal
	}

	openPrice = decimal.NewFromFloat(util.RoundToTick(openPrice.InexactFloat64(), info.TickSize.InexactFloat64()))
	wireOpenPrice := openPrice

	request := broker.OrderRequest{
		Action:      tradeAction,
		Symbol:      req.Symbol,
		Volume:      req.Lot,
		Type:        orderType,
		Price:       wireOpenPrice,
		SL:          stopLoss,
		TP:          takeProfit,
		Filling:     broker.FillIOC,
		TimeInForce: broker.TimeGTC,
		Magic:       broker.MagicNumber,
	}

	if !orderType.IsMarket() && c.ExpireMinutes > 0 {
		serverNow, err := c.Broker.ServerTime(ctx)
		if err == nil {
			request.Expiration = serverNow.Add(time.Duration(c.ExpireMinutes) * time.Minute)
			request.TimeInForce = broker.TimeSpecified
		}
	}

	c.Logger.Printf("opening %s order: %s %s lots @ %s, SL: %s, TP: %s", orderType, req.Symbol, req.Lot, wireOpenPrice, stopLoss, takeProfit)

	result, err := c.Broker.OrderSend(ctx, request)
	if err == nil {
		return OpenResult{Ticket: result.Ticket}, nil
	}

	if broker.ClassOf(err) == broker.ClassRecoverable && !req.Force {
		c.Logger.Printf("retrying as market order due to invalid price: %v", err)
		marketType := broker.OrderBuy
		if !orderType.IsBuyFamily() {
			marketType = broker.OrderSell
		}
		retryReq := req
		retryReq.Force = true
		retryReq.Action = actionFor(marketType)
		return c.openForced(ctx, retryReq, marketType)
	}

	return OpenResult{}, err
}

func actionFor(t broker.OrderType) action.Action {
	if t.IsBuyFamily() {
		return action.Buy
	}
	return action.Sell
}

// openForced re-enters the broker call only (not the full compiler)
// with type coerced to a plain market order, preserving the original
// signal_id linkage per SPEC_FULL.md's supplemented retry-as-market
// behavior.
func (c *Compiler) openForced(ctx context.Context, req OpenRequest, marketType broker.OrderType) (OpenResult, error) {
	request := broker.OrderRequest{
		Action:      broker.ActionDeal,
		Symbol:      req.Symbol,
		Volume:      req.Lot,
		Type:        marketType,
		Price:       req.Price,
		SL:          req.SL,
		TP:          req.TP,
		Filling:     broker.FillIOC,
		TimeInForce: broker.TimeGTC,
		Magic:       broker.MagicNumber,
	}
	result, err := c.Broker.OrderSend(ctx, request)
	if err != nil {
		return OpenResult{}, fmt.Errorf("market-order retry failed: %w", err)
	}
	return OpenResult{Ticket: result.Ticket}, nil
}

func (r OpenRequest) orderTypeOrForced(c *Compiler, currentQuote decimal.Decimal) broker.OrderType {
	if r.Force {
		if r.Action == action.Buy {
			return broker.OrderBuy
		}
		return broker.OrderSell
	}
	return c.DetermineOrderType(r.Symbol, r.Action, r.Price, currentQuote)
}

// anyPositionByData implements §4.8 step 3 / spec.md property 6: exact
// float equality against both open positions and pending orders.
func anyPositionByData(positions []broker.Position, pendings []broker.Order, symbol string, openPrice, sl, tp decimal.Decimal) bool {
	for _, p := range positions {
		if p.Symbol != symbol {
			continue
		}
		if p.Open.Equal(openPrice) && p.SL.Equal(sl) && p.TP.Equal(tp) {
			return true
		}
	}
	for _, o := range pendings {
		if o.Symbol != symbol {
			continue
		}
		if o.Price.Equal(openPrice) && o.SL.Equal(sl) && o.TP.Equal(tp) {
			return true
		}
	}
	return false
}
