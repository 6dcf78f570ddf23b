// Package dispatcher implements C10: turns an accepted ParsedSignal
// into persisted Signal/Position rows and live broker orders.
package dispatcher

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/parsatrade/signalbridge/internal/action"
	"github.com/parsatrade/signalbridge/internal/broker"
	"github.com/parsatrade/signalbridge/internal/config"
	"github.com/parsatrade/signalbridge/internal/orders"
	"github.com/parsatrade/signalbridge/internal/risk"
	"github.com/parsatrade/signalbridge/internal/signal"
	"github.com/parsatrade/signalbridge/internal/store"
	"github.com/parsatrade/signalbridge/internal/validate"
)

// Meta identifies the chat context a ParsedSignal arrived in.
type Meta struct {
	ChatID       int64
	MessageID    int64
	ChannelTitle string
}

// Dispatcher wires the parser output to the store and order compiler,
// applying the channel/symbol/time gates and price validation
// documented in §4.10.
type Dispatcher struct {
	Config *config.Config
	Store  *store.Store
	Broker broker.Broker
	Orders *orders.Compiler
	Risk   *risk.Sizer
	Logger *log.Logger
	userID int64
	now    func() time.Time
}

// New builds a Dispatcher. userID tags every Position row opened by
// this process (the operator account under which broker orders are
// placed).
func New(cfg *config.Config, st *store.Store, b broker.Broker, compiler *orders.Compiler, userID int64) *Dispatcher {
	return &Dispatcher{
		Config: cfg,
		Store:  st,
		Broker: b,
		Orders: compiler,
		Risk:   risk.NewSizer(),
		Logger: log.Default(),
		userID: userID,
		now:    time.Now,
	}
}

// Dispatch implements §4.10 steps 1-9. It returns (0, false, nil)
// when the signal was gated out silently (not an error — a normal
// rejection per the allow/deny or time-window rules) or when the
// first-entry order was skipped as a duplicate.
func (d *Dispatcher) Dispatch(ctx context.Context, meta Meta, ps signal.ParsedSignal) (int64, bool, error) {
	if ps.Action == action.None || ps.FirstPrice.IsZero() || ps.StopLoss.IsZero() || ps.Symbol == "" {
		return 0, false, nil
	}

	// correlationID ties together this Dispatch's log lines so a
	// burst of concurrent per-channel dispatches (§5: "two messages
	// from different channels may be processed in parallel") can be
	// traced through the log the way the teacher's
	// generateCorrelationID ties a reconciliation pass together.
	correlationID := uuid.New().String()

	if !d.channelAllowed(meta.ChannelTitle) {
		return 0, false, nil
	}
	if !d.symbolAllowed(ps.Symbol) {
		return 0, false, nil
	}
	if !d.Config.WithinTradingWindow(d.now()) {
		return 0, false, nil
	}

	quote, err := d.Broker.Tick(ctx, ps.Symbol)
	if err != nil {
		return 0, false, fmt.Errorf("dispatch[%s]: fetch quote: %w", correlationID, err)
	}
	currentQuote := quoteForSide(ps.Action, quote)

	ps.FirstPrice = validate.Validate(ps.Action, ps.FirstPrice, ps.Symbol, currentQuote, false, false)
	ps.StopLoss = validate.Validate(ps.Action, ps.StopLoss, ps.Symbol, currentQuote, true, false)
	if ps.HasSecond {
		ps.SecondPrice = validate.Validate(ps.Action, ps.SecondPrice, ps.Symbol, currentQuote, false, true)
	}
	ps.TakeProfits = validate.ValidateTPList(ps.Action, ps.TakeProfits, ps.Symbol, ps.FirstPrice, ps.SecondPrice, ps.HasSecond)

	if ps.HasSecond {
		ps.FirstPrice, ps.SecondPrice = swapIfInverted(ps.Action, ps.FirstPrice, ps.SecondPrice)
	}

	aggregateTP, hasTP := aggregateTakeProfit(ps.Action, ps.TakeProfits)

	existing, found, err := d.Store.FindExactSignal(ctx, ps.FirstPrice, ps.SecondPrice, ps.HasSecond, ps.StopLoss, ps.Symbol)
	if err != nil {
		return 0, false, fmt.Errorf("dispatch[%s]: lookup exact signal: %w", correlationID, err)
	}

	info, err := d.Broker.SymbolInfo(ctx, ps.Symbol)
	if err != nil {
		return 0, false, fmt.Errorf("dispatch[%s]: symbol info: %w", correlationID, err)
	}
	lot := d.Risk.Lot(d.Config.MetaTrader.Lot, ps.FirstPrice, ps.StopLoss, decimal.NewFromFloat(d.Config.MetaTrader.AccountSize), info.TickSize, info.TickValue)

	var signalID int64
	if found {
		signalID = existing.ID
	} else {
		sig := store.Signal{
			SourceChannelTitle: meta.ChannelTitle,
			SourceMessageID:    meta.MessageID,
			SourceChatID:       meta.ChatID,
			OpenPrice:          ps.FirstPrice,
			SecondPrice:        ps.SecondPrice,
			HasSecond:          ps.HasSecond,
			StopLoss:           ps.StopLoss,
			TPList:             ps.TakeProfits,
			Symbol:             ps.Symbol,
			CreatedAt:          d.now().UTC().Format("2006-01-02 15:04:05"),
		}

		firstReq := orders.OpenRequest{
			Symbol: ps.Symbol, Action: ps.Action,
			Price: ps.FirstPrice, SL: ps.StopLoss, Lot: lot, IsFirst: true,
		}
		if hasTP {
			firstReq.TP = aggregateTP
		}
		firstRes, err := d.Orders.Open(ctx, firstReq)
		if err != nil {
			return 0, false, fmt.Errorf("dispatch[%s]: open first entry: %w", correlationID, err)
		}
		if firstRes.Skipped {
			return 0, false, nil
		}

		signalID, _, err = d.Store.InsertSignalAndFirstPosition(ctx, sig, d.userID, firstRes.Ticket)
		if err != nil {
			return 0, false, fmt.Errorf("dispatch[%s]: persist signal: %w", correlationID, err)
		}

		if d.Config.MetaTrader.HighRisk && ps.HasSecond {
			secondReq := orders.OpenRequest{
				Symbol: ps.Symbol, Action: ps.Action,
				Price: ps.SecondPrice, SL: ps.StopLoss, Lot: lot, IsSecond: true,
			}
			if hasTP {
				secondReq.TP = aggregateTP
			}
			secondRes, err := d.Orders.Open(ctx, secondReq)
			if err != nil {
				d.Logger.Printf("dispatch[%s]: open second entry failed: %v", correlationID, err)
			} else if !secondRes.Skipped {
				if _, err := d.Store.InsertPosition(ctx, signalID, secondRes.Ticket, d.userID, false, true); err != nil {
					d.Logger.Printf("dispatch[%s]: persist second position failed: %v", correlationID, err)
				}
			}
		}
	}

	return signalID, true, nil
}

func quoteForSide(act action.Action, q broker.Quote) decimal.Decimal {
	if act == action.Sell {
		return q.Bid
	}
	return q.Ask
}

// swapIfInverted implements §4.10 step 6: a Buy with first>second, or
// a Sell with first<second, is inverted; swap so first_price is
// always the nearer-to-market entry.
func swapIfInverted(act action.Action, first, second decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	switch act {
	case action.Buy:
		if first.GreaterThan(second) {
			return second, first
		}
	case action.Sell:
		if first.LessThan(second) {
			return second, first
		}
	}
	return first, second
}

// aggregateTakeProfit implements §4.10 step 7: Buy takes the max TP,
// Sell the min, as the single level passed to the broker.
func aggregateTakeProfit(act action.Action, tps []decimal.Decimal) (decimal.Decimal, bool) {
	if len(tps) == 0 {
		return decimal.Decimal{}, false
	}
	best := tps[0]
	for _, tp := range tps[1:] {
		switch act {
		case action.Buy:
			if tp.GreaterThan(best) {
				best = tp
			}
		case action.Sell:
			if tp.LessThan(best) {
				best = tp
			}
		}
	}
	return best, true
}

func (d *Dispatcher) channelAllowed(channelTitle string) bool {
	wl := d.Config.Telegram.Channels.WhiteList
	bl := d.Config.Telegram.Channels.BlackList
	if len(wl) > 0 {
		return containsFold(wl, channelTitle)
	}
	if len(bl) > 0 {
		return !containsFold(bl, channelTitle)
	}
	return true
}

func (d *Dispatcher) symbolAllowed(symbol string) bool {
	wl := d.Config.MetaTrader.Symbols.WhiteList
	bl := d.Config.MetaTrader.Symbols.BlackList
	if len(wl) > 0 {
		return containsFold(wl, symbol)
	}
	if len(bl) > 0 {
		return !containsFold(bl, symbol)
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
