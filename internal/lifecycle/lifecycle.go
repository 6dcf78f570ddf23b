// Package lifecycle implements C12: a 1Hz tick loop per broker
// account that trails stop-losses through multi-level take-profits
// and cancels pending orders once profit-taking has begun on a
// sibling entry.
package lifecycle

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/parsatrade/signalbridge/internal/action"
	"github.com/parsatrade/signalbridge/internal/broker"
	"github.com/parsatrade/signalbridge/internal/store"
)

// Engine runs the tick loop for one broker account.
type Engine struct {
	Broker       broker.Broker
	Store        *store.Store
	Logger       *log.Logger
	SaveProfits  [4]int // percentage to close at each TP level, index 0..3
	CloseOnTrail bool   // when a partial-close volume is sub-floor, close the whole position
	Interval     time.Duration
}

// NewEngine builds an Engine with a 1Hz cadence and the default
// 25/25/25/25 save-profits ladder.
func NewEngine(b broker.Broker, st *store.Store) *Engine {
	return &Engine{
		Broker: b, Store: st, Logger: log.Default(),
		SaveProfits: [4]int{25, 25, 25, 25}, CloseOnTrail: true,
		Interval: time.Second,
	}
}

// Run ticks until ctx is cancelled, finishing the in-flight iteration
// before returning (spec.md §5: "all loops finish the in-flight unit
// of work... and exit").
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	positions, err := e.Broker.PositionsGet(ctx)
	if err != nil {
		e.logBrokerError("positions get", err)
		return
	}
	orders, err := e.Broker.OrdersGet(ctx)
	if err != nil {
		e.logBrokerError("orders get", err)
		return
	}

	for _, p := range positions {
		e.trailPosition(ctx, p)
	}
	for _, o := range orders {
		e.arbitratePending(ctx, o)
	}
}

func (e *Engine) logBrokerError(op string, err error) {
	switch broker.ClassOf(err) {
	case broker.ClassTransient:
		e.Logger.Printf("lifecycle: transient error on %s, retrying on next tick: %v", op, err)
	default:
		e.Logger.Printf("lifecycle: %s abandoned: %v", op, err)
	}
}

// trailPosition implements §4.12's trailing responsibility for one
// open position.
func (e *Engine) trailPosition(ctx context.Context, p broker.Position) {
	sig, ok, err := e.Store.FindSignalByPosition(ctx, p.Ticket)
	if err != nil || !ok {
		return
	}
	if len(sig.TPList) < 2 {
		return
	}

	entryRef := e.entryReference(ctx, sig, p)

	act := action.Buy
	if !p.Type.IsBuyFamily() {
		act = action.Sell
	}
	levels := sortedTPLevels(act, sig.TPList)

	quote, err := e.Broker.Tick(ctx, p.Symbol)
	if err != nil {
		e.logBrokerError("tick", err)
		return
	}
	current := quote.Bid // exit side for a long is the bid
	if act == action.Sell {
		current = quote.Ask // exit side for a short is the ask
	}

	for i, tp := range levels {
		reached := (act == action.Buy && current.GreaterThanOrEqual(tp)) || (act == action.Sell && current.LessThanOrEqual(tp))
		slBehind := (act == action.Buy && p.SL.LessThan(tp)) || (act == action.Sell && p.SL.GreaterThan(tp))
		if !reached || !slBehind {
			continue
		}

		newSL := entryRef
		if i > 0 {
			newSL = levels[i-1]
		}
		if _, err := e.Broker.OrderSend(ctx, broker.OrderRequest{Action: broker.ActionModifySLTP, Ticket: p.Ticket, SL: newSL, TP: p.TP}); err != nil {
			e.logBrokerError("modify sl", err)
			return
		}
		e.saveProfit(ctx, p, i)
		break
	}
}

// entryReference resolves the effective entry price: second_price when
// p itself is the signal's second-entry position, else the stored
// open_price. The live fill price of the first entry is not consulted.
func (e *Engine) entryReference(ctx context.Context, sig store.Signal, p broker.Position) decimal.Decimal {
	positions, err := e.Store.PositionsOfSignal(ctx, sig.ID)
	if err != nil {
		return sig.OpenPrice
	}
	if sig.HasSecond {
		for _, dbp := range positions {
			if dbp.IsSecond && dbp.BrokerTicket == p.Ticket {
				return sig.SecondPrice
			}
		}
	}
	return sig.OpenPrice
}

func sortedTPLevels(act action.Action, tps []decimal.Decimal) []decimal.Decimal {
	out := append([]decimal.Decimal(nil), tps...)
	sort.Slice(out, func(i, j int) bool {
		if act == action.Buy {
			return out[i].LessThan(out[j])
		}
		return out[i].GreaterThan(out[j])
	})
	return out
}

// saveProfit implements save_profit_position: close the configured
// percentage of the position's volume at TP level index, closing the
// whole position when the percentage is 100 or the partial-close
// volume falls below the broker minimum and CloseOnTrail is set.
func (e *Engine) saveProfit(ctx context.Context, p broker.Position, index int) {
	if index < 0 || index >= len(e.SaveProfits) {
		return
	}
	pct := e.SaveProfits[index]
	if pct <= 0 {
		return
	}
	if pct >= 100 {
		e.closeWhole(ctx, p.Ticket)
		return
	}

	closeVolume := p.Volume.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100)).Round(2)
	if closeVolume.LessThan(decimal.NewFromFloat(0.01)) {
		if e.CloseOnTrail {
			e.closeWhole(ctx, p.Ticket)
		}
		return
	}
	if _, err := e.Broker.OrderSend(ctx, broker.OrderRequest{Action: broker.ActionClose, Ticket: p.Ticket, Volume: closeVolume}); err != nil {
		e.logBrokerError("partial close", err)
	}
}

func (e *Engine) closeWhole(ctx context.Context, ticket int64) {
	if _, err := e.Broker.OrderSend(ctx, broker.OrderRequest{Action: broker.ActionClose, Ticket: ticket}); err != nil {
		e.logBrokerError("close", err)
	}
}

// arbitratePending implements §4.12's pending-order arbitration: cancel
// a pending once the quote reaches the nearest TP and either the
// signal has no second entry, or the sibling entry is already active.
func (e *Engine) arbitratePending(ctx context.Context, o broker.Order) {
	sig, ok, err := e.Store.FindSignalByPosition(ctx, o.Ticket)
	if err != nil || !ok || len(sig.TPList) == 0 {
		return
	}

	act := action.Buy
	if !o.Type.IsBuyFamily() {
		act = action.Sell
	}
	levels := sortedTPLevels(act, sig.TPList)
	nearest := levels[0]

	quote, err := e.Broker.Tick(ctx, o.Symbol)
	if err != nil {
		e.logBrokerError("tick", err)
		return
	}
	reached := (act == action.Buy && quote.Bid.GreaterThanOrEqual(nearest)) || (act == action.Sell && quote.Ask.LessThanOrEqual(nearest))
	if !reached {
		return
	}

	if !sig.HasSecond {
		e.cancelPending(ctx, o.Ticket, "no second entry configured")
		return
	}

	positions, err := e.Store.PositionsOfSignal(ctx, sig.ID)
	if err != nil {
		return
	}
	livePositions, err := e.Broker.PositionsGet(ctx)
	if err != nil {
		e.logBrokerError("positions get", err)
		return
	}
	for _, dbp := range positions {
		if dbp.BrokerTicket == o.Ticket {
			continue
		}
		for _, live := range livePositions {
			if live.Ticket == dbp.BrokerTicket {
				e.cancelPending(ctx, o.Ticket, "sibling entry already active")
				return
			}
		}
	}
}

func (e *Engine) cancelPending(ctx context.Context, ticket int64, reason string) {
	e.Logger.Printf("lifecycle: cancelling pending order %d: %s", ticket, reason)
	if _, err := e.Broker.OrderSend(ctx, broker.OrderRequest{Action: broker.ActionRemove, Ticket: ticket}); err != nil {
		e.logBrokerError("cancel pending", err)
	}
}
