// Package broker defines the boundary between this system and the
// external broker terminal (an MT4/5-shaped session: login, symbol
// enumeration, live quotes, position/order listing, order submission).
// It is deliberately an interface plus a mock: the concrete terminal
// binding is out of scope (spec.md §1), thin plumbing over a
// well-documented third-party surface.
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is the closed tagged union of order directions the broker
// accepts, mirroring MT5's ORDER_TYPE_* constants.
type OrderType int

const (
	OrderBuy OrderType = iota
	OrderSell
	OrderBuyStop
	OrderBuyLimit
	OrderSellStop
	OrderSellLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderBuy:
		return "Buy"
	case OrderSell:
		return "Sell"
	case OrderBuyStop:
		return "BuyStop"
	case OrderBuyLimit:
		return "BuyLimit"
	case OrderSellStop:
		return "SellStop"
	case OrderSellLimit:
		return "SellLimit"
	default:
		return "Unknown"
	}
}

// IsBuyFamily reports whether t is one of the three buy-side variants.
func (t OrderType) IsBuyFamily() bool {
	return t == OrderBuy || t == OrderBuyStop || t == OrderBuyLimit
}

// IsMarket reports whether t is a plain market order (no pending leg).
func (t OrderType) IsMarket() bool {
	return t == OrderBuy || t == OrderSell
}

// TradeAction is the closed tagged union of request actions, mirroring
// MT5's TRADE_ACTION_* constants.
type TradeAction int

const (
	ActionDeal TradeAction = iota
	ActionPending
	ActionModifySLTP
	ActionRemove
	// ActionClose closes a position fully, or partially when Volume is
	// less than the position's full volume.
	ActionClose
)

// FillPolicy and TimeInForce are the two request-level policy enums
// named in spec.md §6.
type FillPolicy int

const (
	FillIOC FillPolicy = iota
)

type TimeInForce int

const (
	TimeGTC TimeInForce = iota
	TimeSpecified
)

// MagicNumber tags every order this system places so the lifecycle
// engine can distinguish its own orders from manually placed ones.
const MagicNumber = 2025

// Quote is a symbol's current bid/ask snapshot.
type Quote struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Time   time.Time
}

// SymbolInfo carries the tick grid and digit precision a symbol trades
// with, consulted by RiskSizer and OrderCompiler.
type SymbolInfo struct {
	Symbol    string
	TickSize  decimal.Decimal
	TickValue decimal.Decimal
	Digits    int
	Point     decimal.Decimal
}

// Position is an open broker position (a filled order).
type Position struct {
	Ticket int64
	Symbol string
	Type   OrderType
	Volume decimal.Decimal
	Open   decimal.Decimal
	SL     decimal.Decimal
	TP     decimal.Decimal
}

// Order is a pending (unfilled) broker order.
type Order struct {
	Ticket     int64
	Symbol     string
	Type       OrderType
	Volume     decimal.Decimal
	Price      decimal.Decimal
	SL         decimal.Decimal
	TP         decimal.Decimal
	Expiration time.Time
}

// OrderRequest is the broker request OrderCompiler assembles.
type OrderRequest struct {
	Action     TradeAction
	Symbol     string
	Volume     decimal.Decimal
	Type       OrderType
	Price      decimal.Decimal
	SL         decimal.Decimal
	TP         decimal.Decimal
	Filling    FillPolicy
	TimeInForce TimeInForce
	Expiration time.Time
	Magic      int
	Ticket     int64 // set for modify/remove requests
}

// OrderResult is the broker's response to OrderSend.
type OrderResult struct {
	RetCode int
	Ticket  int64
	Comment string
}

// Retcode constants this system inspects explicitly (§4.8, §7).
const (
	RetcodeInvalidPrice      = 10015
	RetcodeAlgoTradingDisabled = 10027
)

// Broker is the consumed boundary: every blocking call takes a
// context so the caller's cooperative scheduler can cancel it on
// shutdown (spec.md §5).
type Broker interface {
	Login(ctx context.Context) error
	ListSymbols(ctx context.Context) ([]string, error)
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	Tick(ctx context.Context, symbol string) (Quote, error)
	PositionsGet(ctx context.Context) ([]Position, error)
	OrdersGet(ctx context.Context) ([]Order, error)
	OrderSend(ctx context.Context, req OrderRequest) (OrderResult, error)
	ServerTime(ctx context.Context) (time.Time, error)
}

// ErrorClass is the closed taxonomy of broker error handling buckets
// from spec.md §7, consulted by the lifecycle engine, the order
// compiler and RetryClient to decide retry vs. abandon vs. log-and-skip.
type ErrorClass int

const (
	// ClassNone means the call succeeded.
	ClassNone ErrorClass = iota
	// ClassTransient: connection lost, rate limited, terminal not
	// initialized. Back off five seconds and retry.
	ClassTransient
	// ClassRecoverable: invalid-price (retry once as market),
	// duplicate position (skip silently).
	ClassRecoverable
	// ClassFatal: algo-trading disabled, symbol unknown, auth failure.
	// Log critical, abandon the operation.
	ClassFatal
	// ClassDataIntegrity: mismatched digit-length, signal not found.
	// Log debug, skip the update.
	ClassDataIntegrity
	// ClassInvariant: an internal invariant was violated (e.g. a
	// position with no signal). Log error, skip.
	ClassInvariant
)

// ClassifiedError pairs an error with its handling class.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (c *ClassifiedError) Error() string { return c.Err.Error() }
func (c *ClassifiedError) Unwrap() error { return c.Err }

// Classify wraps err with class for propagation through the taxonomy.
func Classify(class ErrorClass, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Err: err}
}

// ClassOf extracts the ErrorClass from err, defaulting to
// ClassInvariant for anything not explicitly classified (spec.md §7:
// "any uncategorized error is logged at error level").
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var ce *ClassifiedError
	for e := err; e != nil; {
		if c, ok := e.(*ClassifiedError); ok {
			ce = c
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if ce != nil {
		return ce.Class
	}
	return ClassInvariant
}
