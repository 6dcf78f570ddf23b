package broker

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Serializer wraps a Broker with the two semaphores spec.md §5 asks
// for: a size-1 session gate around calls that mutate or depend on the
// terminal's single login state (Login, OrderSend), and a size-3 read
// pool around the independent lookups (quotes, symbol info, position
// and order listing) so concurrent dispatches and command handling
// don't serialize on each other's reads the way they must serialize on
// writes. ServerTime rides the read pool; it is a lookup, not a
// mutation.
type Serializer struct {
	underlying Broker
	session    *semaphore.Weighted
	reads      *semaphore.Weighted
}

// NewSerializer builds a Serializer around underlying.
func NewSerializer(underlying Broker) *Serializer {
	return &Serializer{
		underlying: underlying,
		session:    semaphore.NewWeighted(1),
		reads:      semaphore.NewWeighted(3),
	}
}

func (s *Serializer) withSession(ctx context.Context, fn func() error) error {
	if err := s.session.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.session.Release(1)
	return fn()
}

func (s *Serializer) withRead(ctx context.Context, fn func() error) error {
	if err := s.reads.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.reads.Release(1)
	return fn()
}

func (s *Serializer) Login(ctx context.Context) error {
	return s.withSession(ctx, func() error { return s.underlying.Login(ctx) })
}

func (s *Serializer) ListSymbols(ctx context.Context) ([]string, error) {
	var out []string
	err := s.withRead(ctx, func() error {
		var innerErr error
		out, innerErr = s.underlying.ListSymbols(ctx)
		return innerErr
	})
	return out, err
}

func (s *Serializer) SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	var out SymbolInfo
	err := s.withRead(ctx, func() error {
		var innerErr error
		out, innerErr = s.underlying.SymbolInfo(ctx, symbol)
		return innerErr
	})
	return out, err
}

func (s *Serializer) Tick(ctx context.Context, symbol string) (Quote, error) {
	var out Quote
	err := s.withRead(ctx, func() error {
		var innerErr error
		out, innerErr = s.underlying.Tick(ctx, symbol)
		return innerErr
	})
	return out, err
}

func (s *Serializer) PositionsGet(ctx context.Context) ([]Position, error) {
	var out []Position
	err := s.withRead(ctx, func() error {
		var innerErr error
		out, innerErr = s.underlying.PositionsGet(ctx)
		return innerErr
	})
	return out, err
}

func (s *Serializer) OrdersGet(ctx context.Context) ([]Order, error) {
	var out []Order
	err := s.withRead(ctx, func() error {
		var innerErr error
		out, innerErr = s.underlying.OrdersGet(ctx)
		return innerErr
	})
	return out, err
}

func (s *Serializer) OrderSend(ctx context.Context, req OrderRequest) (OrderResult, error) {
	var out OrderResult
	err := s.withSession(ctx, func() error {
		var innerErr error
		out, innerErr = s.underlying.OrderSend(ctx, req)
		return innerErr
	})
	return out, err
}

func (s *Serializer) ServerTime(ctx context.Context) (time.Time, error) {
	var out time.Time
	err := s.withRead(ctx, func() error {
		var innerErr error
		out, innerErr = s.underlying.ServerTime(ctx)
		return innerErr
	})
	return out, err
}

var _ Broker = (*Serializer)(nil)
