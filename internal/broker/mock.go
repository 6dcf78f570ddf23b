package broker

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// secureFloat64 returns a uniform float in [0,1) using crypto/rand,
// the same jitter-safe pattern the teacher's internal/mock/mock_data.go
// used for option-price/IV simulation, repurposed here for quote
// jitter instead of option pricing.
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return 0.5
	}
	return float64(n.Int64()) / float64(1<<53)
}

// Mock is a deterministic in-memory broker for tests: it never talks
// to a real terminal, and every mutation is visible to the next call
// on the same instance (no hidden async settlement).
type Mock struct {
	mu sync.Mutex

	Symbols     []string
	Quotes      map[string]Quote
	SymbolInfos map[string]SymbolInfo
	positions   []Position
	orders      []Order
	nextTicket  int64

	// FailNextSend, when non-zero, makes the next OrderSend return a
	// ClassifiedError with this retcode before clearing itself.
	FailNextSend int

	// OnOrderSend, when set, is invoked for every accepted order so
	// tests can assert on the request shape.
	OnOrderSend func(OrderRequest)
}

// NewMock builds an empty Mock broker.
func NewMock() *Mock {
	return &Mock{
		Quotes:      map[string]Quote{},
		SymbolInfos: map[string]SymbolInfo{},
		nextTicket:  1,
	}
}

func (m *Mock) Login(ctx context.Context) error { return nil }

func (m *Mock) ListSymbols(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Symbols))
	copy(out, m.Symbols)
	return out, nil
}

func (m *Mock) SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.SymbolInfos[symbol]
	if !ok {
		return SymbolInfo{}, Classify(ClassFatal, errSymbolUnknown(symbol))
	}
	return info, nil
}

func (m *Mock) Tick(ctx context.Context, symbol string) (Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.Quotes[symbol]
	if !ok {
		return Quote{}, Classify(ClassFatal, errSymbolUnknown(symbol))
	}
	return q, nil
}

func (m *Mock) PositionsGet(ctx context.Context) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, len(m.positions))
	copy(out, m.positions)
	return out, nil
}

func (m *Mock) OrdersGet(ctx context.Context) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, len(m.orders))
	copy(out, m.orders)
	return out, nil
}

func (m *Mock) OrderSend(ctx context.Context, req OrderRequest) (OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNextSend != 0 {
		code := m.FailNextSend
		m.FailNextSend = 0
		class := ClassFatal
		if code == RetcodeInvalidPrice {
			class = ClassRecoverable
		}
		return OrderResult{RetCode: code}, Classify(class, errRetcode(code))
	}

	if m.OnOrderSend != nil {
		m.OnOrderSend(req)
	}

	ticket := m.nextTicket
	m.nextTicket++

	switch req.Action {
	case ActionDeal:
		m.positions = append(m.positions, Position{
			Ticket: ticket, Symbol: req.Symbol, Type: req.Type,
			Volume: req.Volume, Open: req.Price, SL: req.SL, TP: req.TP,
		})
	case ActionPending:
		m.orders = append(m.orders, Order{
			Ticket: ticket, Symbol: req.Symbol, Type: req.Type,
			Volume: req.Volume, Price: req.Price, SL: req.SL, TP: req.TP,
			Expiration: req.Expiration,
		})
	case ActionModifySLTP:
		for i := range m.positions {
			if m.positions[i].Ticket == req.Ticket {
				m.positions[i].SL = req.SL
				m.positions[i].TP = req.TP
			}
		}
	case ActionRemove:
		for i := range m.orders {
			if m.orders[i].Ticket == req.Ticket {
				m.orders = append(m.orders[:i], m.orders[i+1:]...)
				break
			}
		}
	case ActionClose:
		for i := range m.positions {
			if m.positions[i].Ticket != req.Ticket {
				continue
			}
			if req.Volume.IsZero() || req.Volume.GreaterThanOrEqual(m.positions[i].Volume) {
				m.positions = append(m.positions[:i], m.positions[i+1:]...)
			} else {
				m.positions[i].Volume = m.positions[i].Volume.Sub(req.Volume)
			}
			break
		}
	}

	return OrderResult{RetCode: 10009, Ticket: ticket}, nil // 10009 == TRADE_RETCODE_DONE
}

func (m *Mock) ServerTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

// SetQuote installs a quote of mid minus/plus spread, shifted by a
// small crypto/rand-sourced jitter (up to 1% of spread, zero when
// spread is zero). The jitter is drawn once per SetQuote call; Tick
// then returns that stored quote unchanged until the next SetQuote.
func (m *Mock) SetQuote(symbol string, mid decimal.Decimal, spread decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jitter := decimal.NewFromFloat(secureFloat64()).Mul(spread).Div(decimal.NewFromInt(100))
	m.Quotes[symbol] = Quote{
		Symbol: symbol,
		Bid:    mid.Sub(spread).Add(jitter),
		Ask:    mid.Add(spread).Add(jitter),
		Time:   time.Now(),
	}
}

// ClosePosition removes a position ticket, simulating a filled close.
func (m *Mock) ClosePosition(ticket int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.positions {
		if m.positions[i].Ticket == ticket {
			m.positions = append(m.positions[:i], m.positions[i+1:]...)
			return
		}
	}
}

type mockError string

func (e mockError) Error() string { return string(e) }

func errSymbolUnknown(symbol string) error { return mockError("unknown symbol: " + symbol) }
func errRetcode(code int) error            { return mockError(fmt.Sprintf("broker retcode error %d", code)) }

var _ Broker = (*Mock)(nil)
