package orders

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parsatrade/signalbridge/internal/action"
	"github.com/parsatrade/signalbridge/internal/broker"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newMockWithGold() *broker.Mock {
	m := broker.NewMock()
	m.Symbols = []string{"XAUUSD", "EURUSD"}
	m.SymbolInfos["XAUUSD"] = broker.SymbolInfo{Symbol: "XAUUSD", TickSize: d("0.01"), TickValue: d("1")}
	m.SymbolInfos["EURUSD"] = broker.SymbolInfo{Symbol: "EURUSD", TickSize: d("0.0001"), TickValue: d("10")}
	m.SetQuote("XAUUSD", d("2360"), d("0"))
	m.SetQuote("EURUSD", d("1.0850"), d("0"))
	return m
}

func TestDetermineOrderType_MarketWindow(t *testing.T) {
	m := newMockWithGold()
	c := NewCompiler(m)
	c.MarketWindow = MarketWindow{Symbol: "XAUUSD", Threshold: d("2")}

	quote, _ := m.Tick(context.Background(), "XAUUSD")
	typ := c.DetermineOrderType("XAUUSD", action.Buy, quote.Ask.Add(d("1")), quote.Ask)
	assert.Equal(t, broker.OrderBuy, typ)
}

func TestDetermineOrderType_BuyStopOutsideWindow(t *testing.T) {
	m := newMockWithGold()
	c := NewCompiler(m)
	c.MarketWindow = MarketWindow{Symbol: "XAUUSD", Threshold: d("2")}

	quote, _ := m.Tick(context.Background(), "XAUUSD")
	typ := c.DetermineOrderType("XAUUSD", action.Buy, quote.Ask.Add(d("10")), quote.Ask)
	assert.Equal(t, broker.OrderBuyStop, typ)
}

func TestDetermineOrderType_FourWayForOtherSymbols(t *testing.T) {
	m := newMockWithGold()
	c := NewCompiler(m)

	quote, _ := m.Tick(context.Background(), "EURUSD")
	buyStop := c.DetermineOrderType("EURUSD", action.Buy, quote.Ask.Add(d("0.01")), quote.Ask)
	assert.Equal(t, broker.OrderBuyStop, buyStop)

	buyLimit := c.DetermineOrderType("EURUSD", action.Buy, quote.Ask.Sub(d("0.01")), quote.Ask)
	assert.Equal(t, broker.OrderBuyLimit, buyLimit)

	sellLimit := c.DetermineOrderType("EURUSD", action.Sell, quote.Bid.Add(d("0.01")), quote.Bid)
	assert.Equal(t, broker.OrderSellLimit, sellLimit)

	sellStop := c.DetermineOrderType("EURUSD", action.Sell, quote.Bid.Sub(d("0.01")), quote.Bid)
	assert.Equal(t, broker.OrderSellStop, sellStop)
}

func TestOpen_DedupSuppressesSecondIdenticalOpen(t *testing.T) {
	// Property 6: any_position_by_data is reflexive.
	m := newMockWithGold()
	c := NewCompiler(m)

	req := OpenRequest{
		Symbol: "EURUSD", Action: action.Buy,
		Price: d("1.0850"), SL: d("1.0800"), TP: d("1.0900"), Lot: d("0.1"),
	}
	res1, err := c.Open(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res1.Skipped)

	res2, err := c.Open(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res2.Skipped)
}

func TestOpen_RetriesAsMarketOnInvalidPrice(t *testing.T) {
	m := newMockWithGold()
	m.FailNextSend = broker.RetcodeInvalidPrice
	c := NewCompiler(m)

	req := OpenRequest{
		Symbol: "EURUSD", Action: action.Buy,
		Price: d("1.0900"), SL: d("1.0800"), TP: d("1.0950"), Lot: d("0.1"),
	}
	res, err := c.Open(context.Background(), req)
	require.NoError(t, err)
	assert.NotZero(t, res.Ticket)
}
