package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parsatrade/signalbridge/internal/action"
	"github.com/parsatrade/signalbridge/internal/broker"
	"github.com/parsatrade/signalbridge/internal/config"
	"github.com/parsatrade/signalbridge/internal/orders"
	"github.com/parsatrade/signalbridge/internal/signal"
	"github.com/parsatrade/signalbridge/internal/store"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newFixtures(t *testing.T) (*Dispatcher, *broker.Mock, *store.Store) {
	t.Helper()
	m := broker.NewMock()
	m.Symbols = []string{"XAUUSD"}
	m.SymbolInfos["XAUUSD"] = broker.SymbolInfo{Symbol: "XAUUSD", TickSize: d("0.01"), TickValue: d("1")}
	m.SetQuote("XAUUSD", d("2360"), d("0"))

	st, err := store.Open(context.Background(), "file::memory:?cache=shared", false, 16, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{MetaTrader: config.MetaTraderConfig{Lot: "0.1", AccountSize: 10000}}
	cfg.Normalize()

	compiler := orders.NewCompiler(m)
	disp := New(cfg, st, m, compiler, 1)
	return disp, m, st
}

func TestDispatch_S1_OpensFirstEntryAndPersists(t *testing.T) {
	disp, _, st := newFixtures(t)
	ps := signal.ParsedSignal{
		Action: action.Buy, Symbol: "XAUUSD",
		FirstPrice: d("2360"), StopLoss: d("2355"),
		TakeProfits: []decimal.Decimal{d("2365"), d("2370")},
	}

	signalID, accepted, err := disp.Dispatch(context.Background(), Meta{ChatID: 1, ChannelTitle: "Gold VIP"}, ps)
	require.NoError(t, err)
	require.True(t, accepted)
	assert.NotZero(t, signalID)

	positions, err := st.PositionsOfSignal(context.Background(), signalID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].IsFirst)
}

func TestDispatch_RejectsGatedChannel(t *testing.T) {
	disp, _, _ := newFixtures(t)
	disp.Config.Telegram.Channels.WhiteList = []string{"Allowed Channel"}

	ps := signal.ParsedSignal{Action: action.Buy, Symbol: "XAUUSD", FirstPrice: d("2360"), StopLoss: d("2355")}
	_, accepted, err := disp.Dispatch(context.Background(), Meta{ChannelTitle: "Other Channel"}, ps)
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestDispatch_RejectsGatedSymbol(t *testing.T) {
	disp, _, _ := newFixtures(t)
	disp.Config.MetaTrader.Symbols.BlackList = []string{"XAUUSD"}

	ps := signal.ParsedSignal{Action: action.Buy, Symbol: "XAUUSD", FirstPrice: d("2360"), StopLoss: d("2355")}
	_, accepted, err := disp.Dispatch(context.Background(), Meta{ChannelTitle: "Gold VIP"}, ps)
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestDispatch_ReusesExactMatchInsteadOfReopening(t *testing.T) {
	disp, _, st := newFixtures(t)
	ps := signal.ParsedSignal{
		Action: action.Buy, Symbol: "XAUUSD",
		FirstPrice: d("2360"), StopLoss: d("2355"),
	}

	id1, accepted, err := disp.Dispatch(context.Background(), Meta{ChannelTitle: "Gold VIP"}, ps)
	require.NoError(t, err)
	require.True(t, accepted)

	id2, accepted, err := disp.Dispatch(context.Background(), Meta{ChannelTitle: "Gold VIP"}, ps)
	require.NoError(t, err)
	require.True(t, accepted)
	assert.Equal(t, id1, id2)

	positions, err := st.PositionsOfSignal(context.Background(), id1)
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestSwapIfInverted_BuyInverted(t *testing.T) {
	first, second := swapIfInverted(action.Buy, d("2370"), d("2360"))
	assert.True(t, first.Equal(d("2360")))
	assert.True(t, second.Equal(d("2370")))
}

func TestAggregateTakeProfit_BuyTakesMax(t *testing.T) {
	tp, ok := aggregateTakeProfit(action.Buy, []decimal.Decimal{d("2365"), d("2380"), d("2370")})
	require.True(t, ok)
	assert.True(t, tp.Equal(d("2380")))
}

func TestAggregateTakeProfit_SellTakesMin(t *testing.T) {
	tp, ok := aggregateTakeProfit(action.Sell, []decimal.Decimal{d("2365"), d("2380"), d("2370")})
	require.True(t, ok)
	assert.True(t, tp.Equal(d("2365")))
}
