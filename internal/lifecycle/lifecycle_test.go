package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parsatrade/signalbridge/internal/broker"
	"github.com/parsatrade/signalbridge/internal/store"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newFixtures(t *testing.T) (*Engine, *broker.Mock, *store.Store) {
	t.Helper()
	m := broker.NewMock()
	m.Symbols = []string{"XAUUSD"}
	m.SymbolInfos["XAUUSD"] = broker.SymbolInfo{Symbol: "XAUUSD", TickSize: d("0.01"), TickValue: d("1")}
	m.SetQuote("XAUUSD", d("2365"), d("0"))

	st, err := store.Open(context.Background(), "file::memory:?cache=shared", false, 16, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	e := NewEngine(m, st)
	e.SaveProfits = [4]int{25, 25, 25, 25}
	return e, m, st
}

func TestTrailPosition_MovesSLToEntryOnFirstReachedLevel(t *testing.T) {
	e, m, st := newFixtures(t)

	res, err := m.OrderSend(context.Background(), broker.OrderRequest{
		Action: broker.ActionDeal, Symbol: "XAUUSD", Type: broker.OrderBuy,
		Volume: d("1.0"), Price: d("2360"), SL: d("2355"),
	})
	require.NoError(t, err)

	sig := store.Signal{
		SourceChannelTitle: "Gold VIP", SourceChatID: 1,
		OpenPrice: d("2360"), StopLoss: d("2355"),
		TPList: []decimal.Decimal{d("2362"), d("2365"), d("2370")},
		Symbol: "XAUUSD", CreatedAt: "2026-07-31 10:00:00",
	}
	_, _, err = st.InsertSignalAndFirstPosition(context.Background(), sig, 1, res.Ticket)
	require.NoError(t, err)

	positions, err := m.PositionsGet(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	p := positions[0]
	p.Ticket = res.Ticket

	e.trailPosition(context.Background(), p)

	updated, err := m.PositionsGet(context.Background())
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.True(t, updated[0].SL.Equal(d("2360")), "SL should move to entry reference on first TP level reached")
}

func TestArbitratePending_CancelsWhenNoSecondEntry(t *testing.T) {
	e, m, st := newFixtures(t)

	res, err := m.OrderSend(context.Background(), broker.OrderRequest{
		Action: broker.ActionPending, Symbol: "XAUUSD", Type: broker.OrderBuyStop,
		Volume: d("1.0"), Price: d("2365"),
	})
	require.NoError(t, err)

	sig := store.Signal{
		SourceChannelTitle: "Gold VIP", SourceChatID: 1,
		OpenPrice: d("2360"), StopLoss: d("2355"),
		TPList: []decimal.Decimal{d("2362")},
		Symbol: "XAUUSD", CreatedAt: "2026-07-31 10:00:00",
	}
	_, _, err = st.InsertSignalAndFirstPosition(context.Background(), sig, 1, res.Ticket)
	require.NoError(t, err)

	m.SetQuote("XAUUSD", d("2362"), d("0"))

	e.arbitratePending(context.Background(), broker.Order{
		Ticket: res.Ticket, Symbol: "XAUUSD", Type: broker.OrderBuyStop,
	})

	orders, err := m.OrdersGet(context.Background())
	require.NoError(t, err)
	for _, o := range orders {
		assert.NotEqual(t, res.Ticket, o.Ticket)
	}
}

func TestSaveProfit_FullCloseAtHundredPercent(t *testing.T) {
	e, m, _ := newFixtures(t)
	e.SaveProfits = [4]int{100, 100, 100, 100}

	res, err := m.OrderSend(context.Background(), broker.OrderRequest{
		Action: broker.ActionDeal, Symbol: "XAUUSD", Type: broker.OrderBuy,
		Volume: d("1.0"), Price: d("2360"), SL: d("2355"),
	})
	require.NoError(t, err)

	e.saveProfit(context.Background(), broker.Position{Ticket: res.Ticket, Volume: d("1.0")}, 0)

	positions, err := m.PositionsGet(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestSaveProfit_PartialCloseBelowFloorClosesWholeWhenConfigured(t *testing.T) {
	e, m, _ := newFixtures(t)
	e.CloseOnTrail = true

	res, err := m.OrderSend(context.Background(), broker.OrderRequest{
		Action: broker.ActionDeal, Symbol: "XAUUSD", Type: broker.OrderBuy,
		Volume: d("0.01"), Price: d("2360"), SL: d("2355"),
	})
	require.NoError(t, err)

	e.saveProfit(context.Background(), broker.Position{Ticket: res.Ticket, Volume: d("0.01")}, 0)

	positions, err := m.PositionsGet(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}
