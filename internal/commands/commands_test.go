package commands

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/parsatrade/signalbridge/internal/broker"
	"github.com/parsatrade/signalbridge/internal/chatfeed"
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

func newFixtures(t *testing.T) (*Router, *broker.Mock, *store.Store, int64) {
	t.Helper()
	m := broker.NewMock()
	m.Symbols = []string{"XAUUSD"}
	m.SymbolInfos["XAUUSD"] = broker.SymbolInfo{Symbol: "XAUUSD", TickSize: d("0.01"), TickValue: d("1")}
	m.SetQuote("XAUUSD", d("2360"), d("0"))

	st, err := store.Open(context.Background(), "file::memory:?cache=shared", false, 16, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sig := store.Signal{
		SourceChannelTitle: "Gold VIP", SourceMessageID: 10, SourceChatID: 555,
		OpenPrice: d("2360"), StopLoss: d("2355"),
		TPList: []decimal.Decimal{d("2365")}, Symbol: "XAUUSD",
		CreatedAt: "2026-07-31 10:00:00",
	}
	signalID, _, err := st.InsertSignalAndFirstPosition(context.Background(), sig, 1, 9001)
	require.NoError(t, err)

	router := NewRouter(st, m, signal.NewParser(), 2)
	return router, m, st, signalID
}

func TestHandle_InlineStopLossEdit_SameDigitLength(t *testing.T) {
	router, m, st, signalID := newFixtures(t)

	err := router.Handle(context.Background(), chatfeed.Message{
		ChatID: 555, Text: "edit sl @2350",
	})
	require.NoError(t, err)

	positions, err := st.PositionsOfSignal(context.Background(), signalID)
	require.NoError(t, err)
	require.Len(t, positions, 1)

	found, ok, err := st.FindSignalByChat(context.Background(), 555, 0, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, found.StopLoss.Equal(d("2350")))
	_ = m
}

func TestHandle_InlineStopLossEdit_DigitLengthMismatchRejected(t *testing.T) {
	router, _, st, _ := newFixtures(t)

	err := router.Handle(context.Background(), chatfeed.Message{
		ChatID: 555, Text: "edit sl @99999",
	})
	require.NoError(t, err)

	found, ok, err := st.FindSignalByChat(context.Background(), 555, 0, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, found.StopLoss.Equal(d("2355")), "mismatched digit length must be rejected, not truncated")
}

func TestHandle_ReplyDelete_RemovesSignal(t *testing.T) {
	router, _, st, signalID := newFixtures(t)

	err := router.Handle(context.Background(), chatfeed.Message{
		ChatID: 555, MessageID: 20, Kind: chatfeed.KindReply, ReplyToMessageID: 10,
		Text: "delete this",
	})
	require.NoError(t, err)

	positions, err := st.PositionsOfSignal(context.Background(), signalID)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestHandle_ReplyRiskFree_MovesSLAndClosesHalf(t *testing.T) {
	router, m, st, _ := newFixtures(t)

	err := router.Handle(context.Background(), chatfeed.Message{
		ChatID: 555, MessageID: 20, Kind: chatfeed.KindReply, ReplyToMessageID: 10,
		Text: "risk free",
	})
	require.NoError(t, err)

	found, ok, err := st.FindSignalByChat(context.Background(), 555, 0, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, found.StopLoss.Equal(d("2360")))
	_ = m
}

func TestSubmit_RunsUnderWorkerPool(t *testing.T) {
	router, _, _, _ := newFixtures(t)
	g, ctx := errgroup.WithContext(context.Background())

	for i := 0; i < 3; i++ {
		err := router.Submit(ctx, g, chatfeed.Message{ChatID: 555, Text: "edit sl @2350"})
		require.NoError(t, err)
	}
	require.NoError(t, g.Wait())
}
