package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/parsatrade/signalbridge/internal/broker"
	"github.com/parsatrade/signalbridge/internal/store"
)

func newTestServer(t *testing.T, authToken string) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), "file::memory:?cache=shared", true, 16, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	b := broker.NewMock()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := NewServer(Config{Port: 0, AuthToken: authToken}, st, b, logger)
	return s, st
}

func TestHealthIsAlwaysPublic(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSignalsRequireAuthWhenConfigured(t *testing.T) {
	s, _ := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/signals", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/api/signals?token=secret", nil)
	rec2 := httptest.NewRecorder()
	s.router.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}

func TestGetSignalsListsRecentWithPositions(t *testing.T) {
	s, st := newTestServer(t, "")

	sig := store.Signal{
		SourceChannelTitle: "Gold VIP",
		SourceMessageID:    7,
		SourceChatID:       1001,
		OpenPrice:          decimal.NewFromFloat(2360.5),
		StopLoss:           decimal.NewFromFloat(2355),
		TPList:             []decimal.Decimal{decimal.NewFromFloat(2365)},
		Symbol:             "XAUUSD",
		CreatedAt:          "2026-07-31 10:00:00",
	}
	_, _, err := st.InsertSignalAndFirstPosition(context.Background(), sig, 1, 555)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/signals", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var views []SignalView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	require.Equal(t, "XAUUSD", views[0].Symbol)
	require.Equal(t, []int64{555}, views[0].Positions)
}

func TestGetPositionsProxiesBroker(t *testing.T) {
	s, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var positions []broker.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &positions))
}
