package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassOf_Unclassified(t *testing.T) {
	assert.Equal(t, ClassInvariant, ClassOf(errors.New("boom")))
}

func TestClassOf_Classified(t *testing.T) {
	err := Classify(ClassTransient, errors.New("conn reset"))
	assert.Equal(t, ClassTransient, ClassOf(err))
}

func TestRetryClient_RetriesTransientOnly(t *testing.T) {
	m := NewMock()
	rc := NewRetryClient(m, nil, RetryConfig{MaxRetries: 2, InitialBackoff: 1, MaxBackoff: 2})

	attempts := 0
	err := rc.Do(context.Background(), "test", func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return Classify(ClassTransient, errors.New("not yet"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryClient_DoesNotRetryFatal(t *testing.T) {
	m := NewMock()
	rc := NewRetryClient(m, nil)

	attempts := 0
	err := rc.Do(context.Background(), "test", func(ctx context.Context) error {
		attempts++
		return Classify(ClassFatal, errors.New("auth failed"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestMock_OrderSendDealThenPositionsGet(t *testing.T) {
	m := NewMock()
	res, err := m.OrderSend(context.Background(), OrderRequest{
		Action: ActionDeal, Symbol: "EURUSD", Type: OrderBuy,
		Volume: decimal.NewFromFloat(0.1), Price: decimal.NewFromFloat(1.085),
	})
	require.NoError(t, err)
	assert.NotZero(t, res.Ticket)

	positions, err := m.PositionsGet(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "EURUSD", positions[0].Symbol)
}

func TestMock_FailNextSendClassification(t *testing.T) {
	m := NewMock()
	m.FailNextSend = RetcodeInvalidPrice
	_, err := m.OrderSend(context.Background(), OrderRequest{Action: ActionDeal, Symbol: "EURUSD"})
	require.Error(t, err)
	assert.Equal(t, ClassRecoverable, ClassOf(err))
}

func TestBreaker_PassesThroughSuccess(t *testing.T) {
	m := NewMock()
	m.Symbols = []string{"EURUSD"}
	b := NewBreaker(m, "acct-1")
	syms, err := b.ListSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD"}, syms)
}
