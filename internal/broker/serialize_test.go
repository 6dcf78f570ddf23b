package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializer_PassesThroughSuccess(t *testing.T) {
	m := NewMock()
	m.Symbols = []string{"EURUSD"}
	s := NewSerializer(m)
	syms, err := s.ListSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD"}, syms)
}

// blockingBroker counts the high-water mark of concurrent calls in
// flight so the test can assert the session gate never lets more than
// one caller through at a time.
type blockingBroker struct {
	Broker
	inFlight int32
	maxSeen  int32
	delay    time.Duration
}

func (b *blockingBroker) Login(ctx context.Context) error {
	n := atomic.AddInt32(&b.inFlight, 1)
	for {
		seen := atomic.LoadInt32(&b.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&b.maxSeen, seen, n) {
			break
		}
	}
	time.Sleep(b.delay)
	atomic.AddInt32(&b.inFlight, -1)
	return nil
}

func TestSerializer_SessionGateIsExclusive(t *testing.T) {
	inner := &blockingBroker{Broker: NewMock(), delay: 10 * time.Millisecond}
	s := NewSerializer(inner)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Login(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.maxSeen))
}

func TestSerializer_SessionGateRespectsContextCancellation(t *testing.T) {
	inner := &blockingBroker{Broker: NewMock(), delay: 50 * time.Millisecond}
	s := NewSerializer(inner)

	go func() { _ = s.Login(context.Background()) }()
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Millisecond)
	defer cancel()
	err := s.Login(ctx)
	require.Error(t, err)
}
