package broker

import (
	"context"
	"log"
	"time"
)

// RetryConfig controls the backoff applied to transient-class broker
// errors. Structurally adapted from the teacher's
// retry.Config/DefaultConfig (internal/retry/client.go), generalized
// from a single Tradier close-position operation to any broker call.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig matches spec.md §7.3's five-second transient
// backoff, capped growth to avoid unbounded waits on a dead session.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     3,
	InitialBackoff: 5 * time.Second,
	MaxBackoff:     30 * time.Second,
}

// RetryClient wraps a Broker and retries only ClassTransient failures
// with capped exponential backoff; every other error class is returned
// immediately for the caller to handle per the §7 taxonomy.
type RetryClient struct {
	broker Broker
	logger *log.Logger
	config RetryConfig
}

// NewRetryClient builds a RetryClient; a nil logger defaults to
// log.Default(), an omitted config is DefaultRetryConfig, and a
// negative MaxRetries or a non-positive backoff field falls back to
// DefaultRetryConfig's value (a MaxRetries of zero is kept: one attempt,
// no retries), matching the teacher's constructor shape.
func NewRetryClient(b Broker, logger *log.Logger, config ...RetryConfig) *RetryClient {
	cfg := DefaultRetryConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultRetryConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultRetryConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultRetryConfig.MaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &RetryClient{broker: b, logger: logger, config: cfg}
}

// Do runs op, retrying with backoff while the returned error classifies
// as ClassTransient. State is preserved across retries (the caller's
// closure, not this client, owns any in-flight request data).
func (c *RetryClient) Do(ctx context.Context, opName string, op func(ctx context.Context) error) error {
	backoff := c.config.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if ClassOf(lastErr) != ClassTransient {
			return lastErr
		}

		c.logger.Printf("broker op %q transient failure (attempt %d/%d): %v", opName, attempt+1, c.config.MaxRetries+1, lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.config.MaxBackoff {
			backoff = c.config.MaxBackoff
		}
	}
	return lastErr
}
