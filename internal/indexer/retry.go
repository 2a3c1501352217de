package indexer

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// retryPolicy retries a startup step with doubling delays. Chunks and poll
// ticks are never retried in place.
type retryPolicy struct {
	attempts int
	delay    time.Duration
	logger   *zap.Logger
}

func newRetryPolicy(maxRetries int, baseDelay time.Duration, logger *zap.Logger) retryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	return retryPolicy{attempts: maxRetries + 1, delay: baseDelay, logger: logger}
}

func (p retryPolicy) do(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := p.delay
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == p.attempts {
			break
		}
		p.logger.Warn("retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
