package coordinator

import (
	"context"
	"errors"
	"time"

	"venue-jukebox-go/internal/points"
	"venue-jukebox-go/internal/queue"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// transient reports whether a compensation step may succeed on retry.
func transient(err error) bool {
	return errors.Is(err, queue.ErrStoreUnavailable) ||
		errors.Is(err, points.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// retry runs a compensation step until it succeeds, fails permanently, the
// attempts run out or ctx expires.
func (c *Coordinator) retry(ctx context.Context, step, correlationId string, fn func(context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.opts.CompensationBackoff),
		backoff.WithMaxInterval(20*c.opts.CompensationBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.opts.CompensationAttempts-1)), ctx)

	return backoff.RetryNotify(operation, b, func(err error, wait time.Duration) {
		zap.L().Warn("Compensation step failed, retrying",
			zap.String("step", step),
			zap.String("correlation_id", correlationId),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	})
}
