/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package points

import (
	"context"
	"errors"
	"fmt"
	"time"

	"venue-jukebox-go/internal/models"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var _ Client = (*RetryingClient)(nil)

// RetryingClient bounds every call with a per-attempt timeout and retries
// unavailable outcomes with exponential backoff. Retries reuse the request
// unchanged, so the correlation id keeps them idempotent.
type RetryingClient struct {
	next           Client
	callTimeout    time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewRetryingClient(next Client, cfg models.PointsConfig) *RetryingClient {
	c := &RetryingClient{
		next:           next,
		callTimeout:    cfg.CallTimeout,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
	}
	if c.callTimeout <= 0 {
		c.callTimeout = 3 * time.Second
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 1
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = 100 * time.Millisecond
	}
	if c.maxBackoff < c.initialBackoff {
		c.maxBackoff = c.initialBackoff
	}
	return c
}

func (c *RetryingClient) Reserve(ctx context.Context, req ReserveRequest) (*Receipt, error) {
	return c.do(ctx, "reserve", req.CorrelationId, func(ctx context.Context) (*Receipt, error) {
		return c.next.Reserve(ctx, req)
	})
}

func (c *RetryingClient) Refund(ctx context.Context, req RefundRequest) (*Receipt, error) {
	return c.do(ctx, "refund", req.CorrelationId, func(ctx context.Context) (*Receipt, error) {
		return c.next.Refund(ctx, req)
	})
}

func (c *RetryingClient) FindCharge(ctx context.Context, reason, correlationId string) (*Receipt, error) {
	return c.do(ctx, "find_charge", correlationId, func(ctx context.Context) (*Receipt, error) {
		return c.next.FindCharge(ctx, reason, correlationId)
	})
}

func (c *RetryingClient) do(ctx context.Context, op, correlationId string, call func(context.Context) (*Receipt, error)) (*Receipt, error) {
	attempt := 0
	operation := func() (*Receipt, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		result, err := call(attemptCtx)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrUnavailable) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.initialBackoff),
		backoff.WithMaxInterval(c.maxBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxAttempts-1)), ctx)

	result, err := backoff.RetryNotifyWithData(operation, b, func(err error, wait time.Duration) {
		zap.L().Warn("Points call unavailable, retrying",
			zap.String("operation", op),
			zap.String("correlation_id", correlationId),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	})
	if err == nil {
		return result, nil
	}

	if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrChargeNotFound) {
		return nil, err
	}
	zap.L().Warn("Points call failed after retries",
		zap.String("operation", op),
		zap.String("correlation_id", correlationId),
		zap.Int("attempts", attempt),
		zap.Error(err))
	if errors.Is(err, ErrUnavailable) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrUnavailable, op, attempt, err)
}
