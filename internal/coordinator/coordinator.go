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

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/notify"
	"venue-jukebox-go/internal/points"
	"venue-jukebox-go/internal/queue"
	"venue-jukebox-go/internal/selector"
	"venue-jukebox-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultCompensationAttempts = 5
	defaultCompensationTimeout  = 10 * time.Second
	defaultCompensationBackoff  = 50 * time.Millisecond
	defaultNotifyTimeout        = 2 * time.Second
)

// Options tunes the saga. Zero values fall back to package defaults.
type Options struct {
	CompensationAttempts int
	CompensationTimeout  time.Duration
	CompensationBackoff  time.Duration
	NotifyTimeout        time.Duration

	// DefaultUserCap applies when neither the request nor the venue sets a cap.
	DefaultUserCap int
	// VenueUserCaps overrides the standard-lane cap per venue.
	VenueUserCaps map[string]int
}

// OptionsFromConfig maps environment configuration onto coordinator options.
func OptionsFromConfig(cfg models.CoordinatorConfig) Options {
	return Options{
		CompensationAttempts: cfg.CompensationAttempts,
		CompensationTimeout:  cfg.CompensationTimeout,
		CompensationBackoff:  cfg.CompensationBackoff,
		NotifyTimeout:        cfg.NotifyTimeout,
		DefaultUserCap:       cfg.DefaultUserCap,
	}
}

type AddTrackRequest struct {
	VenueId         string
	UserId          string
	TrackId         string
	Title           string
	Thumbnail       string
	DurationSeconds int
	Lane            models.Lane
	Cost            int64

	// UserCap overrides the venue cap when positive.
	UserCap int

	// RequestId identifies one logical request. A new one is generated when
	// empty. Once a call has charged under it the id is settled and reusing it
	// is rejected.
	RequestId string
}

// Coordinator runs the add-track saga across the queue store and the points
// ledger and hands out the next track to play.
type Coordinator struct {
	queue    queue.Store
	points   points.Client
	journal  store.CompensationJournal
	notifier notify.Notifier
	selector *selector.NextTrackSelector
	opts     Options
	now      func() time.Time
}

func New(q queue.Store, p points.Client, journal store.CompensationJournal, n notify.Notifier, opts Options) *Coordinator {
	if opts.CompensationAttempts <= 0 {
		opts.CompensationAttempts = defaultCompensationAttempts
	}
	if opts.CompensationTimeout <= 0 {
		opts.CompensationTimeout = defaultCompensationTimeout
	}
	if opts.CompensationBackoff <= 0 {
		opts.CompensationBackoff = defaultCompensationBackoff
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaultNotifyTimeout
	}
	if n == nil {
		n = notify.NewLogNotifier()
	}

	return &Coordinator{
		queue:    q,
		points:   p,
		journal:  journal,
		notifier: n,
		selector: selector.New(q),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CorrelationId is the idempotency key shared by a charge and its refund.
func CorrelationId(venueId, trackId, userId, requestId string) string {
	return strings.Join([]string{venueId, trackId, userId, requestId}, ":")
}

func (c *Coordinator) userCap(req AddTrackRequest) int {
	if req.UserCap > 0 {
		return req.UserCap
	}
	if limit, ok := c.opts.VenueUserCaps[req.VenueId]; ok && limit > 0 {
		return limit
	}
	return c.opts.DefaultUserCap
}

func validate(req AddTrackRequest) error {
	switch {
	case req.VenueId == "":
		return newError(CodeInvalidRequest, "venue id is required", nil)
	case req.UserId == "":
		return newError(CodeInvalidRequest, "user id is required", nil)
	case req.TrackId == "":
		return newError(CodeInvalidRequest, "track id is required", nil)
	case strings.Contains(req.TrackId, ":") || strings.Contains(req.VenueId, ":"):
		return newError(CodeInvalidRequest, "ids cannot contain ':'", nil)
	case !req.Lane.Valid():
		return newError(CodeInvalidRequest, fmt.Sprintf("unknown lane %q", req.Lane), nil)
	case req.Cost <= 0:
		return newError(CodeInvalidRequest, fmt.Sprintf("cost must be positive, got %d", req.Cost), nil)
	case req.DurationSeconds < 0:
		return newError(CodeInvalidRequest, "duration cannot be negative", nil)
	}
	return nil
}

// AddTrack charges the user and enqueues the track, or leaves no trace.
//
// The dedup reservation comes first so duplicates fail before money moves.
// Once the charge succeeds the caller's context no longer governs the saga:
// it runs to success or through compensation.
func (c *Coordinator) AddTrack(ctx context.Context, req AddTrackRequest) (*models.QueueEntry, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.RequestId == "" {
		req.RequestId = uuid.New().String()
	}
	correlationId := CorrelationId(req.VenueId, req.TrackId, req.UserId, req.RequestId)
	attemptId := uuid.New().String()
	log := zap.L().With(
		zap.String("venue_id", req.VenueId),
		zap.String("user_id", req.UserId),
		zap.String("track_id", req.TrackId),
		zap.String("lane", string(req.Lane)),
		zap.String("correlation_id", correlationId))

	added, err := c.queue.ReserveTrack(ctx, req.VenueId, req.TrackId)
	if err != nil {
		return nil, newError(CodeQueueStoreUnavailable, "unable to reserve track", err)
	}
	if !added {
		log.Debug("Duplicate track rejected")
		return nil, newError(CodeDuplicateTrack, "track is already queued", nil)
	}
	log.Debug("Track reserved")

	if req.Lane == models.LaneStandard {
		limit := c.userCap(req)
		count, err := c.queue.ActiveCount(ctx, req.VenueId, req.UserId)
		if err != nil {
			c.abandon(ctx, req, correlationId, "quota check failed")
			return nil, newError(CodeQueueStoreUnavailable, "unable to read active count", err)
		}
		if limit > 0 && count >= limit {
			c.abandon(ctx, req, correlationId, "quota exceeded")
			return nil, newError(CodeQuotaExceeded, fmt.Sprintf("standard lane limit of %d reached", limit), nil)
		}
	}

	if err := ctx.Err(); err != nil {
		c.abandon(ctx, req, correlationId, "cancelled before charge")
		return nil, fmt.Errorf("add track cancelled: %w", err)
	}

	receipt, err := c.points.Reserve(ctx, points.ReserveRequest{
		UserId:        req.UserId,
		VenueId:       req.VenueId,
		Amount:        req.Cost,
		Reason:        models.ReferenceQueueRequest,
		CorrelationId: correlationId,
		Metadata: map[string]string{
			"track_id":   req.TrackId,
			"lane":       string(req.Lane),
			"request_id": req.RequestId,
			"attempt_id": attemptId,
		},
	})
	if err != nil {
		return nil, c.chargeFailed(ctx, req, correlationId, err, log)
	}
	// A replay is only ours when this call's own retry committed it. Anything
	// else belongs to an earlier call that was refunded, played, or left for
	// the sweeper to verify.
	if receipt.Replayed && receipt.Metadata["attempt_id"] != attemptId {
		log.Warn("Request id already settled",
			zap.String("transaction_id", receipt.TransactionId),
			zap.String("request_id", req.RequestId))
		c.abandon(ctx, req, correlationId, "request already settled")
		return nil, newError(CodeInvalidRequest, "request id already settled", nil)
	}
	log.Debug("Points charged",
		zap.String("transaction_id", receipt.TransactionId),
		zap.Int64("new_balance", receipt.NewBalance),
		zap.Bool("replayed", receipt.Replayed))

	// Past this point the outcome is no longer the caller's to cancel.
	sagaCtx := context.WithoutCancel(ctx)

	entry := models.QueueEntry{
		TrackId:         req.TrackId,
		Title:           req.Title,
		Thumbnail:       req.Thumbnail,
		DurationSeconds: req.DurationSeconds,
		Lane:            req.Lane,
		RequestedBy:     req.UserId,
		VenueId:         req.VenueId,
		RequestId:       req.RequestId,
		TransactionId:   receipt.TransactionId,
		AddedAt:         c.now(),
	}

	if err := c.queue.Enqueue(sagaCtx, entry); err != nil {
		return nil, c.compensateEnqueue(sagaCtx, req, correlationId, receipt.TransactionId, err, log)
	}

	log.Info("Track queued",
		zap.String("transaction_id", receipt.TransactionId),
		zap.Int64("cost", req.Cost),
		zap.Int64("new_balance", receipt.NewBalance))

	c.publish(sagaCtx, req.VenueId, notify.EventTrackAdded, entry)
	return &entry, nil
}

// chargeFailed releases the reservation after a failed charge and maps the
// outcome. An unavailable charge may still have committed, so it is journaled
// for verification.
func (c *Coordinator) chargeFailed(ctx context.Context, req AddTrackRequest, correlationId string, err error, log *zap.Logger) error {
	switch {
	case errors.Is(err, points.ErrInsufficientFunds):
		c.abandon(ctx, req, correlationId, "insufficient balance")
		return newError(CodeInsufficientBalance, "not enough points", err)
	case errors.Is(err, points.ErrInvalidRequest):
		c.abandon(ctx, req, correlationId, "charge rejected")
		return newError(CodeInvalidRequest, "charge rejected", err)
	}

	log.Warn("Charge outcome unknown, releasing reservation", zap.Error(err))
	c.abandon(ctx, req, correlationId, "points service unavailable")
	c.journalCompensation(ctx, models.PendingCompensation{
		Kind:          models.CompensationVerifyCharge,
		VenueId:       req.VenueId,
		UserId:        req.UserId,
		TrackId:       req.TrackId,
		Amount:        req.Cost,
		CorrelationId: correlationId,
		LastError:     err.Error(),
	}, log)
	return newError(CodePointsServiceUnavailable, "unable to charge points", err)
}

// compensateEnqueue undoes a committed charge whose enqueue failed: refund
// first, then release the reservation. Both steps run even if the first one
// gives up.
func (c *Coordinator) compensateEnqueue(ctx context.Context, req AddTrackRequest, correlationId, transactionId string, cause error, log *zap.Logger) error {
	log = log.With(zap.String("transaction_id", transactionId))
	log.Error("Enqueue failed after charge, compensating", zap.Error(cause))

	var failed []string

	refundCtx, cancelRefund := context.WithTimeout(ctx, c.opts.CompensationTimeout)
	defer cancelRefund()

	refundErr := c.retry(refundCtx, "refund", correlationId, func(ctx context.Context) error {
		_, err := c.points.Refund(ctx, points.RefundRequest{
			UserId:                req.UserId,
			VenueId:               req.VenueId,
			Amount:                req.Cost,
			Reason:                models.ReferenceQueueRequest,
			CorrelationId:         correlationId,
			OriginalTransactionId: transactionId,
		})
		return err
	})
	if refundErr != nil {
		failed = append(failed, "refund")
		c.journalCompensation(ctx, models.PendingCompensation{
			Kind:                  models.CompensationRefund,
			VenueId:               req.VenueId,
			UserId:                req.UserId,
			TrackId:               req.TrackId,
			Amount:                req.Cost,
			CorrelationId:         correlationId,
			OriginalTransactionId: transactionId,
			LastError:             refundErr.Error(),
		}, log)
	}

	// Release gets its own deadline so a slow refund cannot starve it.
	releaseCtx, cancelRelease := context.WithTimeout(ctx, c.opts.CompensationTimeout)
	defer cancelRelease()

	releaseErr := c.release(releaseCtx, req.VenueId, req.TrackId, correlationId)
	if releaseErr != nil {
		failed = append(failed, "release")
		c.journalCompensation(ctx, models.PendingCompensation{
			Kind:          models.CompensationRelease,
			VenueId:       req.VenueId,
			UserId:        req.UserId,
			TrackId:       req.TrackId,
			CorrelationId: correlationId,
			LastError:     releaseErr.Error(),
		}, log)
	}

	if len(failed) > 0 {
		log.Error("Compensation incomplete",
			zap.String("alert", "reconciliation_required"),
			zap.Strings("failed_steps", failed),
			zap.NamedError("refund_error", refundErr),
			zap.NamedError("release_error", releaseErr),
			zap.NamedError("cause", cause))
		return newError(CodeCompensationFailed,
			fmt.Sprintf("enqueue failed and %s did not complete", strings.Join(failed, ", ")), cause)
	}

	log.Warn("Compensation completed", zap.Int64("refunded", req.Cost))
	return newError(CodeQueueStoreUnavailable, "unable to enqueue track", cause)
}

// abandon releases the dedup reservation of a request that never charged.
func (c *Coordinator) abandon(ctx context.Context, req AddTrackRequest, correlationId, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CompensationTimeout)
	defer cancel()

	zap.L().Debug("Releasing reservation",
		zap.String("venue_id", req.VenueId),
		zap.String("track_id", req.TrackId),
		zap.String("reason", reason))

	if err := c.release(ctx, req.VenueId, req.TrackId, correlationId); err != nil {
		log := zap.L().With(zap.String("venue_id", req.VenueId), zap.String("track_id", req.TrackId))
		log.Error("Unable to release reservation",
			zap.String("alert", "reconciliation_required"),
			zap.String("reason", reason),
			zap.Error(err))
		c.journalCompensation(ctx, models.PendingCompensation{
			Kind:          models.CompensationRelease,
			VenueId:       req.VenueId,
			UserId:        req.UserId,
			TrackId:       req.TrackId,
			CorrelationId: correlationId,
			LastError:     err.Error(),
		}, log)
	}
}

func (c *Coordinator) release(ctx context.Context, venueId, trackId, correlationId string) error {
	return c.retry(ctx, "release", correlationId, func(ctx context.Context) error {
		return c.queue.ReleaseTrack(ctx, venueId, trackId)
	})
}

func (c *Coordinator) journalCompensation(ctx context.Context, entry models.PendingCompensation, log *zap.Logger) {
	if c.journal == nil {
		log.Error("No compensation journal configured, entry dropped",
			zap.String("alert", "reconciliation_required"),
			zap.String("kind", string(entry.Kind)))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CompensationTimeout)
	defer cancel()

	if _, err := c.journal.RecordCompensation(ctx, entry); err != nil {
		log.Error("Unable to journal compensation",
			zap.String("alert", "reconciliation_required"),
			zap.String("kind", string(entry.Kind)),
			zap.Int64("amount", entry.Amount),
			zap.String("original_transaction_id", entry.OriginalTransactionId),
			zap.Error(err))
	}
}

func (c *Coordinator) publish(ctx context.Context, venueId string, kind notify.EventKind, payload any) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.NotifyTimeout)
	defer cancel()

	if err := c.notifier.Notify(ctx, venueId, kind, payload); err != nil {
		zap.L().Warn("Queue notification failed",
			zap.String("venue_id", venueId),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}
