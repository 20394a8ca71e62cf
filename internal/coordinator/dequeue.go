package coordinator

import (
	"context"
	"errors"

	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/notify"
	"venue-jukebox-go/internal/queue"
	"venue-jukebox-go/internal/selector"

	"go.uber.org/zap"
)

// NextTrack pops the next track for a venue and makes it current. The pop is
// the commit point; the bookkeeping after it runs even if ctx is cancelled.
func (c *Coordinator) NextTrack(ctx context.Context, venueId string) (*models.QueueEntry, error) {
	if venueId == "" {
		return nil, newError(CodeInvalidRequest, "venue id is required", nil)
	}

	entry, err := c.selector.Select(ctx, venueId)
	var corrupt *queue.CorruptEntryError
	for errors.As(err, &corrupt) {
		c.discardCorrupt(ctx, corrupt)
		entry, err = c.selector.Select(ctx, venueId)
	}
	if err != nil {
		return nil, newError(CodeQueueStoreUnavailable, "unable to pop next track", err)
	}
	if entry == nil {
		return nil, newError(CodeNoTrackAvailable, "queue is empty", nil)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CompensationTimeout)
	defer cancel()

	correlationId := CorrelationId(entry.VenueId, entry.TrackId, entry.RequestedBy, entry.RequestId)
	log := zap.L().With(
		zap.String("venue_id", venueId),
		zap.String("track_id", entry.TrackId),
		zap.String("lane", string(entry.Lane)),
		zap.String("requested_by", entry.RequestedBy))

	if entry.Lane == models.LaneStandard {
		c.decrement(ctx, venueId, entry.RequestedBy, entry.TrackId, correlationId, log)
	}
	c.releasePlayed(ctx, venueId, entry.RequestedBy, entry.TrackId, correlationId, log)

	err = c.retry(ctx, "set_current", correlationId, func(ctx context.Context) error {
		return c.queue.SetCurrent(ctx, venueId, *entry)
	})
	if err != nil {
		log.Warn("Unable to record current track", zap.Error(err))
	}

	log.Info("Track started")
	c.publish(ctx, venueId, notify.EventTrackStarted, entry)
	return entry, nil
}

// decrement frees the requester's standard-lane slot, journaling it for the
// sweeper when the store keeps failing.
func (c *Coordinator) decrement(ctx context.Context, venueId, userId, trackId, correlationId string, log *zap.Logger) {
	err := c.retry(ctx, "decrement", correlationId, func(ctx context.Context) error {
		return c.queue.DecrementActiveCount(ctx, venueId, userId)
	})
	if err == nil {
		return
	}
	log.Error("Unable to decrement active count",
		zap.String("alert", "reconciliation_required"),
		zap.Error(err))
	c.journalCompensation(ctx, models.PendingCompensation{
		Kind:          models.CompensationDecrement,
		VenueId:       venueId,
		UserId:        userId,
		TrackId:       trackId,
		CorrelationId: correlationId,
		LastError:     err.Error(),
	}, log)
}

func (c *Coordinator) releasePlayed(ctx context.Context, venueId, userId, trackId, correlationId string, log *zap.Logger) {
	err := c.release(ctx, venueId, trackId, correlationId)
	if err == nil {
		return
	}
	log.Error("Unable to release played track",
		zap.String("alert", "reconciliation_required"),
		zap.Error(err))
	c.journalCompensation(ctx, models.PendingCompensation{
		Kind:          models.CompensationRelease,
		VenueId:       venueId,
		UserId:        userId,
		TrackId:       trackId,
		CorrelationId: correlationId,
		LastError:     err.Error(),
	}, log)
}

// discardCorrupt frees what an undecodable lane entry still held. The charge
// behind it is left to an operator; the store already raised the alert.
func (c *Coordinator) discardCorrupt(ctx context.Context, corrupt *queue.CorruptEntryError) {
	if corrupt.TrackId == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CompensationTimeout)
	defer cancel()

	correlationId := "corrupt:" + corrupt.VenueId + ":" + corrupt.TrackId
	log := zap.L().With(
		zap.String("venue_id", corrupt.VenueId),
		zap.String("track_id", corrupt.TrackId),
		zap.String("lane", string(corrupt.Lane)))
	log.Warn("Skipping undecodable queue entry")

	if corrupt.Lane == models.LaneStandard && corrupt.RequestedBy != "" {
		c.decrement(ctx, corrupt.VenueId, corrupt.RequestedBy, corrupt.TrackId, correlationId, log)
	}
	c.releasePlayed(ctx, corrupt.VenueId, corrupt.RequestedBy, corrupt.TrackId, correlationId, log)
}

// Snapshot returns the current track and both lanes in play order.
func (c *Coordinator) Snapshot(ctx context.Context, venueId string) (*models.QueueSnapshot, error) {
	if venueId == "" {
		return nil, newError(CodeInvalidRequest, "venue id is required", nil)
	}

	current, err := c.queue.Current(ctx, venueId)
	if err != nil {
		return nil, newError(CodeQueueStoreUnavailable, "unable to read current track", err)
	}
	priority, err := c.queue.List(ctx, venueId, models.LanePriority)
	if err != nil {
		return nil, newError(CodeQueueStoreUnavailable, "unable to list priority lane", err)
	}
	standard, err := c.queue.List(ctx, venueId, models.LaneStandard)
	if err != nil {
		return nil, newError(CodeQueueStoreUnavailable, "unable to list standard lane", err)
	}

	return &models.QueueSnapshot{
		VenueId:  venueId,
		Current:  current,
		Next:     selector.Peek(priority, standard),
		Priority: priority,
		Standard: standard,
	}, nil
}
