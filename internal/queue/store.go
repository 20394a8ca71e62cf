package queue

import (
	"context"
	"errors"
	"fmt"

	"venue-jukebox-go/internal/models"
)

// ErrStoreUnavailable wraps every infrastructure failure of a queue backend.
var ErrStoreUnavailable = errors.New("queue store unavailable")

// CorruptEntryError is returned by PopHead when the popped payload cannot be
// decoded. The payload is already gone from the lane; TrackId and RequestedBy
// are set when the payload still names them, so the caller can free the
// reservation and the quota slot it held.
type CorruptEntryError struct {
	VenueId     string
	Lane        models.Lane
	TrackId     string
	RequestedBy string
	Payload     string
	Err         error
}

func (e *CorruptEntryError) Error() string {
	return fmt.Sprintf("corrupt %s lane entry at venue %s: %v", e.Lane, e.VenueId, e.Err)
}

func (e *CorruptEntryError) Unwrap() error {
	return e.Err
}

// Store holds a venue's lanes, the currently playing slot, the active track
// set used for dedup and the per-user standard-lane counters. Every method is
// a single atomic operation on the backend; none spans a lock across calls.
type Store interface {
	// ReserveTrack adds trackId to the venue's active set and reports whether
	// it was newly added. This is the only dedup gate.
	ReserveTrack(ctx context.Context, venueId, trackId string) (bool, error)
	ReleaseTrack(ctx context.Context, venueId, trackId string) error
	IsActive(ctx context.Context, venueId, trackId string) (bool, error)

	// ActiveCount is the number of standard-lane requests the user has waiting.
	ActiveCount(ctx context.Context, venueId, userId string) (int, error)
	// DecrementActiveCount lowers the counter, never below zero.
	DecrementActiveCount(ctx context.Context, venueId, userId string) error

	// Enqueue appends the entry to its lane and, for the standard lane,
	// increments the requester's active count in the same atomic step.
	Enqueue(ctx context.Context, entry models.QueueEntry) error
	// PopHead removes and returns the head of a lane, or nil when it is empty.
	PopHead(ctx context.Context, venueId string, lane models.Lane) (*models.QueueEntry, error)
	List(ctx context.Context, venueId string, lane models.Lane) ([]models.QueueEntry, error)

	SetCurrent(ctx context.Context, venueId string, entry models.QueueEntry) error
	// Current returns the playing entry, or nil when nothing has been dequeued yet.
	Current(ctx context.Context, venueId string) (*models.QueueEntry, error)

	Close() error
}
