package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type EventKind string

const (
	EventTrackAdded   EventKind = "track_added"
	EventTrackStarted EventKind = "track_started"
)

// Event is the envelope delivered to the real-time fan-out.
type Event struct {
	VenueId    string    `json:"venue_id"`
	Kind       EventKind `json:"kind"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier publishes queue changes. Delivery is best effort; callers log a
// failure and carry on.
type Notifier interface {
	Notify(ctx context.Context, venueId string, kind EventKind, payload any) error
	Close() error
}

var _ Notifier = (*LogNotifier)(nil)

// LogNotifier writes events to the process log. It stands in when no broker
// is configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (LogNotifier) Notify(_ context.Context, venueId string, kind EventKind, payload any) error {
	zap.L().Info("Queue event",
		zap.String("venue_id", venueId),
		zap.String("kind", string(kind)),
		zap.Any("payload", payload))
	return nil
}

func (LogNotifier) Close() error { return nil }
