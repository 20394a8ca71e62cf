package selector

import (
	"context"
	"fmt"

	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/queue"
)

// laneOrder is the drain order: the priority lane always empties first.
var laneOrder = []models.Lane{models.LanePriority, models.LaneStandard}

// NextTrackSelector decides which queued track plays next. The only side
// effect is the pop itself; bookkeeping around it belongs to the caller.
type NextTrackSelector struct {
	store queue.Store
}

func New(store queue.Store) *NextTrackSelector {
	return &NextTrackSelector{store: store}
}

// Select pops the head of the first non-empty lane in drain order. It
// returns nil, nil when every lane is empty.
func (s *NextTrackSelector) Select(ctx context.Context, venueId string) (*models.QueueEntry, error) {
	for _, lane := range laneOrder {
		entry, err := s.store.PopHead(ctx, venueId, lane)
		if err != nil {
			return nil, fmt.Errorf("pop %s lane: %w", lane, err)
		}
		if entry != nil {
			// Lane is authoritative from where it was popped.
			entry.Lane = lane
			return entry, nil
		}
	}
	return nil, nil
}

// Peek reports what Select would return without removing it.
func Peek(priority, standard []models.QueueEntry) *models.QueueEntry {
	if len(priority) > 0 {
		e := priority[0]
		return &e
	}
	if len(standard) > 0 {
		e := standard[0]
		return &e
	}
	return nil
}
