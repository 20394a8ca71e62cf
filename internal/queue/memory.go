package queue

import (
	"context"
	"sync"

	"venue-jukebox-go/internal/models"
)

var _ Store = (*MemoryStore)(nil)

type venueQueue struct {
	active  map[string]struct{}
	lanes   map[models.Lane][]models.QueueEntry
	counts  map[string]int
	current *models.QueueEntry
}

// MemoryStore is a single-process Store guarded by one mutex. It backs local
// development and tests; state is lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	venues map[string]*venueQueue
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{venues: make(map[string]*venueQueue)}
}

func (s *MemoryStore) venue(venueId string) *venueQueue {
	v, ok := s.venues[venueId]
	if !ok {
		v = &venueQueue{
			active: make(map[string]struct{}),
			lanes:  make(map[models.Lane][]models.QueueEntry),
			counts: make(map[string]int),
		}
		s.venues[venueId] = v
	}
	return v
}

func (s *MemoryStore) ReserveTrack(_ context.Context, venueId, trackId string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.venue(venueId)
	if _, ok := v.active[trackId]; ok {
		return false, nil
	}
	v.active[trackId] = struct{}{}
	return true, nil
}

func (s *MemoryStore) ReleaseTrack(_ context.Context, venueId, trackId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.venue(venueId).active, trackId)
	return nil
}

func (s *MemoryStore) IsActive(_ context.Context, venueId, trackId string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.venue(venueId).active[trackId]
	return ok, nil
}

func (s *MemoryStore) ActiveCount(_ context.Context, venueId, userId string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.venue(venueId).counts[userId], nil
}

func (s *MemoryStore) DecrementActiveCount(_ context.Context, venueId, userId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.venue(venueId)
	if v.counts[userId] <= 1 {
		delete(v.counts, userId)
		return nil
	}
	v.counts[userId]--
	return nil
}

func (s *MemoryStore) Enqueue(_ context.Context, entry models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.venue(entry.VenueId)
	v.lanes[entry.Lane] = append(v.lanes[entry.Lane], entry)
	if entry.Lane == models.LaneStandard {
		v.counts[entry.RequestedBy]++
	}
	return nil
}

func (s *MemoryStore) PopHead(_ context.Context, venueId string, lane models.Lane) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.venue(venueId)
	entries := v.lanes[lane]
	if len(entries) == 0 {
		return nil, nil
	}
	head := entries[0]
	v.lanes[lane] = entries[1:]
	return &head, nil
}

func (s *MemoryStore) List(_ context.Context, venueId string, lane models.Lane) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.venue(venueId).lanes[lane]
	out := make([]models.QueueEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemoryStore) SetCurrent(_ context.Context, venueId string, entry models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.venue(venueId).current = &entry
	return nil
}

func (s *MemoryStore) Current(_ context.Context, venueId string) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.venue(venueId).current
	if current == nil {
		return nil, nil
	}
	entry := *current
	return &entry, nil
}

func (s *MemoryStore) Close() error { return nil }
