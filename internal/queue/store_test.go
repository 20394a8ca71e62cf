package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"venue-jukebox-go/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			store := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func entry(venueId, trackId, userId string, lane models.Lane) models.QueueEntry {
	return models.QueueEntry{
		TrackId:         trackId,
		Title:           "Track " + trackId,
		DurationSeconds: 180,
		Lane:            lane,
		RequestedBy:     userId,
		VenueId:         venueId,
		RequestId:       "req-" + trackId,
		AddedAt:         time.Now().UTC().Truncate(time.Second),
	}
}

func TestStore_ReserveIsAddIfAbsent(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()

			added, err := store.ReserveTrack(ctx, "v1", "t1")
			require.NoError(t, err)
			assert.True(t, added)

			added, err = store.ReserveTrack(ctx, "v1", "t1")
			require.NoError(t, err)
			assert.False(t, added, "second reservation must report not added")

			added, err = store.ReserveTrack(ctx, "v2", "t1")
			require.NoError(t, err)
			assert.True(t, added, "active sets are scoped per venue")

			require.NoError(t, store.ReleaseTrack(ctx, "v1", "t1"))
			active, err := store.IsActive(ctx, "v1", "t1")
			require.NoError(t, err)
			assert.False(t, active)

			added, err = store.ReserveTrack(ctx, "v1", "t1")
			require.NoError(t, err)
			assert.True(t, added, "a released track can be reserved again")
		})
	}
}

func TestStore_ConcurrentReserveHasOneWinner(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()

			var winners atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					added, err := store.ReserveTrack(ctx, "v1", "hot-track")
					if err == nil && added {
						winners.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), winners.Load())
		})
	}
}

func TestStore_EnqueuePopFIFOAndCounts(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()

			require.NoError(t, store.Enqueue(ctx, entry("v1", "a", "u1", models.LaneStandard)))
			require.NoError(t, store.Enqueue(ctx, entry("v1", "b", "u1", models.LaneStandard)))
			require.NoError(t, store.Enqueue(ctx, entry("v1", "p", "u1", models.LanePriority)))

			count, err := store.ActiveCount(ctx, "v1", "u1")
			require.NoError(t, err)
			assert.Equal(t, 2, count, "priority requests do not count")

			listed, err := store.List(ctx, "v1", models.LaneStandard)
			require.NoError(t, err)
			require.Len(t, listed, 2)
			assert.Equal(t, "a", listed[0].TrackId)

			head, err := store.PopHead(ctx, "v1", models.LaneStandard)
			require.NoError(t, err)
			require.NotNil(t, head)
			assert.Equal(t, "a", head.TrackId)
			assert.Equal(t, "u1", head.RequestedBy)

			head, err = store.PopHead(ctx, "v1", models.LaneStandard)
			require.NoError(t, err)
			assert.Equal(t, "b", head.TrackId)

			head, err = store.PopHead(ctx, "v1", models.LaneStandard)
			require.NoError(t, err)
			assert.Nil(t, head, "empty lane pops nil")
		})
	}
}

func TestStore_DecrementClampsAtZero(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()

			require.NoError(t, store.Enqueue(ctx, entry("v1", "a", "u1", models.LaneStandard)))
			require.NoError(t, store.DecrementActiveCount(ctx, "v1", "u1"))
			require.NoError(t, store.DecrementActiveCount(ctx, "v1", "u1"))

			count, err := store.ActiveCount(ctx, "v1", "u1")
			require.NoError(t, err)
			assert.Equal(t, 0, count)

			require.NoError(t, store.Enqueue(ctx, entry("v1", "b", "u1", models.LaneStandard)))
			count, err = store.ActiveCount(ctx, "v1", "u1")
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}

func TestStore_ConcurrentPopsNeverDuplicate(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()

			const total = 30
			for i := 0; i < total; i++ {
				require.NoError(t, store.Enqueue(ctx, entry("v1", fmt.Sprintf("t%02d", i), "u1", models.LanePriority)))
			}

			var mu sync.Mutex
			seen := make(map[string]int)
			var wg sync.WaitGroup
			for i := 0; i < total+5; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					head, err := store.PopHead(ctx, "v1", models.LanePriority)
					if err != nil || head == nil {
						return
					}
					mu.Lock()
					seen[head.TrackId]++
					mu.Unlock()
				}()
			}
			wg.Wait()

			assert.Len(t, seen, total)
			for trackId, n := range seen {
				assert.Equal(t, 1, n, "track %s popped more than once", trackId)
			}
		})
	}
}

func TestStore_Current(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()

			current, err := store.Current(ctx, "v1")
			require.NoError(t, err)
			assert.Nil(t, current)

			playing := entry("v1", "a", "u1", models.LanePriority)
			require.NoError(t, store.SetCurrent(ctx, "v1", playing))

			current, err = store.Current(ctx, "v1")
			require.NoError(t, err)
			require.NotNil(t, current)
			assert.Equal(t, playing.TrackId, current.TrackId)
			assert.True(t, playing.AddedAt.Equal(current.AddedAt))
		})
	}
}

func TestRedisStore_UnavailableIsWrapped(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStoreFromClient(redis.NewClient(&redis.Options{
		Addr:        mr.Addr(),
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	}), "test")
	t.Cleanup(func() { _ = store.Close() })
	mr.Close()

	_, err := store.ReserveTrack(context.Background(), "v1", "t1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestRedisStore_PopHeadReportsCorruptEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "test")
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	require.NoError(t, client.RPush(ctx, "test:venue:v1:lane:standard",
		`{"track_id":"t9","requested_by":"u1","added_at":"yesterday"}`, "not json").Err())

	_, err := store.PopHead(ctx, "v1", models.LaneStandard)
	var corrupt *CorruptEntryError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, "t9", corrupt.TrackId)
	assert.Equal(t, "u1", corrupt.RequestedBy)
	assert.Equal(t, models.LaneStandard, corrupt.Lane)

	_, err = store.PopHead(ctx, "v1", models.LaneStandard)
	require.ErrorAs(t, err, &corrupt)
	assert.Empty(t, corrupt.TrackId)
	assert.Equal(t, "not json", corrupt.Payload)

	popped, err := store.PopHead(ctx, "v1", models.LaneStandard)
	require.NoError(t, err)
	assert.Nil(t, popped, "corrupt entries are not left in the lane")
}
