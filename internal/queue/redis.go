package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"venue-jukebox-go/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ Store = (*RedisStore)(nil)

// decrementScript lowers a user's counter and drops the field at zero, so a
// stray decrement can never push the count negative.
var decrementScript = redis.NewScript(`
local v = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if v <= 1 then
  redis.call('HDEL', KEYS[1], ARGV[1])
  return 0
end
return redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
`)

// RedisStore keeps each venue queue under its own key group:
//
//	{prefix}:venue:{id}:active          SET of reserved track ids
//	{prefix}:venue:{id}:lane:priority   LIST of JSON entries
//	{prefix}:venue:{id}:lane:standard   LIST of JSON entries
//	{prefix}:venue:{id}:counts          HASH user id -> standard-lane count
//	{prefix}:venue:{id}:current         STRING JSON entry
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, cfg models.QueueStoreConfig) (*RedisStore, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	zap.L().Info("Connecting to Redis queue store",
		zap.String("addr", cfg.RedisAddr),
		zap.Int("db", cfg.RedisDB),
		zap.String("key_prefix", cfg.KeyPrefix))

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.Password,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: unable to ping redis: %w", ErrStoreUnavailable, err)
	}

	return NewRedisStoreFromClient(client, cfg.KeyPrefix), nil
}

func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "jukebox"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(venueId, suffix string) string {
	return fmt.Sprintf("%s:venue:%s:%s", s.prefix, venueId, suffix)
}

func (s *RedisStore) laneKey(venueId string, lane models.Lane) string {
	return s.key(venueId, "lane:"+string(lane))
}

func (s *RedisStore) ReserveTrack(ctx context.Context, venueId, trackId string) (bool, error) {
	added, err := s.client.SAdd(ctx, s.key(venueId, "active"), trackId).Result()
	if err != nil {
		return false, unavailable("reserve track", err)
	}
	return added == 1, nil
}

func (s *RedisStore) ReleaseTrack(ctx context.Context, venueId, trackId string) error {
	if err := s.client.SRem(ctx, s.key(venueId, "active"), trackId).Err(); err != nil {
		return unavailable("release track", err)
	}
	return nil
}

func (s *RedisStore) IsActive(ctx context.Context, venueId, trackId string) (bool, error) {
	member, err := s.client.SIsMember(ctx, s.key(venueId, "active"), trackId).Result()
	if err != nil {
		return false, unavailable("check active track", err)
	}
	return member, nil
}

func (s *RedisStore) ActiveCount(ctx context.Context, venueId, userId string) (int, error) {
	count, err := s.client.HGet(ctx, s.key(venueId, "counts"), userId).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("read active count", err)
	}
	return count, nil
}

func (s *RedisStore) DecrementActiveCount(ctx context.Context, venueId, userId string) error {
	if err := decrementScript.Run(ctx, s.client, []string{s.key(venueId, "counts")}, userId).Err(); err != nil {
		return unavailable("decrement active count", err)
	}
	return nil
}

func (s *RedisStore) Enqueue(ctx context.Context, entry models.QueueEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("unable to encode queue entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.laneKey(entry.VenueId, entry.Lane), payload)
		if entry.Lane == models.LaneStandard {
			pipe.HIncrBy(ctx, s.key(entry.VenueId, "counts"), entry.RequestedBy, 1)
		}
		return nil
	})
	if err != nil {
		return unavailable("enqueue", err)
	}
	return nil
}

func (s *RedisStore) PopHead(ctx context.Context, venueId string, lane models.Lane) (*models.QueueEntry, error) {
	payload, err := s.client.LPop(ctx, s.laneKey(venueId, lane)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("pop lane head", err)
	}

	entry, err := decodeEntry(payload)
	if err != nil {
		corrupt := &CorruptEntryError{VenueId: venueId, Lane: lane, Payload: string(payload), Err: err}
		var names struct {
			TrackId     string `json:"track_id"`
			RequestedBy string `json:"requested_by"`
		}
		if json.Unmarshal(payload, &names) == nil {
			corrupt.TrackId = names.TrackId
			corrupt.RequestedBy = names.RequestedBy
		}
		zap.L().Error("Discarded undecodable queue entry",
			zap.String("alert", "reconciliation_required"),
			zap.String("venue_id", venueId),
			zap.String("lane", string(lane)),
			zap.String("track_id", corrupt.TrackId),
			zap.ByteString("payload", payload),
			zap.Error(err))
		return nil, corrupt
	}
	return entry, nil
}

func (s *RedisStore) List(ctx context.Context, venueId string, lane models.Lane) ([]models.QueueEntry, error) {
	payloads, err := s.client.LRange(ctx, s.laneKey(venueId, lane), 0, -1).Result()
	if err != nil {
		return nil, unavailable("list lane", err)
	}

	entries := make([]models.QueueEntry, 0, len(payloads))
	for _, payload := range payloads {
		entry, err := decodeEntry([]byte(payload))
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (s *RedisStore) SetCurrent(ctx context.Context, venueId string, entry models.QueueEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("unable to encode queue entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(venueId, "current"), payload, 0).Err(); err != nil {
		return unavailable("set current", err)
	}
	return nil
}

func (s *RedisStore) Current(ctx context.Context, venueId string) (*models.QueueEntry, error) {
	payload, err := s.client.Get(ctx, s.key(venueId, "current")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get current", err)
	}
	return decodeEntry(payload)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeEntry(payload []byte) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("unable to decode queue entry: %w", err)
	}
	return &entry, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
