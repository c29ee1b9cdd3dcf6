package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"social-publisher/domain/repository"
)

// compareAndDelete deletes the key only when its value matches the caller's
// token, so a slow holder never releases a lock re-acquired after TTL expiry.
var compareAndDelete = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// RedisFastStore implements repository.IFastStore on go-redis.
type RedisFastStore struct {
	client *redis.Client
}

func NewRedisFastStore(client *redis.Client) *RedisFastStore {
	return &RedisFastStore{client: client}
}

func (s *RedisFastStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisFastStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.client, []string{key}, value).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisFastStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", repository.ErrNotFound
	}
	return v, err
}

func (s *RedisFastStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisFastStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisFastStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return s.client.IncrBy(ctx, key, n).Result()
}

func (s *RedisFastStore) ExpireAt(ctx context.Context, key string, at time.Time) error {
	return s.client.ExpireAt(ctx, key, at).Err()
}

func (s *RedisFastStore) ZAddNX(ctx context.Context, key, member string, score float64) (bool, error) {
	n, err := s.client.ZAddNX(ctx, key, redis.Z{Score: score, Member: member}).Result()
	return n == 1, err
}

func (s *RedisFastStore) ZRem(ctx context.Context, key, member string) (bool, error) {
	n, err := s.client.ZRem(ctx, key, member).Result()
	return n == 1, err
}

func (s *RedisFastStore) ZRangeByScore(ctx context.Context, key string, max float64, limit int) ([]string, error) {
	return s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(max, 'f', -1, 64),
		Count: int64(limit),
	}).Result()
}

var _ repository.IFastStore = (*RedisFastStore)(nil)
