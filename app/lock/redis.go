package lock

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the lock with a shared redis instance; GETSET gives the
// atomic get-and-set the acquisition protocol needs.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *RedisStore) GetSet(ctx context.Context, key, value string) (string, bool, error) {
	prev, err := s.client.GetSet(ctx, key, value).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return prev, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
