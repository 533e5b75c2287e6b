package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "accord:"

// RedisStore is a shared L2 for derived scores, JSON-encoded under
// accord:{kind}:{standard_id}.
type RedisStore[T any] struct {
	client *redis.Client
	kind   string
}

// NewRedisStore constructs an L2 for one kind of derived value.
func NewRedisStore[T any](client *redis.Client, kind string) *RedisStore[T] {
	return &RedisStore[T]{client: client, kind: kind}
}

func (s *RedisStore[T]) key(standardID string) string {
	return redisKeyPrefix + s.kind + ":" + standardID
}

func (s *RedisStore[T]) Get(ctx context.Context, standardID string) (Entry[T], bool, error) {
	raw, err := s.client.Get(ctx, s.key(standardID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry[T]{}, false, nil
		}
		return Entry[T]{}, false, fmt.Errorf("get %s score: %w", s.kind, err)
	}
	var e Entry[T]
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry[T]{}, false, fmt.Errorf("decode %s score: %w", s.kind, err)
	}
	return e, true, nil
}

func (s *RedisStore[T]) Set(ctx context.Context, standardID string, e Entry[T], ttl time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s score: %w", s.kind, err)
	}
	if err := s.client.Set(ctx, s.key(standardID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("set %s score: %w", s.kind, err)
	}
	return nil
}

func (s *RedisStore[T]) Delete(ctx context.Context, standardID string) error {
	if err := s.client.Del(ctx, s.key(standardID)).Err(); err != nil {
		return fmt.Errorf("delete %s score: %w", s.kind, err)
	}
	return nil
}
