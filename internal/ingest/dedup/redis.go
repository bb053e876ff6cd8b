package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisTTL bounds how long an abandoned run's set lingers server-side.
const redisTTL = 24 * time.Hour

// RedisSet keeps the processed-ID set in Redis so several mirror processes
// can share one dedup horizon. The run still treats it as session state: the
// key is run-scoped and dropped on reset.
type RedisSet struct {
	client *redis.Client
	key    string
}

// NewRedisSet builds a set stored under a run-scoped key.
func NewRedisSet(client *redis.Client, runID string) *RedisSet {
	return &RedisSet{
		client: client,
		key:    fmt.Sprintf("capmirror:processed:%s", runID),
	}
}

// Seen implements Set.
func (s *RedisSet) Seen(ctx context.Context, id string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key, id).Result()
	if err != nil {
		return false, fmt.Errorf("dedup seen: %w", err)
	}
	return ok, nil
}

// Mark implements Set.
func (s *RedisSet) Mark(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, s.key, members...)
	pipe.Expire(ctx, s.key, redisTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}

// Reset implements Set.
func (s *RedisSet) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("dedup reset: %w", err)
	}
	return nil
}

// Len implements Set.
func (s *RedisSet) Len(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("dedup len: %w", err)
	}
	return n, nil
}

// ApproxBytes implements Set. Memory lives in Redis, not this process.
func (s *RedisSet) ApproxBytes() int64 { return 0 }
