package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "oauth:state:"

// redisClient is the subset of redis.Cmdable the store needs.
type redisClient interface {
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

type RedisStateStore struct {
	rdb redisClient
	ttl time.Duration
}

func NewRedisStateStore(rdb redisClient, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStateStore) Put(ctx context.Context, userID, state string) error {
	if err := s.rdb.SetEx(ctx, keyPrefix+userID, state, s.ttl).Err(); err != nil {
		return fmt.Errorf("store state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) Take(ctx context.Context, userID string) (string, error) {
	v, err := s.rdb.GetDel(ctx, keyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNoState
		}
		return "", fmt.Errorf("load state: %w", err)
	}
	return v, nil
}

// NewRedisClient connects to Redis and pings it. It returns nil when the
// server cannot be reached so callers can fall back to MemoryStateStore.
func NewRedisClient(ctx context.Context, addr, password string, db int) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
