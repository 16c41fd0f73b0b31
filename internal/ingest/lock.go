package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker provides the per-document exclusion guarantee: only one
// ingest, re-ingest or delete job may hold a document at a time.
type Locker interface {
	Acquire(ctx context.Context, key string, lease time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisLocker implements Locker with SET NX leases.
type RedisLocker struct {
	Client *redis.Client
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, lease time.Duration) (bool, error) {
	ok, err := l.Client.SetNX(ctx, key, "1", lease).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	return l.Client.Del(ctx, key).Err()
}

func lockKey(documentID int64) string {
	return fmt.Sprintf("ingest:lock:%d", documentID)
}
