package automark

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunLock keeps two workers from sweeping the same date concurrently. A held
// lock means someone else is on it; the caller skips, it is not an error.
type RunLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRunLock creates a lock. A nil client disables locking (single-process
// deployments and tests).
func NewRunLock(client *redis.Client, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RunLock{client: client, ttl: ttl}
}

// Acquire returns true when the caller now owns the lock for date.
func (l *RunLock) Acquire(ctx context.Context, date string) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}
	return l.client.SetNX(ctx, l.key(date), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
}

// Release drops the lock early; the TTL covers crashed holders.
func (l *RunLock) Release(ctx context.Context, date string) {
	if l == nil || l.client == nil {
		return
	}
	_ = l.client.Del(ctx, l.key(date)).Err()
}

func (l *RunLock) key(date string) string {
	return "hostel:sweep-lock:" + date
}
