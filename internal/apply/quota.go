package apply

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spigell/jobmatch/internal/jobs"
)

// QuotaStore counts successful applies per user and day. day is formatted
// with jobs.Day.
type QuotaStore interface {
	Count(ctx context.Context, userID, day string) (int, error)
	Increment(ctx context.Context, userID, day string) (int, error)
}

// MemoryQuota keeps one counter per user and forgets it on the next day.
type MemoryQuota struct {
	mu     sync.Mutex
	quotas map[string]jobs.ApplyQuota
}

func NewMemoryQuota() *MemoryQuota {
	return &MemoryQuota{quotas: map[string]jobs.ApplyQuota{}}
}

func (m *MemoryQuota) Count(_ context.Context, userID, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.quotas[userID]
	if q.ResetDate != day {
		return 0, nil
	}
	return q.Count, nil
}

func (m *MemoryQuota) Increment(_ context.Context, userID, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.quotas[userID]
	if q.ResetDate != day {
		q = jobs.ApplyQuota{UserID: userID, ResetDate: day}
	}
	q.Count++
	m.quotas[userID] = q
	return q.Count, nil
}

const (
	quotaPrefix = "jobmatch:quota:"
	// Keys outlive their day so late readers in other time zones still see them.
	quotaTTL = 48 * time.Hour
)

// RedisQuota shares counters between processes.
type RedisQuota struct {
	client redis.UniversalClient
}

func NewRedisQuota(client redis.UniversalClient) *RedisQuota {
	return &RedisQuota{client: client}
}

func quotaKey(userID, day string) string {
	return quotaPrefix + userID + ":" + day
}

func (r *RedisQuota) Count(ctx context.Context, userID, day string) (int, error) {
	n, err := r.client.Get(ctx, quotaKey(userID, day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading quota: %w", err)
	}
	return n, nil
}

func (r *RedisQuota) Increment(ctx context.Context, userID, day string) (int, error) {
	key := quotaKey(userID, day)
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, quotaTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incrementing quota: %w", err)
	}
	return int(incr.Val()), nil
}
