// Package ratelimit builds token buckets from configured policies and waits on
// them with an upper bound.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/spigell/jobmatch/internal/jobs"
)

// Policy describes a token bucket as "Calls per Window" with an optional
// minimum spacing between calls.
type Policy struct {
	Calls      int
	Window     time.Duration
	MinSpacing time.Duration
	Burst      int
}

// Limiter builds the bucket. The effective refill interval is the larger of
// Window/Calls and MinSpacing. A zero policy allows everything.
func (p Policy) Limiter() *rate.Limiter {
	interval := time.Duration(0)
	if p.Calls > 0 && p.Window > 0 {
		interval = p.Window / time.Duration(p.Calls)
	}
	if p.MinSpacing > interval {
		interval = p.MinSpacing
	}
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}

	burst := p.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(interval), burst)
}

// Acquire waits for a token for at most timeout. Any failure to obtain a token
// in time is reported as jobs.ErrRateLimited; parent cancellation is returned as is.
func Acquire(ctx context.Context, lim *rate.Limiter, timeout time.Duration) error {
	if lim == nil {
		return nil
	}
	if timeout <= 0 {
		if lim.Allow() {
			return nil
		}
		return jobs.ErrRateLimited
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := lim.Wait(waitCtx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", jobs.ErrRateLimited, err)
	}
	return nil
}

// ErrQueueFull is returned when too many callers are already waiting.
var ErrQueueFull = errors.New("rate limit queue is full")

// Queue bounds how many callers may wait on a limiter at once.
type Queue struct {
	lim     *rate.Limiter
	max     int64
	timeout time.Duration
	waiting atomic.Int64
}

func NewQueue(lim *rate.Limiter, maxWaiting int, timeout time.Duration) *Queue {
	return &Queue{lim: lim, max: int64(maxWaiting), timeout: timeout}
}

// Acquire behaves like the package-level Acquire but rejects callers beyond
// the queue bound immediately.
func (q *Queue) Acquire(ctx context.Context) error {
	n := q.waiting.Add(1)
	defer q.waiting.Add(-1)

	if q.max > 0 && n > q.max {
		return fmt.Errorf("%w: %w", jobs.ErrRateLimited, ErrQueueFull)
	}
	return Acquire(ctx, q.lim, q.timeout)
}

// Waiting reports the number of callers currently inside Acquire.
func (q *Queue) Waiting() int {
	return int(q.waiting.Load())
}
