package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Big6ixxx/sendzz/internal/clock"
	"github.com/redis/go-redis/v9"
)

// Limit is a fixed-window quota.
type Limit struct {
	Max    int
	Window time.Duration
}

var (
	LimitOTPRequest = Limit{Max: 5, Window: time.Hour}
	LimitOTPVerify  = Limit{Max: 5, Window: 15 * time.Minute}
	LimitWithdrawal = Limit{Max: 10, Window: 24 * time.Hour}
	LimitTransfer   = Limit{Max: 20, Window: time.Hour}
	LimitAPI        = Limit{Max: 100, Window: time.Minute}
)

// Decision is the outcome of a single rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per key within a window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit Limit) (Decision, error)
}

const rateLimitPrefix = "ratelimit"

var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {count, redis.call('PTTL', KEYS[1])}
`)

// RedisLimiter shares counters across instances.
type RedisLimiter struct {
	client redis.Scripter
}

func NewRedisLimiter(client redis.Scripter) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit Limit) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, l.client, []string{rateLimitPrefix + ":" + key}, limit.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}
	return decide(int(res[0]), limit, time.Duration(res[1])*time.Millisecond), nil
}

type window struct {
	count   int
	resetAt time.Time
}

const memorySweepInterval = time.Minute

// MemoryLimiter is a single-process fallback used when Redis is not configured.
type MemoryLimiter struct {
	mu        sync.Mutex
	clock     clock.Clock
	windows   map[string]*window
	nextSweep time.Time
}

func NewMemoryLimiter(c clock.Clock) *MemoryLimiter {
	if c == nil {
		c = clock.RealClock{}
	}
	return &MemoryLimiter{clock: c, windows: make(map[string]*window)}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit Limit) (Decision, error) {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if !now.Before(l.nextSweep) {
		l.sweep(now)
		l.nextSweep = now.Add(memorySweepInterval)
	}
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(limit.Window)}
		l.windows[key] = w
	}
	w.count++
	return decide(w.count, limit, w.resetAt.Sub(now)), nil
}

// sweep drops windows that have already reset. It runs at most once per
// memorySweepInterval. Caller holds mu.
func (l *MemoryLimiter) sweep(now time.Time) {
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
}

func decide(count int, limit Limit, ttl time.Duration) Decision {
	if ttl < 0 {
		ttl = limit.Window
	}
	if count > limit.Max {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: ttl}
	}
	return Decision{Allowed: true, Remaining: limit.Max - count}
}
