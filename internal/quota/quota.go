// Package quota enforces the monthly API call allowance of each license.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	apperrors "github.com/onaplatform/ona-api/internal/errors"
	"github.com/onaplatform/ona-api/internal/metrics"
	"github.com/onaplatform/ona-api/pkg/licensing"
	"github.com/rs/zerolog/log"
)

// Counter counts calls per subject per calendar month (UTC).
type Counter interface {
	// Increment adds one call and returns the month's total including it.
	Increment(ctx context.Context, subject string, now time.Time) (int64, error)
	Close() error
}

func periodKey(subject string, now time.Time) string {
	return "ona:quota:" + subject + ":" + now.UTC().Format("2006-01")
}

// periodEnd is the first instant of the following month.
func periodEnd(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
}

// RedisCounter shares counters between API replicas.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter connects to redisURL (redis://host:port/db).
func NewRedisCounter(ctx context.Context, redisURL string) (*RedisCounter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("Redis quota counter connected")
	return &RedisCounter{client: client}, nil
}

func (c *RedisCounter) Increment(ctx context.Context, subject string, now time.Time) (int64, error) {
	key := periodKey(subject, now)
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// Keep a day past month end so late replicas still see the total.
	pipe.ExpireAt(ctx, key, periodEnd(now).Add(24*time.Hour))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment quota counter: %w", err)
	}
	return incr.Val(), nil
}

func (c *RedisCounter) Close() error { return c.client.Close() }

// MemoryCounter keeps counters in process; used when no Redis is set.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int64)}
}

func (c *MemoryCounter) Increment(_ context.Context, subject string, now time.Time) (int64, error) {
	key := periodKey(subject, now)
	c.mu.Lock()
	defer c.mu.Unlock()
	// Drop counters from earlier months.
	suffix := now.UTC().Format("2006-01")
	for k := range c.counts {
		if !strings.HasSuffix(k, suffix) {
			delete(c.counts, k)
		}
	}
	c.counts[key]++
	return c.counts[key], nil
}

func (c *MemoryCounter) Close() error { return nil }

// Usage is the caller's position against its monthly allowance.
type Usage struct {
	Used  int64           `json:"used"`
	Limit licensing.Limit `json:"limit"`
	Reset time.Time       `json:"reset"`
}

// Enforcer applies api_calls_per_month to resolved licenses.
type Enforcer struct {
	counter Counter
	checker *licensing.Checker
	now     func() time.Time
}

func NewEnforcer(counter Counter, checker *licensing.Checker) *Enforcer {
	return &Enforcer{counter: counter, checker: checker, now: time.Now}
}

// Allow counts one call for subject and rejects it with a quota error once
// the license's monthly allowance is spent. Unlimited licenses are not
// counted. Counter failures let the call through.
func (e *Enforcer) Allow(ctx context.Context, lic *licensing.ResolvedLicense, subject string) (Usage, error) {
	now := e.now()
	limit, _ := lic.Features.Limit(licensing.LimitAPICallsPerMonth)
	usage := Usage{Limit: limit, Reset: periodEnd(now)}
	if limit.IsUnlimited() {
		return usage, nil
	}

	used, err := e.counter.Increment(ctx, subject, now)
	if err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Quota counter unavailable, failing open")
		return usage, nil
	}
	usage.Used = used

	if err := e.checker.CheckLimit(lic, string(licensing.LimitAPICallsPerMonth), used); err != nil {
		var exceeded *licensing.LimitExceededError
		if errors.As(err, &exceeded) {
			metrics.QuotaRejections.Inc()
			return usage, apperrors.Quota("api_call", lic.AccountID, err)
		}
		return usage, err
	}
	return usage, nil
}
