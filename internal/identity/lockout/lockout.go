// Package lockout counts failed password attempts and reports when a credential should be locked.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config controls the failure threshold. Window is how long a failure counts; zero keeps counting
// until Reset.
type Config struct {
	Enabled   bool
	Threshold int
	Window    time.Duration
}

var ErrUnavailable = errors.New("lockout backend unavailable")

// Policy records failures. RecordFailure reports true once the threshold is reached.
type Policy interface {
	RecordFailure(ctx context.Context, userID string) (bool, error)
	Reset(ctx context.Context, userID string) error
}

// RedisPolicy shares failure counters across instances.
type RedisPolicy struct {
	redis  redis.UniversalClient
	config Config
	prefix string
}

func NewRedisPolicy(client redis.UniversalClient, cfg Config) *RedisPolicy {
	return &RedisPolicy{redis: client, config: cfg, prefix: "nid:lockout:"}
}

func (p *RedisPolicy) key(userID string) string { return p.prefix + userID }

func (p *RedisPolicy) RecordFailure(ctx context.Context, userID string) (bool, error) {
	if !p.config.Enabled || userID == "" {
		return false, nil
	}

	count, err := p.redis.Incr(ctx, p.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// The TTL is set on the first failure so the window rolls from there.
	if count == 1 && p.config.Window > 0 {
		if err := p.redis.Expire(ctx, p.key(userID), p.config.Window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return count >= int64(p.config.Threshold), nil
}

func (p *RedisPolicy) Reset(ctx context.Context, userID string) error {
	if !p.config.Enabled || userID == "" {
		return nil
	}
	if err := p.redis.Del(ctx, p.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// FailureCount returns the current counter, zero when absent.
func (p *RedisPolicy) FailureCount(ctx context.Context, userID string) (int, error) {
	count, err := p.redis.Get(ctx, p.key(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(count), nil
}

// MemoryPolicy keeps counters in process. It is used when no redis address is configured.
type MemoryPolicy struct {
	config Config
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemoryPolicy(cfg Config) *MemoryPolicy {
	return &MemoryPolicy{config: cfg, now: time.Now, entries: make(map[string]memEntry)}
}

func (p *MemoryPolicy) RecordFailure(_ context.Context, userID string) (bool, error) {
	if !p.config.Enabled || userID == "" {
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	e, ok := p.entries[userID]
	if !ok || (!e.expiresAt.IsZero() && !now.Before(e.expiresAt)) {
		e = memEntry{}
		if p.config.Window > 0 {
			e.expiresAt = now.Add(p.config.Window)
		}
	}
	e.count++
	p.entries[userID] = e

	return e.count >= p.config.Threshold, nil
}

func (p *MemoryPolicy) Reset(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, userID)
	return nil
}
