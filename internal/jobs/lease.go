package jobs

import (
	"context"
	"sync"
	"time"

	"telecom-keeper/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease guards job uniqueness beyond a single scheduler instance.
// Tokens identify the holder; only the holder may renew or release.
type Lease interface {
	Acquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, token string) error
}

func newLeaseToken() string { return uuid.NewString() }

// RedisLease stores leases in Redis so that at most one process on a host
// group runs a given job.
type RedisLease struct {
	Client *redis.Client
	Prefix string
}

func NewRedisLease(rdb *redis.Client) *RedisLease {
	return &RedisLease{Client: rdb, Prefix: "keeper:job:"}
}

func (l *RedisLease) Acquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	return utils.AcquireLease(ctx, l.Client, l.Prefix+name, token, ttl)
}

func (l *RedisLease) Renew(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	return utils.RenewLease(ctx, l.Client, l.Prefix+name, token, ttl)
}

func (l *RedisLease) Release(ctx context.Context, name, token string) error {
	return utils.ReleaseLease(ctx, l.Client, l.Prefix+name, token)
}

// MemoryLease is a process-local Lease with the same semantics as RedisLease.
type MemoryLease struct {
	mu   sync.Mutex
	held map[string]memoryHold
	now  func() time.Time
}

type memoryHold struct {
	token   string
	expires time.Time
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{held: map[string]memoryHold{}, now: time.Now}
}

func (l *MemoryLease) Acquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	h, ok := l.held[name]
	if ok && h.token != token && now.Before(h.expires) {
		return false, nil
	}
	l.held[name] = memoryHold{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (l *MemoryLease) Renew(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	h, ok := l.held[name]
	if !ok || h.token != token || !now.Before(h.expires) {
		return false, nil
	}
	l.held[name] = memoryHold{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (l *MemoryLease) Release(ctx context.Context, name, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.held[name]; ok && h.token == token {
		delete(l.held, name)
	}
	return nil
}
