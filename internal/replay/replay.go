// Package replay records consumed assertion nonces so each payload is accepted at most once.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard claims a (username, nonce) pair. Claim returns false if it was claimed before.
type Guard interface {
	Claim(ctx context.Context, username, nonce string, ttl time.Duration) (bool, error)
}

type setNXer interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// Redis is a Guard backed by SET NX with expiry.
type Redis struct {
	client setNXer
	prefix string
}

// NewRedis returns a Redis guard; *redis.Client satisfies client.
func NewRedis(client setNXer) *Redis {
	return &Redis{client: client, prefix: "handoff:nonce:"}
}

func (r *Redis) key(username, nonce string) string {
	return r.prefix + username + ":" + nonce
}

// Claim atomically marks the pair as used for ttl.
func (r *Redis) Claim(ctx context.Context, username, nonce string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.key(username, nonce), 1, ttl).Result()
}

// Memory is an in-process Guard for single-instance deployments and tests.
type Memory struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemory returns an empty in-memory guard.
func NewMemory() *Memory {
	return &Memory{seen: map[string]time.Time{}, now: time.Now}
}

// Claim marks the pair as used for ttl. Expired entries are dropped lazily.
func (m *Memory) Claim(_ context.Context, username, nonce string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, exp := range m.seen {
		if !exp.After(now) {
			delete(m.seen, k)
		}
	}
	k := username + "\x00" + nonce
	if _, ok := m.seen[k]; ok {
		return false, nil
	}
	m.seen[k] = now.Add(ttl)
	return true, nil
}
