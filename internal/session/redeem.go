package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"qrattend/internal/attendance"
)

// RedisRedeemer records used tokens in Redis until they would have expired anyway.
type RedisRedeemer struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisRedeemer creates a redeemer on client.
func NewRedisRedeemer(client *redis.Client) *RedisRedeemer {
	return &RedisRedeemer{client: client, now: time.Now}
}

func (r *RedisRedeemer) Redeem(ctx context.Context, grant attendance.Grant) (bool, error) {
	ttl := grant.ExpiresAt.Sub(r.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	return r.client.SetNX(ctx, redeemedKey(grant.ID), r.now().Unix(), ttl).Result()
}

func (r *RedisRedeemer) Release(ctx context.Context, grant attendance.Grant) error {
	return r.client.Del(ctx, redeemedKey(grant.ID)).Err()
}

func redeemedKey(id string) string {
	return fmt.Sprintf("session_redeemed:%s", id)
}

// MemoryRedeemer is the single-process equivalent of RedisRedeemer.
type MemoryRedeemer struct {
	mu   sync.Mutex
	used map[string]time.Time
	now  func() time.Time
}

// NewMemoryRedeemer creates an empty redeemer. Entries are pruned once now
// passes their expiry; a nil now means time.Now.
func NewMemoryRedeemer(now func() time.Time) *MemoryRedeemer {
	if now == nil {
		now = time.Now
	}
	return &MemoryRedeemer{used: make(map[string]time.Time), now: now}
}

func (m *MemoryRedeemer) Redeem(_ context.Context, grant attendance.Grant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, exp := range m.used {
		if now.After(exp) {
			delete(m.used, id)
		}
	}
	if _, ok := m.used[grant.ID]; ok {
		return false, nil
	}
	m.used[grant.ID] = grant.ExpiresAt
	return true, nil
}

func (m *MemoryRedeemer) Release(_ context.Context, grant attendance.Grant) error {
	m.mu.Lock()
	delete(m.used, grant.ID)
	m.mu.Unlock()
	return nil
}
