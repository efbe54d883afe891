package workers

import (
	"context"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes the lock key only when it still holds our token, so
// a replica that lost its lease cannot release a lock another replica holds.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SweepLock is a Redis lease that keeps concurrent monitor replicas from
// sweeping the same requests. A nil client degrades to an always-acquired
// lock for single-process deployments.
type SweepLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

func NewSweepLock(client *redis.Client, key string, ttl time.Duration) *SweepLock {
	return &SweepLock{
		client: client,
		key:    key,
		ttl:    ttl,
		token:  uuid.New().String(),
	}
}

// Acquire takes the lease. Returns false when another replica holds it.
func (l *SweepLock) Acquire(ctx context.Context) bool {
	if l == nil || l.client == nil {
		return true
	}
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		log.Printf("Sweep lock: acquire failed, skipping this sweep: %v", err)
		return false
	}
	return ok
}

// Release gives the lease back. Releasing a lease another replica took over
// (after our TTL lapsed) is a no-op.
func (l *SweepLock) Release(ctx context.Context) {
	if l == nil || l.client == nil {
		return
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		log.Printf("Sweep lock: release failed: %v", err)
	}
}
