package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// unlockLua deletes the lock only while it still carries the caller's token,
// so an expired holder cannot release a lock someone else has since taken.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const (
	defaultLockWait  = 5 * time.Second
	lockPollInterval = 25 * time.Millisecond
)

// LockManager implements domain.LockManager with SET NX PX and a token
// checked unlock. Acquire waits up to the configured wait for a held lock
// to be released before giving up with domain.ErrLockHeld.
type LockManager struct {
	client *Client
	unlock *redis.Script
	wait   time.Duration
}

// NewLockManager creates a LockManager. A non-positive wait uses 5s.
func NewLockManager(c *Client, wait time.Duration) *LockManager {
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &LockManager{client: c, unlock: redis.NewScript(unlockLua), wait: wait}
}

// Acquire obtains key for ttl. The returned unlock is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	rdb := lm.client.Underlying()
	lk := lm.client.Key("lock", key)
	token := uuid.NewString()
	deadline := time.Now().Add(lm.wait)

	for {
		ok, err := rdb.SetNX(ctx, lk, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
		}
		timer := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The caller's context may already be cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lm.unlock.Run(unlockCtx, rdb, []string{lk}, token).Err()
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
