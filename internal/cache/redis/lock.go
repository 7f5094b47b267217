package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// unlockLua deletes a lock key only if it still holds the caller's token, so
// a holder whose TTL expired cannot release the next holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const unlockTimeout = 5 * time.Second

// LockManager implements domain.LockManager with SET NX PX and a scripted
// conditional unlock. The finalizer uses it so that two instances sweeping
// at the same moment do not both work the same item.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	logger   *slog.Logger
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		logger:   logger.With(slog.String("component", "redis_lock")),
	}
}

func (lm *LockManager) lockKey(key string) string {
	return lm.c.Key("lock", key)
}

// Acquire takes the lock for key for at most ttl. The returned unlock
// function is idempotent. It returns domain.ErrLockHeld if another party
// holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.lockKey(key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	return sync.OnceFunc(func() {
		// Detached from ctx: the finalizer releases after its sweep context ends.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
		defer cancel()
		if err := lm.unlockSc.Run(rctx, lm.c.rdb, []string{lk}, token).Err(); err != nil {
			lm.logger.WarnContext(rctx, "unlock failed, lock will expire",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}), nil
}

var _ domain.LockManager = (*LockManager)(nil)
