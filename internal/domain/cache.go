package domain

import (
	"context"
	"time"
)

// ItemCache holds recently read items so that GET /api/items/{id} and the
// websocket subscribe snapshot avoid the store. Entries are invalidated on
// every accepted bid and on closure; a miss returns ErrNotFound.
type ItemCache interface {
	Set(ctx context.Context, item Item) error
	Get(ctx context.Context, id int64) (Item, error)
	Invalidate(ctx context.Context, id int64) error
}

// RateLimiter budgets requests per key (user id or client address).
// Allow checks an explicit budget; Wait blocks on the limiter's default one.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager serialises the finalizer across processes. Acquire fails with
// ErrLockHeld when another holder owns key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry of a durable stream. ID orders entries and is
// the cursor passed back to StreamRead.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries realtime frames between processes (Publish/Subscribe)
// and keeps the durable auction event log (StreamAppend/StreamRead).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, afterID string, count int) ([]StreamMessage, error)
}
