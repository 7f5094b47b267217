package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// DefaultItemTTL bounds how stale a cached item can get if an invalidation
// is lost.
const DefaultItemTTL = 30 * time.Second

// ItemCache implements domain.ItemCache using Redis hashes holding the
// JSON-encoded item.
//
// Key schema:
//
//	cache:item:{id} - hash with field "data" containing JSON
type ItemCache struct {
	c   *Client
	ttl time.Duration
}

// NewItemCache creates an ItemCache. A non-positive ttl uses DefaultItemTTL.
func NewItemCache(c *Client, ttl time.Duration) *ItemCache {
	if ttl <= 0 {
		ttl = DefaultItemTTL
	}
	return &ItemCache{c: c, ttl: ttl}
}

func (ic *ItemCache) itemKey(id int64) string {
	return ic.c.Key("cache", "item", strconv.FormatInt(id, 10))
}

// Set stores an item with the cache TTL.
func (ic *ItemCache) Set(ctx context.Context, item domain.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("redis: marshal item %d: %w", item.ID, err)
	}

	key := ic.itemKey(item.ID)
	pipe := ic.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, ic.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set item %d: %w", item.ID, err)
	}
	return nil
}

// Get returns a cached item or domain.ErrNotFound.
func (ic *ItemCache) Get(ctx context.Context, id int64) (domain.Item, error) {
	data, err := ic.c.rdb.HGet(ctx, ic.itemKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Item{}, domain.ErrNotFound
		}
		return domain.Item{}, fmt.Errorf("redis: get item %d: %w", id, err)
	}

	var item domain.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return domain.Item{}, fmt.Errorf("redis: unmarshal item %d: %w", id, err)
	}
	return item, nil
}

// Invalidate removes a cached item.
func (ic *ItemCache) Invalidate(ctx context.Context, id int64) error {
	if err := ic.c.rdb.Del(ctx, ic.itemKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate item %d: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ItemCache = (*ItemCache)(nil)
