package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a two-level read-through cache for role templates: an in-memory
// expirable LRU in front of an optional Redis layer. Both levels are
// invalidated on registry mutation.
type Cache struct {
	local *lru.LRU[int64, *RoleTemplate]
	redis *redis.Client
	ttl   time.Duration

	// OnHit and OnMiss are optional metric hooks.
	OnHit  func()
	OnMiss func()
}

// NewCache creates a role template cache. redisClient may be nil to run
// memory-only.
func NewCache(size int, ttl time.Duration, redisClient *redis.Client) *Cache {
	if size < 16 {
		size = 16
	}
	return &Cache{
		local: lru.NewLRU[int64, *RoleTemplate](size, nil, ttl),
		redis: redisClient,
		ttl:   ttl,
	}
}

func redisKey(roleID int64) string {
	return fmt.Sprintf("gatehouse:role:%d", roleID)
}

// Get returns a cached role template, checking memory first then Redis.
func (c *Cache) Get(ctx context.Context, roleID int64) (*RoleTemplate, bool) {
	if role, ok := c.local.Get(roleID); ok {
		c.hit()
		return role, true
	}

	if c.redis != nil {
		data, err := c.redis.Get(ctx, redisKey(roleID)).Result()
		if err == nil {
			var role RoleTemplate
			if err := json.Unmarshal([]byte(data), &role); err == nil {
				c.local.Add(roleID, &role)
				c.hit()
				return &role, true
			}
		}
	}

	c.miss()
	return nil, false
}

// Set stores a role template in both cache levels.
func (c *Cache) Set(ctx context.Context, role *RoleTemplate) {
	c.local.Add(role.ID, role)

	if c.redis != nil {
		if data, err := json.Marshal(role); err == nil {
			// Redis write failures are tolerable; the LRU still serves.
			c.redis.Set(ctx, redisKey(role.ID), data, c.ttl)
		}
	}
}

// Invalidate drops a role template from both cache levels.
func (c *Cache) Invalidate(ctx context.Context, roleID int64) {
	c.local.Remove(roleID)
	if c.redis != nil {
		c.redis.Del(ctx, redisKey(roleID))
	}
}

func (c *Cache) hit() {
	if c.OnHit != nil {
		c.OnHit()
	}
}

func (c *Cache) miss() {
	if c.OnMiss != nil {
		c.OnMiss()
	}
}
