// Package cache is the optional Redis-backed projection cache. Strictly a
// non-authoritative optimization: every entry expires, every write path
// invalidates, and a miss is answered by folding the event log.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gridpass/internal/permission"
	platformredis "gridpass/internal/platform/redis"
)

const keyPrefix = "gridpass:projection:"

type Redis struct {
	client *platformredis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewRedis(client *platformredis.Client, ttl time.Duration, log *slog.Logger) *Redis {
	return &Redis{client: client, ttl: ttl, log: log}
}

// Get returns the cached projection when present. Cache trouble is reported
// as a miss: the caller falls back to the fold, which is always correct.
func (c *Redis) Get(ctx context.Context, permissionID string) (permission.Projection, bool) {
	payload, err := c.client.Get(ctx, keyPrefix+permissionID).Bytes()
	if err != nil {
		return permission.Projection{}, false
	}
	var proj permission.Projection
	if err := json.Unmarshal(payload, &proj); err != nil {
		c.log.Warn("dropping undecodable cached projection", "permission_id", permissionID, "error", err)
		c.Invalidate(ctx, permissionID)
		return permission.Projection{}, false
	}
	return proj, true
}

func (c *Redis) Set(ctx context.Context, proj permission.Projection) {
	payload, err := json.Marshal(proj)
	if err != nil {
		c.log.Warn("failed to encode projection for cache", "permission_id", proj.PermissionID, "error", err)
		return
	}
	if err := c.client.Set(ctx, keyPrefix+proj.PermissionID, payload, c.ttl).Err(); err != nil {
		c.log.Warn("projection cache write failed", "permission_id", proj.PermissionID, "error", err)
	}
}

func (c *Redis) Invalidate(ctx context.Context, permissionID string) {
	if err := c.client.Del(ctx, keyPrefix+permissionID).Err(); err != nil {
		c.log.Warn("projection cache invalidation failed", "permission_id", permissionID, "error", err)
	}
}
