package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// ReplayGuard implements domain.ReplayGuard with SET NX plus a TTL, so every
// replica behind the same redis rejects a request another replica already
// served.
type ReplayGuard struct {
	c *Client
}

// NewReplayGuard creates a ReplayGuard backed by c.
func NewReplayGuard(c *Client) *ReplayGuard {
	return &ReplayGuard{c: c}
}

// Claim records key for ttl. It reports false if key is already recorded.
func (g *ReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.c.rdb.SetNX(ctx, g.c.Key("replay", key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim replay key: %w", err)
	}
	return ok, nil
}

var _ domain.ReplayGuard = (*ReplayGuard)(nil)
