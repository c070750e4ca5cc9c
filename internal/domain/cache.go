package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketCache holds market snapshots for reads that bypass the store. Entries
// are dropped whenever an event for the market is published.
type MarketCache interface {
	// Set may skip the write when market was invalidated moments ago, since
	// the snapshot could predate that invalidation.
	Set(ctx context.Context, market Market) error
	// Get returns ErrNotFound on a miss.
	Get(ctx context.Context, id common.Hash) (Market, error)
	Invalidate(ctx context.Context, id common.Hash) error
}

// RateLimiter counts requests per key over a sliding window shared by every
// replica.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ReplayGuard remembers single-use keys, such as signed request
// signatures, for a bounded time. Claim reports false when key was already
// claimed and has not yet expired.
type ReplayGuard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// LockManager elects one replica to run a background job. Acquire fails with
// ErrLockHeld when another holder owns key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry of the durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries published events: Pub/Sub channels for live delivery and
// a capped stream for replay. Channels containing glob characters subscribe
// as patterns.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
