package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// DefaultMarketTTL bounds how long a snapshot may outlive a missed
// invalidation.
const DefaultMarketTTL = 5 * time.Minute

// DefaultInvalidationFence is how long Set is refused after Invalidate. It
// must exceed the time between a reader loading a market and caching it.
const DefaultInvalidationFence = 5 * time.Second

// setUnfencedLua writes the snapshot only while no invalidation fence exists.
const setUnfencedLua = `
if redis.call('EXISTS', KEYS[2]) == 1 then
    return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`

// MarketCache implements domain.MarketCache. Each market is one string key
// holding a JSON snapshot, plus a short-lived fence written on invalidation:
//
//	{prefix}:market:{id}
//	{prefix}:market-fence:{id}
//
// A reader that loaded a market before a commit may try to cache it after the
// commit's invalidation. The fence makes that Set a no-op, so a stale
// snapshot is not re-cached for the full TTL.
type MarketCache struct {
	c           *Client
	ttl         time.Duration
	fence       time.Duration
	setUnfenced *redis.Script
}

// NewMarketCache creates a MarketCache backed by c. A non-positive ttl
// selects DefaultMarketTTL.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = DefaultMarketTTL
	}
	return &MarketCache{
		c:           c,
		ttl:         ttl,
		fence:       DefaultInvalidationFence,
		setUnfenced: redis.NewScript(setUnfencedLua),
	}
}

// marketSnapshot is the cached wire form. Amounts marshal as decimal strings.
type marketSnapshot struct {
	ID                common.Hash    `json:"id"`
	Sequence          uint64         `json:"sequence"`
	Creator           common.Address `json:"creator"`
	Resolved          bool           `json:"resolved"`
	AssertedOutcomeID common.Hash    `json:"asserted_outcome_id"`
	Outcome1Token     common.Address `json:"outcome1_token"`
	Outcome2Token     common.Address `json:"outcome2_token"`
	Reward            *uint256.Int   `json:"reward"`
	RequiredBond      *uint256.Int   `json:"required_bond"`
	Outcome1          []byte         `json:"outcome1"`
	Outcome2          []byte         `json:"outcome2"`
	Description       []byte         `json:"description"`
	Outcome1Pool      *uint256.Int   `json:"outcome1_pool"`
	Outcome2Pool      *uint256.Int   `json:"outcome2_pool"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func encodeMarket(m domain.Market) ([]byte, error) {
	return json.Marshal(marketSnapshot(m))
}

func decodeMarket(data []byte) (domain.Market, error) {
	var s marketSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.Market{}, err
	}
	return domain.Market(s), nil
}

// Set stores a snapshot of m unless the market was invalidated within the
// fence window.
func (mc *MarketCache) Set(ctx context.Context, m domain.Market) error {
	data, err := encodeMarket(m)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", m.ID.Hex(), err)
	}
	keys := []string{mc.key(m.ID), mc.fenceKey(m.ID)}
	if err := mc.setUnfenced.Run(ctx, mc.c.rdb, keys, data, mc.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis: set market %s: %w", m.ID.Hex(), err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a cache miss.
func (mc *MarketCache) Get(ctx context.Context, id common.Hash) (domain.Market, error) {
	data, err := mc.c.rdb.Get(ctx, mc.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Market{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id.Hex(), err)
	}
	m, err := decodeMarket(data)
	if err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", id.Hex(), err)
	}
	return m, nil
}

// Invalidate drops the snapshot of id and fences it against read-through
// writes of older snapshots.
func (mc *MarketCache) Invalidate(ctx context.Context, id common.Hash) error {
	_, err := mc.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, mc.key(id))
		pipe.Set(ctx, mc.fenceKey(id), 1, mc.fence)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id.Hex(), err)
	}
	return nil
}

func (mc *MarketCache) key(id common.Hash) string {
	return mc.c.Key("market", id.Hex())
}

func (mc *MarketCache) fenceKey(id common.Hash) string {
	return mc.c.Key("market-fence", id.Hex())
}

var _ domain.MarketCache = (*MarketCache)(nil)
