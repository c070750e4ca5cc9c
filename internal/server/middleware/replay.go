package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// DefaultReplayCapacity bounds MemoryReplayGuard when no capacity is given.
const DefaultReplayCapacity = 100_000

type replayEntry struct {
	key     string
	expires time.Time
}

// MemoryReplayGuard is a process-local domain.ReplayGuard for single-replica
// deployments without redis. Entries are kept in claim order, which is also
// expiry order as long as callers use a single ttl. Expired entries are
// pruned on every claim and, once capacity is reached, the oldest entry is
// dropped.
type MemoryReplayGuard struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]time.Time
	queue    []replayEntry
	now      func() time.Time
}

// NewMemoryReplayGuard creates a MemoryReplayGuard holding at most capacity
// keys. A non-positive capacity selects DefaultReplayCapacity.
func NewMemoryReplayGuard(capacity int) *MemoryReplayGuard {
	if capacity <= 0 {
		capacity = DefaultReplayCapacity
	}
	return &MemoryReplayGuard{
		capacity: capacity,
		seen:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Claim records key for ttl and reports whether it was unused.
func (g *MemoryReplayGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.prune(now)
	if exp, ok := g.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	for len(g.queue) >= g.capacity {
		g.drop()
	}

	exp := now.Add(ttl)
	g.seen[key] = exp
	g.queue = append(g.queue, replayEntry{key: key, expires: exp})
	return true, nil
}

// Len returns the number of keys held.
func (g *MemoryReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

func (g *MemoryReplayGuard) prune(now time.Time) {
	for len(g.queue) > 0 && !now.Before(g.queue[0].expires) {
		g.drop()
	}
}

func (g *MemoryReplayGuard) drop() {
	e := g.queue[0]
	g.queue = g.queue[1:]
	// A key claimed again after expiry has a newer queue entry.
	if g.seen[e.key].Equal(e.expires) {
		delete(g.seen, e.key)
	}
}

var _ domain.ReplayGuard = (*MemoryReplayGuard)(nil)
