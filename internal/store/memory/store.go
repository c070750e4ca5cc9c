// Package memory implements the domain stores in process memory. One mutex
// serializes every unit of work. A unit writes the live state directly and
// keeps an undo journal, so its cost follows what it touches rather than
// the size of the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

type balanceKey struct {
	token  common.Address
	holder common.Address
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

type state struct {
	seq        uint64
	markets    map[common.Hash]domain.Market
	order      []common.Hash
	assertions map[common.Hash]domain.AssertedMarket
	tokens     map[common.Address]domain.Token
	balances   map[balanceKey]*uint256.Int
	collateral map[common.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	oracle     map[common.Hash]domain.OracleAssertion
}

func newState() *state {
	return &state{
		markets:    make(map[common.Hash]domain.Market),
		assertions: make(map[common.Hash]domain.AssertedMarket),
		tokens:     make(map[common.Address]domain.Token),
		balances:   make(map[balanceKey]*uint256.Int),
		collateral: make(map[common.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
		oracle:     make(map[common.Hash]domain.OracleAssertion),
	}
}

// Store is an in-memory domain.UnitOfWork and domain.EventStore.
type Store struct {
	mu     sync.Mutex
	st     *state
	events []domain.Event
	now    func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// Atomic runs fn against the live state while holding the store lock. Every
// write made through tx is journaled and undone if fn fails or panics. Events
// are buffered on the tx and appended to the log only once fn succeeds.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{st: s.st, now: s.now}
	committed := false
	defer func() {
		if !committed {
			t.rollback()
		}
	}()

	if err := fn(ctx, t); err != nil {
		return err
	}
	committed = true
	s.events = append(s.events, t.events...)
	return nil
}

// List returns committed events, newest first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return page(filterEvents(s.events, func(e domain.Event) bool { return inRange(e, opts) }), opts), nil
}

// ListByMarket returns committed events for one market, newest first.
func (s *Store) ListByMarket(_ context.Context, marketID common.Hash, opts domain.ListOpts) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return page(filterEvents(s.events, func(e domain.Event) bool {
		return e.MarketID == marketID && inRange(e, opts)
	}), opts), nil
}

// ListBefore returns up to limit events created before the cutoff, oldest
// first.
func (s *Store) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Event
	for _, e := range s.events {
		if !e.CreatedAt.Before(before) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// DeleteBefore drops events created before the cutoff.
func (s *Store) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0:0]
	var n int64
	for _, e := range s.events {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return n, nil
}

func filterEvents(events []domain.Event, keep func(domain.Event) bool) []domain.Event {
	var out []domain.Event
	for i := len(events) - 1; i >= 0; i-- {
		if keep(events[i]) {
			out = append(out, events[i])
		}
	}
	return out
}

func inRange(e domain.Event, opts domain.ListOpts) bool {
	if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
		return false
	}
	return true
}

func page(events []domain.Event, opts domain.ListOpts) []domain.Event {
	if opts.Offset >= len(events) {
		return nil
	}
	events = events[opts.Offset:]
	if opts.Limit > 0 && len(events) > opts.Limit {
		events = events[:opts.Limit]
	}
	return events
}

// sortedMarkets returns markets in creation order.
func (s *state) sortedMarkets() []domain.Market {
	out := make([]domain.Market, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.markets[id].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

var (
	_ domain.UnitOfWork = (*Store)(nil)
	_ domain.EventStore = (*Store)(nil)
)
