// Package market implements the prediction market engine: the market
// registry, the assertion bridge to the truth oracle, AMM trading and
// outcome-token settlement. Every public operation runs as one unit of work
// and publishes its notifications only after the unit commits.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// DefaultInitialLiquidity is the amount each pool of a new market starts
// with, and the amount of each outcome token minted to the registry.
const DefaultInitialLiquidity = 1_000_000

// Engine owns every market and is the sole minter of their outcome tokens.
type Engine struct {
	uow              domain.UnitOfWork
	oracle           domain.Oracle
	publisher        domain.EventPublisher
	self             common.Address
	currency         common.Address
	initialLiquidity *uint256.Int
	now              func() time.Time
	logger           *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithInitialLiquidity overrides DefaultInitialLiquidity.
func WithInitialLiquidity(v *uint256.Int) Option {
	return func(e *Engine) { e.initialLiquidity = v.Clone() }
}

// WithPublisher sets where committed events are fanned out.
func WithPublisher(p domain.EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine acting as self and settling in currency. The currency
// must be on the whitelist; it is checked only here.
func New(
	uow domain.UnitOfWork,
	oracle domain.Oracle,
	whitelist domain.CurrencyWhitelist,
	self common.Address,
	currency common.Address,
	opts ...Option,
) (*Engine, error) {
	if whitelist != nil && !whitelist.IsOnWhitelist(currency) {
		return nil, fmt.Errorf("market: currency %s is not whitelisted: %w", currency.Hex(), domain.ErrInputInvalid)
	}
	if self == (common.Address{}) {
		return nil, fmt.Errorf("market: engine address is zero: %w", domain.ErrInputInvalid)
	}

	e := &Engine{
		uow:              uow,
		oracle:           oracle,
		self:             self,
		currency:         currency,
		initialLiquidity: uint256.NewInt(DefaultInitialLiquidity),
		now:              time.Now,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "market_engine"))
	return e, nil
}

// Address is the identity the engine holds collateral and mints tokens as.
func (e *Engine) Address() common.Address { return e.self }

// Currency is the settlement currency.
func (e *Engine) Currency() common.Address { return e.currency }

// Oracle returns the oracle assertions are submitted to.
func (e *Engine) Oracle() domain.Oracle { return e.oracle }

// InitialLiquidity returns the per-pool starting liquidity of new markets.
func (e *Engine) InitialLiquidity() *uint256.Int { return e.initialLiquidity.Clone() }

// work is the per-operation view handed to engine internals: the store
// transaction plus the events to append to the outbox on commit.
type work struct {
	domain.Tx
	now    time.Time
	events []domain.Event
}

func (w *work) emit(kind domain.EventKind, marketID common.Hash, data any) {
	w.events = append(w.events, domain.Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		MarketID:  marketID,
		Data:      data,
		CreatedAt: w.now,
	})
}

// market loads a market, mapping absence to ErrNotFound.
func (w *work) market(ctx context.Context, id common.Hash) (domain.Market, error) {
	m, err := w.Markets().Get(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market: get %s: %w", id.Hex(), err)
	}
	if !m.Exists() {
		return domain.Market{}, fmt.Errorf("market: %s: %w", id.Hex(), domain.ErrNotFound)
	}
	return m, nil
}

// atomic runs fn as one unit of work, appends its events to the outbox in the
// same unit and publishes them once the unit has committed.
func (e *Engine) atomic(ctx context.Context, fn func(ctx context.Context, w *work) error) error {
	var committed []domain.Event
	err := e.uow.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		w := &work{Tx: tx, now: e.now().UTC()}
		if err := fn(ctx, w); err != nil {
			return err
		}
		for _, ev := range w.events {
			if err := tx.Events().Append(ctx, ev); err != nil {
				return fmt.Errorf("market: append %s event: %w", ev.Kind, err)
			}
		}
		committed = w.events
		return nil
	})
	if err != nil {
		return err
	}
	if e.publisher != nil && len(committed) > 0 {
		e.publisher.Publish(ctx, committed)
	}
	return nil
}

// pull moves amount of collateral from caller to the engine. The caller must
// have approved the engine beforehand.
func (e *Engine) pull(ctx context.Context, w *work, from common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := w.Collateral().TransferFrom(ctx, e.self, from, e.self, amount); err != nil {
		return fmt.Errorf("market: pull %s collateral from %s: %w", amount.Dec(), from.Hex(), err)
	}
	return nil
}

// pay moves amount of collateral from the engine to to.
func (e *Engine) pay(ctx context.Context, w *work, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := w.Collateral().Transfer(ctx, e.self, to, amount); err != nil {
		return fmt.Errorf("market: pay %s collateral to %s: %w", amount.Dec(), to.Hex(), err)
	}
	return nil
}

func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

func requireAmount(name string, v *uint256.Int) error {
	if v == nil {
		return fmt.Errorf("market: %s is required: %w", name, domain.ErrInputInvalid)
	}
	return nil
}
