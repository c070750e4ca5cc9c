package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// UnitOfWork runs a function against a transactional view of all market
// state. Every mutation made through tx becomes visible atomically when fn
// returns nil and is discarded when fn returns an error.
type UnitOfWork interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the stores that participate in one atomic operation.
type Tx interface {
	Markets() MarketStore
	Assertions() AssertionStore
	Tokens() TokenLedger
	Collateral() CollateralLedger
	Events() EventLog
	OracleAssertions() OracleAssertionStore
}

// MarketStore persists markets and hands out creation sequence numbers.
type MarketStore interface {
	NextSequence(ctx context.Context) (uint64, error)
	Insert(ctx context.Context, m Market) error
	// Get returns ErrNotFound for unknown ids. Implementations backed by a
	// database lock the row for the rest of the transaction.
	Get(ctx context.Context, id common.Hash) (Market, error)
	Update(ctx context.Context, m Market) error
	// List returns every market in creation order.
	List(ctx context.Context) ([]Market, error)
}

// AssertionStore persists pending assertions keyed by assertion id.
type AssertionStore interface {
	Put(ctx context.Context, a AssertedMarket) error
	Get(ctx context.Context, assertionID common.Hash) (AssertedMarket, error)
	Delete(ctx context.Context, assertionID common.Hash) error
}

// OracleAssertionStore persists the in-process oracle's assertions so that
// they survive restarts and are shared between replicas.
type OracleAssertionStore interface {
	Insert(ctx context.Context, a OracleAssertion) error
	// Get returns ErrNotFound for unknown ids. Implementations backed by a
	// database lock the row for the rest of the transaction.
	Get(ctx context.Context, id common.Hash) (OracleAssertion, error)
	Update(ctx context.Context, a OracleAssertion) error
	// List returns every assertion, newest first.
	List(ctx context.Context) ([]OracleAssertion, error)
	// ListDue returns the ids of pending assertions whose liveness ended at
	// or before now, oldest first.
	ListDue(ctx context.Context, now time.Time) ([]common.Hash, error)
}

// TokenLedger is the outcome-token minter. Mint and BurnFrom succeed only for
// the minter recorded at deployment.
type TokenLedger interface {
	Deploy(ctx context.Context, token Token) error
	Mint(ctx context.Context, minter, token, to common.Address, amount *uint256.Int) error
	BurnFrom(ctx context.Context, minter, token, holder common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, token, holder common.Address) (*uint256.Int, error)
}

// CollateralLedger is the settlement-currency ledger.
type CollateralLedger interface {
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
	BalanceOf(ctx context.Context, holder common.Address) (*uint256.Int, error)
	Mint(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// EventLog is the transactional outbox for market notifications.
type EventLog interface {
	Append(ctx context.Context, e Event) error
}

// EventStore reads and prunes committed events.
type EventStore interface {
	List(ctx context.Context, opts ListOpts) ([]Event, error)
	ListByMarket(ctx context.Context, marketID common.Hash, opts ListOpts) ([]Event, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Event, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventPublisher fans committed events out to observers.
type EventPublisher interface {
	Publish(ctx context.Context, events []Event)
}

// CurrencyWhitelist reports whether a settlement currency is acceptable.
type CurrencyWhitelist interface {
	IsOnWhitelist(currency common.Address) bool
}
