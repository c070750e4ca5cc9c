package domain

import (
	"bytes"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// UnresolvableOutcome is the reserved outcome that splits the payout evenly
// between both outcome tokens.
const UnresolvableOutcome = "Unresolvable"

// UnresolvableOutcomeID is keccak256("Unresolvable").
var UnresolvableOutcomeID = OutcomeID([]byte(UnresolvableOutcome))

// OutcomeID returns the keccak256 hash identifying an outcome text.
func OutcomeID(outcome []byte) common.Hash {
	return crypto.Keccak256Hash(outcome)
}

// MarketState is the lifecycle state of a market, derived from its
// assertion fields.
type MarketState string

const (
	MarketStateOpen             MarketState = "open"
	MarketStateAssertionPending MarketState = "assertion_pending"
	MarketStateResolved         MarketState = "resolved"
)

// Side selects one of the two outcome tokens of a market.
type Side uint8

const (
	SideOutcome1 Side = 1
	SideOutcome2 Side = 2
)

// Valid reports whether s names one of the two outcome sides.
func (s Side) Valid() bool {
	return s == SideOutcome1 || s == SideOutcome2
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideOutcome1 {
		return SideOutcome2
	}
	return SideOutcome1
}

// Market is a binary prediction market together with its AMM pools.
type Market struct {
	ID                common.Hash
	Sequence          uint64
	Creator           common.Address
	Resolved          bool
	AssertedOutcomeID common.Hash
	Outcome1Token     common.Address
	Outcome2Token     common.Address
	Reward            *uint256.Int
	RequiredBond      *uint256.Int
	Outcome1          []byte
	Outcome2          []byte
	Description       []byte
	Outcome1Pool      *uint256.Int
	Outcome2Pool      *uint256.Int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Exists reports whether m refers to a created market. A zero-value Market
// (as returned for unknown ids) has no token handles.
func (m Market) Exists() bool {
	return m.Outcome1Token != (common.Address{})
}

// State projects the assertion fields onto the market lifecycle.
func (m Market) State() MarketState {
	switch {
	case m.Resolved:
		return MarketStateResolved
	case m.AssertedOutcomeID != (common.Hash{}):
		return MarketStateAssertionPending
	default:
		return MarketStateOpen
	}
}

// Token returns the outcome token handle for side.
func (m Market) Token(side Side) common.Address {
	if side == SideOutcome2 {
		return m.Outcome2Token
	}
	return m.Outcome1Token
}

// Pools returns the pool for side and the opposite pool.
func (m Market) Pools(side Side) (pool, other *uint256.Int) {
	if side == SideOutcome2 {
		return m.Outcome2Pool, m.Outcome1Pool
	}
	return m.Outcome1Pool, m.Outcome2Pool
}

// IsValidOutcome reports whether outcome hashes to outcome1, outcome2 or the
// unresolvable sentinel.
func (m Market) IsValidOutcome(outcome []byte) bool {
	id := OutcomeID(outcome)
	return id == OutcomeID(m.Outcome1) ||
		id == OutcomeID(m.Outcome2) ||
		id == UnresolvableOutcomeID
}

// Clone returns a deep copy of m so that callers may mutate amounts without
// aliasing the original.
func (m Market) Clone() Market {
	out := m
	out.Reward = cloneAmount(m.Reward)
	out.RequiredBond = cloneAmount(m.RequiredBond)
	out.Outcome1Pool = cloneAmount(m.Outcome1Pool)
	out.Outcome2Pool = cloneAmount(m.Outcome2Pool)
	out.Outcome1 = bytes.Clone(m.Outcome1)
	out.Outcome2 = bytes.Clone(m.Outcome2)
	out.Description = bytes.Clone(m.Description)
	return out
}

// AssertedMarket is a pending oracle assertion for a market. It exists only
// until the oracle resolves the assertion.
type AssertedMarket struct {
	AssertionID common.Hash
	Asserter    common.Address
	MarketID    common.Hash
	Bond        *uint256.Int
	AssertedAt  time.Time
}

// Token is an outcome token deployed for a market. Only Minter may mint and
// burn it.
type Token struct {
	Address  common.Address
	MarketID common.Hash
	Name     string
	Symbol   string
	Minter   common.Address
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}
