package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventKind names a market notification.
type EventKind string

const (
	EventMarketInitialized      EventKind = "market_initialized"
	EventMarketAsserted         EventKind = "market_asserted"
	EventMarketResolved         EventKind = "market_resolved"
	EventTokensCreated          EventKind = "tokens_created"
	EventTokensRedeemed         EventKind = "tokens_redeemed"
	EventOutcomeTokensPurchased EventKind = "outcome_tokens_purchased"
	EventTokensSettled          EventKind = "tokens_settled"
)

// Event is a notification emitted by a committed market operation. Data holds
// one of the *Event payload structs below.
type Event struct {
	ID        string      `json:"id"`
	Kind      EventKind   `json:"kind"`
	MarketID  common.Hash `json:"market_id"`
	Data      any         `json:"data"`
	CreatedAt time.Time   `json:"created_at"`
}

// MarketInitializedEvent carries every market parameter and both token
// handles.
type MarketInitializedEvent struct {
	MarketID      common.Hash    `json:"market_id"`
	Creator       common.Address `json:"creator"`
	Outcome1      string         `json:"outcome1"`
	Outcome2      string         `json:"outcome2"`
	Description   string         `json:"description"`
	Outcome1Token common.Address `json:"outcome1_token"`
	Outcome2Token common.Address `json:"outcome2_token"`
	Reward        *uint256.Int   `json:"reward"`
	RequiredBond  *uint256.Int   `json:"required_bond"`
}

type MarketAssertedEvent struct {
	MarketID        common.Hash    `json:"market_id"`
	AssertedOutcome string         `json:"asserted_outcome"`
	AssertionID     common.Hash    `json:"assertion_id"`
	Asserter        common.Address `json:"asserter"`
	Bond            *uint256.Int   `json:"bond"`
}

type MarketResolvedEvent struct {
	MarketID    common.Hash `json:"market_id"`
	AssertionID common.Hash `json:"assertion_id"`
}

type TokensCreatedEvent struct {
	MarketID common.Hash    `json:"market_id"`
	Caller   common.Address `json:"caller"`
	Amount   *uint256.Int   `json:"amount"`
}

type TokensRedeemedEvent struct {
	MarketID common.Hash    `json:"market_id"`
	Caller   common.Address `json:"caller"`
	Amount   *uint256.Int   `json:"amount"`
}

type OutcomeTokensPurchasedEvent struct {
	MarketID common.Hash    `json:"market_id"`
	Caller   common.Address `json:"caller"`
	Side     Side           `json:"side"`
	Bought   *uint256.Int   `json:"bought"`
	Spent    *uint256.Int   `json:"spent"`
}

type TokensSettledEvent struct {
	MarketID common.Hash    `json:"market_id"`
	Caller   common.Address `json:"caller"`
	Payout   *uint256.Int   `json:"payout"`
	Balance1 *uint256.Int   `json:"balance1"`
	Balance2 *uint256.Int   `json:"balance2"`
}
