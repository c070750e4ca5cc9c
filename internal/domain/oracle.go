package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssertionLiveness is the dispute window requested for every assertion.
const AssertionLiveness = 2 * time.Hour

// AssertionRequest is a claim submitted to the oracle. The bond has already
// been approved for the oracle to pull from CallbackRecipient.
type AssertionRequest struct {
	Claim             []byte
	Asserter          common.Address
	CallbackRecipient common.Address
	EscalationManager common.Address
	Liveness          time.Duration
	Currency          common.Address
	Bond              *uint256.Int
	Identifier        common.Hash
	DomainID          common.Hash
}

// Oracle is the external truth-assertion service. AssertTruth runs inside
// the caller's transaction: the bond is pulled through tx, and an oracle that
// keeps its own records writes them through tx as well.
type Oracle interface {
	Address() common.Address
	MinimumBond(ctx context.Context, currency common.Address) (*uint256.Int, error)
	DefaultIdentifier(ctx context.Context) (common.Hash, error)
	AssertTruth(ctx context.Context, tx Tx, req AssertionRequest) (common.Hash, error)
}

// ResolutionHandler receives the oracle's callbacks. caller is the
// authenticated identity invoking the callback.
type ResolutionHandler interface {
	AssertionResolved(ctx context.Context, caller common.Address, assertionID common.Hash, truthful bool) error
	AssertionDisputed(ctx context.Context, caller common.Address, assertionID common.Hash) error
}

// OracleAssertionStatus is the lifecycle state of an in-process oracle
// assertion.
type OracleAssertionStatus string

const (
	OracleAssertionPending  OracleAssertionStatus = "pending"
	OracleAssertionDisputed OracleAssertionStatus = "disputed"
	OracleAssertionSettled  OracleAssertionStatus = "settled"
)

// OracleAssertion is the in-process oracle's record of a submitted claim.
type OracleAssertion struct {
	ID        common.Hash           `json:"id"`
	Claim     string                `json:"claim"`
	Asserter  common.Address        `json:"asserter"`
	Callback  common.Address        `json:"callback"`
	Disputer  common.Address        `json:"disputer,omitempty"`
	Currency  common.Address        `json:"currency"`
	Bond      *uint256.Int          `json:"bond"`
	Status    OracleAssertionStatus `json:"status"`
	Truthful  bool                  `json:"truthful"`
	CreatedAt time.Time             `json:"created_at"`
	ExpiresAt time.Time             `json:"expires_at"`
}

// Clone returns a deep copy of a.
func (a OracleAssertion) Clone() OracleAssertion {
	if a.Bond != nil {
		a.Bond = a.Bond.Clone()
	}
	return a
}
