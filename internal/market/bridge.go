package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// AssertMarket asserts that outcome is the market's true outcome. caller
// posts the bond, which is the larger of the market's required bond and the
// oracle's minimum. It returns the oracle's assertion id.
func (e *Engine) AssertMarket(ctx context.Context, caller common.Address, marketID common.Hash, outcome []byte) (common.Hash, error) {
	minBond, err := e.oracle.MinimumBond(ctx, e.currency)
	if err != nil {
		return common.Hash{}, fmt.Errorf("market: oracle minimum bond: %w", err)
	}
	identifier, err := e.oracle.DefaultIdentifier(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("market: oracle identifier: %w", err)
	}

	var (
		assertionID common.Hash
		bond        *uint256.Int
	)
	err = e.atomic(ctx, func(ctx context.Context, w *work) error {
		m, err := w.market(ctx, marketID)
		if err != nil {
			return err
		}
		if m.AssertedOutcomeID != (common.Hash{}) {
			return fmt.Errorf("market: %s is %s: %w", marketID.Hex(), m.State(), domain.ErrStateConflict)
		}
		if !m.IsValidOutcome(outcome) {
			return fmt.Errorf("market: %q is not an outcome of %s: %w", outcome, marketID.Hex(), domain.ErrInputInvalid)
		}

		bond = amountOrZero(m.RequiredBond)
		if minBond != nil && minBond.Gt(bond) {
			bond = minBond.Clone()
		}
		if err := e.pull(ctx, w, caller, bond); err != nil {
			return err
		}
		if err := w.Collateral().Approve(ctx, e.self, e.oracle.Address(), bond); err != nil {
			return fmt.Errorf("market: approve oracle bond: %w", err)
		}

		assertionID, err = e.oracle.AssertTruth(ctx, w.Tx, domain.AssertionRequest{
			Claim:             Claim(w.now, outcome, m.Description),
			Asserter:          caller,
			CallbackRecipient: e.self,
			Liveness:          domain.AssertionLiveness,
			Currency:          e.currency,
			Bond:              bond.Clone(),
			Identifier:        identifier,
		})
		if err != nil {
			return fmt.Errorf("market: submit assertion: %w", err)
		}

		if err := w.Assertions().Put(ctx, domain.AssertedMarket{
			AssertionID: assertionID,
			Asserter:    caller,
			MarketID:    marketID,
			Bond:        bond.Clone(),
			AssertedAt:  w.now,
		}); err != nil {
			return fmt.Errorf("market: record assertion %s: %w", assertionID.Hex(), err)
		}

		m.AssertedOutcomeID = domain.OutcomeID(outcome)
		m.UpdatedAt = w.now
		if err := w.Markets().Update(ctx, m); err != nil {
			return fmt.Errorf("market: update %s: %w", marketID.Hex(), err)
		}

		w.emit(domain.EventMarketAsserted, marketID, domain.MarketAssertedEvent{
			MarketID:        marketID,
			AssertedOutcome: string(outcome),
			AssertionID:     assertionID,
			Asserter:        caller,
			Bond:            bond.Clone(),
		})
		return nil
	})
	if err != nil {
		return common.Hash{}, err
	}

	e.logger.InfoContext(ctx, "market asserted",
		slog.String("market_id", marketID.Hex()),
		slog.String("assertion_id", assertionID.Hex()),
		slog.String("asserter", caller.Hex()),
		slog.String("bond", bond.Dec()),
	)
	return assertionID, nil
}

// AssertionResolved applies the oracle's verdict on an assertion. Only the
// oracle may call it. A truthful verdict resolves the market and pays the
// reward to the asserter; a false one reopens the market. Unknown assertion
// ids are ignored.
func (e *Engine) AssertionResolved(ctx context.Context, caller common.Address, assertionID common.Hash, truthful bool) error {
	if err := e.requireOracle(caller); err != nil {
		return err
	}

	var (
		marketID common.Hash
		applied  bool
	)
	err := e.atomic(ctx, func(ctx context.Context, w *work) error {
		a, err := w.Assertions().Get(ctx, assertionID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("market: get assertion %s: %w", assertionID.Hex(), err)
		}
		marketID = a.MarketID

		m, err := w.market(ctx, a.MarketID)
		if err != nil {
			return err
		}
		if truthful {
			m.Resolved = true
			if err := e.pay(ctx, w, a.Asserter, amountOrZero(m.Reward)); err != nil {
				return err
			}
			w.emit(domain.EventMarketResolved, m.ID, domain.MarketResolvedEvent{
				MarketID:    m.ID,
				AssertionID: assertionID,
			})
		} else {
			m.AssertedOutcomeID = common.Hash{}
		}
		m.UpdatedAt = w.now

		if err := w.Markets().Update(ctx, m); err != nil {
			return fmt.Errorf("market: update %s: %w", m.ID.Hex(), err)
		}
		if err := w.Assertions().Delete(ctx, assertionID); err != nil {
			return fmt.Errorf("market: delete assertion %s: %w", assertionID.Hex(), err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return err
	}

	if !applied {
		e.logger.DebugContext(ctx, "resolution for unknown assertion ignored",
			slog.String("assertion_id", assertionID.Hex()),
		)
		return nil
	}
	e.logger.InfoContext(ctx, "assertion resolved",
		slog.String("market_id", marketID.Hex()),
		slog.String("assertion_id", assertionID.Hex()),
		slog.Bool("truthful", truthful),
	)
	return nil
}

// AssertionDisputed is the oracle's dispute notification. It changes nothing.
func (e *Engine) AssertionDisputed(ctx context.Context, caller common.Address, assertionID common.Hash) error {
	if err := e.requireOracle(caller); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "assertion disputed", slog.String("assertion_id", assertionID.Hex()))
	return nil
}

func (e *Engine) requireOracle(caller common.Address) error {
	if caller != e.oracle.Address() {
		return fmt.Errorf("market: %s is not the oracle: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

var _ domain.ResolutionHandler = (*Engine)(nil)
