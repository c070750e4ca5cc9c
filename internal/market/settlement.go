package market

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// CreateOutcomeTokens turns amount of caller's collateral into amount of both
// outcome tokens and adds amount to both pools.
func (e *Engine) CreateOutcomeTokens(ctx context.Context, caller common.Address, marketID common.Hash, amount *uint256.Int) error {
	if err := requireAmount("amount", amount); err != nil {
		return err
	}

	err := e.atomic(ctx, func(ctx context.Context, w *work) error {
		m, err := w.market(ctx, marketID)
		if err != nil {
			return err
		}
		pool1, overflow1 := new(uint256.Int).AddOverflow(m.Outcome1Pool, amount)
		pool2, overflow2 := new(uint256.Int).AddOverflow(m.Outcome2Pool, amount)
		if overflow1 || overflow2 {
			return fmt.Errorf("market: pools of %s: %w", marketID.Hex(), domain.ErrOverflow)
		}

		if err := e.pull(ctx, w, caller, amount); err != nil {
			return err
		}
		for _, tok := range []common.Address{m.Outcome1Token, m.Outcome2Token} {
			if err := w.Tokens().Mint(ctx, e.self, tok, caller, amount); err != nil {
				return fmt.Errorf("market: mint %s: %w", tok.Hex(), err)
			}
		}

		m.Outcome1Pool, m.Outcome2Pool = pool1, pool2
		m.UpdatedAt = w.now
		if err := w.Markets().Update(ctx, m); err != nil {
			return fmt.Errorf("market: update %s: %w", marketID.Hex(), err)
		}
		w.emit(domain.EventTokensCreated, marketID, domain.TokensCreatedEvent{
			MarketID: marketID,
			Caller:   caller,
			Amount:   amount.Clone(),
		})
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "outcome tokens created",
		slog.String("market_id", marketID.Hex()),
		slog.String("caller", caller.Hex()),
		slog.String("amount", amount.Dec()),
	)
	return nil
}

// RedeemOutcomeTokens burns amount of both outcome tokens from caller, returns
// amount of collateral and takes amount out of both pools.
func (e *Engine) RedeemOutcomeTokens(ctx context.Context, caller common.Address, marketID common.Hash, amount *uint256.Int) error {
	if err := requireAmount("amount", amount); err != nil {
		return err
	}

	err := e.atomic(ctx, func(ctx context.Context, w *work) error {
		m, err := w.market(ctx, marketID)
		if err != nil {
			return err
		}
		for _, tok := range []common.Address{m.Outcome1Token, m.Outcome2Token} {
			if err := w.Tokens().BurnFrom(ctx, e.self, tok, caller, amount); err != nil {
				return fmt.Errorf("market: burn %s from %s: %w", tok.Hex(), caller.Hex(), err)
			}
		}
		if m.Outcome1Pool.Lt(amount) || m.Outcome2Pool.Lt(amount) {
			return fmt.Errorf("market: redeem %s from pools %s/%s: %w",
				amount.Dec(), m.Outcome1Pool.Dec(), m.Outcome2Pool.Dec(), domain.ErrUnderflow)
		}
		m.Outcome1Pool = new(uint256.Int).Sub(m.Outcome1Pool, amount)
		m.Outcome2Pool = new(uint256.Int).Sub(m.Outcome2Pool, amount)

		if err := e.pay(ctx, w, caller, amount); err != nil {
			return err
		}
		m.UpdatedAt = w.now
		if err := w.Markets().Update(ctx, m); err != nil {
			return fmt.Errorf("market: update %s: %w", marketID.Hex(), err)
		}
		w.emit(domain.EventTokensRedeemed, marketID, domain.TokensRedeemedEvent{
			MarketID: marketID,
			Caller:   caller,
			Amount:   amount.Clone(),
		})
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "outcome tokens redeemed",
		slog.String("market_id", marketID.Hex()),
		slog.String("caller", caller.Hex()),
		slog.String("amount", amount.Dec()),
	)
	return nil
}

// SettleOutcomeTokens pays caller for their outcome tokens of a resolved
// market and burns both balances in full. The winning side pays one unit of
// collateral per token; an unresolvable market pays half of both balances.
func (e *Engine) SettleOutcomeTokens(ctx context.Context, caller common.Address, marketID common.Hash) (*uint256.Int, error) {
	var payout, bal1, bal2 *uint256.Int
	err := e.atomic(ctx, func(ctx context.Context, w *work) error {
		m, err := w.market(ctx, marketID)
		if err != nil {
			return err
		}
		if !m.Resolved {
			return fmt.Errorf("market: %s is not resolved: %w", marketID.Hex(), domain.ErrStateConflict)
		}

		if bal1, err = w.Tokens().BalanceOf(ctx, m.Outcome1Token, caller); err != nil {
			return fmt.Errorf("market: balance of %s: %w", m.Outcome1Token.Hex(), err)
		}
		if bal2, err = w.Tokens().BalanceOf(ctx, m.Outcome2Token, caller); err != nil {
			return fmt.Errorf("market: balance of %s: %w", m.Outcome2Token.Hex(), err)
		}

		if payout, err = settlementPayout(m, bal1, bal2); err != nil {
			return err
		}

		if err := w.Tokens().BurnFrom(ctx, e.self, m.Outcome1Token, caller, bal1); err != nil {
			return fmt.Errorf("market: burn %s: %w", m.Outcome1Token.Hex(), err)
		}
		if err := w.Tokens().BurnFrom(ctx, e.self, m.Outcome2Token, caller, bal2); err != nil {
			return fmt.Errorf("market: burn %s: %w", m.Outcome2Token.Hex(), err)
		}
		if err := e.pay(ctx, w, caller, payout); err != nil {
			return err
		}

		w.emit(domain.EventTokensSettled, marketID, domain.TokensSettledEvent{
			MarketID: marketID,
			Caller:   caller,
			Payout:   payout.Clone(),
			Balance1: bal1.Clone(),
			Balance2: bal2.Clone(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "outcome tokens settled",
		slog.String("market_id", marketID.Hex()),
		slog.String("caller", caller.Hex()),
		slog.String("payout", payout.Dec()),
	)
	return payout, nil
}

func settlementPayout(m domain.Market, bal1, bal2 *uint256.Int) (*uint256.Int, error) {
	switch m.AssertedOutcomeID {
	case domain.OutcomeID(m.Outcome1):
		return bal1.Clone(), nil
	case domain.OutcomeID(m.Outcome2):
		return bal2.Clone(), nil
	}
	sum, overflow := new(uint256.Int).AddOverflow(bal1, bal2)
	if overflow {
		return nil, fmt.Errorf("market: settlement balances: %w", domain.ErrOverflow)
	}
	return sum.Rsh(sum, 1), nil
}
