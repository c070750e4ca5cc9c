package market

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// Balances is a holder's position in one market.
type Balances struct {
	Outcome1 *uint256.Int
	Outcome2 *uint256.Int
}

// TokenBalances returns holder's balance of both outcome tokens of a market.
func (e *Engine) TokenBalances(ctx context.Context, marketID common.Hash, holder common.Address) (Balances, error) {
	var b Balances
	err := e.uow.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		w := &work{Tx: tx}
		m, err := w.market(ctx, marketID)
		if err != nil {
			return err
		}
		if b.Outcome1, err = tx.Tokens().BalanceOf(ctx, m.Outcome1Token, holder); err != nil {
			return fmt.Errorf("market: balance of %s: %w", m.Outcome1Token.Hex(), err)
		}
		if b.Outcome2, err = tx.Tokens().BalanceOf(ctx, m.Outcome2Token, holder); err != nil {
			return fmt.Errorf("market: balance of %s: %w", m.Outcome2Token.Hex(), err)
		}
		return nil
	})
	return b, err
}

// CollateralBalance returns holder's collateral balance and how much the
// engine may currently pull from it.
func (e *Engine) CollateralBalance(ctx context.Context, holder common.Address) (balance, allowance *uint256.Int, err error) {
	err = e.uow.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		if balance, err = tx.Collateral().BalanceOf(ctx, holder); err != nil {
			return fmt.Errorf("market: collateral balance of %s: %w", holder.Hex(), err)
		}
		if allowance, err = tx.Collateral().Allowance(ctx, holder, e.self); err != nil {
			return fmt.Errorf("market: allowance of %s: %w", holder.Hex(), err)
		}
		return nil
	})
	return balance, allowance, err
}

// ApproveCollateral lets spender pull up to amount of owner's collateral.
func (e *Engine) ApproveCollateral(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	if err := requireAmount("amount", amount); err != nil {
		return err
	}
	return e.uow.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Collateral().Approve(ctx, owner, spender, amount); err != nil {
			return fmt.Errorf("market: approve %s for %s: %w", spender.Hex(), owner.Hex(), err)
		}
		return nil
	})
}

// MintCollateral credits amount of fresh collateral to to. It backs the
// development faucet; production deployments point the ledger at a funded
// currency instead.
func (e *Engine) MintCollateral(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if err := requireAmount("amount", amount); err != nil {
		return err
	}
	err := e.uow.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Collateral().Mint(ctx, to, amount); err != nil {
			return fmt.Errorf("market: mint collateral to %s: %w", to.Hex(), err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "collateral minted",
		slog.String("to", to.Hex()),
		slog.String("amount", amount.Dec()),
	)
	return nil
}
