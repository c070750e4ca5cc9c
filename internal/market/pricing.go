package market

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/amm"
	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// QuoteBuy prices a buy without executing it.
func (e *Engine) QuoteBuy(ctx context.Context, marketID common.Hash, side domain.Side, currencyIn *uint256.Int) (amm.Quote, error) {
	if err := checkBuy(side, currencyIn); err != nil {
		return amm.Quote{}, err
	}
	m, err := e.GetMarket(ctx, marketID)
	if err != nil {
		return amm.Quote{}, err
	}
	if !m.Exists() {
		return amm.Quote{}, fmt.Errorf("market: %s: %w", marketID.Hex(), domain.ErrNotFound)
	}
	if m.Resolved {
		return amm.Quote{}, fmt.Errorf("market: %s is resolved: %w", marketID.Hex(), domain.ErrStateConflict)
	}
	pool, other := m.Pools(side)
	return amm.BuyQuote(currencyIn, pool, other)
}

// Buy spends currencyIn of caller's collateral on outcome tokens of side and
// returns how many were bought. Only the bought side's pool grows, by the
// full currencyIn.
func (e *Engine) Buy(ctx context.Context, caller common.Address, marketID common.Hash, side domain.Side, currencyIn *uint256.Int) (*uint256.Int, error) {
	if err := checkBuy(side, currencyIn); err != nil {
		return nil, err
	}

	var bought *uint256.Int
	err := e.atomic(ctx, func(ctx context.Context, w *work) error {
		m, err := w.market(ctx, marketID)
		if err != nil {
			return err
		}
		if m.Resolved {
			return fmt.Errorf("market: %s is resolved: %w", marketID.Hex(), domain.ErrStateConflict)
		}

		pool, other := m.Pools(side)
		q, err := amm.BuyQuote(currencyIn, pool, other)
		if err != nil {
			return err
		}
		grown, overflow := new(uint256.Int).AddOverflow(pool, currencyIn)
		if overflow {
			return fmt.Errorf("market: pool %d of %s: %w", side, marketID.Hex(), domain.ErrOverflow)
		}

		if err := e.pull(ctx, w, caller, currencyIn); err != nil {
			return err
		}
		if err := w.Tokens().Mint(ctx, e.self, m.Token(side), caller, q.Out); err != nil {
			return fmt.Errorf("market: mint bought tokens: %w", err)
		}

		if side == domain.SideOutcome1 {
			m.Outcome1Pool = grown
		} else {
			m.Outcome2Pool = grown
		}
		m.UpdatedAt = w.now
		if err := w.Markets().Update(ctx, m); err != nil {
			return fmt.Errorf("market: update %s: %w", marketID.Hex(), err)
		}

		bought = q.Out
		w.emit(domain.EventOutcomeTokensPurchased, marketID, domain.OutcomeTokensPurchasedEvent{
			MarketID: marketID,
			Caller:   caller,
			Side:     side,
			Bought:   q.Out.Clone(),
			Spent:    currencyIn.Clone(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "outcome tokens purchased",
		slog.String("market_id", marketID.Hex()),
		slog.String("buyer", caller.Hex()),
		slog.Int("side", int(side)),
		slog.String("spent", currencyIn.Dec()),
		slog.String("bought", bought.Dec()),
	)
	return bought, nil
}

func checkBuy(side domain.Side, currencyIn *uint256.Int) error {
	if !side.Valid() {
		return fmt.Errorf("market: side %d: %w", side, domain.ErrInputInvalid)
	}
	return requireAmount("currency in", currencyIn)
}
