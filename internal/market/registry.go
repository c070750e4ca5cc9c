package market

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// InitializeParams describes a market to create.
type InitializeParams struct {
	Outcome1     []byte
	Outcome2     []byte
	Description  []byte
	Reward       *uint256.Int
	RequiredBond *uint256.Int
}

func (p InitializeParams) validate() error {
	switch {
	case len(p.Outcome1) == 0:
		return fmt.Errorf("market: empty first outcome: %w", domain.ErrInputInvalid)
	case len(p.Outcome2) == 0:
		return fmt.Errorf("market: empty second outcome: %w", domain.ErrInputInvalid)
	case bytes.Equal(p.Outcome1, p.Outcome2):
		return fmt.Errorf("market: outcomes are identical: %w", domain.ErrInputInvalid)
	case len(p.Description) == 0:
		return fmt.Errorf("market: empty description: %w", domain.ErrInputInvalid)
	}
	return nil
}

// Initialize creates one market funded by caller and returns its id.
func (e *Engine) Initialize(ctx context.Context, caller common.Address, p InitializeParams) (common.Hash, error) {
	ids, err := e.InitializeBatch(ctx, caller, []InitializeParams{p})
	if err != nil {
		return common.Hash{}, err
	}
	return ids[0], nil
}

// InitializeBatch creates several markets in a single creation step. All
// markets of a step share one sequence number, so two entries with the same
// description collide and the whole step fails with ErrStateConflict.
func (e *Engine) InitializeBatch(ctx context.Context, caller common.Address, ps []InitializeParams) ([]common.Hash, error) {
	if len(ps) == 0 {
		return nil, fmt.Errorf("market: no markets to create: %w", domain.ErrInputInvalid)
	}
	for i, p := range ps {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("market %d: %w", i, err)
		}
	}

	var ids []common.Hash
	err := e.atomic(ctx, func(ctx context.Context, w *work) error {
		seq, err := w.Markets().NextSequence(ctx)
		if err != nil {
			return fmt.Errorf("market: next sequence: %w", err)
		}
		ids = ids[:0]
		for _, p := range ps {
			id, err := e.create(ctx, w, caller, seq, p)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		e.logger.InfoContext(ctx, "market initialized",
			slog.String("market_id", id.Hex()),
			slog.String("creator", caller.Hex()),
		)
	}
	return ids, nil
}

func (e *Engine) create(ctx context.Context, w *work, caller common.Address, seq uint64, p InitializeParams) (common.Hash, error) {
	id := MarketID(seq, p.Description)

	existing, err := w.Markets().Get(ctx, id)
	switch {
	case err == nil && existing.Exists():
		return common.Hash{}, fmt.Errorf("market: %s already exists: %w", id.Hex(), domain.ErrStateConflict)
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return common.Hash{}, fmt.Errorf("market: check %s: %w", id.Hex(), err)
	}

	tok1 := outcomeToken(id, domain.SideOutcome1, p.Outcome1, e.self)
	tok2 := outcomeToken(id, domain.SideOutcome2, p.Outcome2, e.self)
	for _, tok := range []domain.Token{tok1, tok2} {
		if err := w.Tokens().Deploy(ctx, tok); err != nil {
			return common.Hash{}, fmt.Errorf("market: deploy %s: %w", tok.Symbol, err)
		}
		if err := w.Tokens().Mint(ctx, e.self, tok.Address, e.self, e.initialLiquidity); err != nil {
			return common.Hash{}, fmt.Errorf("market: mint initial %s: %w", tok.Symbol, err)
		}
	}

	reward := amountOrZero(p.Reward)
	funding, overflow := new(uint256.Int).MulOverflow(e.initialLiquidity, uint256.NewInt(2))
	if !overflow {
		_, overflow = funding.AddOverflow(funding, reward)
	}
	if overflow {
		return common.Hash{}, fmt.Errorf("market: funding for %s: %w", id.Hex(), domain.ErrOverflow)
	}
	if err := e.pull(ctx, w, caller, funding); err != nil {
		return common.Hash{}, err
	}

	m := domain.Market{
		ID:            id,
		Sequence:      seq,
		Creator:       caller,
		Outcome1Token: tok1.Address,
		Outcome2Token: tok2.Address,
		Reward:        reward,
		RequiredBond:  amountOrZero(p.RequiredBond),
		Outcome1:      bytes.Clone(p.Outcome1),
		Outcome2:      bytes.Clone(p.Outcome2),
		Description:   bytes.Clone(p.Description),
		Outcome1Pool:  e.initialLiquidity.Clone(),
		Outcome2Pool:  e.initialLiquidity.Clone(),
		CreatedAt:     w.now,
		UpdatedAt:     w.now,
	}
	if err := w.Markets().Insert(ctx, m); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return common.Hash{}, fmt.Errorf("market: %s already exists: %w", id.Hex(), domain.ErrStateConflict)
		}
		return common.Hash{}, fmt.Errorf("market: insert %s: %w", id.Hex(), err)
	}

	w.emit(domain.EventMarketInitialized, id, domain.MarketInitializedEvent{
		MarketID:      id,
		Creator:       caller,
		Outcome1:      string(m.Outcome1),
		Outcome2:      string(m.Outcome2),
		Description:   string(m.Description),
		Outcome1Token: tok1.Address,
		Outcome2Token: tok2.Address,
		Reward:        m.Reward.Clone(),
		RequiredBond:  m.RequiredBond.Clone(),
	})
	return id, nil
}

// GetMarket returns a snapshot of a market. Unknown ids yield a zero Market
// and no error; use Market.Exists to tell them apart.
func (e *Engine) GetMarket(ctx context.Context, id common.Hash) (domain.Market, error) {
	var m domain.Market
	err := e.uow.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		got, err := tx.Markets().Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("market: get %s: %w", id.Hex(), err)
		}
		m = got
		return nil
	})
	return m, err
}

// ListMarkets returns every market id and snapshot in creation order.
func (e *Engine) ListMarkets(ctx context.Context) ([]common.Hash, []domain.Market, error) {
	var markets []domain.Market
	err := e.uow.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		markets, err = tx.Markets().List(ctx)
		if err != nil {
			return fmt.Errorf("market: list: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	ids := make([]common.Hash, len(markets))
	for i, m := range markets {
		ids[i] = m.ID
	}
	return ids, markets, nil
}
