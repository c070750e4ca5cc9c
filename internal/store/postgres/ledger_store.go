package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// ---------------------------------------------------------------------------
// Assertions
// ---------------------------------------------------------------------------

type assertionStore struct {
	tx pgx.Tx
}

func (s assertionStore) Put(ctx context.Context, a domain.AssertedMarket) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO assertions (assertion_id, market_id, asserter, bond, asserted_at)
		VALUES ($1, $2, $3, $4::numeric, $5)`,
		a.AssertionID.Hex(), a.MarketID.Hex(), a.Asserter.Hex(), amountText(a.Bond), a.AssertedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres: put assertion %s: %w", a.AssertionID.Hex(), domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: put assertion %s: %w", a.AssertionID.Hex(), err)
	}
	return nil
}

func (s assertionStore) Get(ctx context.Context, id common.Hash) (domain.AssertedMarket, error) {
	var (
		a                  domain.AssertedMarket
		marketID, asserter string
		bond               string
	)
	err := s.tx.QueryRow(ctx, `
		SELECT market_id, asserter, bond::text, asserted_at
		FROM assertions WHERE assertion_id = $1 FOR UPDATE`, id.Hex(),
	).Scan(&marketID, &asserter, &bond, &a.AssertedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AssertedMarket{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AssertedMarket{}, fmt.Errorf("postgres: get assertion %s: %w", id.Hex(), err)
	}
	a.AssertionID = id
	a.MarketID = common.HexToHash(marketID)
	a.Asserter = common.HexToAddress(asserter)
	if a.Bond, err = parseAmount(bond); err != nil {
		return domain.AssertedMarket{}, err
	}
	return a, nil
}

func (s assertionStore) Delete(ctx context.Context, id common.Hash) error {
	if _, err := s.tx.Exec(ctx, `DELETE FROM assertions WHERE assertion_id = $1`, id.Hex()); err != nil {
		return fmt.Errorf("postgres: delete assertion %s: %w", id.Hex(), err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Outcome tokens
// ---------------------------------------------------------------------------

type tokenLedger struct {
	tx pgx.Tx
}

func (l tokenLedger) Deploy(ctx context.Context, t domain.Token) error {
	_, err := l.tx.Exec(ctx, `
		INSERT INTO outcome_tokens (address, market_id, name, symbol, minter)
		VALUES ($1, $2, $3, $4, $5)`,
		t.Address.Hex(), t.MarketID.Hex(), t.Name, t.Symbol, t.Minter.Hex(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres: deploy token %s: %w", t.Address.Hex(), domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: deploy token %s: %w", t.Address.Hex(), err)
	}
	return nil
}

func (l tokenLedger) checkMinter(ctx context.Context, minter, token common.Address) error {
	var recorded string
	err := l.tx.QueryRow(ctx, `SELECT minter FROM outcome_tokens WHERE address = $1`, token.Hex()).Scan(&recorded)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: token %s: %w", token.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: token %s: %w", token.Hex(), err)
	}
	if common.HexToAddress(recorded) != minter {
		return fmt.Errorf("postgres: %s may not mint or burn %s: %w", minter.Hex(), token.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

func (l tokenLedger) Mint(ctx context.Context, minter, token, to common.Address, amount *uint256.Int) error {
	if err := l.checkMinter(ctx, minter, token); err != nil {
		return err
	}
	return credit(ctx, l.tx, `
		INSERT INTO token_balances (token, holder, balance) VALUES ($1, $2, $3::numeric)
		ON CONFLICT (token, holder) DO UPDATE SET balance = token_balances.balance + EXCLUDED.balance
		RETURNING balance::text`, amount, token.Hex(), to.Hex())
}

func (l tokenLedger) BurnFrom(ctx context.Context, minter, token, holder common.Address, amount *uint256.Int) error {
	if err := l.checkMinter(ctx, minter, token); err != nil {
		return err
	}
	return debit(ctx, l.tx, `
		UPDATE token_balances SET balance = balance - $3::numeric
		WHERE token = $1 AND holder = $2 AND balance >= $3::numeric`, amount, token.Hex(), holder.Hex())
}

func (l tokenLedger) BalanceOf(ctx context.Context, token, holder common.Address) (*uint256.Int, error) {
	return balanceOf(ctx, l.tx,
		`SELECT balance::text FROM token_balances WHERE token = $1 AND holder = $2`, token.Hex(), holder.Hex())
}

// ---------------------------------------------------------------------------
// Collateral
// ---------------------------------------------------------------------------

type collateralLedger struct {
	tx pgx.Tx
}

func (l collateralLedger) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if err := debit(ctx, l.tx, `
		UPDATE collateral_balances SET balance = balance - $2::numeric
		WHERE holder = $1 AND balance >= $2::numeric`, amount, from.Hex()); err != nil {
		return err
	}
	return l.Mint(ctx, to, amount)
}

func (l collateralLedger) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	if spender != from {
		if err := debit(ctx, l.tx, `
			UPDATE collateral_allowances SET amount = amount - $3::numeric
			WHERE owner = $1 AND spender = $2 AND amount >= $3::numeric`, amount, from.Hex(), spender.Hex()); err != nil {
			return fmt.Errorf("postgres: allowance of %s for %s: %w", spender.Hex(), from.Hex(), err)
		}
	}
	return l.Transfer(ctx, from, to, amount)
}

func (l collateralLedger) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	_, err := l.tx.Exec(ctx, `
		INSERT INTO collateral_allowances (owner, spender, amount) VALUES ($1, $2, $3::numeric)
		ON CONFLICT (owner, spender) DO UPDATE SET amount = EXCLUDED.amount`,
		owner.Hex(), spender.Hex(), amount.Dec(),
	)
	if err != nil {
		return fmt.Errorf("postgres: approve %s for %s: %w", spender.Hex(), owner.Hex(), err)
	}
	return nil
}

func (l collateralLedger) Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return balanceOf(ctx, l.tx,
		`SELECT amount::text FROM collateral_allowances WHERE owner = $1 AND spender = $2`, owner.Hex(), spender.Hex())
}

func (l collateralLedger) BalanceOf(ctx context.Context, holder common.Address) (*uint256.Int, error) {
	return balanceOf(ctx, l.tx, `SELECT balance::text FROM collateral_balances WHERE holder = $1`, holder.Hex())
}

func (l collateralLedger) Mint(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return credit(ctx, l.tx, `
		INSERT INTO collateral_balances (holder, balance) VALUES ($1, $2::numeric)
		ON CONFLICT (holder) DO UPDATE SET balance = collateral_balances.balance + EXCLUDED.balance
		RETURNING balance::text`, amount, to.Hex())
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

type eventLog struct {
	tx pgx.Tx
}

func (l eventLog) Append(ctx context.Context, e domain.Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("postgres: marshal %s event: %w", e.Kind, err)
	}
	_, err = l.tx.Exec(ctx, `
		INSERT INTO market_events (id, kind, market_id, data, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
		e.ID, string(e.Kind), e.MarketID.Hex(), data, nullTime(e),
	)
	if err != nil {
		return fmt.Errorf("postgres: append %s event: %w", e.Kind, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Balance helpers
// ---------------------------------------------------------------------------

// credit runs an upsert that takes the amount as its last argument and
// returns the new balance. Balances beyond 256 bits are rejected.
func credit(ctx context.Context, q pgx.Tx, query string, amount *uint256.Int, keys ...any) error {
	args := append(append([]any{}, keys...), amount.Dec())
	var total string
	if err := q.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", amount.Dec(), err)
	}
	if _, err := parseAmount(total); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", amount.Dec(), domain.ErrOverflow)
	}
	return nil
}

// debit runs a guarded UPDATE. No affected row means the balance was short.
func debit(ctx context.Context, q pgx.Tx, query string, amount *uint256.Int, keys ...any) error {
	if amount.IsZero() {
		return nil
	}
	args := append(append([]any{}, keys...), amount.Dec())
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", amount.Dec(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: balance below %s: %w", amount.Dec(), domain.ErrInsufficientBalance)
	}
	return nil
}

func balanceOf(ctx context.Context, q pgx.Tx, query string, args ...any) (*uint256.Int, error) {
	var s string
	err := q.QueryRow(ctx, query, args...).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: balance: %w", err)
	}
	return parseAmount(s)
}

func amountText(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func nullTime(e domain.Event) any {
	if e.CreatedAt.IsZero() {
		return nil
	}
	return e.CreatedAt
}
