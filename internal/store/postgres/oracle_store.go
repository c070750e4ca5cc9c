package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

type oracleAssertionStore struct {
	tx pgx.Tx
}

const oracleAssertionColumns = `
	id, claim, asserter, callback, disputer, currency, bond::text,
	status, truthful, created_at, expires_at`

func (s oracleAssertionStore) Insert(ctx context.Context, a domain.OracleAssertion) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO oracle_assertions (
			id, claim, asserter, callback, disputer, currency, bond,
			status, truthful, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11)`,
		a.ID.Hex(), a.Claim, a.Asserter.Hex(), a.Callback.Hex(), addressOrEmpty(a.Disputer), a.Currency.Hex(),
		amountText(a.Bond), string(a.Status), a.Truthful, a.CreatedAt, a.ExpiresAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres: insert oracle assertion %s: %w", a.ID.Hex(), domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: insert oracle assertion %s: %w", a.ID.Hex(), err)
	}
	return nil
}

// Get locks the assertion row until the transaction ends.
func (s oracleAssertionStore) Get(ctx context.Context, id common.Hash) (domain.OracleAssertion, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+oracleAssertionColumns+` FROM oracle_assertions WHERE id = $1 FOR UPDATE`, id.Hex())
	a, err := scanOracleAssertion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OracleAssertion{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OracleAssertion{}, fmt.Errorf("postgres: get oracle assertion %s: %w", id.Hex(), err)
	}
	return a, nil
}

func (s oracleAssertionStore) Update(ctx context.Context, a domain.OracleAssertion) error {
	tag, err := s.tx.Exec(ctx, `
		UPDATE oracle_assertions
		SET disputer = $2, status = $3, truthful = $4
		WHERE id = $1`,
		a.ID.Hex(), addressOrEmpty(a.Disputer), string(a.Status), a.Truthful,
	)
	if err != nil {
		return fmt.Errorf("postgres: update oracle assertion %s: %w", a.ID.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update oracle assertion %s: %w", a.ID.Hex(), domain.ErrNotFound)
	}
	return nil
}

func (s oracleAssertionStore) List(ctx context.Context) ([]domain.OracleAssertion, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+oracleAssertionColumns+` FROM oracle_assertions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list oracle assertions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OracleAssertion, error) {
		return scanOracleAssertion(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan oracle assertions: %w", err)
	}
	return out, nil
}

func (s oracleAssertionStore) ListDue(ctx context.Context, now time.Time) ([]common.Hash, error) {
	rows, err := s.tx.Query(ctx, `
		SELECT id FROM oracle_assertions
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at, id`, string(domain.OracleAssertionPending), now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due oracle assertions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (common.Hash, error) {
		var id string
		if err := row.Scan(&id); err != nil {
			return common.Hash{}, err
		}
		return common.HexToHash(id), nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan due oracle assertions: %w", err)
	}
	return ids, nil
}

func scanOracleAssertion(row pgx.Row) (domain.OracleAssertion, error) {
	var (
		a                                      domain.OracleAssertion
		id, asserter, callback, disputer, curr string
		bond, status                           string
	)
	if err := row.Scan(&id, &a.Claim, &asserter, &callback, &disputer, &curr, &bond,
		&status, &a.Truthful, &a.CreatedAt, &a.ExpiresAt); err != nil {
		return domain.OracleAssertion{}, err
	}
	a.ID = common.HexToHash(id)
	a.Asserter = common.HexToAddress(asserter)
	a.Callback = common.HexToAddress(callback)
	if disputer != "" {
		a.Disputer = common.HexToAddress(disputer)
	}
	a.Currency = common.HexToAddress(curr)
	a.Status = domain.OracleAssertionStatus(status)
	bondAmount, err := parseAmount(bond)
	if err != nil {
		return domain.OracleAssertion{}, err
	}
	a.Bond = bondAmount
	return a, nil
}

func addressOrEmpty(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

var _ domain.OracleAssertionStore = oracleAssertionStore{}
