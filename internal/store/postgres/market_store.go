package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// tx is the domain.Tx view of one pgx transaction.
type tx struct {
	tx pgx.Tx
}

func (t *tx) Markets() domain.MarketStore                   { return marketStore{t.tx} }
func (t *tx) Assertions() domain.AssertionStore             { return assertionStore{t.tx} }
func (t *tx) Tokens() domain.TokenLedger                    { return tokenLedger{t.tx} }
func (t *tx) Collateral() domain.CollateralLedger           { return collateralLedger{t.tx} }
func (t *tx) Events() domain.EventLog                       { return eventLog{t.tx} }
func (t *tx) OracleAssertions() domain.OracleAssertionStore { return oracleAssertionStore{t.tx} }

type marketStore struct {
	tx pgx.Tx
}

const marketColumns = `
	id, sequence, creator, resolved, asserted_outcome_id,
	outcome1_token, outcome2_token, reward::text, required_bond::text,
	outcome1, outcome2, description, outcome1_pool::text, outcome2_pool::text,
	created_at, updated_at`

func (s marketStore) NextSequence(ctx context.Context) (uint64, error) {
	var seq int64
	if err := s.tx.QueryRow(ctx, `SELECT nextval('market_creation_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("postgres: next market sequence: %w", err)
	}
	return uint64(seq), nil
}

func (s marketStore) Insert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, sequence, creator, resolved, asserted_outcome_id,
			outcome1_token, outcome2_token, reward, required_bond,
			outcome1, outcome2, description, outcome1_pool, outcome2_pool,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8::numeric, $9::numeric,
			$10, $11, $12, $13::numeric, $14::numeric,
			$15, $16
		)`
	_, err := s.tx.Exec(ctx, query,
		m.ID.Hex(), int64(m.Sequence), m.Creator.Hex(), m.Resolved, hashOrEmpty(m.AssertedOutcomeID),
		m.Outcome1Token.Hex(), m.Outcome2Token.Hex(), m.Reward.Dec(), m.RequiredBond.Dec(),
		m.Outcome1, m.Outcome2, m.Description, m.Outcome1Pool.Dec(), m.Outcome2Pool.Dec(),
		m.CreatedAt, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres: insert market %s: %w", m.ID.Hex(), domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: insert market %s: %w", m.ID.Hex(), err)
	}
	return nil
}

// Get locks the market row until the transaction ends.
func (s marketStore) Get(ctx context.Context, id common.Hash) (domain.Market, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1 FOR UPDATE`, id.Hex())
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id.Hex(), err)
	}
	return m, nil
}

func (s marketStore) Update(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET
			resolved            = $2,
			asserted_outcome_id = $3,
			outcome1_pool       = $4::numeric,
			outcome2_pool       = $5::numeric,
			updated_at          = $6
		WHERE id = $1`
	tag, err := s.tx.Exec(ctx, query,
		m.ID.Hex(), m.Resolved, hashOrEmpty(m.AssertedOutcomeID),
		m.Outcome1Pool.Dec(), m.Outcome2Pool.Dec(), m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update market %s: %w", m.ID.Hex(), domain.ErrNotFound)
	}
	return nil
}

func (s marketStore) List(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+marketColumns+` FROM markets ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	markets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Market, error) {
		return scanMarket(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets: %w", err)
	}
	return markets, nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                                 domain.Market
		id, creator, asserted, tok1, tok2 string
		seq                               int64
		reward, bond, pool1, pool2        string
	)
	err := row.Scan(
		&id, &seq, &creator, &m.Resolved, &asserted,
		&tok1, &tok2, &reward, &bond,
		&m.Outcome1, &m.Outcome2, &m.Description, &pool1, &pool2,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.ID = common.HexToHash(id)
	m.Sequence = uint64(seq)
	m.Creator = common.HexToAddress(creator)
	if asserted != "" {
		m.AssertedOutcomeID = common.HexToHash(asserted)
	}
	m.Outcome1Token = common.HexToAddress(tok1)
	m.Outcome2Token = common.HexToAddress(tok2)
	if m.Reward, err = parseAmount(reward); err != nil {
		return domain.Market{}, err
	}
	if m.RequiredBond, err = parseAmount(bond); err != nil {
		return domain.Market{}, err
	}
	if m.Outcome1Pool, err = parseAmount(pool1); err != nil {
		return domain.Market{}, err
	}
	if m.Outcome2Pool, err = parseAmount(pool2); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

func hashOrEmpty(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}
