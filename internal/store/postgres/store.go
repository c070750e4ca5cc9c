package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// Store implements domain.UnitOfWork and domain.EventStore.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Atomic runs fn in one READ COMMITTED transaction. Market rows are locked
// with SELECT ... FOR UPDATE on read, which serializes operations on the same
// market while leaving other markets independent.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := fn(ctx, &tx{tx: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

const eventColumns = `id, kind, market_id, data, created_at`

// List returns events newest first.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM market_events
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at <= $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`
	return s.queryEvents(ctx, query, opts.Since, opts.Until, limitOrAll(opts.Limit), opts.Offset)
}

// ListByMarket returns the events of one market newest first.
func (s *Store) ListByMarket(ctx context.Context, marketID common.Hash, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM market_events
		WHERE market_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5`
	return s.queryEvents(ctx, query, marketID.Hex(), opts.Since, opts.Until, limitOrAll(opts.Limit), opts.Offset)
}

// ListBefore returns up to limit events created before the cutoff, oldest
// first.
func (s *Store) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM market_events
		WHERE created_at < $1
		ORDER BY created_at, id
		LIMIT $2`
	return s.queryEvents(ctx, query, before, limitOrAll(limit))
}

// DeleteBefore drops events created before the cutoff.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM market_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Event, error) {
		var (
			e        domain.Event
			marketID string
			data     []byte
		)
		if err := row.Scan(&e.ID, &e.Kind, &marketID, &data, &e.CreatedAt); err != nil {
			return domain.Event{}, err
		}
		e.MarketID = common.HexToHash(marketID)
		e.Data = json.RawMessage(data)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}

// limitOrAll maps a non-positive limit to no limit (LIMIT NULL).
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

// parseAmount converts a NUMERIC rendered as text into a uint256.
func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("postgres: amount %q: %w", s, domain.ErrOverflow)
	}
	return v, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var (
	_ domain.UnitOfWork = (*Store)(nil)
	_ domain.EventStore = (*Store)(nil)
)
