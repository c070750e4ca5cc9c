// Package oracle provides an in-process truth-assertion oracle. It escrows
// bonds in the collateral ledger, accepts disputes during the liveness window
// and calls back the market engine as the oracle identity once an assertion
// settles. Assertions are kept in the market store, so they survive restarts
// and any replica can settle them.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// AssertTruthIdentifier is the default claim identifier.
var AssertTruthIdentifier = func() common.Hash {
	var h common.Hash
	copy(h[:], "ASSERT_TRUTH")
	return h
}()

const sweeperLockKey = "oracle:sweeper"

// Status of a simulated assertion.
type Status = domain.OracleAssertionStatus

const (
	StatusPending  = domain.OracleAssertionPending
	StatusDisputed = domain.OracleAssertionDisputed
	StatusSettled  = domain.OracleAssertionSettled
)

// Assertion is the simulator's record of a submitted claim.
type Assertion = domain.OracleAssertion

// Config tunes the simulator.
type Config struct {
	Address       common.Address
	MinimumBond   *uint256.Int
	SweepInterval time.Duration
}

// Simulator implements domain.Oracle in process.
type Simulator struct {
	cfg     Config
	store   domain.UnitOfWork
	locks   domain.LockManager
	handler domain.ResolutionHandler
	now     func() time.Time
	logger  *slog.Logger

	// settling holds the ids this process is settling, so that a concurrent
	// local settle does not repeat the engine callback.
	mu       sync.Mutex
	settling map[common.Hash]struct{}
}

// NewSimulator creates a Simulator that keeps its assertions and moves bonds
// through store. locks may be nil when only one process runs the sweeper.
func NewSimulator(cfg Config, store domain.UnitOfWork, locks domain.LockManager, logger *slog.Logger) *Simulator {
	if cfg.MinimumBond == nil {
		cfg.MinimumBond = new(uint256.Int)
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	return &Simulator{
		cfg:      cfg,
		store:    store,
		locks:    locks,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "oracle_simulator")),
		settling: make(map[common.Hash]struct{}),
	}
}

// SetHandler sets the receiver of resolution callbacks. The market engine
// needs the oracle to be constructed, so it is attached afterwards.
func (s *Simulator) SetHandler(h domain.ResolutionHandler) { s.handler = h }

// SetClock replaces time.Now.
func (s *Simulator) SetClock(now func() time.Time) { s.now = now }

func (s *Simulator) Address() common.Address { return s.cfg.Address }

func (s *Simulator) MinimumBond(context.Context, common.Address) (*uint256.Int, error) {
	return s.cfg.MinimumBond.Clone(), nil
}

func (s *Simulator) DefaultIdentifier(context.Context) (common.Hash, error) {
	return AssertTruthIdentifier, nil
}

// AssertTruth escrows the bond from the callback recipient and records the
// claim, both in the caller's transaction.
func (s *Simulator) AssertTruth(ctx context.Context, tx domain.Tx, req domain.AssertionRequest) (common.Hash, error) {
	if req.Bond == nil || req.Bond.Lt(s.cfg.MinimumBond) {
		return common.Hash{}, fmt.Errorf("oracle: bond below minimum %s: %w", s.cfg.MinimumBond.Dec(), domain.ErrInputInvalid)
	}
	if req.Liveness <= 0 {
		return common.Hash{}, fmt.Errorf("oracle: liveness must be positive: %w", domain.ErrInputInvalid)
	}
	if err := tx.Collateral().TransferFrom(ctx, s.cfg.Address, req.CallbackRecipient, s.cfg.Address, req.Bond); err != nil {
		return common.Hash{}, fmt.Errorf("oracle: escrow bond: %w", err)
	}

	nonce := uuid.New()
	id := crypto.Keccak256Hash(s.cfg.Address[:], nonce[:], req.Asserter[:], req.Claim)
	now := s.now().UTC()
	err := tx.OracleAssertions().Insert(ctx, Assertion{
		ID:        id,
		Claim:     string(req.Claim),
		Asserter:  req.Asserter,
		Callback:  req.CallbackRecipient,
		Currency:  req.Currency,
		Bond:      req.Bond.Clone(),
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(req.Liveness),
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("oracle: record assertion: %w", err)
	}

	s.logger.InfoContext(ctx, "assertion submitted",
		slog.String("assertion_id", id.Hex()),
		slog.String("asserter", req.Asserter.Hex()),
		slog.Time("expires_at", now.Add(req.Liveness)),
	)
	return id, nil
}

// Get returns one assertion.
func (s *Simulator) Get(ctx context.Context, id common.Hash) (Assertion, error) {
	var a Assertion
	err := s.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		a, err = load(ctx, tx, id)
		return err
	})
	return a, err
}

// List returns every assertion, newest first.
func (s *Simulator) List(ctx context.Context) ([]Assertion, error) {
	var out []Assertion
	err := s.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		out, err = tx.OracleAssertions().List(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: list assertions: %w", err)
	}
	return out, nil
}

// Dispute challenges a pending assertion within its liveness window. The
// disputer posts a bond equal to the asserter's, pulled with a prior approval
// of the oracle address.
func (s *Simulator) Dispute(ctx context.Context, id common.Hash, disputer common.Address) error {
	err := s.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		a, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusPending {
			return fmt.Errorf("oracle: assertion %s is %s: %w", id.Hex(), a.Status, domain.ErrStateConflict)
		}
		if !s.now().Before(a.ExpiresAt) {
			return fmt.Errorf("oracle: liveness of %s has expired: %w", id.Hex(), domain.ErrStateConflict)
		}
		if err := tx.Collateral().TransferFrom(ctx, s.cfg.Address, disputer, s.cfg.Address, a.Bond); err != nil {
			return fmt.Errorf("oracle: escrow dispute bond: %w", err)
		}
		a.Status = StatusDisputed
		a.Disputer = disputer
		return tx.OracleAssertions().Update(ctx, a)
	})
	if err != nil {
		return err
	}

	if s.handler != nil {
		if err := s.handler.AssertionDisputed(ctx, s.cfg.Address, id); err != nil {
			s.logger.WarnContext(ctx, "dispute callback failed",
				slog.String("assertion_id", id.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.InfoContext(ctx, "assertion disputed",
		slog.String("assertion_id", id.Hex()),
		slog.String("disputer", disputer.Hex()),
	)
	return nil
}

// Resolve decides a disputed assertion.
func (s *Simulator) Resolve(ctx context.Context, id common.Hash, truthful bool) error {
	return s.settle(ctx, id, truthful, func(a Assertion) error {
		if a.Status != StatusDisputed {
			return fmt.Errorf("oracle: assertion %s is %s, only disputed assertions are decided: %w",
				id.Hex(), a.Status, domain.ErrStateConflict)
		}
		return nil
	})
}

// Settle confirms an undisputed assertion whose liveness has expired.
func (s *Simulator) Settle(ctx context.Context, id common.Hash) error {
	return s.settle(ctx, id, true, func(a Assertion) error {
		if a.Status != StatusPending {
			return fmt.Errorf("oracle: assertion %s is %s: %w", id.Hex(), a.Status, domain.ErrStateConflict)
		}
		if s.now().Before(a.ExpiresAt) {
			return fmt.Errorf("oracle: assertion %s is still in liveness: %w", id.Hex(), domain.ErrStateConflict)
		}
		return nil
	})
}

// settle checks the assertion, calls back the engine and then, in a second
// unit, marks it settled and releases the escrowed bonds to the winner: the
// asserter when the claim holds, the disputer otherwise. The engine ignores
// a verdict for an assertion it already cleared, so a settle interrupted
// between the two steps is completed by the next attempt.
func (s *Simulator) settle(ctx context.Context, id common.Hash, truthful bool, check func(Assertion) error) error {
	s.mu.Lock()
	if _, busy := s.settling[id]; busy {
		s.mu.Unlock()
		return fmt.Errorf("oracle: assertion %s is being settled: %w", id.Hex(), domain.ErrStateConflict)
	}
	s.settling[id] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.settling, id)
		s.mu.Unlock()
	}()

	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := check(a); err != nil {
		return err
	}

	if s.handler != nil {
		if err := s.handler.AssertionResolved(ctx, s.cfg.Address, id, truthful); err != nil {
			return fmt.Errorf("oracle: resolution callback for %s: %w", id.Hex(), err)
		}
	}

	var (
		winner common.Address
		payout *uint256.Int
	)
	err = s.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		cur, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		// Another replica may have finished the same assertion meanwhile.
		if cur.Status != a.Status {
			return fmt.Errorf("oracle: assertion %s is %s: %w", id.Hex(), cur.Status, domain.ErrStateConflict)
		}

		payout = cur.Bond.Clone()
		winner = cur.Asserter
		if cur.Status == StatusDisputed {
			payout.Add(payout, cur.Bond)
			if !truthful {
				winner = cur.Disputer
			}
		}
		if err := tx.Collateral().Transfer(ctx, s.cfg.Address, winner, payout); err != nil {
			return fmt.Errorf("oracle: release bond of %s: %w", id.Hex(), err)
		}
		cur.Status = StatusSettled
		cur.Truthful = truthful
		return tx.OracleAssertions().Update(ctx, cur)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "assertion settled",
		slog.String("assertion_id", id.Hex()),
		slog.Bool("truthful", truthful),
		slog.String("bond_to", winner.Hex()),
		slog.String("payout", payout.Dec()),
	)
	return nil
}

// Sweep settles every undisputed assertion whose liveness has expired and
// returns how many were settled.
func (s *Simulator) Sweep(ctx context.Context) (int, error) {
	var due []common.Hash
	err := s.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		due, err = tx.OracleAssertions().ListDue(ctx, s.now())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("oracle: list due assertions: %w", err)
	}

	var (
		settled int
		errs    []error
	)
	for _, id := range due {
		if err := s.Settle(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		settled++
	}
	return settled, errors.Join(errs...)
}

// Run sweeps on an interval until ctx is cancelled. With a lock manager, only
// the process holding the sweeper lock sweeps in a given round.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "oracle sweeper started", slog.Duration("interval", s.cfg.SweepInterval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Simulator) sweepOnce(ctx context.Context) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, sweeperLockKey, s.cfg.SweepInterval)
		if errors.Is(err, domain.ErrLockHeld) {
			return
		}
		if err != nil {
			s.logger.WarnContext(ctx, "sweeper lock failed", slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}

	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", slog.Int("settled", n), slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "sweep settled assertions", slog.Int("count", n))
	}
}

func load(ctx context.Context, tx domain.Tx, id common.Hash) (Assertion, error) {
	a, err := tx.OracleAssertions().Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return Assertion{}, fmt.Errorf("oracle: assertion %s: %w", id.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return Assertion{}, fmt.Errorf("oracle: get assertion %s: %w", id.Hex(), err)
	}
	return a, nil
}

var _ domain.Oracle = (*Simulator)(nil)
