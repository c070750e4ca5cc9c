package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
)

func TestStore_RollbackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Collateral().Mint(ctx, alice, uint256.NewInt(100))
	}); err != nil {
		t.Fatalf("mint: %v", err)
	}

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Collateral().Transfer(ctx, alice, bob, uint256.NewInt(60)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	_ = s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		a, _ := tx.Collateral().BalanceOf(ctx, alice)
		b, _ := tx.Collateral().BalanceOf(ctx, bob)
		if a.Uint64() != 100 || b.Uint64() != 0 {
			t.Errorf("balances = %s/%s, want 100/0 after rollback", a.Dec(), b.Dec())
		}
		return nil
	})
}

func TestCollateral_TransferFromNeedsAllowance(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		c := tx.Collateral()
		if err := c.Mint(ctx, alice, uint256.NewInt(50)); err != nil {
			return err
		}
		if err := c.TransferFrom(ctx, bob, alice, bob, uint256.NewInt(10)); !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Errorf("without allowance: err = %v, want ErrInsufficientBalance", err)
		}
		if err := c.Approve(ctx, alice, bob, uint256.NewInt(30)); err != nil {
			return err
		}
		if err := c.TransferFrom(ctx, bob, alice, bob, uint256.NewInt(10)); err != nil {
			return err
		}
		left, _ := c.Allowance(ctx, alice, bob)
		if left.Uint64() != 20 {
			t.Errorf("allowance = %s, want 20", left.Dec())
		}
		if err := c.TransferFrom(ctx, bob, alice, bob, uint256.NewInt(25)); !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Errorf("over allowance: err = %v, want ErrInsufficientBalance", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
}

func TestTokens_OnlyMinterMayMint(t *testing.T) {
	s := New()
	ctx := context.Background()
	token := common.HexToAddress("0x70ce000000000000000000000000000000000003")

	err := s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		l := tx.Tokens()
		if err := l.Deploy(ctx, domain.Token{Address: token, Minter: alice}); err != nil {
			return err
		}
		if err := l.Mint(ctx, bob, token, bob, uint256.NewInt(1)); !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("mint by non-minter: err = %v, want ErrUnauthorized", err)
		}
		if err := l.Mint(ctx, alice, token, bob, uint256.NewInt(5)); err != nil {
			return err
		}
		if err := l.BurnFrom(ctx, alice, token, bob, uint256.NewInt(6)); !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Errorf("over-burn: err = %v, want ErrInsufficientBalance", err)
		}
		bal, _ := l.BalanceOf(ctx, token, bob)
		if bal.Uint64() != 5 {
			t.Errorf("balance = %s, want 5", bal.Dec())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
}

func TestEvents_ListAndPrune(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m1 := common.HexToHash("0x01")
	m2 := common.HexToHash("0x02")

	_ = s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		for i, id := range []common.Hash{m1, m2, m1} {
			_ = tx.Events().Append(ctx, domain.Event{
				Kind:      domain.EventTokensCreated,
				MarketID:  id,
				CreatedAt: base.Add(time.Duration(i) * time.Hour),
			})
		}
		return nil
	})

	all, _ := s.List(ctx, domain.ListOpts{})
	if len(all) != 3 || !all[0].CreatedAt.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("List = %d events, newest %v", len(all), all[0].CreatedAt)
	}
	byMarket, _ := s.ListByMarket(ctx, m1, domain.ListOpts{Limit: 1})
	if len(byMarket) != 1 || byMarket[0].MarketID != m1 {
		t.Errorf("ListByMarket = %+v", byMarket)
	}

	old, _ := s.ListBefore(ctx, base.Add(90*time.Minute), 0)
	if len(old) != 2 {
		t.Errorf("ListBefore = %d, want 2", len(old))
	}
	n, _ := s.DeleteBefore(ctx, base.Add(90*time.Minute))
	if n != 2 {
		t.Errorf("DeleteBefore = %d, want 2", n)
	}
	rest, _ := s.List(ctx, domain.ListOpts{})
	if len(rest) != 1 {
		t.Errorf("after prune = %d events, want 1", len(rest))
	}
}

func TestStore_RollbackRestoresEveryWrite(t *testing.T) {
	s := New()
	ctx := context.Background()
	token := common.HexToAddress("0x70ce000000000000000000000000000000000004")
	kept := common.HexToHash("0xa1")

	err := s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Collateral().Mint(ctx, alice, uint256.NewInt(100)); err != nil {
			return err
		}
		return tx.Assertions().Put(ctx, domain.AssertedMarket{AssertionID: kept, Bond: uint256.NewInt(7)})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := errors.New("boom")
	err = s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		seq, _ := tx.Markets().NextSequence(ctx)
		if err := tx.Markets().Insert(ctx, domain.Market{ID: common.HexToHash("0x01"), Sequence: seq}); err != nil {
			return err
		}
		if err := tx.Tokens().Deploy(ctx, domain.Token{Address: token, Minter: alice}); err != nil {
			return err
		}
		if err := tx.Tokens().Mint(ctx, alice, token, bob, uint256.NewInt(3)); err != nil {
			return err
		}
		if err := tx.Collateral().Approve(ctx, alice, bob, uint256.NewInt(50)); err != nil {
			return err
		}
		if err := tx.Collateral().TransferFrom(ctx, bob, alice, bob, uint256.NewInt(40)); err != nil {
			return err
		}
		if err := tx.Assertions().Delete(ctx, kept); err != nil {
			return err
		}
		if err := tx.OracleAssertions().Insert(ctx, domain.OracleAssertion{ID: common.HexToHash("0xb2")}); err != nil {
			return err
		}
		_ = tx.Events().Append(ctx, domain.Event{Kind: domain.EventTokensCreated})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	if events, _ := s.List(ctx, domain.ListOpts{}); len(events) != 0 {
		t.Errorf("events after failed unit = %d, want 0", len(events))
	}
	_ = s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		if markets, _ := tx.Markets().List(ctx); len(markets) != 0 {
			t.Errorf("markets = %d, want 0", len(markets))
		}
		if seq, _ := tx.Markets().NextSequence(ctx); seq != 1 {
			t.Errorf("sequence = %d, want 1", seq)
		}
		if err := tx.Tokens().Deploy(ctx, domain.Token{Address: token, Minter: alice}); err != nil {
			t.Errorf("redeploy after rollback: %v", err)
		}
		if bal, _ := tx.Tokens().BalanceOf(ctx, token, bob); !bal.IsZero() {
			t.Errorf("token balance = %s, want 0", bal.Dec())
		}
		a, _ := tx.Collateral().BalanceOf(ctx, alice)
		b, _ := tx.Collateral().BalanceOf(ctx, bob)
		if a.Uint64() != 100 || !b.IsZero() {
			t.Errorf("collateral = %s/%s, want 100/0", a.Dec(), b.Dec())
		}
		if allowed, _ := tx.Collateral().Allowance(ctx, alice, bob); !allowed.IsZero() {
			t.Errorf("allowance = %s, want 0", allowed.Dec())
		}
		if got, err := tx.Assertions().Get(ctx, kept); err != nil || got.Bond.Uint64() != 7 {
			t.Errorf("deleted assertion not restored: %+v, %v", got, err)
		}
		if _, err := tx.OracleAssertions().Get(ctx, common.HexToHash("0xb2")); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("oracle assertion: err = %v, want ErrNotFound", err)
		}
		return nil
	})
}

func TestStore_PanicRollsBack(t *testing.T) {
	s := New()
	ctx := context.Background()

	func() {
		defer func() { _ = recover() }()
		_ = s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
			_ = tx.Collateral().Mint(ctx, alice, uint256.NewInt(9))
			panic("boom")
		})
	}()

	_ = s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		if bal, _ := tx.Collateral().BalanceOf(ctx, alice); !bal.IsZero() {
			t.Errorf("balance after panic = %s, want 0", bal.Dec())
		}
		return nil
	})
}

func TestStore_ReadsDoNotAliasLiveState(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := common.HexToHash("0x01")

	var read domain.Market
	_ = s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Markets().Insert(ctx, domain.Market{ID: id, Outcome1Pool: uint256.NewInt(10)}); err != nil {
			return err
		}
		read, _ = tx.Markets().Get(ctx, id)
		return nil
	})

	read.Outcome1Pool.SetUint64(99)
	_ = s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		m, _ := tx.Markets().Get(ctx, id)
		if m.Outcome1Pool.Uint64() != 10 {
			t.Errorf("pool = %s, want 10", m.Outcome1Pool.Dec())
		}
		return nil
	})
}

func TestOracleAssertions_ListAndDue(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := []domain.OracleAssertion{
		{ID: common.HexToHash("0x01"), Status: domain.OracleAssertionPending, CreatedAt: base, ExpiresAt: base.Add(2 * time.Hour)},
		{ID: common.HexToHash("0x02"), Status: domain.OracleAssertionPending, CreatedAt: base.Add(time.Minute), ExpiresAt: base.Add(time.Hour)},
		{ID: common.HexToHash("0x03"), Status: domain.OracleAssertionDisputed, CreatedAt: base.Add(2 * time.Minute), ExpiresAt: base.Add(time.Hour)},
		{ID: common.HexToHash("0x04"), Status: domain.OracleAssertionPending, CreatedAt: base.Add(3 * time.Minute), ExpiresAt: base.Add(5 * time.Hour)},
	}
	err := s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		for _, a := range rows {
			if err := tx.OracleAssertions().Insert(ctx, a); err != nil {
				return err
			}
		}
		if err := tx.OracleAssertions().Insert(ctx, rows[0]); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("duplicate insert: err = %v, want ErrAlreadyExists", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	_ = s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		all, _ := tx.OracleAssertions().List(ctx)
		if len(all) != 4 || all[0].ID != rows[3].ID {
			t.Errorf("List = %d rows, newest %s", len(all), all[0].ID.Hex())
		}
		due, _ := tx.OracleAssertions().ListDue(ctx, base.Add(2*time.Hour))
		if len(due) != 2 || due[0] != rows[1].ID || due[1] != rows[0].ID {
			t.Errorf("ListDue = %v, want [0x02 0x01]", due)
		}
		return nil
	})
}
