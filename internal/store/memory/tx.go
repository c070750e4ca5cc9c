package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

type tx struct {
	st     *state
	now    func() time.Time
	undo   []func()
	events []domain.Event
}

// rollback reverts every journaled write, newest first.
func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// put writes m[k] = v and journals the previous entry.
func put[K comparable, V any](t *tx, m map[K]V, k K, v V) {
	prev, had := m[k]
	t.undo = append(t.undo, func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

// remove deletes m[k] and journals the previous entry.
func remove[K comparable, V any](t *tx, m map[K]V, k K) {
	prev, had := m[k]
	if !had {
		return
	}
	t.undo = append(t.undo, func() { m[k] = prev })
	delete(m, k)
}

func (t *tx) Markets() domain.MarketStore                   { return marketStore{t} }
func (t *tx) Assertions() domain.AssertionStore             { return assertionStore{t} }
func (t *tx) Tokens() domain.TokenLedger                    { return tokenLedger{t} }
func (t *tx) Collateral() domain.CollateralLedger           { return collateralLedger{t} }
func (t *tx) Events() domain.EventLog                       { return eventLog{t} }
func (t *tx) OracleAssertions() domain.OracleAssertionStore { return oracleAssertionStore{t} }

// ---------------------------------------------------------------------------
// Markets
// ---------------------------------------------------------------------------

type marketStore struct{ *tx }

func (s marketStore) NextSequence(context.Context) (uint64, error) {
	prev := s.st.seq
	s.undo = append(s.undo, func() { s.st.seq = prev })
	s.st.seq++
	return s.st.seq, nil
}

func (s marketStore) Insert(_ context.Context, m domain.Market) error {
	if _, ok := s.st.markets[m.ID]; ok {
		return fmt.Errorf("memory: insert market %s: %w", m.ID.Hex(), domain.ErrAlreadyExists)
	}
	put(s.tx, s.st.markets, m.ID, m.Clone())
	n := len(s.st.order)
	s.undo = append(s.undo, func() { s.st.order = s.st.order[:n] })
	s.st.order = append(s.st.order, m.ID)
	return nil
}

func (s marketStore) Get(_ context.Context, id common.Hash) (domain.Market, error) {
	m, ok := s.st.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m.Clone(), nil
}

func (s marketStore) Update(_ context.Context, m domain.Market) error {
	if _, ok := s.st.markets[m.ID]; !ok {
		return fmt.Errorf("memory: update market %s: %w", m.ID.Hex(), domain.ErrNotFound)
	}
	put(s.tx, s.st.markets, m.ID, m.Clone())
	return nil
}

func (s marketStore) List(context.Context) ([]domain.Market, error) {
	return s.st.sortedMarkets(), nil
}

// ---------------------------------------------------------------------------
// Assertions
// ---------------------------------------------------------------------------

type assertionStore struct{ *tx }

func (s assertionStore) Put(_ context.Context, a domain.AssertedMarket) error {
	if _, ok := s.st.assertions[a.AssertionID]; ok {
		return fmt.Errorf("memory: put assertion %s: %w", a.AssertionID.Hex(), domain.ErrAlreadyExists)
	}
	if a.Bond != nil {
		a.Bond = a.Bond.Clone()
	}
	put(s.tx, s.st.assertions, a.AssertionID, a)
	return nil
}

func (s assertionStore) Get(_ context.Context, id common.Hash) (domain.AssertedMarket, error) {
	a, ok := s.st.assertions[id]
	if !ok {
		return domain.AssertedMarket{}, domain.ErrNotFound
	}
	return a, nil
}

func (s assertionStore) Delete(_ context.Context, id common.Hash) error {
	remove(s.tx, s.st.assertions, id)
	return nil
}

// ---------------------------------------------------------------------------
// Outcome tokens
// ---------------------------------------------------------------------------

type tokenLedger struct{ *tx }

func (l tokenLedger) Deploy(_ context.Context, token domain.Token) error {
	if _, ok := l.st.tokens[token.Address]; ok {
		return fmt.Errorf("memory: deploy token %s: %w", token.Address.Hex(), domain.ErrAlreadyExists)
	}
	put(l.tx, l.st.tokens, token.Address, token)
	return nil
}

func (l tokenLedger) checkMinter(minter, token common.Address) error {
	t, ok := l.st.tokens[token]
	if !ok {
		return fmt.Errorf("memory: token %s: %w", token.Hex(), domain.ErrNotFound)
	}
	if t.Minter != minter {
		return fmt.Errorf("memory: %s may not mint or burn %s: %w", minter.Hex(), token.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

func (l tokenLedger) Mint(_ context.Context, minter, token, to common.Address, amount *uint256.Int) error {
	if err := l.checkMinter(minter, token); err != nil {
		return err
	}
	return credit(l.tx, l.st.balances, balanceKey{token, to}, amount)
}

func (l tokenLedger) BurnFrom(_ context.Context, minter, token, holder common.Address, amount *uint256.Int) error {
	if err := l.checkMinter(minter, token); err != nil {
		return err
	}
	return debit(l.tx, l.st.balances, balanceKey{token, holder}, amount)
}

func (l tokenLedger) BalanceOf(_ context.Context, token, holder common.Address) (*uint256.Int, error) {
	return balance(l.st.balances, balanceKey{token, holder}), nil
}

// ---------------------------------------------------------------------------
// Collateral
// ---------------------------------------------------------------------------

type collateralLedger struct{ *tx }

func (l collateralLedger) Transfer(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	if err := debit(l.tx, l.st.collateral, from, amount); err != nil {
		return err
	}
	return credit(l.tx, l.st.collateral, to, amount)
}

func (l collateralLedger) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	if spender != from {
		key := allowanceKey{owner: from, spender: spender}
		allowed := balance(l.st.allowances, key)
		if allowed.Lt(amount) {
			return fmt.Errorf("memory: allowance of %s for %s is %s, need %s: %w",
				spender.Hex(), from.Hex(), allowed.Dec(), amount.Dec(), domain.ErrInsufficientBalance)
		}
		put(l.tx, l.st.allowances, key, new(uint256.Int).Sub(allowed, amount))
	}
	return l.Transfer(ctx, from, to, amount)
}

func (l collateralLedger) Approve(_ context.Context, owner, spender common.Address, amount *uint256.Int) error {
	put(l.tx, l.st.allowances, allowanceKey{owner: owner, spender: spender}, amount.Clone())
	return nil
}

func (l collateralLedger) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return balance(l.st.allowances, allowanceKey{owner: owner, spender: spender}), nil
}

func (l collateralLedger) BalanceOf(_ context.Context, holder common.Address) (*uint256.Int, error) {
	return balance(l.st.collateral, holder), nil
}

func (l collateralLedger) Mint(_ context.Context, to common.Address, amount *uint256.Int) error {
	return credit(l.tx, l.st.collateral, to, amount)
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

type eventLog struct{ *tx }

func (l eventLog) Append(_ context.Context, e domain.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	l.events = append(l.events, e)
	return nil
}

// ---------------------------------------------------------------------------
// Oracle assertions
// ---------------------------------------------------------------------------

type oracleAssertionStore struct{ *tx }

func (s oracleAssertionStore) Insert(_ context.Context, a domain.OracleAssertion) error {
	if _, ok := s.st.oracle[a.ID]; ok {
		return fmt.Errorf("memory: insert oracle assertion %s: %w", a.ID.Hex(), domain.ErrAlreadyExists)
	}
	put(s.tx, s.st.oracle, a.ID, a.Clone())
	return nil
}

func (s oracleAssertionStore) Get(_ context.Context, id common.Hash) (domain.OracleAssertion, error) {
	a, ok := s.st.oracle[id]
	if !ok {
		return domain.OracleAssertion{}, domain.ErrNotFound
	}
	return a.Clone(), nil
}

func (s oracleAssertionStore) Update(_ context.Context, a domain.OracleAssertion) error {
	if _, ok := s.st.oracle[a.ID]; !ok {
		return fmt.Errorf("memory: update oracle assertion %s: %w", a.ID.Hex(), domain.ErrNotFound)
	}
	put(s.tx, s.st.oracle, a.ID, a.Clone())
	return nil
}

func (s oracleAssertionStore) List(context.Context) ([]domain.OracleAssertion, error) {
	out := make([]domain.OracleAssertion, 0, len(s.st.oracle))
	for _, a := range s.st.oracle {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.Cmp(out[j].ID) < 0
	})
	return out, nil
}

func (s oracleAssertionStore) ListDue(_ context.Context, now time.Time) ([]common.Hash, error) {
	var due []domain.OracleAssertion
	for _, a := range s.st.oracle {
		if a.Status == domain.OracleAssertionPending && !now.Before(a.ExpiresAt) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	ids := make([]common.Hash, len(due))
	for i, a := range due {
		ids[i] = a.ID
	}
	return ids, nil
}

// ---------------------------------------------------------------------------
// Balance helpers
// ---------------------------------------------------------------------------

func balance[K comparable](m map[K]*uint256.Int, key K) *uint256.Int {
	if v, ok := m[key]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// credit and debit always store a fresh value, never mutate the held one, so
// the journal can restore the previous pointer.
func credit[K comparable](t *tx, m map[K]*uint256.Int, key K, amount *uint256.Int) error {
	sum, overflow := new(uint256.Int).AddOverflow(balance(m, key), amount)
	if overflow {
		return fmt.Errorf("memory: credit %s: %w", amount.Dec(), domain.ErrOverflow)
	}
	put(t, m, key, sum)
	return nil
}

func debit[K comparable](t *tx, m map[K]*uint256.Int, key K, amount *uint256.Int) error {
	held := balance(m, key)
	if held.Lt(amount) {
		return fmt.Errorf("memory: balance %s below %s: %w", held.Dec(), amount.Dec(), domain.ErrInsufficientBalance)
	}
	put(t, m, key, held.Sub(held, amount))
	return nil
}
