package market

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/domain"
	"github.com/alanyoungcy/assertmarket/internal/store/memory"
)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000e4e01")
	oracleAddr = common.HexToAddress("0x00000000000000000000000000000000000a0c1e")
	currency   = common.HexToAddress("0x0000000000000000000000000000000000c0ffee")
	alice      = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob        = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	fixedNow   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type fakeOracle struct {
	minBond  *uint256.Int
	requests []domain.AssertionRequest
}

func (o *fakeOracle) Address() common.Address { return oracleAddr }

func (o *fakeOracle) MinimumBond(context.Context, common.Address) (*uint256.Int, error) {
	return o.minBond.Clone(), nil
}

func (o *fakeOracle) DefaultIdentifier(context.Context) (common.Hash, error) {
	return common.HexToHash("0x1d"), nil
}

func (o *fakeOracle) AssertTruth(ctx context.Context, tx domain.Tx, req domain.AssertionRequest) (common.Hash, error) {
	if err := tx.Collateral().TransferFrom(ctx, oracleAddr, req.CallbackRecipient, oracleAddr, req.Bond); err != nil {
		return common.Hash{}, err
	}
	o.requests = append(o.requests, req)
	return common.BytesToHash([]byte{0xa5, byte(len(o.requests))}), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, events []domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) kinds() []domain.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventKind, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

type allowAll struct{}

func (allowAll) IsOnWhitelist(common.Address) bool { return true }

type harness struct {
	t      *testing.T
	store  *memory.Store
	oracle *fakeOracle
	pub    *recordingPublisher
	engine *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		store:  memory.New(),
		oracle: &fakeOracle{minBond: u(100)},
		pub:    &recordingPublisher{},
	}
	e, err := New(h.store, h.oracle, allowAll{}, engineAddr, currency,
		WithPublisher(h.pub),
		WithClock(func() time.Time { return fixedNow }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.engine = e
	return h
}

// fund mints collateral to who and approves the engine to pull all of it.
func (h *harness) fund(who common.Address, amount uint64) {
	h.t.Helper()
	ctx := context.Background()
	if err := h.engine.MintCollateral(ctx, who, u(amount)); err != nil {
		h.t.Fatalf("MintCollateral: %v", err)
	}
	if err := h.engine.ApproveCollateral(ctx, who, engineAddr, u(amount)); err != nil {
		h.t.Fatalf("ApproveCollateral: %v", err)
	}
}

func (h *harness) collateral(who common.Address) uint64 {
	h.t.Helper()
	bal, _, err := h.engine.CollateralBalance(context.Background(), who)
	if err != nil {
		h.t.Fatalf("CollateralBalance: %v", err)
	}
	return bal.Uint64()
}

func (h *harness) market(id common.Hash) domain.Market {
	h.t.Helper()
	m, err := h.engine.GetMarket(context.Background(), id)
	if err != nil {
		h.t.Fatalf("GetMarket: %v", err)
	}
	return m
}

func (h *harness) create(desc string, reward, bond uint64) common.Hash {
	h.t.Helper()
	h.fund(alice, 2*DefaultInitialLiquidity+reward)
	id, err := h.engine.Initialize(context.Background(), alice, InitializeParams{
		Outcome1:     []byte("Yes"),
		Outcome2:     []byte("No"),
		Description:  []byte(desc),
		Reward:       u(reward),
		RequiredBond: u(bond),
	})
	if err != nil {
		h.t.Fatalf("Initialize: %v", err)
	}
	return id
}

// mintTokens credits outcome tokens directly, as the engine would.
func (h *harness) mintTokens(id common.Hash, holder common.Address, amt1, amt2 uint64) {
	h.t.Helper()
	m := h.market(id)
	err := h.store.Atomic(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Tokens().Mint(ctx, engineAddr, m.Outcome1Token, holder, u(amt1)); err != nil {
			return err
		}
		return tx.Tokens().Mint(ctx, engineAddr, m.Outcome2Token, holder, u(amt2))
	})
	if err != nil {
		h.t.Fatalf("mint tokens: %v", err)
	}
}

func (h *harness) balances(id common.Hash, holder common.Address) (uint64, uint64) {
	h.t.Helper()
	b, err := h.engine.TokenBalances(context.Background(), id, holder)
	if err != nil {
		h.t.Fatalf("TokenBalances: %v", err)
	}
	return b.Outcome1.Uint64(), b.Outcome2.Uint64()
}

func (h *harness) resolve(id common.Hash, outcome string) {
	h.t.Helper()
	ctx := context.Background()
	h.fund(bob, 1_000)
	aid, err := h.engine.AssertMarket(ctx, bob, id, []byte(outcome))
	if err != nil {
		h.t.Fatalf("AssertMarket: %v", err)
	}
	if err := h.engine.AssertionResolved(ctx, oracleAddr, aid, true); err != nil {
		h.t.Fatalf("AssertionResolved: %v", err)
	}
}

func TestNew_RejectsCurrencyOffWhitelist(t *testing.T) {
	_, err := New(memory.New(), &fakeOracle{}, denyAll{}, engineAddr, currency)
	if !errors.Is(err, domain.ErrInputInvalid) {
		t.Fatalf("err = %v, want ErrInputInvalid", err)
	}
}

type denyAll struct{}

func (denyAll) IsOnWhitelist(common.Address) bool { return false }

func TestInitialize_FreshMarket(t *testing.T) {
	h := newHarness(t)
	id := h.create("Will it rain on 2026-04-01?", 50, 0)

	m := h.market(id)
	if !m.Exists() {
		t.Fatal("market does not exist")
	}
	if m.Outcome1Pool.Uint64() != DefaultInitialLiquidity || m.Outcome2Pool.Uint64() != DefaultInitialLiquidity {
		t.Errorf("pools = %s/%s, want %d each", m.Outcome1Pool.Dec(), m.Outcome2Pool.Dec(), DefaultInitialLiquidity)
	}
	if m.Resolved || m.AssertedOutcomeID != (common.Hash{}) {
		t.Errorf("state = %s, want open", m.State())
	}
	if m.Sequence != 1 || m.Creator != alice {
		t.Errorf("sequence/creator = %d/%s", m.Sequence, m.Creator.Hex())
	}
	if id != MarketID(1, []byte("Will it rain on 2026-04-01?")) {
		t.Errorf("id = %s, not derived from sequence and description", id.Hex())
	}

	b1, b2 := h.balances(id, engineAddr)
	if b1 != DefaultInitialLiquidity || b2 != DefaultInitialLiquidity {
		t.Errorf("engine token balances = %d/%d", b1, b2)
	}
	if got := h.collateral(alice); got != 0 {
		t.Errorf("creator collateral = %d, want 0", got)
	}
	if got := h.collateral(engineAddr); got != 2*DefaultInitialLiquidity+50 {
		t.Errorf("engine collateral = %d, want %d", got, 2*DefaultInitialLiquidity+50)
	}

	kinds := h.pub.kinds()
	if len(kinds) != 1 || kinds[0] != domain.EventMarketInitialized {
		t.Errorf("published = %v, want [market_initialized]", kinds)
	}
	ev := h.pub.events[0].Data.(domain.MarketInitializedEvent)
	if ev.Outcome1Token != m.Outcome1Token || ev.Description != string(m.Description) {
		t.Errorf("event = %+v", ev)
	}
}

func TestInitialize_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		p    InitializeParams
	}{
		{"empty outcome1", InitializeParams{Outcome2: []byte("No"), Description: []byte("d")}},
		{"empty outcome2", InitializeParams{Outcome1: []byte("Yes"), Description: []byte("d")}},
		{"identical outcomes", InitializeParams{Outcome1: []byte("Yes"), Outcome2: []byte("Yes"), Description: []byte("d")}},
		{"empty description", InitializeParams{Outcome1: []byte("Yes"), Outcome2: []byte("No")}},
	}
	h := newHarness(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Initialize(context.Background(), alice, tt.p)
			if !errors.Is(err, domain.ErrInputInvalid) {
				t.Fatalf("err = %v, want ErrInputInvalid", err)
			}
		})
	}
}

func TestInitialize_NeedsFunding(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, DefaultInitialLiquidity)
	_, err := h.engine.Initialize(context.Background(), alice, InitializeParams{
		Outcome1: []byte("Yes"), Outcome2: []byte("No"), Description: []byte("underfunded"),
	})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	ids, _, _ := h.engine.ListMarkets(context.Background())
	if len(ids) != 0 {
		t.Errorf("markets after failed create = %d, want 0", len(ids))
	}
}

func TestInitializeBatch_SameDescriptionConflicts(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, 4*DefaultInitialLiquidity)
	p := InitializeParams{Outcome1: []byte("Yes"), Outcome2: []byte("No"), Description: []byte("twice")}

	_, err := h.engine.InitializeBatch(context.Background(), alice, []InitializeParams{p, p})
	if !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("err = %v, want ErrStateConflict", err)
	}
	ids, _, _ := h.engine.ListMarkets(context.Background())
	if len(ids) != 0 {
		t.Errorf("markets = %d, want 0 after rolled back step", len(ids))
	}
	if got := h.collateral(alice); got != 4*DefaultInitialLiquidity {
		t.Errorf("creator collateral = %d, want untouched", got)
	}
	if len(h.pub.kinds()) != 0 {
		t.Errorf("published %v for a failed step", h.pub.kinds())
	}
}

func TestInitialize_SameDescriptionInLaterStep(t *testing.T) {
	h := newHarness(t)
	first := h.create("repeatable", 0, 0)
	second := h.create("repeatable", 0, 0)
	if first == second {
		t.Fatal("markets from different steps share an id")
	}

	ids, markets, err := h.engine.ListMarkets(context.Background())
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if len(ids) != 2 || ids[0] != first || ids[1] != second {
		t.Errorf("ids = %v, want creation order", ids)
	}
	if markets[1].ID != ids[1] {
		t.Errorf("snapshots not parallel to ids")
	}
}

func TestGetMarket_UnknownIsZero(t *testing.T) {
	h := newHarness(t)
	m, err := h.engine.GetMarket(context.Background(), common.HexToHash("0xdead"))
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if m.Exists() {
		t.Errorf("unknown market exists: %+v", m)
	}
}

func TestAssertMarket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create("assertable", 0, 250)
	h.fund(bob, 1_000)

	if _, err := h.engine.AssertMarket(ctx, bob, id, []byte("Yes")); err != nil {
		t.Fatalf("AssertMarket: %v", err)
	}

	m := h.market(id)
	if m.State() != domain.MarketStateAssertionPending || m.AssertedOutcomeID != domain.OutcomeID([]byte("Yes")) {
		t.Errorf("state = %s, asserted = %s", m.State(), m.AssertedOutcomeID.Hex())
	}
	if len(h.oracle.requests) != 1 {
		t.Fatalf("oracle requests = %d, want 1", len(h.oracle.requests))
	}
	req := h.oracle.requests[0]
	if req.Bond.Uint64() != 250 {
		t.Errorf("bond = %s, want required bond 250", req.Bond.Dec())
	}
	if req.Liveness != 2*time.Hour || req.CallbackRecipient != engineAddr || req.Asserter != bob {
		t.Errorf("request = %+v", req)
	}
	wantClaim := "As of assertion timestamp 1772366400, the described prediction market outcome is: Yes. The market description is: assertable"
	if string(req.Claim) != wantClaim {
		t.Errorf("claim = %q\nwant    %q", req.Claim, wantClaim)
	}
	if got := h.collateral(bob); got != 750 {
		t.Errorf("asserter collateral = %d, want 750", got)
	}
	if got := h.collateral(oracleAddr); got != 250 {
		t.Errorf("oracle escrow = %d, want 250", got)
	}

	_, err := h.engine.AssertMarket(ctx, bob, id, []byte("No"))
	if !errors.Is(err, domain.ErrStateConflict) {
		t.Errorf("second assert: err = %v, want ErrStateConflict", err)
	}
}

func TestAssertMarket_BondIsAtLeastOracleMinimum(t *testing.T) {
	h := newHarness(t)
	id := h.create("low bond", 0, 10)
	h.fund(bob, 1_000)

	if _, err := h.engine.AssertMarket(context.Background(), bob, id, []byte(domain.UnresolvableOutcome)); err != nil {
		t.Fatalf("AssertMarket: %v", err)
	}
	if got := h.oracle.requests[0].Bond.Uint64(); got != 100 {
		t.Errorf("bond = %d, want oracle minimum 100", got)
	}
}

func TestAssertMarket_Errors(t *testing.T) {
	h := newHarness(t)
	id := h.create("errors", 0, 0)
	h.fund(bob, 1_000)

	tests := []struct {
		name    string
		market  common.Hash
		outcome string
		want    error
	}{
		{"unknown market", common.HexToHash("0xbeef"), "Yes", domain.ErrNotFound},
		{"not an outcome", id, "Maybe", domain.ErrInputInvalid},
		{"case differs", id, "yes", domain.ErrInputInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.AssertMarket(context.Background(), bob, tt.market, []byte(tt.outcome))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if got := h.collateral(bob); got != 1_000 {
		t.Errorf("collateral after failed asserts = %d, want 1000", got)
	}
}

func TestAssertionResolved_Truthful(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create("truthful", 40, 0)
	h.fund(bob, 1_000)
	aid, err := h.engine.AssertMarket(ctx, bob, id, []byte("No"))
	if err != nil {
		t.Fatalf("AssertMarket: %v", err)
	}

	if err := h.engine.AssertionResolved(ctx, bob, aid, true); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-oracle caller: err = %v, want ErrUnauthorized", err)
	}
	if err := h.engine.AssertionResolved(ctx, oracleAddr, aid, true); err != nil {
		t.Fatalf("AssertionResolved: %v", err)
	}

	m := h.market(id)
	if !m.Resolved || m.AssertedOutcomeID != domain.OutcomeID([]byte("No")) {
		t.Errorf("market = resolved %v asserted %s", m.Resolved, m.AssertedOutcomeID.Hex())
	}
	if got := h.collateral(bob); got != 900+40 {
		t.Errorf("asserter collateral = %d, want bond-less 900 plus reward 40", got)
	}

	err = h.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Assertions().Get(ctx, aid)
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("pending assertion still recorded: %v", err)
	}

	if err := h.engine.AssertionResolved(ctx, oracleAddr, aid, false); err != nil {
		t.Fatalf("second callback: %v", err)
	}
	if m := h.market(id); !m.Resolved {
		t.Error("second callback changed the market")
	}

	want := []domain.EventKind{domain.EventMarketInitialized, domain.EventMarketAsserted, domain.EventMarketResolved}
	if got := h.pub.kinds(); len(got) != len(want) || got[2] != want[2] {
		t.Errorf("published = %v, want %v", got, want)
	}
}

func TestAssertionResolved_FalseReopens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create("rejected", 40, 0)
	h.fund(bob, 1_000)
	aid, err := h.engine.AssertMarket(ctx, bob, id, []byte("Yes"))
	if err != nil {
		t.Fatalf("AssertMarket: %v", err)
	}

	if err := h.engine.AssertionResolved(ctx, oracleAddr, aid, false); err != nil {
		t.Fatalf("AssertionResolved: %v", err)
	}
	m := h.market(id)
	if m.Resolved || m.AssertedOutcomeID != (common.Hash{}) {
		t.Errorf("state = %s, want open", m.State())
	}
	if got := h.collateral(bob); got != 900 {
		t.Errorf("asserter collateral = %d, want 900 with no reward", got)
	}
	for _, k := range h.pub.kinds() {
		if k == domain.EventMarketResolved {
			t.Error("market_resolved published for a rejected assertion")
		}
	}

	if _, err := h.engine.AssertMarket(ctx, bob, id, []byte("No")); err != nil {
		t.Errorf("re-assert after rejection: %v", err)
	}
}

func TestAssertionDisputed_OracleOnlyNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.engine.AssertionDisputed(ctx, alice, common.HexToHash("0x01")); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	if err := h.engine.AssertionDisputed(ctx, oracleAddr, common.HexToHash("0x01")); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}

func TestBuy_ConcreteScenario(t *testing.T) {
	h := newHarness(t)
	id := h.create("buy", 0, 0)
	h.fund(bob, 100_000)

	bought, err := h.engine.Buy(context.Background(), bob, id, domain.SideOutcome1, u(100_000))
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if bought.Uint64() != 90637 {
		t.Errorf("bought = %s, want 90637", bought.Dec())
	}
	m := h.market(id)
	if m.Outcome1Pool.Uint64() != 1_100_000 || m.Outcome2Pool.Uint64() != 1_000_000 {
		t.Errorf("pools = %s/%s, want 1100000/1000000", m.Outcome1Pool.Dec(), m.Outcome2Pool.Dec())
	}
	b1, b2 := h.balances(id, bob)
	if b1 != 90637 || b2 != 0 {
		t.Errorf("buyer tokens = %d/%d", b1, b2)
	}
	if got := h.collateral(bob); got != 0 {
		t.Errorf("buyer collateral = %d, want 0", got)
	}

	ev := h.pub.events[len(h.pub.events)-1]
	data := ev.Data.(domain.OutcomeTokensPurchasedEvent)
	if ev.Kind != domain.EventOutcomeTokensPurchased || data.Side != domain.SideOutcome1 || data.Spent.Uint64() != 100_000 {
		t.Errorf("event = %s %+v", ev.Kind, data)
	}
}

func TestQuoteBuy_MatchesBuy(t *testing.T) {
	h := newHarness(t)
	id := h.create("quote", 0, 0)
	h.fund(bob, 5_000)

	q, err := h.engine.QuoteBuy(context.Background(), id, domain.SideOutcome2, u(5_000))
	if err != nil {
		t.Fatalf("QuoteBuy: %v", err)
	}
	bought, err := h.engine.Buy(context.Background(), bob, id, domain.SideOutcome2, u(5_000))
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if q.Out.Cmp(bought) != 0 {
		t.Errorf("quote %s != bought %s", q.Out.Dec(), bought.Dec())
	}
}

func TestBuy_Errors(t *testing.T) {
	h := newHarness(t)
	open := h.create("open", 0, 0)
	resolved := h.create("resolved", 0, 0)
	h.resolve(resolved, "Yes")
	h.fund(bob, 1_000)

	tests := []struct {
		name   string
		market common.Hash
		side   domain.Side
		in     uint64
		want   error
	}{
		{"bad side", open, domain.Side(3), 100, domain.ErrInputInvalid},
		{"unknown market", common.HexToHash("0x77"), domain.SideOutcome1, 100, domain.ErrNotFound},
		{"resolved market", resolved, domain.SideOutcome1, 100, domain.ErrStateConflict},
		{"dust", open, domain.SideOutcome1, 1, domain.ErrInsufficientOutput},
		{"over allowance", open, domain.SideOutcome1, 5_000, domain.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Buy(context.Background(), bob, tt.market, tt.side, u(tt.in))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBuy_AllowedWhileAssertionPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create("pending", 0, 0)
	h.fund(bob, 2_000)
	if _, err := h.engine.AssertMarket(ctx, bob, id, []byte("Yes")); err != nil {
		t.Fatalf("AssertMarket: %v", err)
	}
	if _, err := h.engine.Buy(ctx, bob, id, domain.SideOutcome2, u(1_000)); err != nil {
		t.Errorf("Buy while pending: %v", err)
	}
}

func TestLiquidity_RoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create("liquidity", 0, 0)
	h.fund(bob, 7_777)
	before := h.market(id)

	if err := h.engine.CreateOutcomeTokens(ctx, bob, id, u(7_777)); err != nil {
		t.Fatalf("CreateOutcomeTokens: %v", err)
	}
	mid := h.market(id)
	if mid.Outcome1Pool.Uint64() != DefaultInitialLiquidity+7_777 || mid.Outcome2Pool.Uint64() != DefaultInitialLiquidity+7_777 {
		t.Errorf("pools after provide = %s/%s", mid.Outcome1Pool.Dec(), mid.Outcome2Pool.Dec())
	}
	if b1, b2 := h.balances(id, bob); b1 != 7_777 || b2 != 7_777 {
		t.Errorf("tokens after provide = %d/%d", b1, b2)
	}

	if err := h.engine.RedeemOutcomeTokens(ctx, bob, id, u(7_777)); err != nil {
		t.Fatalf("RedeemOutcomeTokens: %v", err)
	}
	after := h.market(id)
	if after.Outcome1Pool.Cmp(before.Outcome1Pool) != 0 || after.Outcome2Pool.Cmp(before.Outcome2Pool) != 0 {
		t.Errorf("pools = %s/%s, want %s/%s", after.Outcome1Pool.Dec(), after.Outcome2Pool.Dec(),
			before.Outcome1Pool.Dec(), before.Outcome2Pool.Dec())
	}
	if b1, b2 := h.balances(id, bob); b1 != 0 || b2 != 0 {
		t.Errorf("tokens after redeem = %d/%d", b1, b2)
	}
	if got := h.collateral(bob); got != 7_777 {
		t.Errorf("collateral = %d, want 7777", got)
	}

	want := []domain.EventKind{domain.EventTokensCreated, domain.EventTokensRedeemed}
	got := h.pub.kinds()[1:]
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("published = %v, want %v", got, want)
	}
}

func TestRedeem_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create("redeem", 0, 0)

	h.mintTokens(id, bob, 10, 5)
	if err := h.engine.RedeemOutcomeTokens(ctx, bob, id, u(6)); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("lacking one side: err = %v, want ErrInsufficientBalance", err)
	}
	if b1, b2 := h.balances(id, bob); b1 != 10 || b2 != 5 {
		t.Errorf("balances after failed redeem = %d/%d, want 10/5", b1, b2)
	}

	h.mintTokens(id, bob, 2*DefaultInitialLiquidity, 2*DefaultInitialLiquidity)
	if err := h.engine.RedeemOutcomeTokens(ctx, bob, id, u(DefaultInitialLiquidity+1)); !errors.Is(err, domain.ErrUnderflow) {
		t.Errorf("pool underflow: err = %v, want ErrUnderflow", err)
	}

	if err := h.engine.CreateOutcomeTokens(ctx, bob, common.HexToHash("0x99"), u(1)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown market: err = %v, want ErrNotFound", err)
	}
}

func TestSettle(t *testing.T) {
	tests := []struct {
		name    string
		outcome string
		want    uint64
	}{
		{"outcome1 wins", "Yes", 500},
		{"outcome2 wins", "No", 300},
		{"unresolvable splits", domain.UnresolvableOutcome, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			id := h.create("settle "+tt.name, 0, 0)
			h.resolve(id, tt.outcome)
			h.mintTokens(id, alice, 500, 300)

			payout, err := h.engine.SettleOutcomeTokens(ctx, alice, id)
			if err != nil {
				t.Fatalf("SettleOutcomeTokens: %v", err)
			}
			if payout.Uint64() != tt.want {
				t.Errorf("payout = %s, want %d", payout.Dec(), tt.want)
			}
			if b1, b2 := h.balances(id, alice); b1 != 0 || b2 != 0 {
				t.Errorf("balances = %d/%d, want both burned", b1, b2)
			}
			if got := h.collateral(alice); got != tt.want {
				t.Errorf("collateral = %d, want %d", got, tt.want)
			}

			ev := h.pub.events[len(h.pub.events)-1].Data.(domain.TokensSettledEvent)
			if ev.Balance1.Uint64() != 500 || ev.Balance2.Uint64() != 300 {
				t.Errorf("event balances = %s/%s, want pre-burn 500/300", ev.Balance1.Dec(), ev.Balance2.Dec())
			}

			again, err := h.engine.SettleOutcomeTokens(ctx, alice, id)
			if err != nil || !again.IsZero() {
				t.Errorf("second settle = %v, %v; want 0, nil", again, err)
			}
		})
	}
}

func TestSettle_UnresolvedConflicts(t *testing.T) {
	h := newHarness(t)
	id := h.create("unresolved", 0, 0)
	_, err := h.engine.SettleOutcomeTokens(context.Background(), alice, id)
	if !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("err = %v, want ErrStateConflict", err)
	}
}

func TestClaim(t *testing.T) {
	got := string(Claim(time.Unix(1700000000, 0), []byte("Yes"), []byte("Q?")))
	if !strings.HasPrefix(got, "As of assertion timestamp 1700000000,") || !strings.HasSuffix(got, "The market description is: Q?") {
		t.Errorf("Claim = %q", got)
	}
}

func TestTokenAddress_DistinctPerSide(t *testing.T) {
	id := MarketID(7, []byte("x"))
	if TokenAddress(id, domain.SideOutcome1) == TokenAddress(id, domain.SideOutcome2) {
		t.Error("both sides share a token address")
	}
	if MarketID(7, []byte("x")) == MarketID(8, []byte("x")) {
		t.Error("sequence does not change the id")
	}
}
