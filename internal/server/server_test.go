package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/crypto"
	"github.com/alanyoungcy/assertmarket/internal/domain"
	"github.com/alanyoungcy/assertmarket/internal/market"
	"github.com/alanyoungcy/assertmarket/internal/oracle"
	"github.com/alanyoungcy/assertmarket/internal/server/handler"
	"github.com/alanyoungcy/assertmarket/internal/service"
	"github.com/alanyoungcy/assertmarket/internal/store/memory"
)

// First two Hardhat development accounts.
const (
	oracleKey   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	impostorKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	adminKey    = "test-admin-key"
)

var (
	oracleAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000e4e01")
	currency   = common.HexToAddress("0x0000000000000000000000000000000000c0ffee")
	alice      = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob        = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type allowAll struct{}

func (allowAll) IsOnWhitelist(common.Address) bool { return true }

type testServer struct {
	t *testing.T
	h http.Handler
}

// newTestServer wires the real engine, simulator and memory store behind
// the full middleware chain. Caller headers are trusted unless signed is set.
func newTestServer(t *testing.T, signed bool) *testServer {
	t.Helper()
	logger := discard()
	store := memory.New()
	sim := oracle.NewSimulator(oracle.Config{Address: oracleAddr, MinimumBond: uint256.NewInt(100)}, store, nil, logger)
	pub := service.NewEventPublisher(nil, nil, nil, nil, logger)
	engine, err := market.New(store, sim, allowAll{}, engineAddr, currency, market.WithPublisher(pub))
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}
	sim.SetHandler(engine)
	svc := service.NewMarketService(engine, nil, store, logger)

	srv := NewServer(Config{
		AdminKey:          adminKey,
		TrustCallerHeader: !signed,
	}, Handlers{
		Health:     handler.NewHealthHandler("test", nil, logger),
		Markets:    handler.NewMarketHandler(svc, engine, logger),
		Collateral: handler.NewCollateralHandler(engine, logger),
		Oracle:     handler.NewOracleHandler(engine, sim, logger),
		Events:     handler.NewEventsHandler(svc, pub, logger),
	}, nil, nil, logger)
	return &testServer{t: t, h: srv.Handler()}
}

type call struct {
	method string
	path   string
	body   any
	caller *common.Address
	admin  bool
}

func (s *testServer) do(c call, out any) int {
	s.t.Helper()
	var body io.Reader = http.NoBody
	if c.body != nil {
		b, err := json.Marshal(c.body)
		if err != nil {
			s.t.Fatal(err)
		}
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.caller != nil {
		req.Header.Set(crypto.HeaderCallerAddress, c.caller.Hex())
	}
	if c.admin {
		req.Header.Set("X-API-Key", adminKey)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			s.t.Fatalf("%s %s: decode %q: %v", c.method, c.path, rec.Body, err)
		}
	}
	return rec.Code
}

func (s *testServer) must(c call, want int, out any) {
	s.t.Helper()
	if got := s.do(c, out); got != want {
		s.t.Fatalf("%s %s: status = %d, want %d", c.method, c.path, got, want)
	}
}

func ptr(a common.Address) *common.Address { return &a }

func TestServer_MarketLifecycle(t *testing.T) {
	s := newTestServer(t, false)
	funds := strconv.Itoa(3 * market.DefaultInitialLiquidity)

	s.must(call{method: "POST", path: "/api/admin/collateral/mint", admin: true,
		body: map[string]string{"to": alice.Hex(), "amount": funds}}, http.StatusOK, nil)
	s.must(call{method: "POST", path: "/api/collateral/approve", caller: ptr(alice),
		body: map[string]string{"amount": funds}}, http.StatusOK, nil)

	var created struct {
		MarketID common.Hash `json:"market_id"`
	}
	s.must(call{method: "POST", path: "/api/markets", caller: ptr(alice), body: map[string]string{
		"outcome1": "Yes", "outcome2": "No", "description": "Will it rain?",
		"reward": "10", "required_bond": "100",
	}}, http.StatusCreated, &created)
	base := "/api/markets/" + created.MarketID.Hex()

	var m struct {
		State        domain.MarketState `json:"state"`
		Outcome1     string             `json:"outcome1"`
		Outcome1Pool *uint256.Int       `json:"outcome1_pool"`
	}
	s.must(call{method: "GET", path: base}, http.StatusOK, &m)
	if m.State != domain.MarketStateOpen || m.Outcome1 != "Yes" || m.Outcome1Pool.Uint64() != market.DefaultInitialLiquidity {
		t.Errorf("market = %+v", m)
	}

	// 100000 * 1e6 / 1.1e6 = 90909, minus a 272 fee.
	var quote struct{ Raw, Fee, Out *uint256.Int }
	s.must(call{method: "GET", path: base + "/quote?side=1&amount=100000"}, http.StatusOK, &quote)
	if quote.Raw.Uint64() != 90909 || quote.Fee.Uint64() != 272 || quote.Out.Uint64() != 90637 {
		t.Errorf("quote = %s/%s/%s", quote.Raw.Dec(), quote.Fee.Dec(), quote.Out.Dec())
	}

	var bought struct{ Bought *uint256.Int }
	s.must(call{method: "POST", path: base + "/buy", caller: ptr(alice),
		body: map[string]any{"side": 1, "amount": "100000"}}, http.StatusOK, &bought)
	if bought.Bought.Uint64() != 90637 {
		t.Errorf("bought = %s, want 90637", bought.Bought.Dec())
	}

	var asserted struct {
		AssertionID common.Hash `json:"assertion_id"`
	}
	s.must(call{method: "POST", path: base + "/assert", caller: ptr(alice),
		body: map[string]string{"outcome": "Yes"}}, http.StatusAccepted, &asserted)
	s.must(call{method: "POST", path: base + "/assert", caller: ptr(alice),
		body: map[string]string{"outcome": "No"}}, http.StatusConflict, nil)

	// Bob disputes, posting a matching bond to the oracle, and loses.
	sim := "/api/oracle/sim/" + asserted.AssertionID.Hex()
	s.must(call{method: "POST", path: "/api/admin/collateral/mint", admin: true,
		body: map[string]string{"to": bob.Hex(), "amount": "100"}}, http.StatusOK, nil)
	s.must(call{method: "POST", path: "/api/collateral/approve", caller: ptr(bob),
		body: map[string]string{"spender": oracleAddr.Hex(), "amount": "100"}}, http.StatusOK, nil)
	s.must(call{method: "POST", path: sim + "/resolve", admin: true,
		body: map[string]bool{"truthful": true}}, http.StatusConflict, nil)
	s.must(call{method: "POST", path: sim + "/dispute", admin: true, caller: ptr(bob)}, http.StatusOK, nil)
	s.must(call{method: "POST", path: sim + "/resolve", admin: true,
		body: map[string]bool{"truthful": true}}, http.StatusOK, nil)

	s.must(call{method: "GET", path: base}, http.StatusOK, &m)
	if m.State != domain.MarketStateResolved {
		t.Fatalf("state = %s, want resolved", m.State)
	}

	var bal struct{ Outcome1, Outcome2 *uint256.Int }
	s.must(call{method: "GET", path: base + "/balances/" + alice.Hex()}, http.StatusOK, &bal)
	if bal.Outcome1.Uint64() != 90637 {
		t.Errorf("outcome1 balance = %s, want 90637", bal.Outcome1.Dec())
	}

	var settled struct{ Payout *uint256.Int }
	s.must(call{method: "POST", path: base + "/settle", caller: ptr(alice)}, http.StatusOK, &settled)
	if !settled.Payout.Eq(bal.Outcome1) {
		t.Errorf("payout = %s, want %s", settled.Payout.Dec(), bal.Outcome1.Dec())
	}

	var events struct {
		Events []struct {
			Kind domain.EventKind `json:"kind"`
		} `json:"events"`
	}
	s.must(call{method: "GET", path: "/api/events?market_id=" + created.MarketID.Hex()}, http.StatusOK, &events)
	kinds := map[domain.EventKind]bool{}
	for _, e := range events.Events {
		kinds[e.Kind] = true
	}
	for _, k := range []domain.EventKind{
		domain.EventMarketInitialized, domain.EventOutcomeTokensPurchased,
		domain.EventMarketAsserted, domain.EventMarketResolved, domain.EventTokensSettled,
	} {
		if !kinds[k] {
			t.Errorf("event %s missing from history", k)
		}
	}
}

func TestServer_ErrorMapping(t *testing.T) {
	s := newTestServer(t, false)
	unknown := common.HexToHash("0x01").Hex()

	tests := []struct {
		name string
		c    call
		want int
	}{
		{"anonymous create", call{method: "POST", path: "/api/markets", body: map[string]string{}}, http.StatusUnauthorized},
		{"invalid params", call{method: "POST", path: "/api/markets", caller: ptr(alice),
			body: map[string]string{"outcome1": "A", "outcome2": "A", "description": "d"}}, http.StatusBadRequest},
		{"unknown field", call{method: "POST", path: "/api/markets", caller: ptr(alice),
			body: map[string]string{"bogus": "x"}}, http.StatusBadRequest},
		{"unfunded create", call{method: "POST", path: "/api/markets", caller: ptr(alice),
			body: map[string]string{"outcome1": "A", "outcome2": "B", "description": "d"}}, http.StatusUnprocessableEntity},
		{"malformed id", call{method: "GET", path: "/api/markets/0x1234"}, http.StatusBadRequest},
		{"unknown market", call{method: "GET", path: "/api/markets/" + unknown}, http.StatusNotFound},
		{"bad side", call{method: "GET", path: "/api/markets/" + unknown + "/quote?side=3&amount=1"}, http.StatusBadRequest},
		{"settle unknown", call{method: "POST", path: "/api/markets/" + unknown + "/settle", caller: ptr(alice)}, http.StatusNotFound},
		{"mint without key", call{method: "POST", path: "/api/admin/collateral/mint",
			body: map[string]string{"to": alice.Hex(), "amount": "1"}}, http.StatusUnauthorized},
		{"callback from non-oracle", call{method: "POST", path: "/api/oracle/callbacks/resolved", caller: ptr(alice),
			body: map[string]any{"assertion_id": unknown, "truthful": true}}, http.StatusForbidden},
		{"health", call{method: "GET", path: "/api/health"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.t = t
			if got := s.do(tt.c, nil); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func signedPost(t *testing.T, key, path string, body []byte) *http.Request {
	t.Helper()
	signer, err := crypto.NewSigner(key)
	if err != nil {
		t.Fatal(err)
	}
	headers, err := signer.RequestHeaders(http.MethodPost, path, time.Now().Unix(), body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestServer_SignedOracleCallback(t *testing.T) {
	s := newTestServer(t, true)
	body := []byte(`{"assertion_id":"` + common.HexToHash("0x02").Hex() + `","truthful":true}`)

	tests := []struct {
		name string
		key  string
		want int
	}{
		// Unknown assertions are acknowledged and ignored.
		{"oracle", oracleKey, http.StatusOK},
		{"impostor", impostorKey, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.h.ServeHTTP(rec, signedPost(t, tt.key, "/api/oracle/callbacks/resolved", body))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
		})
	}

	// A bare address header without a signature is rejected outright.
	req := httptest.NewRequest(http.MethodPost, "/api/oracle/callbacks/resolved", bytes.NewReader(body))
	req.Header.Set(crypto.HeaderCallerAddress, oracleAddr.Hex())
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req.WithContext(context.Background()))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unsigned status = %d, want 401", rec.Code)
	}
}

func TestServer_SignedRequestIsSingleUse(t *testing.T) {
	s := newTestServer(t, true)
	body := []byte(`{"assertion_id":"` + common.HexToHash("0x03").Hex() + `","truthful":false}`)
	first := signedPost(t, oracleKey, "/api/oracle/callbacks/resolved", body)
	replay := httptest.NewRequest(http.MethodPost, "/api/oracle/callbacks/resolved", bytes.NewReader(body))
	replay.Header = first.Header.Clone()

	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first: status = %d (%s)", rec.Code, rec.Body)
	}
	rec = httptest.NewRecorder()
	s.h.ServeHTTP(rec, replay)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("replay: status = %d, want 401", rec.Code)
	}
}
