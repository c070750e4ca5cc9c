package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/crypto"
	"github.com/alanyoungcy/assertmarket/internal/domain"
	"github.com/alanyoungcy/assertmarket/internal/store/memory"
)

var (
	oracleAddr = common.HexToAddress("0x00000000000000000000000000000000000a0c1e")
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000e4e01")
)

func newTestServer(t *testing.T, auth *crypto.HMACAuth, submitted *assertRequest) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	verify := func(w http.ResponseWriter, r *http.Request, body []byte) bool {
		if !auth.Verify(r.Method, r.URL.RequestURI(), string(body),
			r.Header.Get(crypto.HeaderOracleTimestamp), r.Header.Get(crypto.HeaderOracleSignature)) {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(errorResponse{Error: "bad signature"})
			return false
		}
		return true
	}
	mux.HandleFunc("GET /v1/minimum-bond", func(w http.ResponseWriter, r *http.Request) {
		if !verify(w, r, nil) {
			return
		}
		_ = json.NewEncoder(w).Encode(minimumBondResponse{MinimumBond: "1500"})
	})
	mux.HandleFunc("GET /v1/identifier", func(w http.ResponseWriter, r *http.Request) {
		if !verify(w, r, nil) {
			return
		}
		_ = json.NewEncoder(w).Encode(identifierResponse{Identifier: common.HexToHash("0xabc")})
	})
	mux.HandleFunc("POST /v1/assertions", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !verify(w, r, body) {
			return
		}
		_ = json.Unmarshal(body, submitted)
		if submitted.Bond == "13" {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(errorResponse{Error: "duplicate"})
			return
		}
		_ = json.NewEncoder(w).Encode(assertResponse{AssertionID: common.HexToHash("0x5151")})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_MinimumBondAndIdentifier(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "k", Secret: "s"}
	srv := newTestServer(t, auth, &assertRequest{})
	c := NewClient(srv.URL, oracleAddr, auth, time.Second)

	bond, err := c.MinimumBond(context.Background(), common.HexToAddress("0xc0ffee"))
	if err != nil {
		t.Fatalf("MinimumBond: %v", err)
	}
	if bond.Uint64() != 1500 {
		t.Errorf("MinimumBond = %s, want 1500", bond.Dec())
	}
	id, err := c.DefaultIdentifier(context.Background())
	if err != nil || id != common.HexToHash("0xabc") {
		t.Errorf("DefaultIdentifier = %s, %v", id.Hex(), err)
	}
}

func TestClient_RejectedCredentials(t *testing.T) {
	srv := newTestServer(t, &crypto.HMACAuth{Key: "k", Secret: "server"}, &assertRequest{})
	c := NewClient(srv.URL, oracleAddr, &crypto.HMACAuth{Key: "k", Secret: "client"}, time.Second)

	_, err := c.DefaultIdentifier(context.Background())
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestClient_AssertTruthEscrowsBond(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "k", Secret: "s"}
	var submitted assertRequest
	srv := newTestServer(t, auth, &submitted)
	c := NewClient(srv.URL, oracleAddr, auth, time.Second)
	store := memory.New()
	ctx := context.Background()

	err := store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Collateral().Mint(ctx, engineAddr, uint256.NewInt(2_000)); err != nil {
			return err
		}
		if err := tx.Collateral().Approve(ctx, engineAddr, oracleAddr, uint256.NewInt(2_000)); err != nil {
			return err
		}
		id, err := c.AssertTruth(ctx, tx, domain.AssertionRequest{
			Claim:             []byte("claim"),
			CallbackRecipient: engineAddr,
			Liveness:          2 * time.Hour,
			Bond:              uint256.NewInt(1_500),
		})
		if err != nil {
			return err
		}
		if id != common.HexToHash("0x5151") {
			t.Errorf("assertion id = %s", id.Hex())
		}
		escrow, _ := tx.Collateral().BalanceOf(ctx, oracleAddr)
		if escrow.Uint64() != 1_500 {
			t.Errorf("escrow = %s, want 1500", escrow.Dec())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
	if submitted.LivenessSeconds != 7200 || submitted.Bond != "1500" || submitted.Claim != "claim" {
		t.Errorf("submitted = %+v", submitted)
	}
}

func TestClient_AssertTruthConflict(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "k", Secret: "s"}
	srv := newTestServer(t, auth, &assertRequest{})
	c := NewClient(srv.URL, oracleAddr, auth, time.Second)
	store := memory.New()

	err := store.Atomic(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_ = tx.Collateral().Mint(ctx, engineAddr, uint256.NewInt(13))
		_ = tx.Collateral().Approve(ctx, engineAddr, oracleAddr, uint256.NewInt(13))
		_, err := c.AssertTruth(ctx, tx, domain.AssertionRequest{
			CallbackRecipient: engineAddr,
			Bond:              uint256.NewInt(13),
		})
		return err
	})
	if !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("err = %v, want ErrStateConflict", err)
	}
}
