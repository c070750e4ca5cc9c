package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CollateralLedger is the engine's view of the collateral currency.
type CollateralLedger interface {
	Address() common.Address
	CollateralBalance(ctx context.Context, holder common.Address) (balance, allowance *uint256.Int, err error)
	ApproveCollateral(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error
	MintCollateral(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// CollateralHandler serves collateral balances, approvals and the admin
// faucet.
type CollateralHandler struct {
	ledger CollateralLedger
	logger *slog.Logger
}

// NewCollateralHandler creates a CollateralHandler.
func NewCollateralHandler(ledger CollateralLedger, logger *slog.Logger) *CollateralHandler {
	return &CollateralHandler{ledger: ledger, logger: logger}
}

// Balance returns a holder's collateral balance and its allowance for the
// market engine.
// GET /api/collateral/{address}
func (h *CollateralHandler) Balance(w http.ResponseWriter, r *http.Request) {
	holder, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	balance, allowance, err := h.ledger.CollateralBalance(r.Context(), holder)
	if err != nil {
		writeDomainError(w, r, h.logger, "collateral balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"holder":    holder,
		"balance":   balance,
		"allowance": allowance,
		"spender":   h.ledger.Address(),
	})
}

// Approve sets the caller's allowance for a spender. The spender defaults to
// the market engine.
// POST /api/collateral/approve
func (h *CollateralHandler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Spender string `json:"spender"`
		Amount  string `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	spender := h.ledger.Address()
	if req.Spender != "" {
		var err error
		if spender, err = parseAddress(req.Spender); err != nil {
			writeError(w, http.StatusBadRequest, "spender: "+err.Error())
			return
		}
	}
	amount, ok := amountField(w, "amount", req.Amount)
	if !ok {
		return
	}
	if err := h.ledger.ApproveCollateral(r.Context(), caller, spender, amount); err != nil {
		writeDomainError(w, r, h.logger, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":   caller,
		"spender": spender,
		"amount":  amount,
	})
}

// Mint credits collateral out of thin air. Admin only.
// POST /api/admin/collateral/mint
func (h *CollateralHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}
	amount, ok := amountField(w, "amount", req.Amount)
	if !ok {
		return
	}
	if err := h.ledger.MintCollateral(r.Context(), to, amount); err != nil {
		writeDomainError(w, r, h.logger, "mint collateral", err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: collateral minted",
		slog.String("to", to.Hex()),
		slog.String("amount", amount.Dec()),
	)
	writeJSON(w, http.StatusOK, map[string]any{"to": to, "amount": amount})
}
