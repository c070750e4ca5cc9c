package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/assertmarket/internal/oracle"
)

// ResolutionReceiver accepts oracle callbacks. The engine checks that the
// caller is the registered oracle.
type ResolutionReceiver interface {
	AssertionResolved(ctx context.Context, caller common.Address, assertionID common.Hash, truthful bool) error
	AssertionDisputed(ctx context.Context, caller common.Address, assertionID common.Hash) error
}

// OracleSimulator is the in-process oracle's operator surface.
type OracleSimulator interface {
	List(ctx context.Context) ([]oracle.Assertion, error)
	Get(ctx context.Context, id common.Hash) (oracle.Assertion, error)
	Dispute(ctx context.Context, id common.Hash, disputer common.Address) error
	Resolve(ctx context.Context, id common.Hash, truthful bool) error
	Settle(ctx context.Context, id common.Hash) error
}

// OracleHandler serves oracle callbacks and, when the simulated oracle is in
// use, its operator endpoints.
type OracleHandler struct {
	receiver ResolutionReceiver
	sim      OracleSimulator
	logger   *slog.Logger
}

// NewOracleHandler creates an OracleHandler. sim may be nil.
func NewOracleHandler(receiver ResolutionReceiver, sim OracleSimulator, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{receiver: receiver, sim: sim, logger: logger}
}

// HasSimulator reports whether the simulator endpoints should be mounted.
func (h *OracleHandler) HasSimulator() bool { return h.sim != nil }

type callbackRequest struct {
	AssertionID common.Hash `json:"assertion_id"`
	Truthful    bool        `json:"truthful"`
}

// Resolved delivers a resolution callback. The caller must sign as the
// oracle.
// POST /api/oracle/callbacks/resolved
func (h *OracleHandler) Resolved(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req callbackRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.receiver.AssertionResolved(r.Context(), caller, req.AssertionID, req.Truthful); err != nil {
		writeDomainError(w, r, h.logger, "assertion resolved", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assertion_id": req.AssertionID, "truthful": req.Truthful})
}

// Disputed delivers a dispute callback.
// POST /api/oracle/callbacks/disputed
func (h *OracleHandler) Disputed(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req callbackRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.receiver.AssertionDisputed(r.Context(), caller, req.AssertionID); err != nil {
		writeDomainError(w, r, h.logger, "assertion disputed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assertion_id": req.AssertionID})
}

// ListAssertions returns every simulated assertion, newest first.
// GET /api/oracle/sim
func (h *OracleHandler) ListAssertions(w http.ResponseWriter, r *http.Request) {
	assertions, err := h.sim.List(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "list assertions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assertions": assertions})
}

// GetAssertion returns one simulated assertion.
// GET /api/oracle/sim/{id}
func (h *OracleHandler) GetAssertion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	a, err := h.sim.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get assertion", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Dispute challenges a simulated assertion on behalf of the caller, who
// posts the matching bond.
// POST /api/oracle/sim/{id}/dispute
func (h *OracleHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	disputer, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	if err := h.sim.Dispute(r.Context(), id, disputer); err != nil {
		writeDomainError(w, r, h.logger, "dispute", err)
		return
	}
	h.respondAssertion(w, r, id)
}

// Resolve settles a simulated assertion with an explicit verdict.
// POST /api/oracle/sim/{id}/resolve
func (h *OracleHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Truthful bool `json:"truthful"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.sim.Resolve(r.Context(), id, req.Truthful); err != nil {
		writeDomainError(w, r, h.logger, "resolve", err)
		return
	}
	h.respondAssertion(w, r, id)
}

// Settle settles an undisputed simulated assertion whose liveness has
// passed.
// POST /api/oracle/sim/{id}/settle
func (h *OracleHandler) Settle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	if err := h.sim.Settle(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, "settle assertion", err)
		return
	}
	h.respondAssertion(w, r, id)
}

func (h *OracleHandler) respondAssertion(w http.ResponseWriter, r *http.Request, id common.Hash) {
	a, err := h.sim.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get assertion", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
