package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/amm"
	"github.com/alanyoungcy/assertmarket/internal/domain"
	"github.com/alanyoungcy/assertmarket/internal/market"
)

// MarketReader serves market snapshots, typically through the cache.
type MarketReader interface {
	GetMarket(ctx context.Context, id common.Hash) (domain.Market, error)
	ListMarkets(ctx context.Context) ([]domain.Market, error)
}

// MarketEngine is the subset of the market engine the handlers drive.
type MarketEngine interface {
	Initialize(ctx context.Context, caller common.Address, p market.InitializeParams) (common.Hash, error)
	InitializeBatch(ctx context.Context, caller common.Address, ps []market.InitializeParams) ([]common.Hash, error)
	AssertMarket(ctx context.Context, caller common.Address, marketID common.Hash, outcome []byte) (common.Hash, error)
	QuoteBuy(ctx context.Context, marketID common.Hash, side domain.Side, currencyIn *uint256.Int) (amm.Quote, error)
	Buy(ctx context.Context, caller common.Address, marketID common.Hash, side domain.Side, currencyIn *uint256.Int) (*uint256.Int, error)
	CreateOutcomeTokens(ctx context.Context, caller common.Address, marketID common.Hash, amount *uint256.Int) error
	RedeemOutcomeTokens(ctx context.Context, caller common.Address, marketID common.Hash, amount *uint256.Int) error
	SettleOutcomeTokens(ctx context.Context, caller common.Address, marketID common.Hash) (*uint256.Int, error)
	TokenBalances(ctx context.Context, marketID common.Hash, holder common.Address) (market.Balances, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketReader
	engine  MarketEngine
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketReader, engine MarketEngine, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		engine:  engine,
		logger:  logger,
	}
}

// marketView is the JSON rendering of a market. Outcome and description
// bytes are shown as text.
type marketView struct {
	ID                common.Hash        `json:"id"`
	Sequence          uint64             `json:"sequence"`
	Creator           common.Address     `json:"creator"`
	State             domain.MarketState `json:"state"`
	Resolved          bool               `json:"resolved"`
	AssertedOutcomeID *common.Hash       `json:"asserted_outcome_id,omitempty"`
	Outcome1          string             `json:"outcome1"`
	Outcome2          string             `json:"outcome2"`
	Description       string             `json:"description"`
	Outcome1Token     common.Address     `json:"outcome1_token"`
	Outcome2Token     common.Address     `json:"outcome2_token"`
	Reward            *uint256.Int       `json:"reward"`
	RequiredBond      *uint256.Int       `json:"required_bond"`
	Outcome1Pool      *uint256.Int       `json:"outcome1_pool"`
	Outcome2Pool      *uint256.Int       `json:"outcome2_pool"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

func viewMarket(m domain.Market) marketView {
	v := marketView{
		ID:            m.ID,
		Sequence:      m.Sequence,
		Creator:       m.Creator,
		State:         m.State(),
		Resolved:      m.Resolved,
		Outcome1:      string(m.Outcome1),
		Outcome2:      string(m.Outcome2),
		Description:   string(m.Description),
		Outcome1Token: m.Outcome1Token,
		Outcome2Token: m.Outcome2Token,
		Reward:        m.Reward,
		RequiredBond:  m.RequiredBond,
		Outcome1Pool:  m.Outcome1Pool,
		Outcome2Pool:  m.Outcome2Pool,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.AssertedOutcomeID != (common.Hash{}) {
		id := m.AssertedOutcomeID
		v.AssertedOutcomeID = &id
	}
	return v
}

// sideParam accepts a side as 1, 2, "1", "2", "outcome1" or "outcome2".
type sideParam domain.Side

func (s *sideParam) UnmarshalJSON(b []byte) error {
	raw := string(b)
	if unq, err := strconv.Unquote(raw); err == nil {
		raw = unq
	}
	side, err := parseSide(raw)
	if err != nil {
		return err
	}
	*s = sideParam(side)
	return nil
}

type createMarketRequest struct {
	Outcome1     string `json:"outcome1"`
	Outcome2     string `json:"outcome2"`
	Description  string `json:"description"`
	Reward       string `json:"reward"`
	RequiredBond string `json:"required_bond"`
}

func (req createMarketRequest) params() (market.InitializeParams, error) {
	reward, err := optionalAmount(req.Reward)
	if err != nil {
		return market.InitializeParams{}, err
	}
	bond, err := optionalAmount(req.RequiredBond)
	if err != nil {
		return market.InitializeParams{}, err
	}
	return market.InitializeParams{
		Outcome1:     []byte(req.Outcome1),
		Outcome2:     []byte(req.Outcome2),
		Description:  []byte(req.Description),
		Reward:       reward,
		RequiredBond: bond,
	}, nil
}

// optionalAmount treats an empty string as zero.
func optionalAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return parseAmount(s)
}

// CreateMarket creates one market funded by the caller.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := req.params()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.engine.Initialize(r.Context(), caller, p)
	if err != nil {
		writeDomainError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]common.Hash{"market_id": id})
}

// CreateMarkets creates several markets in a single creation step.
// POST /api/markets/batch
func (h *MarketHandler) CreateMarkets(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Markets []createMarketRequest `json:"markets"`
	}
	if !decode(w, r, &req) {
		return
	}
	ps := make([]market.InitializeParams, len(req.Markets))
	for i, m := range req.Markets {
		p, err := m.params()
		if err != nil {
			writeError(w, http.StatusBadRequest, "markets["+strconv.Itoa(i)+"]: "+err.Error())
			return
		}
		ps[i] = p
	}
	ids, err := h.engine.InitializeBatch(r.Context(), caller, ps)
	if err != nil {
		writeDomainError(w, r, h.logger, "create markets", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string][]common.Hash{"market_ids": ids})
}

// GetMarket returns a single market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	m, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get market", err)
		return
	}
	if !m.Exists() {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	writeJSON(w, http.StatusOK, viewMarket(m))
}

// ListMarkets returns every market in creation order.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.markets.ListMarkets(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "list markets", err)
		return
	}
	views := make([]marketView, len(markets))
	for i, m := range markets {
		views[i] = viewMarket(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": views,
		"total":   len(views),
	})
}

// Quote prices a buy without executing it.
// GET /api/markets/{id}/quote?side=1&amount=1000
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	q := r.URL.Query()
	side, err := parseSide(q.Get("side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, ok := amountField(w, "amount", q.Get("amount"))
	if !ok {
		return
	}
	quote, err := h.engine.QuoteBuy(r.Context(), id, side, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*uint256.Int{
		"raw": quote.Raw,
		"fee": quote.Fee,
		"out": quote.Out,
	})
}

// Buy spends collateral on one side's outcome tokens.
// POST /api/markets/{id}/buy
func (h *MarketHandler) Buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Side   sideParam `json:"side"`
		Amount string    `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	amount, ok := amountField(w, "amount", req.Amount)
	if !ok {
		return
	}
	bought, err := h.engine.Buy(r.Context(), caller, id, domain.Side(req.Side), amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "buy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*uint256.Int{"bought": bought, "spent": amount})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

// AddLiquidity mints a complete set of outcome tokens for the caller.
// POST /api/markets/{id}/liquidity
func (h *MarketHandler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	h.withAmount(w, r, "add liquidity", h.engine.CreateOutcomeTokens)
}

// RemoveLiquidity burns a complete set and returns collateral.
// POST /api/markets/{id}/liquidity/redeem
func (h *MarketHandler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	h.withAmount(w, r, "redeem", h.engine.RedeemOutcomeTokens)
}

func (h *MarketHandler) withAmount(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, common.Address, common.Hash, *uint256.Int) error) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := amountField(w, "amount", req.Amount)
	if !ok {
		return
	}
	if err := fn(r.Context(), caller, id, amount); err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*uint256.Int{"amount": amount})
}

// Settle burns the caller's tokens of a resolved market and pays out.
// POST /api/markets/{id}/settle
func (h *MarketHandler) Settle(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	payout, err := h.engine.SettleOutcomeTokens(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, r, h.logger, "settle", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*uint256.Int{"payout": payout})
}

// Assert submits the caller's claim about a market's outcome to the oracle.
// POST /api/markets/{id}/assert
func (h *MarketHandler) Assert(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Outcome string `json:"outcome"`
	}
	if !decode(w, r, &req) {
		return
	}
	assertionID, err := h.engine.AssertMarket(r.Context(), caller, id, []byte(req.Outcome))
	if err != nil {
		writeDomainError(w, r, h.logger, "assert", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]common.Hash{"assertion_id": assertionID})
}

// Balances returns a holder's outcome token balances in a market.
// GET /api/markets/{id}/balances/{address}
func (h *MarketHandler) Balances(w http.ResponseWriter, r *http.Request) {
	id, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	holder, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	b, err := h.engine.TokenBalances(r.Context(), id, holder)
	if err != nil {
		writeDomainError(w, r, h.logger, "balances", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*uint256.Int{
		"outcome1": b.Outcome1,
		"outcome2": b.Outcome2,
	})
}

var _ json.Unmarshaler = (*sideParam)(nil)
