// Package oracle is the HTTP client for a remote truth-assertion oracle. The
// oracle's escrow is represented in the local collateral ledger by its
// address; the remote service calls back over the signed callback routes.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/crypto"
	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// Client talks to the remote oracle API.
type Client struct {
	baseURL    string
	address    common.Address
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates a client for the oracle at baseURL whose on-ledger
// identity is address.
func NewClient(baseURL string, address common.Address, auth *crypto.HMACAuth, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		address:    address,
		auth:       auth,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type minimumBondResponse struct {
	MinimumBond string `json:"minimum_bond"`
}

type identifierResponse struct {
	Identifier common.Hash `json:"identifier"`
}

type assertRequest struct {
	Claim             string         `json:"claim"`
	Asserter          common.Address `json:"asserter"`
	CallbackRecipient common.Address `json:"callback_recipient"`
	EscalationManager common.Address `json:"escalation_manager"`
	LivenessSeconds   int64          `json:"liveness_seconds"`
	Currency          common.Address `json:"currency"`
	Bond              string         `json:"bond"`
	Identifier        common.Hash    `json:"identifier"`
	DomainID          common.Hash    `json:"domain_id"`
}

type assertResponse struct {
	AssertionID common.Hash `json:"assertion_id"`
}

func (c *Client) Address() common.Address { return c.address }

// MinimumBond returns the oracle's bond floor for currency.
func (c *Client) MinimumBond(ctx context.Context, currency common.Address) (*uint256.Int, error) {
	path := "/v1/minimum-bond?" + url.Values{"currency": {currency.Hex()}}.Encode()
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: minimum bond: %w", err)
	}
	var resp minimumBondResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("oracle: decode minimum bond: %w", err)
	}
	bond, err := uint256.FromDecimal(resp.MinimumBond)
	if err != nil {
		return nil, fmt.Errorf("oracle: minimum bond %q: %w", resp.MinimumBond, err)
	}
	return bond, nil
}

// DefaultIdentifier returns the oracle's default claim identifier.
func (c *Client) DefaultIdentifier(ctx context.Context) (common.Hash, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/identifier", nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("oracle: identifier: %w", err)
	}
	var resp identifierResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Hash{}, fmt.Errorf("oracle: decode identifier: %w", err)
	}
	return resp.Identifier, nil
}

// AssertTruth moves the approved bond into the oracle's escrow account and
// submits the claim. A failed submission fails the caller's transaction, so
// the bond transfer is rolled back with it. The remote oracle keeps its own
// records, so nothing else is written through tx.
func (c *Client) AssertTruth(ctx context.Context, tx domain.Tx, req domain.AssertionRequest) (common.Hash, error) {
	if err := tx.Collateral().TransferFrom(ctx, c.address, req.CallbackRecipient, c.address, req.Bond); err != nil {
		return common.Hash{}, fmt.Errorf("oracle: escrow bond: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/v1/assertions", assertRequest{
		Claim:             string(req.Claim),
		Asserter:          req.Asserter,
		CallbackRecipient: req.CallbackRecipient,
		EscalationManager: req.EscalationManager,
		LivenessSeconds:   int64(req.Liveness / time.Second),
		Currency:          req.Currency,
		Bond:              req.Bond.Dec(),
		Identifier:        req.Identifier,
		DomainID:          req.DomainID,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("oracle: assert truth: %w", err)
	}
	var resp assertResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Hash{}, fmt.Errorf("oracle: decode assertion: %w", err)
	}
	if resp.AssertionID == (common.Hash{}) {
		return common.Hash{}, fmt.Errorf("oracle: empty assertion id")
	}
	return resp.AssertionID, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var raw []byte
	if reqBody != nil {
		var err error
		if raw, err = json.Marshal(reqBody); err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, string(raw)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("bad request: %s: %w", apiErr.Error, domain.ErrInputInvalid)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("unauthorized: %s: %w", apiErr.Error, domain.ErrUnauthorized)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: %s: %w", apiErr.Error, domain.ErrRateLimited)
	case http.StatusConflict:
		return fmt.Errorf("conflict: %s: %w", apiErr.Error, domain.ErrStateConflict)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, apiErr.Error)
	}
}

var _ domain.Oracle = (*Client)(nil)
