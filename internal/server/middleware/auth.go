package middleware

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/assertmarket/internal/crypto"
	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// MaxBodyBytes bounds request bodies read for signature checks.
const MaxBodyBytes = 1 << 20

type callerKey struct{}

// WithCaller stores the authenticated caller in ctx.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	if info := infoFrom(ctx); info != nil {
		info.caller = &caller
	}
	return context.WithValue(ctx, callerKey{}, caller)
}

// Caller returns the authenticated caller, if any.
func Caller(ctx context.Context) (common.Address, bool) {
	c, ok := ctx.Value(callerKey{}).(common.Address)
	return c, ok
}

// CallerAuthConfig controls caller authentication.
type CallerAuthConfig struct {
	// MaxSkew is how far the signed timestamp may drift from now.
	MaxSkew time.Duration
	// TrustHeader accepts X-Caller-Address without a signature. Only for
	// local development.
	TrustHeader bool
	// Replay makes every signed request single-use. A request is remembered
	// for twice MaxSkew, which outlives any timestamp the skew check would
	// still accept. Nil selects a process-local MemoryReplayGuard.
	Replay domain.ReplayGuard
	Now    func() time.Time
}

// CallerAuth authenticates requests that carry X-Caller-Address. The caller
// signs keccak256(method, request URI, timestamp, body) with its Ethereum
// key; the recovered address must equal the claimed one. Requests without
// the header pass through anonymously and handlers that need a caller
// reject them. A signed request is accepted once; resending it gets 401.
func CallerAuth(cfg CallerAuthConfig) func(http.Handler) http.Handler {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Replay == nil && !cfg.TrustHeader {
		cfg.Replay = NewMemoryReplayGuard(DefaultReplayCapacity)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claimed := strings.TrimSpace(r.Header.Get(crypto.HeaderCallerAddress))
			if claimed == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(claimed) {
				writeJSONError(w, http.StatusUnauthorized, "malformed caller address")
				return
			}
			caller := common.HexToAddress(claimed)

			if !cfg.TrustHeader {
				digest, err := verifyCaller(r, caller, cfg)
				if err != nil {
					writeJSONError(w, http.StatusUnauthorized, err.Error())
					return
				}
				fresh, err := cfg.Replay.Claim(r.Context(), caller.Hex()+":"+common.Bytes2Hex(digest), 2*cfg.MaxSkew)
				if err != nil {
					writeJSONError(w, http.StatusServiceUnavailable, "replay check unavailable")
					return
				}
				if !fresh {
					writeJSONError(w, http.StatusUnauthorized, "signed request already used")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// verifyCaller checks the caller signature and returns the signed digest.
// The digest rather than the signature identifies the request for replay
// checks, since several encodings of one signature verify alike.
func verifyCaller(r *http.Request, caller common.Address, cfg CallerAuthConfig) ([]byte, error) {
	ts, err := strconv.ParseInt(r.Header.Get(crypto.HeaderCallerTimestamp), 10, 64)
	if err != nil {
		return nil, errors.New("missing or malformed caller timestamp")
	}
	if skew := cfg.Now().Sub(time.Unix(ts, 0)); skew > cfg.MaxSkew || skew < -cfg.MaxSkew {
		return nil, fmt.Errorf("caller timestamp outside %s window", cfg.MaxSkew)
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
		if err != nil {
			return nil, errors.New("failed to read request body")
		}
		if len(body) > MaxBodyBytes {
			return nil, errors.New("request body too large")
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	uri := r.URL.RequestURI()
	sig := r.Header.Get(crypto.HeaderCallerSignature)
	if err := crypto.VerifyRequest(caller, r.Method, uri, ts, body, sig); err != nil {
		return nil, errors.New("invalid caller signature")
	}
	return crypto.RequestDigest(r.Method, uri, ts, body), nil
}

// AdminKey guards operator routes with a static key sent as a Bearer token or
// in X-API-Key. An empty key disables the routes entirely.
func AdminKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				writeJSONError(w, http.StatusForbidden, "admin routes disabled")
				return
			}
			token := extractToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing admin token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken reads "Authorization: Bearer <token>" or X-API-Key.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "{\"error\":%q}", msg)
}
