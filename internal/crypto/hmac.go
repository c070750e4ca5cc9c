package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Headers sent with every request to a remote oracle.
const (
	HeaderOracleKey       = "X-Oracle-Key"
	HeaderOracleTimestamp = "X-Oracle-Timestamp"
	HeaderOracleSignature = "X-Oracle-Signature"
)

// HMACAuth holds the shared credentials for a remote oracle API.
type HMACAuth struct {
	Key    string
	Secret string
}

// Headers returns the authentication headers for a request. The signature is
// base64(HMAC-SHA256(secret, timestamp+method+path+body)).
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is Headers with a caller-supplied Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderOracleKey:       h.Key,
		HeaderOracleTimestamp: ts,
		HeaderOracleSignature: hmacSHA256Base64([]byte(h.Secret), ts+method+path+body),
	}
}

// Verify reports whether sig is the signature of the request at timestamp ts.
func (h *HMACAuth) Verify(method, path, body, ts, sig string) bool {
	want := hmacSHA256Base64([]byte(h.Secret), ts+method+path+body)
	return hmac.Equal([]byte(want), []byte(sig))
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
