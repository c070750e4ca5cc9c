package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// Hardhat's first well-known development key.
const (
	devKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestSigner_Address(t *testing.T) {
	s, err := NewSigner(devKey)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if got := s.Address(); got != common.HexToAddress(devAddress) {
		t.Errorf("Address = %s, want %s", got.Hex(), devAddress)
	}
}

func TestSignRequest_RoundTrip(t *testing.T) {
	s, err := NewSigner(devKey)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	body := []byte(`{"assertion_id":"0x01","truthful":true}`)
	sig, err := s.SignRequest("POST", "/api/oracle/callbacks/resolved", 1_700_000_000, body)
	if err != nil {
		t.Fatalf("SignRequest: %v", err)
	}

	if err := VerifyRequest(s.Address(), "POST", "/api/oracle/callbacks/resolved", 1_700_000_000, body, sig); err != nil {
		t.Errorf("VerifyRequest: %v", err)
	}

	tests := []struct {
		name string
		path string
		ts   int64
		body []byte
	}{
		{"other path", "/api/oracle/callbacks/disputed", 1_700_000_000, body},
		{"other timestamp", "/api/oracle/callbacks/resolved", 1_700_000_001, body},
		{"other body", "/api/oracle/callbacks/resolved", 1_700_000_000, []byte(`{"truthful":false}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyRequest(s.Address(), "POST", tt.path, tt.ts, tt.body, sig)
			if !errors.Is(err, ErrBadSignature) {
				t.Errorf("err = %v, want ErrBadSignature", err)
			}
		})
	}
}

func TestRecoverRequestSigner_Malformed(t *testing.T) {
	for _, sig := range []string{"zz", "0x1234"} {
		if _, err := RecoverRequestSigner("GET", "/", 0, nil, sig); err == nil {
			t.Errorf("RecoverRequestSigner(%q) succeeded", sig)
		}
	}
}

func TestHMACAuth_Verify(t *testing.T) {
	h := &HMACAuth{Key: "key-1", Secret: "s3cret"}
	headers := h.HeadersAt("POST", "/v1/assertions", `{"a":1}`, 1_700_000_000)
	if headers[HeaderOracleKey] != "key-1" || headers[HeaderOracleTimestamp] != "1700000000" {
		t.Fatalf("headers = %v", headers)
	}
	if !h.Verify("POST", "/v1/assertions", `{"a":1}`, "1700000000", headers[HeaderOracleSignature]) {
		t.Error("Verify rejected its own signature")
	}
	if h.Verify("POST", "/v1/assertions", `{"a":2}`, "1700000000", headers[HeaderOracleSignature]) {
		t.Error("Verify accepted a tampered body")
	}
	if got := h.String(); got != "HMACAuth{key=key-****, secret=s3cr****}" {
		t.Errorf("String = %q", got)
	}
}

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey(devKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if "0x"+got != devKey {
		t.Errorf("DecryptKey = %s", got)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Error("DecryptKey accepted the wrong password")
	}

	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	if err != nil || loaded != got {
		t.Errorf("LoadKey = %q, %v", loaded, err)
	}
	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Error("LoadKey with no source succeeded")
	}
}
