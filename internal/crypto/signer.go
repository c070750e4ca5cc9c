package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Request-signature headers. A caller proves its identity by signing
// RequestDigest with its Ethereum key under the personal-sign prefix.
const (
	HeaderCallerAddress   = "X-Caller-Address"
	HeaderCallerTimestamp = "X-Caller-Timestamp"
	HeaderCallerSignature = "X-Caller-Signature"
)

// ErrBadSignature is returned when a signature does not recover to the
// claimed address.
var ErrBadSignature = errors.New("crypto: signature does not match address")

// Signer signs API requests with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// RequestDigest is keccak256(method ‖ path ‖ timestamp ‖ body).
func RequestDigest(method, path string, unixTS int64, body []byte) []byte {
	return ethcrypto.Keccak256(
		[]byte(method),
		[]byte(path),
		[]byte(strconv.FormatInt(unixTS, 10)),
		body,
	)
}

// SignRequest returns the hex-encoded 65-byte personal-sign signature of the
// request digest.
func (s *Signer) SignRequest(method, path string, unixTS int64, body []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(RequestDigest(method, path, unixTS, body)), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; wallets produce {27,28}.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RequestHeaders returns the three caller headers for a request.
func (s *Signer) RequestHeaders(method, path string, unixTS int64, body []byte) (map[string]string, error) {
	sig, err := s.SignRequest(method, path, unixTS, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderCallerAddress:   s.address.Hex(),
		HeaderCallerTimestamp: strconv.FormatInt(unixTS, 10),
		HeaderCallerSignature: sig,
	}, nil
}

// RecoverRequestSigner returns the address that produced sigHex over the
// request. Both {0,1} and {27,28} recovery ids are accepted.
func RecoverRequestSigner(method, path string, unixTS int64, body []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: signature is not hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature is %d bytes, want 65", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(accounts.TextHash(RequestDigest(method, path, unixTS, body)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest checks that sigHex over the request was produced by want.
func VerifyRequest(want common.Address, method, path string, unixTS int64, body []byte, sigHex string) error {
	got, err := RecoverRequestSigner(method, path, unixTS, body, sigHex)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: recovered %s, claimed %s", ErrBadSignature, got.Hex(), want.Hex())
	}
	return nil
}
