package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// HMACSigner is the genuine L2 request signer resolving the source's stub
// (clob_client.rs's sign_l1_auth hashes only the timestamp, labeled "For
// simplicity ... Real implementation should use HMAC with API secret"):
// HMAC-SHA256 over timestamp+method+requestPath+body, keyed by the
// base64-decoded API secret, base64url-encoded into POLY_SIGNATURE.
type HMACSigner struct {
	apiKey     string
	secret     []byte
	passphrase string
	address    string
}

// NewHMACSigner decodes secret as standard base64, matching the exchange's
// documented API-secret encoding.
func NewHMACSigner(apiKey, secretB64, passphrase, address string) (*HMACSigner, error) {
	secret, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, fmt.Errorf("decode api secret: %w", err)
	}
	return &HMACSigner{apiKey: apiKey, secret: secret, passphrase: passphrase, address: address}, nil
}

// Sign computes the POLY_SIGNATURE value for one L2 request.
func (s *HMACSigner) Sign(timestamp, method, path, body string) (string, error) {
	mac := hmac.New(sha256.New, s.secret)
	if _, err := mac.Write([]byte(timestamp + method + path + body)); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (s *HMACSigner) APIKey() string     { return s.apiKey }
func (s *HMACSigner) Passphrase() string { return s.passphrase }
func (s *HMACSigner) Address() string    { return s.address }

// NullSigner produces a deterministic, unauthenticated placeholder
// signature. It satisfies OrderSigner for dry-run and paper/backtest modes,
// which never reach the live order path, and must never be wired to a live
// CLOBClient outside a --dry-run flag.
type NullSigner struct {
	address string
}

// NewNullSigner builds a signer that never touches real credentials.
func NewNullSigner(address string) *NullSigner {
	return &NullSigner{address: address}
}

func (s *NullSigner) Sign(timestamp, method, path, body string) (string, error) {
	return "dry-run-signature", nil
}

func (s *NullSigner) APIKey() string     { return "dry-run" }
func (s *NullSigner) Passphrase() string { return "dry-run" }
func (s *NullSigner) Address() string    { return s.address }

var (
	_ OrderSigner = (*HMACSigner)(nil)
	_ OrderSigner = (*NullSigner)(nil)
)
