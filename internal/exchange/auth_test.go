package exchange

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACSignerIsDeterministic(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("super-secret-key"))
	s, err := NewHMACSigner("key", secret, "pass", "0xabc")
	require.NoError(t, err)

	sig1, err := s.Sign("1700000000", "POST", "/order", `{"a":1}`)
	require.NoError(t, err)
	sig2, err := s.Sign("1700000000", "POST", "/order", `{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)

	sig3, err := s.Sign("1700000001", "POST", "/order", `{"a":1}`)
	require.NoError(t, err)
	assert.NotEqual(t, sig1, sig3)
}

func TestHMACSignerRejectsInvalidBase64Secret(t *testing.T) {
	_, err := NewHMACSigner("key", "not-base64!!!", "pass", "0xabc")
	assert.Error(t, err)
}

func TestNullSignerNeverFails(t *testing.T) {
	s := NewNullSigner("0xabc")
	sig, err := s.Sign("1700000000", "POST", "/order", "")
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
}
