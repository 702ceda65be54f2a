package enclave

import (
	"encoding/base64"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/obscura-labs/unlinker/testing/assert"
	"github.com/obscura-labs/unlinker/testing/require"
)

func TestGenerateWallet_BlobRoundTrip(t *testing.T) {
	e := New()
	w, err := e.GenerateWallet()
	require.NoError(t, err)
	require.NotEqual(t, "", w.Address)
	require.NotEqual(t, "", w.KeyRef)

	blob, err := base64.StdEncoding.DecodeString(w.EncryptedKeyForUser)
	require.NoError(t, err)
	require.Equal(t, WrappedBlobLength, len(blob))

	rawKey, err := UnwrapKey(w.EncryptedKeyForUser)
	require.NoError(t, err)
	require.Equal(t, 32, len(rawKey))

	key, err := crypto.ToECDSA(rawKey)
	require.NoError(t, err)
	assert.Equal(t, w.Address, crypto.PubkeyToAddress(key.PublicKey).Hex(),
		"unwrapped key must derive the issued address")
}

func TestGenerateWallet_FreshPerCall(t *testing.T) {
	e := New()
	a, err := e.GenerateWallet()
	require.NoError(t, err)
	b, err := e.GenerateWallet()
	require.NoError(t, err)

	assert.NotEqual(t, a.Address, b.Address)
	assert.NotEqual(t, a.KeyRef, b.KeyRef)
	assert.NotEqual(t, a.EncryptedKeyForUser, b.EncryptedKeyForUser)
}

func TestGenerateWallet_AttestationOpaqueButDecodable(t *testing.T) {
	e := New()
	w, err := e.GenerateWallet()
	require.NoError(t, err)
	require.NotEqual(t, "", w.AttestationReport)

	// Opaque at the boundary, but the reference record is valid base64.
	_, err = base64.StdEncoding.DecodeString(w.AttestationReport)
	require.NoError(t, err)
}

func TestSignHash(t *testing.T) {
	e := New()
	w, err := e.GenerateWallet()
	require.NoError(t, err)

	digest := crypto.Keccak256([]byte("withdrawal authorization"))
	sig, err := e.SignHash(w.KeyRef, digest)
	require.NoError(t, err)
	require.Equal(t, crypto.SignatureLength, len(sig))

	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address, crypto.PubkeyToAddress(*pub).Hex())

	_, err = e.SignHash("no-such-ref", digest)
	assert.ErrorContains(t, "unknown key reference", err)
}

func TestUnwrapKey_Tampered(t *testing.T) {
	e := New()
	w, err := e.GenerateWallet()
	require.NoError(t, err)

	blob, err := base64.StdEncoding.DecodeString(w.EncryptedKeyForUser)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0x01
	_, err = UnwrapKey(base64.StdEncoding.EncodeToString(blob))
	require.ErrorContains(t, "could not unwrap private key", err)

	_, err = UnwrapKey("@@not-base64@@")
	require.ErrorContains(t, "could not decode key blob", err)

	_, err = UnwrapKey(base64.StdEncoding.EncodeToString(blob[:10]))
	require.ErrorContains(t, "key blob must be", err)
}
