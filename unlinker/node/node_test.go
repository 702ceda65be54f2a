package node

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/obscura-labs/unlinker/testing/assert"
	"github.com/obscura-labs/unlinker/testing/require"
)

func TestLoadOperatorKey_ConfiguredKey(t *testing.T) {
	want, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + common.Bytes2Hex(crypto.FromECDSA(want))

	got, err := loadOperatorKey(hexKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(want.PublicKey), crypto.PubkeyToAddress(got.PublicKey))
}

func TestLoadOperatorKey_EphemeralFallback(t *testing.T) {
	fromEmpty, err := loadOperatorKey("")
	require.NoError(t, err)
	require.NotNil(t, fromEmpty)

	fromInvalid, err := loadOperatorKey("not-a-key")
	require.NoError(t, err)
	require.NotNil(t, fromInvalid)

	assert.NotEqual(t,
		crypto.PubkeyToAddress(fromEmpty.PublicKey),
		crypto.PubkeyToAddress(fromInvalid.PublicKey),
	)
}
