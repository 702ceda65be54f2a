// Package signing recovers the author of a personal-sign message. The
// recovered address is the only identity the unlinker ever trusts; the
// request body is never believed about who signed it.
package signing

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// ErrInvalidSignature is returned when signer recovery fails for any
// reason: malformed hex, wrong length, or an unrecoverable signature.
var ErrInvalidSignature = errors.New("could not recover signer from signature")

// RecoverSigner returns the address that produced signature over message
// using the Ethereum personal-sign scheme (EIP-191 prefixed hash).
// The signature is a 0x-prefixed 65-byte hex string; a V of 27/28 is
// accepted alongside the raw 0/1 form.
func RecoverSigner(message string, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, errors.Wrap(ErrInvalidSignature, err.Error())
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.Wrapf(ErrInvalidSignature, "signature must be %d bytes", crypto.SignatureLength)
	}
	// Wallets produce V as 27/28 per the original yellow paper encoding.
	if sig[crypto.RecoveryIDOffset] == 27 || sig[crypto.RecoveryIDOffset] == 28 {
		sig = append([]byte{}, sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}
	digest := accounts.TextHash([]byte(message))
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, errors.Wrap(ErrInvalidSignature, err.Error())
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// CanonicalAddress lower-cases a 0x address so map lookups and equality
// checks are checksum-insensitive.
func CanonicalAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
