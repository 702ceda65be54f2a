// Package enclave issues fresh withdrawal keypairs. The reference
// implementation is a software stand-in for a hardware enclave: it
// generates keys locally, wraps the private key under a per-call AEAD
// key, and emits a placeholder attestation record. The interface is
// shaped so a real enclave can be substituted without touching callers.
package enclave

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "enclave")

const (
	wrappingKeyLength = 32
	nonceLength       = 12
	tagLength         = 16
	privateKeyLength  = 32

	// WrappedBlobLength is the decoded size of an encrypted key blob:
	// wrappingKey(32) || nonce(12) || authTag(16) || ciphertext(32).
	WrappedBlobLength = wrappingKeyLength + nonceLength + tagLength + privateKeyLength
)

// Wallet is the result of one key issuance. EncryptedKeyForUser and
// AttestationReport are delivered verbatim to the requesting user;
// KeyRef stays inside the process and permits later in-process signing.
type Wallet struct {
	Address             string
	EncryptedKeyForUser string
	AttestationReport   string
	KeyRef              string
}

type attestationRecord struct {
	Format      string `json:"format"`
	Platform    string `json:"platform"`
	Address     string `json:"address"`
	Measurement string `json:"measurement"`
	IssuedAt    string `json:"issuedAt"`
}

// Enclave generates keypairs and retains them, keyed by an opaque
// reference, for in-process signing.
type Enclave struct {
	lock sync.RWMutex
	keys map[string]*ecdsa.PrivateKey
}

// New returns an empty software enclave.
func New() *Enclave {
	return &Enclave{
		keys: make(map[string]*ecdsa.PrivateKey),
	}
}

// GenerateWallet creates a fresh secp256k1 keypair, wraps the raw
// private key bytes under AES-256-GCM with a per-call wrapping key, and
// returns the address, the encoded blob and an attestation record.
//
// The wrapping key is shipped inside the blob. This layout exists to
// exercise the endpoint shape; a deployment must wrap under a
// recipient-supplied public key instead.
func (e *Enclave) GenerateWallet() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "could not generate keypair")
	}
	address := crypto.PubkeyToAddress(key.PublicKey)

	blob, err := wrapKey(crypto.FromECDSA(key))
	if err != nil {
		return nil, errors.Wrap(err, "could not wrap private key")
	}

	report, err := buildAttestation(address.Hex(), &key.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "could not build attestation record")
	}

	keyRef := uuid.NewString()
	e.lock.Lock()
	e.keys[keyRef] = key
	e.lock.Unlock()

	log.WithField("address", address.Hex()).Debug("Issued fresh wallet")
	return &Wallet{
		Address:             address.Hex(),
		EncryptedKeyForUser: blob,
		AttestationReport:   report,
		KeyRef:              keyRef,
	}, nil
}

// SignHash signs a 32-byte digest with a retained key. The raw key never
// leaves the enclave through this path.
func (e *Enclave) SignHash(keyRef string, digest []byte) ([]byte, error) {
	e.lock.RLock()
	key, ok := e.keys[keyRef]
	e.lock.RUnlock()
	if !ok {
		return nil, errors.New("unknown key reference")
	}
	return crypto.Sign(digest, key)
}

func wrapKey(rawKey []byte) (string, error) {
	wrappingKey := make([]byte, wrappingKeyLength)
	if _, err := rand.Read(wrappingKey); err != nil {
		return "", err
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	block, err := aes.NewCipher(wrappingKey)
	if err != nil {
		return "", err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	// Seal appends the auth tag after the ciphertext; the blob layout
	// wants the tag first.
	sealed := aead.Seal(nil, nonce, rawKey, nil)
	ciphertext := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	blob := make([]byte, 0, WrappedBlobLength)
	blob = append(blob, wrappingKey...)
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// UnwrapKey reverses wrapKey: it decodes the blob, runs AES-256-GCM with
// the embedded wrapping key and nonce, and returns the raw private key
// bytes. Exposed so recipients (and tests) can verify round-trips.
func UnwrapKey(encoded string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode key blob")
	}
	if len(blob) != WrappedBlobLength {
		return nil, errors.Errorf("key blob must be %d bytes, got %d", WrappedBlobLength, len(blob))
	}
	wrappingKey := blob[:wrappingKeyLength]
	nonce := blob[wrappingKeyLength : wrappingKeyLength+nonceLength]
	tag := blob[wrappingKeyLength+nonceLength : wrappingKeyLength+nonceLength+tagLength]
	ciphertext := blob[wrappingKeyLength+nonceLength+tagLength:]

	block, err := aes.NewCipher(wrappingKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	rawKey, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not unwrap private key")
	}
	return rawKey, nil
}

func buildAttestation(address string, pub *ecdsa.PublicKey) (string, error) {
	record := &attestationRecord{
		Format:      "obscura-attest-v1",
		Platform:    "software-reference",
		Address:     address,
		Measurement: hex.EncodeToString(crypto.Keccak256(crypto.FromECDSAPub(pub))),
		IssuedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	out, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}
