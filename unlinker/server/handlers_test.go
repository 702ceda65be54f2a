package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/obscura-labs/unlinker/crypto/signing"
	"github.com/obscura-labs/unlinker/testing/assert"
	"github.com/obscura-labs/unlinker/testing/require"
	"github.com/obscura-labs/unlinker/unlinker/enclave"
	"github.com/obscura-labs/unlinker/unlinker/session"
)

type recordingFunder struct {
	lock   sync.Mutex
	funded []common.Address
	done   chan struct{}
}

func (f *recordingFunder) FundGas(_ context.Context, to common.Address) (common.Hash, error) {
	f.lock.Lock()
	f.funded = append(f.funded, to)
	f.lock.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return common.BytesToHash([]byte{1}), nil
}

func newTestService(t *testing.T, funder GasFunder) *Service {
	t.Helper()
	return New(context.Background(), &Config{
		Host:      "127.0.0.1",
		Port:      "0",
		Store:     session.NewStore(),
		Enclave:   enclave.New(),
		GasFunder: funder,
	})
}

func signedRequest(t *testing.T, message, expectedAmount string) (*RequestWalletJson, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	return &RequestWalletJson{
		Message:        message,
		Signature:      hexutil.Encode(sig),
		ExpectedAmount: expectedAmount,
	}, crypto.PubkeyToAddress(key.PublicKey)
}

func postRequestWallet(t *testing.T, s *Service, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/api/request-wallet", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	s.RequestWallet(w, r)
	return w
}

func TestRequestWallet_CreatesSession(t *testing.T) {
	funder := &recordingFunder{done: make(chan struct{})}
	s := newTestService(t, funder)
	req, signer := signedRequest(t, "unlink me 2026-08-24T10:00:00.000000001Z", "2000000")

	w := postRequestWallet(t, s, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp WalletCreatedJson
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEqual(t, "", resp.SessionToken)
	assert.NotEqual(t, "", resp.NewAddress)

	sess, err := s.cfg.Store.GetForRead(resp.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAwaitingDeposit, sess.Status)
	assert.Equal(t, signing.CanonicalAddress(signer), sess.UserAddress)
	assert.Equal(t, int64(2000000), sess.ExpectedAmount.Int64())
	assert.NotEqual(t, "", sess.KeyRef)

	<-funder.done
	require.Equal(t, 1, len(funder.funded))
	assert.Equal(t, common.HexToAddress(resp.NewAddress), funder.funded[0])
}

func TestRequestWallet_EachRequestIsAFreshSession(t *testing.T) {
	s := newTestService(t, nil)
	req, _ := signedRequest(t, "unlink me 2026-08-24T10:00:00.000000002Z", "100")

	first := postRequestWallet(t, s, req)
	second := postRequestWallet(t, s, req)
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)

	var a, b WalletCreatedJson
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.NotEqual(t, a.SessionToken, b.SessionToken)
	assert.NotEqual(t, a.NewAddress, b.NewAddress)
}

func TestRequestWallet_InvalidInputs(t *testing.T) {
	valid, _ := signedRequest(t, "unlink me 2026-08-24T10:00:00.000000003Z", "100")

	cases := []struct {
		name string
		body *RequestWalletJson
	}{
		{"missing message", &RequestWalletJson{Signature: valid.Signature, ExpectedAmount: "100"}},
		{"missing signature", &RequestWalletJson{Message: valid.Message, ExpectedAmount: "100"}},
		{"zero amount", &RequestWalletJson{Message: valid.Message, Signature: valid.Signature, ExpectedAmount: "0"}},
		{"negative amount", &RequestWalletJson{Message: valid.Message, Signature: valid.Signature, ExpectedAmount: "-5"}},
		{"non-numeric amount", &RequestWalletJson{Message: valid.Message, Signature: valid.Signature, ExpectedAmount: "1.5e9"}},
		{"malformed signature", &RequestWalletJson{Message: valid.Message, Signature: "0x1234", ExpectedAmount: "100"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestService(t, nil)
			w := postRequestWallet(t, s, tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRequestWallet_SignatureOverDifferentMessage(t *testing.T) {
	s := newTestService(t, nil)
	req, signer := signedRequest(t, "unlink me 2026-08-24T10:00:00.000000004Z", "100")
	req.Message = "a different message"

	// Recovery over the altered message yields some other address, so
	// the session is bound to that address, never the original signer.
	w := postRequestWallet(t, s, req)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp WalletCreatedJson
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	sess, err := s.cfg.Store.GetForRead(resp.SessionToken)
	require.NoError(t, err)
	assert.NotEqual(t, signing.CanonicalAddress(signer), sess.UserAddress)
}

func TestRequestWallet_RateLimited(t *testing.T) {
	s := newTestService(t, nil)
	req, _ := signedRequest(t, "unlink me 2026-08-24T10:00:00.000000005Z", "100")

	var last int
	for i := 0; i < createBurst+1; i++ {
		last = postRequestWallet(t, s, req).Code
	}
	require.Equal(t, http.StatusTooManyRequests, last)
}

func TestSessionStatus_HidesKeyMaterial(t *testing.T) {
	s := newTestService(t, nil)
	req, _ := signedRequest(t, "unlink me 2026-08-24T10:00:00.000000006Z", "100")
	w := postRequestWallet(t, s, req)
	require.Equal(t, http.StatusCreated, w.Code)
	var created WalletCreatedJson
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	r := httptest.NewRequest(http.MethodGet, "/api/status?sessionToken="+created.SessionToken, nil)
	rec := httptest.NewRecorder()
	s.SessionStatus(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)

	var status SessionStatusJson
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, string(session.StatusAwaitingDeposit), status.Status)
	assert.Equal(t, created.NewAddress, status.NewAddress)
	assert.NotEqual(t, "", status.AttestationReport,
		"the attestation record is part of the public session record")

	// Only the key material is excluded from the status record.
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	if _, ok := raw["attestationReport"]; !ok {
		t.Fatal("status response is missing attestationReport")
	}
	if _, leaked := raw["encryptedKeyForUser"]; leaked {
		t.Fatal("status response must not carry the wrapped key")
	}
	if _, leaked := raw["keyRef"]; leaked {
		t.Fatal("status response must not carry the enclave key reference")
	}
}

func TestSessionStatus_Errors(t *testing.T) {
	s := newTestService(t, nil)

	rec := httptest.NewRecorder()
	s.SessionStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.SessionStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status?sessionToken=unknown", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClaimWallet_IdempotentAndDecryptable(t *testing.T) {
	s := newTestService(t, nil)
	req, _ := signedRequest(t, "unlink me 2026-08-24T10:00:00.000000007Z", "100")
	w := postRequestWallet(t, s, req)
	require.Equal(t, http.StatusCreated, w.Code)
	var created WalletCreatedJson
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	claim := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/claim-wallet?sessionToken="+created.SessionToken, nil)
		s.ClaimWallet(rec, r)
		return rec
	}

	// Claim precedes the deposit and may be repeated; both bodies are
	// byte-equal.
	first := claim()
	second := claim()
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	require.DeepEqual(t, first.Body.Bytes(), second.Body.Bytes())

	var resp ClaimWalletJson
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &resp))
	assert.Equal(t, created.NewAddress, resp.NewAddress)
	assert.NotEqual(t, "", resp.AttestationReport)

	rawKey, err := enclave.UnwrapKey(resp.EncryptedKeyForUser)
	require.NoError(t, err)
	key, err := crypto.ToECDSA(rawKey)
	require.NoError(t, err)
	assert.Equal(t, resp.NewAddress, crypto.PubkeyToAddress(key.PublicKey).Hex())
}

func TestClaimWallet_Errors(t *testing.T) {
	s := newTestService(t, nil)

	rec := httptest.NewRecorder()
	s.ClaimWallet(rec, httptest.NewRequest(http.MethodGet, "/api/claim-wallet", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.ClaimWallet(rec, httptest.NewRequest(http.MethodGet, "/api/claim-wallet?sessionToken=unknown", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestService(t, nil)
	rec := httptest.NewRecorder()
	s.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthJson
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}
