package server

import (
	"encoding/json"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/obscura-labs/unlinker/crypto/signing"
	"github.com/obscura-labs/unlinker/network/httputil"
	"github.com/obscura-labs/unlinker/unlinker/session"
)

// RequestWallet creates a session: it verifies the caller's signature,
// issues a fresh wallet from the enclave, persists the session in the
// awaiting_deposit state and kicks off a best-effort gas pre-fund.
func (s *Service) RequestWallet(w http.ResponseWriter, r *http.Request) {
	if s.createLimit.Add(clientKey(r), 1) == 0 {
		httputil.HandleError(w, "Too many session requests", http.StatusTooManyRequests)
		return
	}

	var req RequestWalletJson
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.HandleError(w, "Could not decode request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" || req.Signature == "" {
		httputil.HandleError(w, "message and signature are required", http.StatusBadRequest)
		return
	}
	expectedAmount, ok := new(big.Int).SetString(req.ExpectedAmount, 10)
	if !ok || expectedAmount.Sign() <= 0 {
		httputil.HandleError(w, "expectedAmount must be a positive decimal integer", http.StatusBadRequest)
		return
	}

	signer, err := signing.RecoverSigner(req.Message, req.Signature)
	if err != nil {
		httputil.HandleError(w, "Could not verify signature", http.StatusBadRequest)
		return
	}

	wallet, err := s.cfg.Enclave.GenerateWallet()
	if err != nil {
		log.WithError(err).Error("Could not generate wallet")
		httputil.HandleError(w, "Could not generate wallet", http.StatusInternalServerError)
		return
	}

	token := uuid.NewString()
	sess := &session.Session{
		ID:                  uuid.NewString(),
		Token:               token,
		UserAddress:         signing.CanonicalAddress(signer),
		ExpectedAmount:      expectedAmount,
		NewAddress:          wallet.Address,
		EncryptedKeyForUser: wallet.EncryptedKeyForUser,
		AttestationReport:   wallet.AttestationReport,
		KeyRef:              wallet.KeyRef,
	}
	if err := s.cfg.Store.Create(sess); err != nil {
		log.WithError(err).Error("Could not persist session")
		httputil.HandleError(w, "Could not create session", http.StatusInternalServerError)
		return
	}

	log.WithFields(logrus.Fields{
		"sessionToken": token,
		"newAddress":   wallet.Address,
	}).Info("Session created")

	if s.cfg.GasFunder != nil {
		// The session is usable without gas money; a failed pre-fund is
		// logged and the creation still succeeds.
		go s.fundGas(wallet.Address)
	}

	httputil.WriteJsonWithStatus(w, &WalletCreatedJson{
		SessionToken: token,
		NewAddress:   wallet.Address,
	}, http.StatusCreated)
}

func (s *Service) fundGas(address string) {
	txHash, err := s.cfg.GasFunder.FundGas(s.ctx, common.HexToAddress(address))
	if err != nil {
		log.WithError(err).WithField("address", address).Warn("Could not pre-fund gas for fresh address")
		return
	}
	log.WithFields(logrus.Fields{
		"address": address,
		"tx":      txHash.Hex(),
	}).Debug("Gas pre-fund submitted")
}

// SessionStatus returns the session record for a token, minus the
// wrapped key and the enclave key reference.
func (s *Service) SessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	resp := &SessionStatusJson{
		SessionToken:      sess.Token,
		UserAddress:       sess.UserAddress,
		ExpectedAmount:    sess.ExpectedAmount.String(),
		Status:            string(sess.Status),
		NewAddress:        sess.NewAddress,
		AttestationReport: sess.AttestationReport,
		DepositTxHash:     sess.DepositTxHash,
		WithdrawTxHash:    sess.WithdrawTxHash,
		CreatedAt:         sess.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:         sess.UpdatedAt.Format(time.RFC3339Nano),
	}
	if sess.DepositID != nil {
		resp.DepositId = sess.DepositID.String()
	}
	httputil.WriteJson(w, resp)
}

// ClaimWallet returns the wrapped key material for a session. The claim
// is idempotent and allowed in every post-creation state, so the caller
// can inspect the target address before depositing.
func (s *Service) ClaimWallet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if sess.NewAddress == "" || sess.EncryptedKeyForUser == "" || sess.AttestationReport == "" {
		httputil.HandleError(w, "Session has no claimable wallet", http.StatusConflict)
		return
	}
	httputil.WriteJson(w, &ClaimWalletJson{
		NewAddress:          sess.NewAddress,
		EncryptedKeyForUser: sess.EncryptedKeyForUser,
		AttestationReport:   sess.AttestationReport,
	})
}

// Health reports process liveness.
func (s *Service) Health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJson(w, &HealthJson{Status: "ok"})
}

// lookupSession resolves the sessionToken query parameter, writing the
// error response itself when the token is missing or unknown.
func (s *Service) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	token := r.URL.Query().Get("sessionToken")
	if token == "" {
		httputil.HandleError(w, "sessionToken is required", http.StatusBadRequest)
		return nil, false
	}
	sess, err := s.cfg.Store.GetForRead(token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			httputil.HandleError(w, "No session for token", http.StatusNotFound)
		} else {
			log.WithError(err).Error("Could not read session")
			httputil.HandleError(w, "Could not read session", http.StatusInternalServerError)
		}
		return nil, false
	}
	return sess, true
}

// clientKey buckets rate limiting by remote host.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
