// Package session owns the server-side record of one privacy-preserving
// transfer and the store that serializes every mutation of it.
package session

import (
	"math/big"
	"time"
)

// Status is the lifecycle state of a session. Sessions only ever move
// forward: awaiting_deposit -> deposit_detected -> withdrawal_queued ->
// completed, with failed as the terminal error state.
type Status string

const (
	// StatusAwaitingDeposit is the initial state after wallet issuance.
	StatusAwaitingDeposit Status = "awaiting_deposit"
	// StatusDepositDetected means the matcher correlated an escrow
	// deposit to this session.
	StatusDepositDetected Status = "deposit_detected"
	// StatusWithdrawalQueued means a jittered withdrawal job exists.
	StatusWithdrawalQueued Status = "withdrawal_queued"
	// StatusCompleted means the operator withdrawal was mined.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal; the session will not progress.
	StatusFailed Status = "failed"
)

// Session records one user's unlinking flow. Identity fields (Token,
// UserAddress, ExpectedAmount and the wallet fields) are immutable after
// creation; only the state machine fields mutate, and only through the
// store.
type Session struct {
	ID                  string
	Token               string
	UserAddress         string // canonical lower-case recovered signer
	ExpectedAmount      *big.Int
	Status              Status
	NewAddress          string
	EncryptedKeyForUser string
	AttestationReport   string
	KeyRef              string
	DepositTxHash       string
	DepositID           *big.Int
	WithdrawTxHash      string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (s *Session) copy() *Session {
	dup := *s
	if s.ExpectedAmount != nil {
		dup.ExpectedAmount = new(big.Int).Set(s.ExpectedAmount)
	}
	if s.DepositID != nil {
		dup.DepositID = new(big.Int).Set(s.DepositID)
	}
	return &dup
}
