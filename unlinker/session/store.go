package session

import (
	"math/big"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrNotFound is returned when no session exists for a token.
	ErrNotFound = errors.New("no session for token")
	// ErrInvalidTransition is returned when a state change would move a
	// session backwards or out of sequence.
	ErrInvalidTransition = errors.New("invalid session state transition")
)

var (
	sessionsCreatedCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unlinker_sessions_created_total",
		Help: "The number of sessions created since boot.",
	})
	sessionStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "unlinker_sessions",
		Help: "The number of sessions per lifecycle state.",
	}, []string{"status"})
)

// Store is the single owner of all session records. Every read returns a
// copy and every mutation happens under the store's lock, so callers
// never observe a half-applied transition. Lookup is a bounded linear
// scan; the active-session count is expected to stay small.
type Store struct {
	lock     sync.RWMutex
	sessions map[string]*Session
	order    []string // tokens in creation order, for discovery-order scans
}

// NewStore returns an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

// Create inserts a fresh session in the awaiting_deposit state. The
// caller provides the identity fields; the store owns status and
// timestamps. Records are copied on the way in.
func (st *Store) Create(s *Session) error {
	if s.Token == "" {
		return errors.New("session token is required")
	}
	if s.UserAddress == "" {
		return errors.New("user address is required")
	}
	if s.ExpectedAmount == nil || s.ExpectedAmount.Sign() <= 0 {
		return errors.New("expected amount must be positive")
	}
	if s.NewAddress == "" || s.EncryptedKeyForUser == "" || s.AttestationReport == "" {
		return errors.New("wallet fields are required")
	}
	st.lock.Lock()
	defer st.lock.Unlock()
	if _, exists := st.sessions[s.Token]; exists {
		return errors.New("session token already in use")
	}
	now := time.Now().UTC()
	rec := s.copy()
	rec.Status = StatusAwaitingDeposit
	rec.CreatedAt = now
	rec.UpdatedAt = now
	st.sessions[rec.Token] = rec
	st.order = append(st.order, rec.Token)

	sessionsCreatedCount.Inc()
	sessionStateGauge.WithLabelValues(string(StatusAwaitingDeposit)).Inc()
	return nil
}

// GetForRead returns a copy of the session for the given token.
func (st *Store) GetForRead(token string) (*Session, error) {
	st.lock.RLock()
	defer st.lock.RUnlock()
	s, ok := st.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	return s.copy(), nil
}

// Awaiting returns copies of every awaiting_deposit session belonging to
// the given canonical user address, in creation order.
func (st *Store) Awaiting(userAddress string) []*Session {
	st.lock.RLock()
	defer st.lock.RUnlock()
	var out []*Session
	for _, token := range st.order {
		s := st.sessions[token]
		if s.Status == StatusAwaitingDeposit && s.UserAddress == userAddress {
			out = append(out, s.copy())
		}
	}
	return out
}

// AdvanceIfAwaiting moves a session from awaiting_deposit to
// deposit_detected, recording the deposit correlation fields. It returns
// false when the session does not exist or already left the awaiting
// state; replayed events are absorbed here.
func (st *Store) AdvanceIfAwaiting(token, depositTxHash string, depositID *big.Int) bool {
	st.lock.Lock()
	defer st.lock.Unlock()
	s, ok := st.sessions[token]
	if !ok || s.Status != StatusAwaitingDeposit {
		return false
	}
	s.Status = StatusDepositDetected
	s.DepositTxHash = depositTxHash
	if depositID != nil {
		s.DepositID = new(big.Int).Set(depositID)
	}
	st.bump(s)
	st.moveGauge(StatusAwaitingDeposit, StatusDepositDetected)
	return true
}

// AdvanceToQueued marks a deposit_detected session as having a scheduled
// withdrawal job.
func (st *Store) AdvanceToQueued(token string) error {
	return st.advance(token, StatusDepositDetected, StatusWithdrawalQueued, func(_ *Session) {})
}

// AdvanceToCompleted finishes a withdrawal_queued session, recording the
// withdrawal transaction hash.
func (st *Store) AdvanceToCompleted(token, withdrawTxHash string) error {
	return st.advance(token, StatusWithdrawalQueued, StatusCompleted, func(s *Session) {
		s.WithdrawTxHash = withdrawTxHash
	})
}

// Fail moves a session into the terminal failed state from any
// non-terminal state.
func (st *Store) Fail(token string) error {
	st.lock.Lock()
	defer st.lock.Unlock()
	s, ok := st.sessions[token]
	if !ok {
		return ErrNotFound
	}
	if s.Status == StatusCompleted || s.Status == StatusFailed {
		return errors.Wrapf(ErrInvalidTransition, "session is already %s", s.Status)
	}
	prev := s.Status
	s.Status = StatusFailed
	st.bump(s)
	st.moveGauge(prev, StatusFailed)
	return nil
}

func (st *Store) advance(token string, from, to Status, apply func(*Session)) error {
	st.lock.Lock()
	defer st.lock.Unlock()
	s, ok := st.sessions[token]
	if !ok {
		return ErrNotFound
	}
	if s.Status != from {
		return errors.Wrapf(ErrInvalidTransition, "want %s, session is %s", from, s.Status)
	}
	s.Status = to
	apply(s)
	st.bump(s)
	st.moveGauge(from, to)
	return nil
}

// bump advances UpdatedAt, keeping it strictly monotonic even when the
// wall clock does not move between two transitions.
func (st *Store) bump(s *Session) {
	now := time.Now().UTC()
	if !now.After(s.UpdatedAt) {
		now = s.UpdatedAt.Add(time.Nanosecond)
	}
	s.UpdatedAt = now
}

func (st *Store) moveGauge(from, to Status) {
	sessionStateGauge.WithLabelValues(string(from)).Dec()
	sessionStateGauge.WithLabelValues(string(to)).Inc()
}
