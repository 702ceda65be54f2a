// Package matcher correlates escrow Deposited events with sessions that
// await a deposit, advancing them and handing them to the withdrawal
// scheduler. The matcher is the single consumer of the chain service's
// log stream and tolerates replayed events.
package matcher

import (
	"context"
	"math/big"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/obscura-labs/unlinker/config/params"
	"github.com/obscura-labs/unlinker/contracts/escrow"
	"github.com/obscura-labs/unlinker/crypto/signing"
	"github.com/obscura-labs/unlinker/unlinker/session"
)

var log = logrus.WithField("prefix", "matcher")

var (
	matchedDepositsCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unlinker_matched_deposits_total",
		Help: "The number of Deposited events matched to an awaiting session.",
	})
	unmatchedDepositsCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unlinker_unmatched_deposits_total",
		Help: "The number of Deposited events with no awaiting session within tolerance.",
	})
)

// JobScheduler turns a deposit-detected session into a scheduled
// withdrawal job and advances the session to withdrawal_queued.
type JobScheduler interface {
	Schedule(ctx context.Context, sessionToken string) error
}

// Service matches deposits to sessions. Events arrive sequentially from
// one subscription, so no internal synchronization is needed beyond the
// session store's own.
type Service struct {
	store     *session.Store
	scheduler JobScheduler
	seen      *lru.Cache // recently processed (txHash, depositId) pairs
}

// New returns a matcher over the given store and scheduler.
func New(store *session.Store, scheduler JobScheduler) (*Service, error) {
	seen, err := lru.New(params.Config().SeenEventCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "could not create seen-event cache")
	}
	return &Service{
		store:     store,
		scheduler: scheduler,
		seen:      seen,
	}, nil
}

// ProcessDeposit handles one Deposited event. Every awaiting session of
// the depositor whose expected amount lies within tolerance is advanced
// in discovery order; each advanced session gets its own job. Errors are
// logged and never halt the stream.
func (s *Service) ProcessDeposit(ctx context.Context, ev *escrow.DepositEvent) {
	// The key is recorded before the scan: a replayed event matches
	// sessions at most once, even against sessions created between the
	// two deliveries. The awaiting_deposit guard below is the second,
	// per-session idempotence layer.
	key := ev.TxHash.Hex() + "/" + ev.DepositID.String()
	if ok, _ := s.seen.ContainsOrAdd(key, true); ok {
		log.WithField("depositId", ev.DepositID).Debug("Skipping replayed deposit event")
		return
	}

	from := signing.CanonicalAddress(ev.From)
	matched := 0
	for _, cand := range s.store.Awaiting(from) {
		if !withinTolerance(cand.ExpectedAmount, ev.Amount) {
			continue
		}
		if !s.store.AdvanceIfAwaiting(cand.Token, ev.TxHash.Hex(), ev.DepositID) {
			continue
		}
		matched++
		matchedDepositsCount.Inc()
		log.WithFields(logrus.Fields{
			"depositId": ev.DepositID,
			"amount":    ev.Amount,
			"tx":        ev.TxHash.Hex(),
		}).Info("Deposit matched to awaiting session")

		if err := s.scheduler.Schedule(ctx, cand.Token); err != nil {
			// The session stays deposit_detected; an operator can
			// reschedule it out of band.
			log.WithError(err).Error("Could not schedule withdrawal for matched session")
		}
	}
	if matched == 0 {
		unmatchedDepositsCount.Inc()
		log.WithFields(logrus.Fields{
			"from":      from,
			"depositId": ev.DepositID,
		}).Debug("No awaiting session for deposit")
	}
}

// withinTolerance reports whether amount lies within the matching window
// of expected: max(1, expected/divisor) smallest units either side.
func withinTolerance(expected, amount *big.Int) bool {
	tolerance := new(big.Int).Quo(expected, big.NewInt(params.Config().ToleranceDivisor))
	if tolerance.Sign() == 0 {
		tolerance.SetInt64(1)
	}
	diff := new(big.Int).Sub(amount, expected)
	return diff.Abs(diff).Cmp(tolerance) <= 0
}
