package withdraw

import (
	"context"
	mrand "math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/obscura-labs/unlinker/crypto/rand"
	"github.com/obscura-labs/unlinker/unlinker/jobs"
	"github.com/obscura-labs/unlinker/unlinker/session"
)

var log = logrus.WithField("prefix", "withdraw")

// Scheduler turns a deposit-detected session into one pending withdrawal
// job: amount jittered, execution delayed, id pushed to the queue.
type Scheduler struct {
	store *session.Store
	table *jobs.Table
	queue jobs.Queue

	rndLock sync.Mutex
	rnd     *mrand.Rand
}

// NewScheduler wires a scheduler over the session store, job table and
// queue.
func NewScheduler(store *session.Store, table *jobs.Table, queue jobs.Queue) *Scheduler {
	return &Scheduler{
		store: store,
		table: table,
		queue: queue,
		rnd:   rand.NewGenerator(),
	}
}

// Schedule creates and enqueues the withdrawal job for the given session
// and advances it to withdrawal_queued. If jitter reduces the amount
// below one smallest unit the session is failed instead. The queue push
// happens before the state transition, so a crash in between leaves an
// orphaned id that the processor drops, never a stuck session.
func (s *Scheduler) Schedule(ctx context.Context, sessionToken string) error {
	sess, err := s.store.GetForRead(sessionToken)
	if err != nil {
		return errors.Wrap(err, "could not load session for scheduling")
	}
	if sess.Status != session.StatusDepositDetected {
		return errors.Errorf("session is %s, cannot schedule withdrawal", sess.Status)
	}

	s.rndLock.Lock()
	normalized, normErr := normalizeAmount(sess.ExpectedAmount, s.rnd)
	delay := sampleDelay(s.rnd)
	s.rndLock.Unlock()
	if normErr != nil {
		log.WithError(normErr).WithField("sessionToken", sessionToken).Warn("Failing session with dust amount")
		if failErr := s.store.Fail(sessionToken); failErr != nil {
			return errors.Wrap(failErr, "could not fail dust session")
		}
		return normErr
	}

	job := &jobs.Job{
		ID:               uuid.New().String(),
		SessionToken:     sessionToken,
		NewAddress:       sess.NewAddress,
		NormalizedAmount: normalized,
		DepositID:        sess.DepositID,
		ExecuteAfter:     now().Add(delay),
		Status:           jobs.StatusPending,
	}
	s.table.Put(job)
	if err := s.queue.Push(job.ID); err != nil {
		s.table.Remove(job.ID)
		return errors.Wrap(err, "could not enqueue withdrawal job")
	}
	if err := s.store.AdvanceToQueued(sessionToken); err != nil {
		return errors.Wrap(err, "could not mark session withdrawal_queued")
	}

	log.WithFields(logrus.Fields{
		"jobId": job.ID,
		"delay": delay,
	}).Info("Withdrawal job scheduled")
	return nil
}
