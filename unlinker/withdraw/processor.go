package withdraw

import (
	"context"
	"math/big"
	mrand "math/rand"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/obscura-labs/unlinker/async"
	"github.com/obscura-labs/unlinker/config/params"
	"github.com/obscura-labs/unlinker/crypto/rand"
	"github.com/obscura-labs/unlinker/unlinker/chain"
	"github.com/obscura-labs/unlinker/unlinker/jobs"
	"github.com/obscura-labs/unlinker/unlinker/session"
)

// now is stubbed in tests.
var now = time.Now

var (
	withdrawalsSubmittedCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unlinker_withdrawals_submitted_total",
		Help: "The number of withdrawal transactions mined successfully.",
	})
	withdrawalRetriesCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unlinker_withdrawal_retries_total",
		Help: "The number of withdrawal submissions rescheduled after a failure.",
	})
	orphanedJobsCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unlinker_orphaned_job_ids_total",
		Help: "The number of queued job ids dropped for lack of a job record.",
	})
	pendingJobsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "unlinker_pending_withdrawal_jobs",
		Help: "The number of jobs currently held by the withdrawal table.",
	})
)

// Withdrawer submits one operator withdrawal and waits for it to be
// mined. chain.Service is the production implementation.
type Withdrawer interface {
	SubmitWithdrawal(ctx context.Context, to common.Address, amount, depositID *big.Int, jobID [32]byte) (common.Hash, error)
}

// Processor drains the job queue on a fixed period. Each tick collects
// the due pending jobs, shuffles them so submission order carries no
// information about arrival order, and submits them one at a time.
type Processor struct {
	ctx        context.Context
	cancel     context.CancelFunc
	store      *session.Store
	table      *jobs.Table
	queue      jobs.Queue
	withdrawer Withdrawer
	rnd        *mrand.Rand
	ticking    int32
}

// NewProcessor wires the batch processor.
func NewProcessor(ctx context.Context, store *session.Store, table *jobs.Table, queue jobs.Queue, withdrawer Withdrawer) *Processor {
	procCtx, cancel := context.WithCancel(ctx)
	return &Processor{
		ctx:        procCtx,
		cancel:     cancel,
		store:      store,
		table:      table,
		queue:      queue,
		withdrawer: withdrawer,
		rnd:        rand.NewGenerator(),
	}
}

// Start begins the periodic tick.
func (p *Processor) Start() {
	log.WithField("period", params.Config().TickPeriod).Info("Starting withdrawal processor")
	async.RunEvery(p.ctx, params.Config().TickPeriod, p.Tick)
}

// Stop halts ticking. An in-flight submission finishes on its own
// timeout.
func (p *Processor) Stop() error {
	p.cancel()
	return nil
}

// Status always returns nil; a failing submission reschedules its job
// rather than degrading the service.
func (p *Processor) Status() error {
	return nil
}

// Tick runs one batch pass. At most one tick is in flight; a tick that
// fires while the previous one still runs returns immediately, and the
// skipped work is picked up by the next one.
func (p *Processor) Tick() {
	if !atomic.CompareAndSwapInt32(&p.ticking, 0, 1) {
		log.Debug("Previous batch still in flight, skipping tick")
		return
	}
	defer atomic.StoreInt32(&p.ticking, 0)
	defer pendingJobsGauge.Set(float64(p.table.Len()))

	ids, err := p.queue.Scan()
	if err != nil {
		log.WithError(err).Error("Could not scan withdrawal queue")
		return
	}

	due := make([]*jobs.Job, 0, len(ids))
	tickTime := now()
	for _, id := range ids {
		job, ok := p.table.Get(id)
		if !ok {
			// Queue entries survive restarts, job records do not.
			orphanedJobsCount.Inc()
			log.WithField("jobId", id).Warn("Dropping orphaned queue entry")
			if err := p.queue.Remove(id); err != nil {
				log.WithError(err).WithField("jobId", id).Error("Could not remove orphaned queue entry")
			}
			continue
		}
		if job.Status != jobs.StatusPending || job.ExecuteAfter.After(tickTime) {
			continue
		}
		due = append(due, job)
	}
	if len(due) == 0 {
		return
	}

	p.rnd.Shuffle(len(due), func(i, j int) {
		due[i], due[j] = due[j], due[i]
	})
	for _, job := range due {
		if p.ctx.Err() != nil {
			return
		}
		p.submit(job)
	}
}

// submit sends one withdrawal. Success completes the session and retires
// the job; failure backs the job off into a future tick. A job is never
// dropped on failure.
func (p *Processor) submit(job *jobs.Job) {
	txHash, err := p.withdrawer.SubmitWithdrawal(
		p.ctx,
		common.HexToAddress(job.NewAddress),
		job.NormalizedAmount,
		job.DepositID,
		chain.JobID32(job.ID),
	)
	if err != nil {
		retryAt := now().Add(sampleRetryDelay(p.rnd))
		p.table.Reschedule(job.ID, retryAt)
		withdrawalRetriesCount.Inc()
		log.WithError(err).WithFields(logrus.Fields{
			"jobId":   job.ID,
			"retryAt": retryAt,
		}).Error("Withdrawal submission failed, rescheduled")
		return
	}

	if err := p.store.AdvanceToCompleted(job.SessionToken, txHash.Hex()); err != nil {
		log.WithError(err).WithField("jobId", job.ID).Error("Could not complete session after mined withdrawal")
	}
	p.table.Remove(job.ID)
	if err := p.queue.Remove(job.ID); err != nil {
		log.WithError(err).WithField("jobId", job.ID).Error("Could not remove completed job from queue")
	}
	withdrawalsSubmittedCount.Inc()
	log.WithFields(logrus.Fields{
		"jobId": job.ID,
		"tx":    txHash.Hex(),
	}).Info("Withdrawal mined")
}
