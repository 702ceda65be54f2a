// Package jobs holds the withdrawal job table and the ordered id queue
// the batch processor drains. The table is volatile; the queue is the
// system's durability hook and is backed by a bolt database.
package jobs

import (
	"math/big"
	"sync"
	"time"
)

// Status is the lifecycle state of a withdrawal job.
type Status string

const (
	// StatusPending means the job awaits execution or retry.
	StatusPending Status = "pending"
	// StatusCompleted means the withdrawal was mined successfully.
	StatusCompleted Status = "completed"
	// StatusFailed is reserved for operator intervention; the processor
	// never sets it on its own.
	StatusFailed Status = "failed"
)

// Job is one scheduled, jittered withdrawal from the escrow pool to a
// session's fresh address.
type Job struct {
	ID               string
	SessionToken     string
	NewAddress       string
	NormalizedAmount *big.Int
	DepositID        *big.Int
	ExecuteAfter     time.Time
	Status           Status
	Attempts         int
}

func (j *Job) copy() *Job {
	dup := *j
	if j.NormalizedAmount != nil {
		dup.NormalizedAmount = new(big.Int).Set(j.NormalizedAmount)
	}
	if j.DepositID != nil {
		dup.DepositID = new(big.Int).Set(j.DepositID)
	}
	return &dup
}

// Table is the in-memory pending-job map. All access is serialized
// internally; reads return copies.
type Table struct {
	lock sync.RWMutex
	jobs map[string]*Job
}

// NewTable returns an empty job table.
func NewTable() *Table {
	return &Table{jobs: make(map[string]*Job)}
}

// Put inserts a job, overwriting any record with the same id.
func (t *Table) Put(j *Job) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.jobs[j.ID] = j.copy()
}

// Get returns a copy of the job with the given id.
func (t *Table) Get(id string) (*Job, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	j, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	return j.copy(), true
}

// Reschedule pushes a pending job's ExecuteAfter forward and counts the
// attempt. Non-pending or unknown jobs are left alone.
func (t *Table) Reschedule(id string, executeAfter time.Time) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	j, ok := t.jobs[id]
	if !ok || j.Status != StatusPending {
		return false
	}
	j.ExecuteAfter = executeAfter
	j.Attempts++
	return true
}

// Remove deletes a job from the table.
func (t *Table) Remove(id string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.jobs, id)
}

// Len returns the number of jobs currently held.
func (t *Table) Len() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.jobs)
}

// CountForSession returns how many jobs reference the given session
// token. The invariant is one per queued session, zero after completion.
func (t *Table) CountForSession(token string) int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	n := 0
	for _, j := range t.jobs {
		if j.SessionToken == token {
			n++
		}
	}
	return n
}
