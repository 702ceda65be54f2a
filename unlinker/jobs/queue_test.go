package jobs

import (
	"math/big"
	"testing"
	"time"

	"github.com/obscura-labs/unlinker/testing/assert"
	"github.com/obscura-labs/unlinker/testing/require"
)

func setupQueue(t *testing.T) *BoltQueue {
	q, err := NewBoltQueue(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, q.Close())
	})
	return q
}

func TestBoltQueue_PushScanOrder(t *testing.T) {
	q := setupQueue(t)

	for _, id := range []string{"j1", "j2", "j3"} {
		require.NoError(t, q.Push(id))
	}
	ids, err := q.Scan()
	require.NoError(t, err)
	require.DeepEqual(t, []string{"j1", "j2", "j3"}, ids)
}

func TestBoltQueue_Remove(t *testing.T) {
	q := setupQueue(t)

	for _, id := range []string{"j1", "j2", "j3"} {
		require.NoError(t, q.Push(id))
	}
	require.NoError(t, q.Remove("j2"))
	ids, err := q.Scan()
	require.NoError(t, err)
	require.DeepEqual(t, []string{"j1", "j3"}, ids)

	// Removing an absent id is a no-op.
	require.NoError(t, q.Remove("j9"))
	ids, err = q.Scan()
	require.NoError(t, err)
	require.DeepEqual(t, []string{"j1", "j3"}, ids)
}

func TestBoltQueue_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	q, err := NewBoltQueue(dir)
	require.NoError(t, err)
	require.NoError(t, q.Push("j1"))
	require.NoError(t, q.Push("j2"))
	require.NoError(t, q.Close())

	reopened, err := NewBoltQueue(dir)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, reopened.Close())
	}()
	ids, err := reopened.Scan()
	require.NoError(t, err)
	require.DeepEqual(t, []string{"j1", "j2"}, ids)
}

func TestTable_PutGetCopies(t *testing.T) {
	tbl := NewTable()
	job := &Job{
		ID:               "j1",
		SessionToken:     "t1",
		NewAddress:       "0xbb",
		NormalizedAmount: big.NewInt(1999950),
		DepositID:        big.NewInt(7),
		ExecuteAfter:     time.Now(),
		Status:           StatusPending,
	}
	tbl.Put(job)
	job.NormalizedAmount.SetInt64(1)

	got, ok := tbl.Get("j1")
	require.Equal(t, true, ok)
	assert.Equal(t, int64(1999950), got.NormalizedAmount.Int64())

	got.NormalizedAmount.SetInt64(2)
	again, ok := tbl.Get("j1")
	require.Equal(t, true, ok)
	assert.Equal(t, int64(1999950), again.NormalizedAmount.Int64())

	_, ok = tbl.Get("missing")
	assert.Equal(t, false, ok)
}

func TestTable_Reschedule(t *testing.T) {
	tbl := NewTable()
	tbl.Put(&Job{ID: "j1", Status: StatusPending, ExecuteAfter: time.Now()})

	later := time.Now().Add(time.Minute)
	require.Equal(t, true, tbl.Reschedule("j1", later))
	got, ok := tbl.Get("j1")
	require.Equal(t, true, ok)
	assert.Equal(t, true, got.ExecuteAfter.Equal(later))
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, StatusPending, got.Status)

	require.Equal(t, false, tbl.Reschedule("missing", later))
	tbl.Put(&Job{ID: "j2", Status: StatusCompleted})
	require.Equal(t, false, tbl.Reschedule("j2", later))
}

func TestTable_CountForSession(t *testing.T) {
	tbl := NewTable()
	tbl.Put(&Job{ID: "j1", SessionToken: "t1", Status: StatusPending})
	tbl.Put(&Job{ID: "j2", SessionToken: "t2", Status: StatusPending})
	assert.Equal(t, 1, tbl.CountForSession("t1"))

	tbl.Remove("j1")
	assert.Equal(t, 0, tbl.CountForSession("t1"))
	assert.Equal(t, 1, tbl.Len())
}
