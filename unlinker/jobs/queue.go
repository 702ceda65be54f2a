package jobs

import (
	"encoding/binary"
	"os"
	"path"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Queue is the ordered external list of job ids. Ordering is insertion
// order; the processor shuffles eligible jobs anyway, so nothing beyond
// that is promised.
type Queue interface {
	Push(id string) error
	Scan() ([]string, error)
	Remove(id string) error
	Close() error
}

var queueBucket = []byte("withdrawal-job-queue")

const queueFileName = "unlinkerqueue.db"

// BoltQueue persists job ids in a bolt database. Ids pushed before a
// restart survive it; the volatile job table does not, so orphaned ids
// are dropped by the processor during its scan.
type BoltQueue struct {
	db           *bolt.DB
	databasePath string
}

// NewBoltQueue opens (or creates) the queue database under the given
// directory.
func NewBoltQueue(dirPath string) (*BoltQueue, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, err
	}
	datafile := path.Join(dirPath, queueFileName)
	db, err := bolt.Open(datafile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if err == bolt.ErrTimeout {
			return nil, errors.New("cannot obtain queue database lock, it may be in use by another process")
		}
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(queueBucket)
		return err
	}); err != nil {
		return nil, err
	}
	return &BoltQueue{db: db, databasePath: datafile}, nil
}

// DatabasePath at which this queue writes its file.
func (q *BoltQueue) DatabasePath() string {
	return q.databasePath
}

// Push appends a job id. Keys are the bucket's monotonic sequence
// number, so iteration order equals insertion order.
func (q *BoltQueue) Push(id string) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(queueBucket)
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return bkt.Put(key, []byte(id))
	})
}

// Scan returns every queued id in insertion order.
func (q *BoltQueue) Scan() ([]string, error) {
	var ids []string
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(queueBucket).ForEach(func(_, v []byte) error {
			ids = append(ids, string(v))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Remove deletes every entry carrying the given id.
func (q *BoltQueue) Remove(id string) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(queueBucket)
		c := bkt.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(v) == id {
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Close closes the underlying bolt database.
func (q *BoltQueue) Close() error {
	return q.db.Close()
}
