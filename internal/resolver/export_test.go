package resolver

import (
	"time"

	bolt "go.etcd.io/bbolt"
)

func (r *Resolver) SetClock(now func() time.Time) { r.now = now }

func (r *Resolver) PutRaw(key string, value []byte) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
}
