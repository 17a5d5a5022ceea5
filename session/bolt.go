package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

// BoltBackend keeps records in a bbolt database file. Each value is the
// expiry as big endian unix nanoseconds followed by the encoded session.
type BoltBackend struct {
	db *bolt.DB
}

var _ Backend = (*BoltBackend)(nil)

// OpenBoltBackend opens or creates the database at path. timeout bounds the
// wait for the file lock held by another process.
func OpenBoltBackend(path string, timeout time.Duration) (*BoltBackend, error) {
	const op = "session.OpenBoltBackend"
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, ErrInvalidParameter)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: unable to create bucket: %w", op, err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Load(_ context.Context, id string, now time.Time) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get([]byte(id))
		if len(v) < 8 {
			return ErrNotFound
		}
		expires := time.Unix(0, int64(binary.BigEndian.Uint64(v[:8])))
		if !expires.After(now) {
			return ErrNotFound
		}
		// v is only valid for the life of the transaction
		data = append([]byte(nil), v[8:]...)
		return nil
	})
	return data, err
}

func (b *BoltBackend) Save(_ context.Context, id string, data []byte, expires time.Time) error {
	v := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(v[:8], uint64(expires.UnixNano()))
	copy(v[8:], data)
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(id), v)
	})
}

func (b *BoltBackend) Delete(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(id))
	})
}

func (b *BoltBackend) Cleanup(_ context.Context, now time.Time) (int, error) {
	n := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(sessionsBucket)
		var expired [][]byte
		err := bkt.ForEach(func(k, v []byte) error {
			if len(v) < 8 || !time.Unix(0, int64(binary.BigEndian.Uint64(v[:8]))).After(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		n = len(expired)
		return nil
	})
	return n, err
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
