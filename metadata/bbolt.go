package metadata

import (
	"path/filepath"

	"go.etcd.io/bbolt"
)

var olrBucket = []byte("olr-metadata")

// bboltKV adapts a bbolt.DB to the KV contract, grounded on the
// teacher's storage/keyval bbolt wrapper. Unlike badger and pebble,
// bbolt needs an explicit bucket, created once at open time.
type bboltKV struct {
	db *bbolt.DB
}

// NewBboltStore opens (or creates) a bbolt-backed metadata store at
// dataDir.
func NewBboltStore(dataDir string) (*KVStore, error) {
	db, err := bbolt.Open(filepath.Join(dataDir, "olr.bbolt"), 0644, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(olrBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return NewKVStore(bboltKV{db: db}), nil
}

func (b bboltKV) Get(key []byte) ([]byte, bool, error) {
	var val []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(olrBucket).Get(key)
		if v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return val, val != nil, nil
}

func (b bboltKV) Set(key, val []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(olrBucket).Put(key, val)
	})
}

func (b bboltKV) Delete(key []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(olrBucket).Delete(key)
	})
}

func (b bboltKV) Close() error {
	return b.db.Close()
}
