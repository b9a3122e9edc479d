package metadata

import (
	"os"

	"github.com/dgraph-io/badger"
	log "github.com/sirupsen/logrus"
)

// badgerKV adapts a badger.DB to the KV contract, following the
// teacher's storage/keyval badger wrapper: one managed-less database
// per data directory, opened with the process logger plumbed in so
// badger's own compaction/GC chatter lands in the same log stream as
// everything else.
type badgerKV struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a badger-backed metadata store at
// dataDir.
func NewBadgerStore(dataDir string) (*KVStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(dataDir)
	opts = opts.WithLogger(log.StandardLogger())
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return NewKVStore(badgerKV{db: db}), nil
}

func (b badgerKV) Get(key []byte) ([]byte, bool, error) {
	var val []byte
	err := b.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return val, val != nil, nil
}

func (b badgerKV) Set(key, val []byte) error {
	return b.db.Update(func(tx *badger.Txn) error {
		return tx.Set(key, val)
	})
}

func (b badgerKV) Delete(key []byte) error {
	return b.db.Update(func(tx *badger.Txn) error {
		err := tx.Delete(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (b badgerKV) Close() error {
	return b.db.Close()
}
