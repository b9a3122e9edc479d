package metadata

import (
	"github.com/cockroachdb/pebble"
)

// pebbleKV adapts a pebble.DB to the KV contract, grounded on the
// teacher's storage/kvrows pebble wrapper.
type pebbleKV struct {
	db *pebble.DB
}

// NewPebbleStore opens (or creates) a pebble-backed metadata store at
// dataDir.
func NewPebbleStore(dataDir string) (*KVStore, error) {
	db, err := pebble.Open(dataDir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return NewKVStore(pebbleKV{db: db}), nil
}

func (p pebbleKV) Get(key []byte) ([]byte, bool, error) {
	val, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte(nil), val...)
	closer.Close()
	return out, true, nil
}

func (p pebbleKV) Set(key, val []byte) error {
	return p.db.Set(key, val, pebble.Sync)
}

func (p pebbleKV) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

func (p pebbleKV) Close() error {
	return p.db.Close()
}
