package metadata

import (
	"fmt"
)

// KV is the minimal embedded key-value contract the generic key-value
// backing store needs. badger, pebble and bbolt each get a thin
// adapter implementing this.
type KV interface {
	Get(key []byte) (val []byte, ok bool, err error)
	Set(key, val []byte) error
	Delete(key []byte) error
	Close() error
}

// KVStore adapts a KV into the metadata Store contract. Every Write is
// a single KV transaction, so it is atomic without needing a
// shadow-name-and-rename dance.
type KVStore struct {
	kv KV
}

func NewKVStore(kv KV) *KVStore {
	return &KVStore{kv: kv}
}

func (s *KVStore) Read(name string, maxSize int64) ([]byte, bool, error) {
	val, ok, err := s.kv.Get([]byte(name))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if int64(len(val)) > maxSize {
		return nil, false, fmt.Errorf("metadata: %s: size %d exceeds max %d", name, len(val), maxSize)
	}
	return val, true, nil
}

func (s *KVStore) Write(name string, scn uint64, data []byte) error {
	return s.kv.Set([]byte(name), data)
}

func (s *KVStore) Drop(name string) error {
	return s.kv.Delete([]byte(name))
}

func (s *KVStore) Close() error {
	return s.kv.Close()
}
