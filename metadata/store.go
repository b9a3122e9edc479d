// Package metadata implements the metadata store (C2): persisted
// database identity, checkpoint history, the schema snapshot, and the
// atomic write discipline every one of those needs. Two backing store
// families are supported, per the design: a plain local directory and
// a generic embedded key-value service (badger, pebble, or bbolt).
package metadata

import "io"

// Store is the contract every backing store implements: read/write/drop
// of a named blob, keyed by an SCN for bookkeeping (both backend
// families ignore it: the local directory backend because the name
// already encodes the SCN, the KV backends because they key values by
// name alone).
type Store interface {
	// Read returns the bytes stored under name, or ok == false if no
	// such name exists. It returns an error only on an I/O failure, and
	// refuses to read more than maxSize bytes so one corrupt record
	// can't exhaust memory.
	Read(name string, maxSize int64) (data []byte, ok bool, err error)

	// Write stores data under name, associated with scn, atomically:
	// the local directory backend writes to a shadow name and renames
	// over the target; the KV backends write inside a single
	// transaction.
	Write(name string, scn uint64, data []byte) error

	// Drop removes name if present. It is not an error to drop a name
	// that does not exist.
	Drop(name string) error

	io.Closer
}

// names returns the canonical blob names the store holds, given a
// database name, mirroring §4.2: one checkpoint per SCN, the schema
// snapshot, and the latest writer checkpoint.
type names struct {
	database string
}

func Names(database string) names {
	return names{database: database}
}

// Checkpoint returns the name of the parser checkpoint persisted at scn.
func (n names) Checkpoint(scn uint64) string {
	return n.database + "-chkpt-" + formatUint(scn)
}

// WriterCheckpoint returns the name of the latest writer checkpoint.
func (n names) WriterCheckpoint() string {
	return n.database + "-chkpt"
}

// Schema returns the name of the full schema snapshot persisted at scn.
func (n names) Schema(scn uint64) string {
	return n.database + "-schema-" + formatUint(scn)
}

func formatUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
