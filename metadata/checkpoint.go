package metadata

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/cdcstream/olr/scn"
	"github.com/cdcstream/olr/xid"
)

// ParserCheckpoint is the physical-progress checkpoint (§4.9): where
// the Reader should resume, plus the position of the oldest
// not-yet-emitted transaction so a restart doesn't need to rescan past
// it.
type ParserCheckpoint struct {
	SCN                 scn.SCN       `json:"scn"`
	Sequence            scn.Sequence  `json:"seq"`
	Offset              scn.FileOffset `json:"offset"`
	Timestamp           int64         `json:"timestamp"`
	BytesSinceLast      uint64        `json:"bytesSinceLast"`
	MinSequence         scn.Sequence  `json:"minSequence"`
	MinOffset           scn.FileOffset `json:"minOffset"`
	MinXid              xid.XID       `json:"minXid"`
	Resetlogs           scn.Resetlogs `json:"resetlogs"`
	Activation          scn.Activation `json:"activation"`
}

// WriterCheckpoint is the logical-progress checkpoint (§4.9): the
// consumer's last acknowledged position.
type WriterCheckpoint struct {
	Database   string         `json:"database"`
	SCN        scn.SCN        `json:"scn"`
	Idx        uint64         `json:"idx"`
	Resetlogs  scn.Resetlogs  `json:"resetlogs"`
	Activation scn.Activation `json:"activation"`
}

// Metadata is the in-memory owner of everything the metadata store
// persists: the checkpoint history, the schema snapshot, and the
// database identity. All checkpoint-record fields are guarded by mu,
// matching the design's single mtxCheckpoint discipline.
type Metadata struct {
	store    Store
	names    names
	database string

	mu                sync.Mutex
	resetlogs         scn.Resetlogs
	activation        scn.Activation
	firstDataScn      scn.SCN
	clientScn         scn.SCN
	writerCkpt        WriterCheckpoint
	parserCkpts       map[scn.SCN]ParserCheckpoint
	retainedMinScn    scn.SCN
}

// Open constructs a Metadata bound to store for the named database.
func Open(store Store, database string) *Metadata {
	return &Metadata{
		store:       store,
		names:       Names(database),
		database:    database,
		parserCkpts: make(map[scn.SCN]ParserCheckpoint),
		firstDataScn: scn.None,
		clientScn:    scn.None,
	}
}

const maxCheckpointSize = 1 << 20 // matches Checkpoint::CONFIG_FILE_MAX_SIZE

// LoadWriterCheckpoint reads the latest writer checkpoint, if any. Per
// §4.9 it is read first at startup: its SCN becomes Metadata.clientScn.
func (m *Metadata) LoadWriterCheckpoint() (WriterCheckpoint, bool, error) {
	data, ok, err := m.store.Read(m.names.WriterCheckpoint(), maxCheckpointSize)
	if err != nil || !ok {
		return WriterCheckpoint{}, ok, err
	}
	var wc WriterCheckpoint
	if err := json.Unmarshal(data, &wc); err != nil {
		return WriterCheckpoint{}, false, err
	}

	m.mu.Lock()
	m.writerCkpt = wc
	m.clientScn = wc.SCN
	m.mu.Unlock()
	return wc, true, nil
}

// SaveWriterCheckpoint persists {database, scn, idx, resetlogs,
// activation} atomically, per §6.
func (m *Metadata) SaveWriterCheckpoint(wc WriterCheckpoint) error {
	data, err := json.Marshal(wc)
	if err != nil {
		return err
	}
	if err := m.store.Write(m.names.WriterCheckpoint(), uint64(wc.SCN), data); err != nil {
		return err
	}
	m.mu.Lock()
	m.writerCkpt = wc
	m.clientScn = wc.SCN
	m.mu.Unlock()
	return nil
}

// SaveParserCheckpoint persists a parser checkpoint named
// <db>-chkpt-<scn> and records it in memory for LoadParserCheckpoint
// and GCParserCheckpoints.
func (m *Metadata) SaveParserCheckpoint(pc ParserCheckpoint) error {
	data, err := json.Marshal(pc)
	if err != nil {
		return err
	}
	if err := m.store.Write(m.names.Checkpoint(uint64(pc.SCN)), uint64(pc.SCN), data); err != nil {
		return err
	}
	m.mu.Lock()
	m.parserCkpts[pc.SCN] = pc
	m.mu.Unlock()
	return nil
}

// LoadParserCheckpoint reads the parser checkpoint named
// <db>-chkpt-<scn>.
func (m *Metadata) LoadParserCheckpoint(at scn.SCN) (ParserCheckpoint, bool, error) {
	data, ok, err := m.store.Read(m.names.Checkpoint(uint64(at)), maxCheckpointSize)
	if err != nil || !ok {
		return ParserCheckpoint{}, ok, err
	}
	var pc ParserCheckpoint
	if err := json.Unmarshal(data, &pc); err != nil {
		return ParserCheckpoint{}, false, err
	}
	m.mu.Lock()
	m.parserCkpts[pc.SCN] = pc
	m.mu.Unlock()
	return pc, true, nil
}

// LatestParserCheckpointAtOrBefore returns the newest known parser
// checkpoint with SCN <= at, which §4.9 uses to decide where the
// Reader resumes relative to firstDataScn.
func (m *Metadata) LatestParserCheckpointAtOrBefore(at scn.SCN) (ParserCheckpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best ParserCheckpoint
	found := false
	for s, pc := range m.parserCkpts {
		if s.Less(at) || s.Equal(at) {
			if !found || best.SCN.Less(s) {
				best = pc
				found = true
			}
		}
	}
	return best, found
}

// GCParserCheckpoints drops every persisted parser checkpoint whose SCN
// is below the retained minimum, per §4.9's garbage-collection rule.
func (m *Metadata) GCParserCheckpoints(retainMin scn.SCN) error {
	m.mu.Lock()
	m.retainedMinScn = retainMin
	var drop []scn.SCN
	for s := range m.parserCkpts {
		if s.Less(retainMin) {
			drop = append(drop, s)
		}
	}
	m.mu.Unlock()

	sort.Slice(drop, func(i, j int) bool { return drop[i] < drop[j] })
	for _, s := range drop {
		if err := m.store.Drop(m.names.Checkpoint(uint64(s))); err != nil {
			return err
		}
		m.mu.Lock()
		delete(m.parserCkpts, s)
		m.mu.Unlock()
	}
	return nil
}

// SetIdentity records the database incarnation read from a log header,
// per §4.3's `check` transition.
func (m *Metadata) SetIdentity(resetlogs scn.Resetlogs, activation scn.Activation, firstDataScn scn.SCN) {
	m.mu.Lock()
	m.resetlogs = resetlogs
	m.activation = activation
	m.firstDataScn = firstDataScn
	m.mu.Unlock()
}

func (m *Metadata) Identity() (scn.Resetlogs, scn.Activation, scn.SCN) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetlogs, m.activation, m.firstDataScn
}

func (m *Metadata) ClientScn() scn.SCN {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientScn
}

func (m *Metadata) Database() string {
	return m.database
}

func (m *Metadata) Close() error {
	return m.store.Close()
}
