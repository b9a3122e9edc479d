package metadata

import (
	"encoding/json"

	"github.com/cdcstream/olr/scn"
)

// ColumnType enumerates how the Builder should format a column's
// values, mirroring the teacher's db.ColumnType but trimmed to the
// kinds a redo record can actually carry.
type ColumnType int

const (
	UnknownType ColumnType = iota
	BooleanType
	IntegerType
	DecimalType
	FloatType
	CharacterType
	RawType
	TimestampType
	TimestampTzType
	IntervalType
	LobType
)

// Column is one column of a Table's schema snapshot.
type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Size     uint32     `json:"size"`
	Scale    uint8      `json:"scale"`
	Nullable bool       `json:"nullable"`
	KeyPart  bool       `json:"keyPart"`
	Tag      bool       `json:"tag,omitempty"` // routing tag column, §4.7
}

// Table is one table's schema snapshot entry, named for the sys-obj /
// sys-tab / sys-col family the original keeps as separate arrays; this
// collapses them into one struct per table for simplicity while
// keeping the same information.
type Table struct {
	Owner   string   `json:"owner"`
	Name    string   `json:"name"`
	Object  uint32   `json:"object"`
	Columns []Column `json:"columns"`
}

// Schema is the full database-metadata snapshot, §6. SCN is either a
// full embed (Tables non-nil) or a reference to an earlier checkpoint
// that carries the schema, per the schema-ref-scn indirection in
// SPEC_FULL §11.6.
type Schema struct {
	SCN       scn.SCN `json:"schema-scn,omitempty"`
	RefSCN    scn.SCN `json:"schema-ref-scn,omitempty"`
	Tables    []Table `json:"sys-tab,omitempty"`
	Users     []User  `json:"users,omitempty"`
}

// User is an entry of the schema's users array.
type User struct {
	Name string `json:"name"`
	ID   uint32 `json:"id"`
}

// SaveSchema persists the full schema snapshot at s.SCN.
func (m *Metadata) SaveSchema(s Schema) error {
	at := s.SCN
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.store.Write(m.names.Schema(uint64(at)), uint64(at), data)
}

// LoadSchema reads the schema snapshot persisted at scn. If the
// snapshot is a reference (RefSCN set, Tables empty) it follows the
// indirection to the checkpoint that carries the full embed, per
// SPEC_FULL §11.6, instead of requiring every checkpoint to duplicate
// the whole schema.
func (m *Metadata) LoadSchema(at scn.SCN) (Schema, bool, error) {
	data, ok, err := m.store.Read(m.names.Schema(uint64(at)), maxSchemaSize)
	if err != nil || !ok {
		return Schema{}, ok, err
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return Schema{}, false, err
	}
	if len(s.Tables) == 0 && s.RefSCN != 0 {
		return m.LoadSchema(s.RefSCN)
	}
	return s, true, nil
}

const maxSchemaSize = 256 << 20
