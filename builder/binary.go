package builder

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cdcstream/olr/record"
	"github.com/cdcstream/olr/scn"
)

func scnFromUint64(v uint64) scn.SCN { return scn.SCN(v) }

func opFromByte(b byte) record.Op { return record.Op(b) }

// EncodeBinarySchema serializes msg into the fixed shape spec.md §4.7
// names for the binary-schema output: {scn, c_scn, c_idx,
// payload:[{op, schema, before, after, ddl}...]}. It is a custom
// length-prefixed format, not protobuf, matching the "Protocol-Buffer-
// like" wording: one byte op tag, then four length-prefixed sections.
func EncodeBinarySchema(msg *Message) []byte {
	var buf bytes.Buffer
	writeUint64(&buf, uint64(msg.SCN))
	writeUint64(&buf, uint64(msg.CommitSCN))
	writeUint64(&buf, msg.CommitIdx)

	writeUint32(&buf, uint32(len(msg.Ops)))
	for _, op := range msg.Ops {
		buf.WriteByte(byte(op.Kind))
		writeString(&buf, op.Schema)
		writeColumns(&buf, op.Before)
		writeColumns(&buf, op.After)
		writeString(&buf, op.DDL)
	}
	return buf.Bytes()
}

func writeColumns(buf *bytes.Buffer, cols []ColumnOut) {
	writeUint32(buf, uint32(len(cols)))
	for _, c := range cols {
		writeString(buf, c.Name)
		if c.Null {
			buf.WriteByte(1)
			continue
		}
		buf.WriteByte(0)
		writeString(buf, fmt.Sprintf("%v", c.Value))
	}
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

// DecodeBinarySchema parses a buffer produced by EncodeBinarySchema.
// Used by test fixtures and by any downstream tool re-reading a
// captured stream rather than decoding JSON.
func DecodeBinarySchema(buf []byte) (*Message, error) {
	r := bytes.NewReader(buf)
	msg := &Message{}

	scnVal, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	msg.SCN = scnFromUint64(scnVal)

	cscn, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	msg.CommitSCN = scnFromUint64(cscn)

	idx, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	msg.CommitIdx = idx

	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var op Op
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		op.Kind = opFromByte(kind)
		if op.Schema, err = readString(r); err != nil {
			return nil, err
		}
		if op.Before, err = readColumns(r); err != nil {
			return nil, err
		}
		if op.After, err = readColumns(r); err != nil {
			return nil, err
		}
		if op.DDL, err = readString(r); err != nil {
			return nil, err
		}
		msg.Ops = append(msg.Ops, op)
	}
	return msg, nil
}

func readColumns(r *bytes.Reader) ([]ColumnOut, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	cols := make([]ColumnOut, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		isNull, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		c := ColumnOut{Name: name}
		if isNull == 1 {
			c.Null = true
		} else {
			v, err := readString(r)
			if err != nil {
				return nil, err
			}
			c.Value = v
		}
		cols = append(cols, c)
	}
	return cols, nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}
