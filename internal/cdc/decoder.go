package cdc

import (
	"errors"
	"fmt"
)

// pgoutput protocol version 1 message tags.
const (
	tagRelation = 'R'
	tagInsert   = 'I'
	tagUpdate   = 'U'
	tagDelete   = 'D'
	tagBegin    = 'B'
	tagCommit   = 'C'
)

var (
	ErrUnknownTag      = errors.New("unknown message tag")
	ErrUnknownRelation = errors.New("unknown relation id")
	ErrBadMarker       = errors.New("unexpected tuple marker")
	ErrColumnMismatch  = errors.New("tuple column count mismatch")
)

// Decoder turns raw pgoutput frames into events. It owns the relation cache
// for one replication session; the session manager constructs a fresh
// Decoder for every stream it opens, so a reconnect always starts with an
// empty cache and waits for the server to re-announce relations.
type Decoder struct {
	relations map[uint32]*RelationInfo
}

func NewDecoder() *Decoder {
	return &Decoder{
		relations: make(map[uint32]*RelationInfo),
	}
}

// Relation returns the cached schema for a relation id, if announced.
func (d *Decoder) Relation(id uint32) (*RelationInfo, bool) {
	rel, ok := d.relations[id]
	return rel, ok
}

// RelationCount reports how many relations the session has announced.
func (d *Decoder) RelationCount() int {
	return len(d.relations)
}

// Decode consumes exactly one message from the buffer and returns the event
// it produced, if any. Relation and Begin return (nil, nil). The buffer is
// left positioned at the byte after the message, so callers drain a frame
// with a while-remaining loop.
func (d *Decoder) Decode(buf *buffer) (Event, error) {
	tag, err := buf.readByte()
	if err != nil {
		return nil, fmt.Errorf("read message tag: %w", err)
	}

	switch tag {
	case tagRelation:
		return nil, d.decodeRelation(buf)
	case tagInsert:
		return d.decodeInsert(buf)
	case tagUpdate:
		return d.decodeUpdate(buf)
	case tagDelete:
		return d.decodeDelete(buf)
	case tagBegin:
		return nil, d.decodeBegin(buf)
	case tagCommit:
		return d.decodeCommit(buf)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
}

func (d *Decoder) decodeRelation(buf *buffer) error {
	id, err := buf.readUint32()
	if err != nil {
		return fmt.Errorf("relation id: %w", err)
	}
	namespace, err := buf.readCString()
	if err != nil {
		return fmt.Errorf("relation namespace: %w", err)
	}
	name, err := buf.readCString()
	if err != nil {
		return fmt.Errorf("relation name: %w", err)
	}
	// replica identity setting
	if _, err := buf.readByte(); err != nil {
		return fmt.Errorf("replica identity: %w", err)
	}
	columnCount, err := buf.readInt16()
	if err != nil {
		return fmt.Errorf("relation column count: %w", err)
	}

	columns := make([]ColumnInfo, 0, columnCount)
	for i := int16(0); i < columnCount; i++ {
		// column flags
		if _, err := buf.readByte(); err != nil {
			return fmt.Errorf("column flags: %w", err)
		}
		colName, err := buf.readCString()
		if err != nil {
			return fmt.Errorf("column name: %w", err)
		}
		typeOID, err := buf.readUint32()
		if err != nil {
			return fmt.Errorf("column type oid: %w", err)
		}
		// type modifier
		if _, err := buf.readInt32(); err != nil {
			return fmt.Errorf("column type modifier: %w", err)
		}
		columns = append(columns, ColumnInfo{Name: colName, TypeOID: typeOID})
	}

	d.relations[id] = &RelationInfo{
		ID:        id,
		Namespace: namespace,
		Name:      name,
		Columns:   columns,
	}
	return nil
}

func (d *Decoder) decodeInsert(buf *buffer) (Event, error) {
	rel, err := d.readRelationRef(buf)
	if err != nil {
		return nil, err
	}
	marker, err := buf.readByte()
	if err != nil {
		return nil, fmt.Errorf("insert tuple marker: %w", err)
	}
	if marker != 'N' {
		return nil, fmt.Errorf("%w: insert carries %q, want 'N'", ErrBadMarker, marker)
	}
	data, err := d.decodeTuple(buf, rel)
	if err != nil {
		return nil, err
	}
	return &InsertEvent{Table: rel.Name, Data: data}, nil
}

func (d *Decoder) decodeUpdate(buf *buffer) (Event, error) {
	rel, err := d.readRelationRef(buf)
	if err != nil {
		return nil, err
	}

	marker, err := buf.readByte()
	if err != nil {
		return nil, fmt.Errorf("update tuple marker: %w", err)
	}

	// 'K' is a key-only old image: skip it. 'O' is a full old image: keep
	// it. Either way the new image follows behind an 'N' marker.
	if marker == 'K' {
		if err := d.skipTuple(buf); err != nil {
			return nil, err
		}
		marker, err = buf.readByte()
		if err != nil {
			return nil, fmt.Errorf("update tuple marker: %w", err)
		}
	}

	var old *Tuple
	if marker == 'O' {
		old, err = d.decodeTuple(buf, rel)
		if err != nil {
			return nil, err
		}
		marker, err = buf.readByte()
		if err != nil {
			return nil, fmt.Errorf("update tuple marker: %w", err)
		}
	}

	if marker != 'N' {
		return nil, fmt.Errorf("%w: update carries %q, want 'N'", ErrBadMarker, marker)
	}
	newRow, err := d.decodeTuple(buf, rel)
	if err != nil {
		return nil, err
	}
	return &UpdateEvent{Table: rel.Name, Old: old, New: newRow}, nil
}

func (d *Decoder) decodeDelete(buf *buffer) (Event, error) {
	rel, err := d.readRelationRef(buf)
	if err != nil {
		return nil, err
	}
	// 'K' or 'O', identifying which old-row variant follows
	if _, err := buf.readByte(); err != nil {
		return nil, fmt.Errorf("delete tuple marker: %w", err)
	}
	old, err := d.decodeTuple(buf, rel)
	if err != nil {
		return nil, err
	}
	return &DeleteEvent{Table: rel.Name, Old: old}, nil
}

// decodeBegin discards the transaction's final LSN. The commit timestamp
// and xid that follow are not part of this decoder's output; they are
// skipped when present so that a frame carrying more messages after the
// Begin stays aligned.
func (d *Decoder) decodeBegin(buf *buffer) error {
	if _, err := buf.readUint64(); err != nil {
		return fmt.Errorf("begin final lsn: %w", err)
	}
	const trailer = 8 + 4 // commit timestamp + xid
	if buf.remaining() >= trailer {
		return buf.skip(trailer)
	}
	return buf.skip(buf.remaining())
}

func (d *Decoder) decodeCommit(buf *buffer) (Event, error) {
	// flags
	if _, err := buf.readByte(); err != nil {
		return nil, fmt.Errorf("commit flags: %w", err)
	}
	commitLSN, err := buf.readUint64()
	if err != nil {
		return nil, fmt.Errorf("commit lsn: %w", err)
	}
	// end LSN
	if _, err := buf.readUint64(); err != nil {
		return nil, fmt.Errorf("commit end lsn: %w", err)
	}
	timestamp, err := buf.readUint64()
	if err != nil {
		return nil, fmt.Errorf("commit timestamp: %w", err)
	}
	return &CommitEvent{LSN: commitLSN, Timestamp: timestamp}, nil
}

func (d *Decoder) readRelationRef(buf *buffer) (*RelationInfo, error) {
	id, err := buf.readUint32()
	if err != nil {
		return nil, fmt.Errorf("relation id: %w", err)
	}
	rel, ok := d.relations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRelation, id)
	}
	return rel, nil
}

// decodeTuple reads TupleData and joins it against the relation's columns.
// The wire column count must equal the cached schema's.
func (d *Decoder) decodeTuple(buf *buffer, rel *RelationInfo) (*Tuple, error) {
	columnCount, err := buf.readInt16()
	if err != nil {
		return nil, fmt.Errorf("tuple column count: %w", err)
	}
	if int(columnCount) != len(rel.Columns) {
		return nil, fmt.Errorf("%w: relation %s has %d columns, tuple has %d",
			ErrColumnMismatch, rel.Name, len(rel.Columns), columnCount)
	}

	row := newTuple(int(columnCount))
	for i := int16(0); i < columnCount; i++ {
		format, err := buf.readByte()
		if err != nil {
			return nil, fmt.Errorf("column format: %w", err)
		}
		name := rel.Columns[i].Name
		if format == 'n' {
			row.append(name, nil)
			continue
		}
		length, err := buf.readInt32()
		if err != nil {
			return nil, fmt.Errorf("column length: %w", err)
		}
		data, err := buf.readBytes(int(length))
		if err != nil {
			return nil, fmt.Errorf("column data: %w", err)
		}
		value := string(data)
		row.append(name, &value)
	}
	return row, nil
}

// skipTuple advances past a TupleData payload without decoding it, used for
// the key-only old image of an Update.
func (d *Decoder) skipTuple(buf *buffer) error {
	columnCount, err := buf.readInt16()
	if err != nil {
		return fmt.Errorf("tuple column count: %w", err)
	}
	for i := int16(0); i < columnCount; i++ {
		format, err := buf.readByte()
		if err != nil {
			return fmt.Errorf("column format: %w", err)
		}
		if format == 'n' {
			continue
		}
		length, err := buf.readInt32()
		if err != nil {
			return fmt.Errorf("column length: %w", err)
		}
		if err := buf.skip(int(length)); err != nil {
			return fmt.Errorf("column data: %w", err)
		}
	}
	return nil
}
