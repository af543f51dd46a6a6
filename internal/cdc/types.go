package cdc

import (
	"bytes"
	"encoding/json"
)

// ColumnInfo describes one column of a replicated relation.
type ColumnInfo struct {
	Name    string
	TypeOID uint32
}

// RelationInfo is the cached schema for one relation id, as announced by a
// Relation message. Re-announcement replaces the entry wholesale.
type RelationInfo struct {
	ID        uint32
	Namespace string
	Name      string
	Columns   []ColumnInfo
}

// Tuple holds one row's column values in relation column order. A nil value
// is SQL NULL; everything else is the column's text representation.
type Tuple struct {
	names  []string
	values []*string
}

func newTuple(capacity int) *Tuple {
	return &Tuple{
		names:  make([]string, 0, capacity),
		values: make([]*string, 0, capacity),
	}
}

func (t *Tuple) append(name string, value *string) {
	t.names = append(t.names, name)
	t.values = append(t.values, value)
}

// Len returns the number of columns in the tuple.
func (t *Tuple) Len() int {
	return len(t.names)
}

// Names returns the column names in insertion order.
func (t *Tuple) Names() []string {
	return t.names
}

// Get looks up a column value by name. The second return is false when the
// tuple has no such column; a (nil, true) result is a NULL column.
func (t *Tuple) Get(name string) (*string, bool) {
	for i, n := range t.names {
		if n == name {
			return t.values[i], true
		}
	}
	return nil, false
}

// MarshalJSON writes the tuple as a JSON object whose keys appear in
// relation column order. Consumers rely on the stable field ordering.
func (t *Tuple) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range t.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if t.values[i] == nil {
			buf.WriteString("null")
		} else {
			val, err := json.Marshal(*t.values[i])
			if err != nil {
				return nil, err
			}
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Event is a decoded replication message that consumers see. The JSON
// encoding is the wire contract of the in-process bus.
type Event interface {
	json.Marshaler
}

// InsertEvent is a newly inserted row.
type InsertEvent struct {
	Table string
	Data  *Tuple
}

func (e *InsertEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Table string `json:"table"`
		Data  *Tuple `json:"data"`
	}{"insert", e.Table, e.Data})
}

// UpdateEvent carries the new row image and, when the relation's replica
// identity provides one, the old image. Old is nil when the server sent only
// the key tuple.
type UpdateEvent struct {
	Table string
	Old   *Tuple
	New   *Tuple
}

func (e *UpdateEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Table string `json:"table"`
		Old   *Tuple `json:"old"`
		New   *Tuple `json:"new"`
	}{"update", e.Table, e.Old, e.New})
}

// DeleteEvent carries the deleted row's old image.
type DeleteEvent struct {
	Table string
	Old   *Tuple
}

func (e *DeleteEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Table string `json:"table"`
		Old   *Tuple `json:"old"`
	}{"delete", e.Table, e.Old})
}

// CommitEvent marks the end of a transaction. Timestamp is the commit time
// in microseconds since 2000-01-01 UTC, exactly as sent on the wire.
type CommitEvent struct {
	LSN       uint64
	Timestamp uint64
}

func (e *CommitEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string `json:"type"`
		LSN       uint64 `json:"lsn"`
		Timestamp uint64 `json:"timestamp"`
	}{"commit", e.LSN, e.Timestamp})
}
