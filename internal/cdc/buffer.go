package cdc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errShortMessage = errors.New("unexpected end of message")

// buffer is a cursor over one replication frame. All multi-byte integers on
// the wire are big-endian; strings are NUL-terminated UTF-8.
type buffer struct {
	data []byte
	pos  int
}

func newBuffer(data []byte) *buffer {
	return &buffer{data: data}
}

func (b *buffer) remaining() int {
	return len(b.data) - b.pos
}

func (b *buffer) readByte() (byte, error) {
	if b.remaining() < 1 {
		return 0, errShortMessage
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

func (b *buffer) readInt16() (int16, error) {
	if b.remaining() < 2 {
		return 0, errShortMessage
	}
	v := int16(binary.BigEndian.Uint16(b.data[b.pos:]))
	b.pos += 2
	return v, nil
}

func (b *buffer) readInt32() (int32, error) {
	if b.remaining() < 4 {
		return 0, errShortMessage
	}
	v := int32(binary.BigEndian.Uint32(b.data[b.pos:]))
	b.pos += 4
	return v, nil
}

func (b *buffer) readUint32() (uint32, error) {
	if b.remaining() < 4 {
		return 0, errShortMessage
	}
	v := binary.BigEndian.Uint32(b.data[b.pos:])
	b.pos += 4
	return v, nil
}

func (b *buffer) readUint64() (uint64, error) {
	if b.remaining() < 8 {
		return 0, errShortMessage
	}
	v := binary.BigEndian.Uint64(b.data[b.pos:])
	b.pos += 8
	return v, nil
}

func (b *buffer) readCString() (string, error) {
	for i := b.pos; i < len(b.data); i++ {
		if b.data[i] == 0 {
			s := string(b.data[b.pos:i])
			b.pos = i + 1
			return s, nil
		}
	}
	return "", fmt.Errorf("unterminated string: %w", errShortMessage)
}

func (b *buffer) readBytes(n int) ([]byte, error) {
	if n < 0 || b.remaining() < n {
		return nil, errShortMessage
	}
	v := b.data[b.pos : b.pos+n]
	b.pos += n
	return v, nil
}

func (b *buffer) skip(n int) error {
	if n < 0 || b.remaining() < n {
		return errShortMessage
	}
	b.pos += n
	return nil
}
