package cdc

import (
	"errors"
	"testing"
)

func TestBufferReads(t *testing.T) {
	data := []byte{0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 0x03, 'h', 'i', 0x00}
	buf := newBuffer(data)

	b, err := buf.readByte()
	if err != nil || b != 0x01 {
		t.Fatalf("readByte = %v, %v", b, err)
	}
	i16, err := buf.readInt16()
	if err != nil || i16 != 2 {
		t.Fatalf("readInt16 = %v, %v", i16, err)
	}
	u32, err := buf.readUint32()
	if err != nil || u32 != 3 {
		t.Fatalf("readUint32 = %v, %v", u32, err)
	}
	s, err := buf.readCString()
	if err != nil || s != "hi" {
		t.Fatalf("readCString = %q, %v", s, err)
	}
	if buf.remaining() != 0 {
		t.Errorf("expected drained buffer, %d bytes left", buf.remaining())
	}
}

func TestBufferUint64(t *testing.T) {
	buf := newBuffer([]byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x6B, 0x37, 0x48})
	v, err := buf.readUint64()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x16B3748 {
		t.Errorf("readUint64 = %#x, want %#x", v, 0x16B3748)
	}
}

func TestBufferShortReads(t *testing.T) {
	cases := []struct {
		name string
		read func(*buffer) error
		data []byte
	}{
		{"byte", func(b *buffer) error { _, err := b.readByte(); return err }, nil},
		{"int16", func(b *buffer) error { _, err := b.readInt16(); return err }, []byte{1}},
		{"uint32", func(b *buffer) error { _, err := b.readUint32(); return err }, []byte{1, 2, 3}},
		{"uint64", func(b *buffer) error { _, err := b.readUint64(); return err }, []byte{1, 2, 3, 4, 5, 6, 7}},
		{"bytes", func(b *buffer) error { _, err := b.readBytes(4); return err }, []byte{1, 2}},
		{"skip", func(b *buffer) error { return b.skip(10) }, []byte{1, 2}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.read(newBuffer(tc.data))
			if !errors.Is(err, errShortMessage) {
				t.Errorf("expected errShortMessage, got %v", err)
			}
		})
	}
}

func TestBufferUnterminatedString(t *testing.T) {
	buf := newBuffer([]byte{'a', 'b', 'c'})
	_, err := buf.readCString()
	if !errors.Is(err, errShortMessage) {
		t.Errorf("expected errShortMessage, got %v", err)
	}
}

func TestBufferNegativeLength(t *testing.T) {
	buf := newBuffer([]byte{1, 2, 3, 4})
	if _, err := buf.readBytes(-1); !errors.Is(err, errShortMessage) {
		t.Errorf("expected errShortMessage for negative read, got %v", err)
	}
	if err := buf.skip(-1); !errors.Is(err, errShortMessage) {
		t.Errorf("expected errShortMessage for negative skip, got %v", err)
	}
}
