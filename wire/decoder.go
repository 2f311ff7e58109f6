package wire

import (
	"encoding/binary"

	"github.com/redpesk-core/go-binder/status"
)

// Decoder is a linear reader over an immutable input buffer. The zero
// value reads nothing; use NewDecoder. Grounded on afb-rpc-decoder.c.
type Decoder struct {
	buf    []byte
	offset uint32
}

// NewDecoder wraps buf for sequential reading.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Rewind resets the read cursor to the start of the buffer.
func (d *Decoder) Rewind() { d.offset = 0 }

// RemainingSize reports how many bytes are left to read.
func (d *Decoder) RemainingSize() uint32 {
	return uint32(len(d.buf)) - d.offset
}

// PeekPointer returns a size-byte slice at the current position
// without advancing the cursor. The slice aliases the decoder's
// backing buffer.
func (d *Decoder) PeekPointer(size uint32) ([]byte, error) {
	after := size + d.offset
	if after < size || after > uint32(len(d.buf)) {
		return nil, status.New(status.Invalid, "wire.Decoder.PeekPointer: out of range")
	}
	return d.buf[d.offset:after], nil
}

// PeekCopy copies size bytes at the current position into to without
// advancing the cursor.
func (d *Decoder) PeekCopy(to []byte, size uint32) error {
	if size == 0 {
		return nil
	}
	from, err := d.PeekPointer(size)
	if err != nil {
		return err
	}
	copy(to, from)
	return nil
}

// ReadPointer returns a size-byte slice at the current position and
// advances the cursor past it.
func (d *Decoder) ReadPointer(size uint32) ([]byte, error) {
	b, err := d.PeekPointer(size)
	if err != nil {
		return nil, err
	}
	d.offset += size
	return b, nil
}

// ReadCopy copies size bytes at the current position into to and
// advances the cursor.
func (d *Decoder) ReadCopy(to []byte, size uint32) error {
	if size == 0 {
		return nil
	}
	from, err := d.ReadPointer(size)
	if err != nil {
		return err
	}
	copy(to, from)
	return nil
}

// Skip advances the cursor by size bytes without returning them.
func (d *Decoder) Skip(size uint32) error {
	after := size + d.offset
	if after < size || after > uint32(len(d.buf)) {
		return status.New(status.Invalid, "wire.Decoder.Skip: out of range")
	}
	d.offset = after
	return nil
}

// ReadAlign skips forward to the next multiple of base (base must be
// a power of two).
func (d *Decoder) ReadAlign(base uint32) error {
	if base&(base-1) != 0 {
		return status.New(status.Invalid, "wire.Decoder.ReadAlign: base not a power of two")
	}
	return d.Skip((-d.offset) & (base - 1))
}

// ReadIsAligned reports whether the cursor currently sits on a
// multiple of base.
func (d *Decoder) ReadIsAligned(base uint32) bool {
	return base&(base-1) == 0 && d.offset&(base-1) == 0
}

func (d *Decoder) ReadUint8() (uint8, error) {
	b, err := d.ReadPointer(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) PeekUint8() (uint8, error) {
	b, err := d.PeekPointer(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) ReadUint16LE() (uint16, error) {
	b, err := d.ReadPointer(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *Decoder) ReadUint16BE() (uint16, error) {
	b, err := d.ReadPointer(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *Decoder) ReadUint32LE() (uint32, error) {
	b, err := d.ReadPointer(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *Decoder) ReadUint32BE() (uint32, error) {
	b, err := d.ReadPointer(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}
