// Package wire implements the binary scatter coder and linear decoder
// underlying the RPC protocol: segments accumulate without copying
// wherever possible, and a dispose chain releases externally owned
// memory (typically a data.Value's backing buffer) once the coder's
// output has actually been written out. Grounded on afb-rpc-coder.c/
// afb-rpc-decoder.c .
package wire

import (
	"encoding/binary"

	"github.com/redpesk-core/go-binder/status"
)

// inlineSize is the coder's small-segment threshold: 24 bytes.
const inlineSize = 24

// maxSegments and maxDisposes bound a coder's output exactly as
// AFB_RPC_OUTPUT_BUFFER_COUNT_MAX/AFB_RPC_OUTPUT_DISPOSE_COUNT_MAX do.
const (
	maxSegments = 32
	maxDisposes = 32
)

// segment is one scatter entry: either an inline copy or a reference
// to an externally managed buffer (kept alive by a paired dispose
// entry when the caller needs that).
type segment struct {
	inline [inlineSize]byte
	ref    []byte
	size   uint32
	isRef  bool
}

func (s *segment) bytes() []byte {
	if s.isRef {
		return s.ref[:s.size]
	}
	return s.inline[:s.size]
}

// disposeFn runs once when the coder's output is released, typically
// to Unref a data.Value whose bytes were referenced without copying.
type disposeFn func()

// Coder is a scatter output builder. The zero value is ready to use.
type Coder struct {
	segments     []segment
	inlineRemain uint8
	disposes     []disposeFn
	pos          uint32
	size         uint32
}

// Reset discards all segments and runs the dispose chain, in reverse
// registration order, matching afb_rpc_coder_output_dispose.
func (c *Coder) Reset() {
	for i := len(c.disposes) - 1; i >= 0; i-- {
		c.disposes[i]()
	}
	c.disposes = c.disposes[:0]
	c.segments = c.segments[:0]
	c.inlineRemain = 0
	c.pos = 0
	c.size = 0
}

// Size returns the total number of bytes written.
func (c *Coder) Size() uint32 { return c.size }

// SegmentCount returns how many scatter segments are in use.
func (c *Coder) SegmentCount() int { return len(c.segments) }

// OnDispose registers fn to run when Reset releases the coder's
// output, mirroring afb_rpc_coder_on_dispose_output.
func (c *Coder) OnDispose(fn func()) error {
	if len(c.disposes) >= maxDisposes {
		return status.New(status.Overflow, "wire.Coder.OnDispose")
	}
	c.disposes = append(c.disposes, fn)
	return nil
}

func (c *Coder) writeAtEnd(data []byte) error {
	size := uint32(len(data))
	if size <= inlineSize {
		rem := uint32(c.inlineRemain)
		if size <= rem {
			buf := &c.segments[len(c.segments)-1]
			copy(buf.inline[inlineSize-rem:], data)
			c.inlineRemain = uint8(rem - size)
			buf.size += size
		} else {
			if len(c.segments) >= maxSegments {
				return status.New(status.Overflow, "wire.Coder.write")
			}
			if rem > 0 {
				buf := &c.segments[len(c.segments)-1]
				copy(buf.inline[inlineSize-rem:], data[:rem])
				buf.size += rem
				c.size += rem
				data = data[rem:]
				size -= rem
			}
			var buf segment
			copy(buf.inline[:], data)
			buf.size = size
			c.inlineRemain = uint8(inlineSize - size)
			c.segments = append(c.segments, buf)
		}
	} else {
		if len(c.segments) >= maxSegments {
			return status.New(status.Overflow, "wire.Coder.write")
		}
		c.segments = append(c.segments, segment{ref: data, size: size, isRef: true})
		c.inlineRemain = 0
	}
	c.size += size
	c.pos = c.size
	return nil
}

func (c *Coder) writeInMiddle(data []byte) error {
	size := uint32(len(data))
	idx := 0
	pos := c.pos
	for pos >= c.segments[idx].size {
		pos -= c.segments[idx].size
		idx++
	}
	c.pos += size
	buf := &c.segments[idx]
	seg := buf.bytes()
	avail := uint32(len(seg)) - pos
	if avail >= size {
		copy(seg[pos:], data)
		return nil
	}
	copy(seg[pos:], data[:avail])
	data = data[avail:]
	for len(data) > 0 {
		idx++
		buf = &c.segments[idx]
		seg = buf.bytes()
		n := uint32(len(seg))
		if n > uint32(len(data)) {
			n = uint32(len(data))
		}
		copy(seg, data[:n])
		data = data[n:]
	}
	return nil
}

// Write appends data to the coder without copying it: the caller must
// keep data alive (via OnDispose, typically releasing a data.Value)
// until Reset. Matches afb_rpc_coder_write, including the in-place
// overwrite behaviour when the write position was rewound by
// SetPosition.
func (c *Coder) Write(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	exsz := c.size - c.pos
	size := uint32(len(data))
	if exsz == 0 {
		return c.writeAtEnd(data)
	}
	if exsz >= size {
		return c.writeInMiddle(data)
	}
	if err := c.writeInMiddle(data[:exsz]); err != nil {
		return err
	}
	return c.writeAtEnd(data[exsz:])
}

// WriteCopy copies data into the coder: small data goes inline, larger
// data is copied into a fresh slice. No dispose callback is registered.
// Matches afb_rpc_coder_write_copy.
func (c *Coder) WriteCopy(data []byte) error {
	if len(data) <= inlineSize {
		return c.Write(data)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return c.Write(cp)
}

// WriteZeroes appends count zero bytes.
func (c *Coder) WriteZeroes(count uint32) error {
	if count == 0 {
		return nil
	}
	if count <= inlineSize {
		var buf [inlineSize]byte
		return c.Write(buf[:count])
	}
	return c.Write(make([]byte, count))
}

// GetPosition returns the current write cursor.
func (c *Coder) GetPosition() uint32 { return c.pos }

// SetPosition moves the write cursor. Moving forward past the current
// size pads with zeroes, matching afb_rpc_coder_set_position.
func (c *Coder) SetPosition(pos uint32) error {
	if pos > c.size {
		c.pos = c.size
		return c.WriteZeroes(pos - c.size)
	}
	c.pos = pos
	return nil
}

// WriteAlignAt pads with zeroes until size-index is a multiple of base,
// that is, until the size is aligned relative to index (base must be a
// power of two).
func (c *Coder) WriteAlignAt(base, index uint32) error {
	mask := base - 1
	if base&mask != 0 {
		return status.New(status.Invalid, "wire.Coder.WriteAlignAt: base not a power of two")
	}
	count := (index - c.size) & mask
	if count == 0 {
		return nil
	}
	return c.WriteZeroes(count)
}

// WriteAlign is WriteAlignAt(base, 0).
func (c *Coder) WriteAlign(base uint32) error {
	return c.WriteAlignAt(base, 0)
}

func (c *Coder) WriteUint8(v uint8) error { return c.Write([]byte{v}) }

func (c *Coder) WriteUint16LE(v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return c.Write(b[:])
}

func (c *Coder) WriteUint16BE(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return c.Write(b[:])
}

func (c *Coder) WriteUint32LE(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return c.Write(b[:])
}

func (c *Coder) WriteUint32BE(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return c.Write(b[:])
}

// extract walks the segment range [offset, offset+size) and calls add
// for each contiguous chunk, matching the C coder's shared `extract`
// helper used by both OutputGetBuffer and WriteSubcoder.
func (c *Coder) extract(offset, size uint32, add func([]byte)) {
	off := uint32(0)
	idx := 0
	copied := uint32(0)
	for idx < len(c.segments) && off+c.segments[idx].size <= offset {
		off += c.segments[idx].size
		idx++
	}
	if idx >= len(c.segments) {
		return
	}
	if off < offset {
		soff := offset - off
		seg := c.segments[idx].bytes()
		slen := uint32(len(seg)) - soff
		if slen > size {
			slen = size
		}
		add(seg[soff : soff+slen])
		copied = slen
		idx++
	}
	for idx < len(c.segments) && copied < size {
		seg := c.segments[idx].bytes()
		slen := uint32(len(seg))
		noff := copied + slen
		if noff > size {
			slen -= noff - size
			noff = size
		}
		add(seg[:slen])
		copied = noff
		idx++
	}
}

// OutputGetSubbuffer copies up to size bytes starting at offset into
// buffer, returning the number of bytes copied.
func (c *Coder) OutputGetSubbuffer(buffer []byte, offset uint32) uint32 {
	size := uint32(len(buffer))
	n := uint32(0)
	c.extract(offset, size, func(chunk []byte) {
		n += uint32(copy(buffer[n:], chunk))
	})
	return n
}

// OutputGetBuffer is OutputGetSubbuffer(buffer, 0).
func (c *Coder) OutputGetBuffer(buffer []byte) uint32 {
	return c.OutputGetSubbuffer(buffer, 0)
}

// OutputGetIovec returns the coder's segments as a slice of byte
// slices suitable for a vectored write (net.Buffers, writev), the Go
// analogue of afb_rpc_coder_output_get_iovec.
func (c *Coder) OutputGetIovec() [][]byte {
	iov := make([][]byte, 0, len(c.segments))
	for i := range c.segments {
		iov = append(iov, c.segments[i].bytes())
	}
	return iov
}

// WriteSubcoder splices size bytes starting at offset from src into
// c, copying only when a segment cannot be referenced directly.
// Matches afb_rpc_coder_write_subcoder.
func (c *Coder) WriteSubcoder(src *Coder, offset, size uint32) error {
	var werr error
	src.extract(offset, size, func(chunk []byte) {
		if werr == nil {
			werr = c.Write(chunk)
		}
	})
	return werr
}
