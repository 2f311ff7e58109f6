package data

import "encoding/binary"

// RegisterByteOrderConversions wires each predefined integer/float type
// to and from bytearray by copying its fixed-width bytes unchanged. No
// converters between the numeric types themselves are registered, and
// there are no big-endian type variants or byte-swapping converters.
func RegisterByteOrderConversions(r *Registry) error {
	ba, err := r.LookupType("bytearray")
	if err != nil {
		return err
	}

	widths := []struct {
		name string
		id   uint16
		size int
	}{
		{"i8", PredefinedI8, 1},
		{"u8", PredefinedU8, 1},
		{"i16", PredefinedI16, 2},
		{"u16", PredefinedU16, 2},
		{"i32", PredefinedI32, 4},
		{"u32", PredefinedU32, 4},
		{"i64", PredefinedI64, 8},
		{"u64", PredefinedU64, 8},
		{"float", PredefinedFloat, 4},
		{"double", PredefinedDouble, 8},
	}

	for _, w := range widths {
		t, err := r.LookupTypeByID(w.id)
		if err != nil {
			return err
		}
		size := w.size
		if err := r.AddConverter(t, ba, func(in *Value) (*Value, error) {
			b := make([]byte, size)
			copy(b, in.bytes)
			return r.Copy(ba, b)
		}); err != nil {
			return err
		}
		if err := r.AddConverter(ba, t, func(in *Value) (*Value, error) {
			b := make([]byte, size)
			copy(b, in.bytes)
			return r.Copy(t, b)
		}); err != nil {
			return err
		}
	}
	return nil
}

// LEtoBE byte-swaps an integer buffer in place. No registered converter
// calls it.
func LEtoBE(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// PutUint32LE is a thin convenience wrapper kept so wire code and data
// converters share one byte-order policy (little-endian on the wire).
func PutUint32LE(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }

// Uint32LE is the matching reader.
func Uint32LE(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
