package wire

import "testing"

func TestReadCopyAdvancesCursor(t *testing.T) {
	d := NewDecoder([]byte("hello"))
	buf := make([]byte, 3)
	if err := d.ReadCopy(buf, 3); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hel" {
		t.Fatalf("expected hel, got %q", buf)
	}
	if d.RemainingSize() != 2 {
		t.Fatalf("expected 2 bytes remaining, got %d", d.RemainingSize())
	}
}

func TestPeekDoesNotAdvance(t *testing.T) {
	d := NewDecoder([]byte("hello"))
	if _, err := d.PeekPointer(3); err != nil {
		t.Fatal(err)
	}
	if d.RemainingSize() != 5 {
		t.Fatalf("expected peek to leave cursor untouched, remaining=%d", d.RemainingSize())
	}
}

func TestReadPastEndFails(t *testing.T) {
	d := NewDecoder([]byte("hi"))
	if _, err := d.ReadPointer(3); err == nil {
		t.Fatalf("expected out-of-range read to fail")
	}
}

func TestSkipAndRewind(t *testing.T) {
	d := NewDecoder([]byte("0123456789"))
	if err := d.Skip(4); err != nil {
		t.Fatal(err)
	}
	if d.RemainingSize() != 6 {
		t.Fatalf("expected 6 remaining after skip, got %d", d.RemainingSize())
	}
	d.Rewind()
	if d.RemainingSize() != 10 {
		t.Fatalf("expected full buffer after rewind, got %d", d.RemainingSize())
	}
}

func TestReadAlign(t *testing.T) {
	d := NewDecoder(make([]byte, 16))
	d.Skip(3)
	if err := d.ReadAlign(4); err != nil {
		t.Fatal(err)
	}
	if !d.ReadIsAligned(4) {
		t.Fatalf("expected cursor aligned to 4")
	}
}

func TestReadUint16LEAndBE(t *testing.T) {
	d := NewDecoder([]byte{0x01, 0x02})
	v, err := d.ReadUint16LE()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x0201 {
		t.Fatalf("expected 0x0201, got %#x", v)
	}

	d2 := NewDecoder([]byte{0x01, 0x02})
	v2, err := d2.ReadUint16BE()
	if err != nil {
		t.Fatal(err)
	}
	if v2 != 0x0102 {
		t.Fatalf("expected 0x0102, got %#x", v2)
	}
}
