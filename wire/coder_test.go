package wire

import (
	"bytes"
	"testing"
)

func TestWriteSmallInlineCoalesces(t *testing.T) {
	var c Coder
	if err := c.Write([]byte("ab")); err != nil {
		t.Fatal(err)
	}
	if err := c.Write([]byte("cd")); err != nil {
		t.Fatal(err)
	}
	if c.SegmentCount() != 1 {
		t.Fatalf("expected both small writes to coalesce into one inline segment, got %d", c.SegmentCount())
	}
	out := make([]byte, c.Size())
	c.OutputGetBuffer(out)
	if string(out) != "abcd" {
		t.Fatalf("expected abcd, got %q", out)
	}
}

func TestWriteLargeStaysReferenced(t *testing.T) {
	var c Coder
	big := bytes.Repeat([]byte("x"), inlineSize+1)
	if err := c.Write(big); err != nil {
		t.Fatal(err)
	}
	if c.SegmentCount() != 1 {
		t.Fatalf("expected one referenced segment, got %d", c.SegmentCount())
	}
	out := make([]byte, c.Size())
	c.OutputGetBuffer(out)
	if !bytes.Equal(out, big) {
		t.Fatalf("round-trip mismatch")
	}
}

func TestSetPositionRewindThenOverwrite(t *testing.T) {
	var c Coder
	c.Write([]byte("0123456789"))
	if err := c.SetPosition(2); err != nil {
		t.Fatal(err)
	}
	if err := c.Write([]byte("XY")); err != nil {
		t.Fatal(err)
	}
	out := make([]byte, c.Size())
	c.OutputGetBuffer(out)
	if string(out) != "01XY456789" {
		t.Fatalf("expected overwrite in place, got %q", out)
	}
}

func TestSetPositionForwardPadsZeroes(t *testing.T) {
	var c Coder
	c.Write([]byte("ab"))
	if err := c.SetPosition(5); err != nil {
		t.Fatal(err)
	}
	if c.Size() != 5 {
		t.Fatalf("expected size 5 after forward padding, got %d", c.Size())
	}
	out := make([]byte, c.Size())
	c.OutputGetBuffer(out)
	if !bytes.Equal(out, []byte{'a', 'b', 0, 0, 0}) {
		t.Fatalf("expected zero padding, got %v", out)
	}
}

func TestWriteAlign(t *testing.T) {
	var c Coder
	c.Write([]byte("abc"))
	if err := c.WriteAlign(4); err != nil {
		t.Fatal(err)
	}
	if c.Size() != 4 {
		t.Fatalf("expected size aligned to 4, got %d", c.Size())
	}
}

func TestWriteUint32LERoundTrip(t *testing.T) {
	var c Coder
	if err := c.WriteUint32LE(0x01020304); err != nil {
		t.Fatal(err)
	}
	out := make([]byte, 4)
	c.OutputGetBuffer(out)
	d := NewDecoder(out)
	v, err := d.ReadUint32LE()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x01020304 {
		t.Fatalf("expected 0x01020304, got %#x", v)
	}
}

func TestOnDisposeRunsOnReset(t *testing.T) {
	var c Coder
	disposed := false
	if err := c.OnDispose(func() { disposed = true }); err != nil {
		t.Fatal(err)
	}
	c.Reset()
	if !disposed {
		t.Fatalf("expected dispose to run on reset")
	}
}

func TestWriteSubcoderSplices(t *testing.T) {
	var src Coder
	src.Write([]byte("hello world"))

	var dst Coder
	if err := dst.WriteSubcoder(&src, 6, 5); err != nil {
		t.Fatal(err)
	}
	out := make([]byte, dst.Size())
	dst.OutputGetBuffer(out)
	if string(out) != "world" {
		t.Fatalf("expected world, got %q", out)
	}
}

func TestOutputGetSubbufferOffset(t *testing.T) {
	var c Coder
	c.Write(bytes.Repeat([]byte("y"), inlineSize+10))
	out := make([]byte, 5)
	n := c.OutputGetSubbuffer(out, 3)
	if n != 5 {
		t.Fatalf("expected 5 bytes copied, got %d", n)
	}
}
