package bits

import (
	"bytes"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	// The STREAMINFO field widths, exercised end to end.
	fields := []struct {
		x uint64
		n byte
	}{
		{4096, 16},
		{4096, 16},
		{0, 24},
		{0, 24},
		{44100, 20},
		{1, 3},
		{15, 5},
		{123456789, 36},
	}
	var buf bytes.Buffer
	bw := NewWriter(&buf)
	for _, f := range fields {
		if err := bw.WriteBits(f.x, f.n); err != nil {
			t.Fatalf("write %d bits: %v", f.n, err)
		}
	}
	if err := bw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	br := NewReader(&buf)
	for i, f := range fields {
		got, err := br.Read(uint(f.n))
		if err != nil {
			t.Fatalf("field %d: %v", i, err)
		}
		if got != f.x {
			t.Fatalf("field %d: got %d, want %d", i, got, f.x)
		}
	}
}

func TestWriteBool(t *testing.T) {
	var buf bytes.Buffer
	bw := NewWriter(&buf)
	if err := bw.WriteBool(true); err != nil {
		t.Fatal(err)
	}
	if err := bw.WriteBits(0x55, 7); err != nil {
		t.Fatal(err)
	}
	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 1 || buf.Bytes()[0] != 0x80|0x55 {
		t.Fatalf("got % x", buf.Bytes())
	}

	br := NewReader(bytes.NewReader(buf.Bytes()))
	if bit, _ := br.ReadBit(); bit != 1 {
		t.Fatalf("flag bit %d", bit)
	}
	if rest, _ := br.Read(7); rest != 0x55 {
		t.Fatalf("rest %#x", rest)
	}
}

func TestAlignedByteWrite(t *testing.T) {
	var buf bytes.Buffer
	bw := NewWriter(&buf)
	if err := bw.WriteBits(0xAB, 8); err != nil {
		t.Fatal(err)
	}
	if _, err := bw.Write([]byte{0xCD, 0xEF}); err != nil {
		t.Fatal(err)
	}
	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{0xAB, 0xCD, 0xEF}) {
		t.Fatalf("got % x", buf.Bytes())
	}
}
