package utf8

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	vals := []uint64{0, 1, 127, 128, 2047, 2048, 65535, 65536,
		1<<21 - 1, 1 << 21, 1<<26 - 1, 1 << 26, 1<<31 - 1, 1 << 31, 1 << 35}
	for _, v := range vals {
		buf := Encode(nil, v)
		got, n, err := Decode(buf)
		if err != nil {
			t.Fatalf("value %d: decode: %v", v, err)
		}
		if n != len(buf) {
			t.Fatalf("value %d: consumed %d, want %d", v, n, len(buf))
		}
		if got != v {
			t.Fatalf("value %d: got %d", v, got)
		}
	}
}

func TestDecodeShort(t *testing.T) {
	buf := Encode(nil, 1<<20)
	if _, _, err := Decode(buf[:1]); err != ErrShort {
		t.Fatalf("got %v, want ErrShort", err)
	}
}
