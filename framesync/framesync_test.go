package framesync

import (
	"errors"
	"testing"

	"github.com/pchchv/avpack/internal/gather"
)

// toyFormat is a minimal two-byte header format used to exercise the
// two-header resync state machine without pulling in a real codec: byte 0
// is the sync word 0xFF, byte 1 packs a 4-bit version (the invariant mask)
// and a 4-bit payload length.
type toyFormat struct{}

func (toyFormat) SyncByte() byte { return 0xFF }
func (toyFormat) HeaderSize() int { return 2 }
func (toyFormat) ParseHeader(data []byte) (Header, error) {
	if data[0] != 0xFF {
		return Header{}, ErrLostSync
	}
	version := data[1] >> 4
	length := int(data[1] & 0x0F)
	return Header{
		FrameSize:     2 + length,
		InvariantMask: uint32(version),
		Raw:           append([]byte(nil), data...),
	}, nil
}

func buildStream(frames ...[2]byte) []byte {
	var out []byte
	for _, f := range frames {
		length := int(f[1] & 0x0F)
		out = append(out, f[0], f[1])
		for i := 0; i < length; i++ {
			out = append(out, byte(0xAA+i))
		}
	}
	return out
}

func runScanner(t *testing.T, data []byte, chunk int) []Header {
	t.Helper()
	gb := gather.New(0)
	s := New(toyFormat{}, gb)
	var got []Header
	off := 0
	for off < len(data) {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		slice := data[off:end]
		pos := 0
		for {
			consumed, result, hdr, err := s.Step(slice[pos:])
			if err != nil {
				t.Fatalf("step: %v", err)
			}
			pos += consumed
			if result == ResultHeader {
				// Gather and consume the whole frame, as a reader would;
				// the header stays at the buffer front until then.
				n, view, gerr := gb.Gather(slice[pos:], hdr.FrameSize)
				if gerr != nil {
					t.Fatalf("gather frame: %v", gerr)
				}
				pos += n
				if view == nil {
					break // frame split across feed boundary; next slice finishes it
				}
				got = append(got, hdr)
				gb.Consume(hdr.FrameSize)
				continue
			}
			if consumed == 0 {
				break
			}
			// ResultWarning or ResultMore with leftover bytes: keep
			// draining this slice before asking for more input.
			if pos >= len(slice) {
				break
			}
		}
		off = end
	}
	return got
}

func TestTwoHeaderResync(t *testing.T) {
	frames := [][2]byte{
		{0xFF, 0x12}, // version 1, length 2
		{0xFF, 0x13}, // version 1, length 3
		{0xFF, 0x10}, // version 1, length 0
	}
	data := buildStream(frames...)
	for _, chunk := range []int{len(data), 1, 3} {
		hdrs := runScanner(t, data, chunk)
		if len(hdrs) != len(frames) {
			t.Fatalf("chunk=%d: got %d headers, want %d", chunk, len(hdrs), len(frames))
		}
		for i, h := range hdrs {
			wantLen := int(frames[i][1] & 0x0F)
			if h.FrameSize != 2+wantLen {
				t.Fatalf("chunk=%d frame %d: got size %d want %d", chunk, i, h.FrameSize, 2+wantLen)
			}
		}
	}
}

func TestLostSyncRecovers(t *testing.T) {
	// Two good frames establish sync; a mismatched-version frame breaks
	// it (WARNING); two more good frames re-establish sync.
	data := buildStream(
		[2]byte{0xFF, 0x11}, [2]byte{0xFF, 0x12},
		[2]byte{0xFF, 0x20}, // version 2: invariant mismatch mid-stream
		[2]byte{0xFF, 0x11}, [2]byte{0xFF, 0x12},
	)
	hdrs := runScanner(t, data, len(data))
	if len(hdrs) < 3 {
		t.Fatalf("expected to resync after the bad frame, got %d headers", len(hdrs))
	}
}

var _ = errors.New
