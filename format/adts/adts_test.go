package adts

import (
	"bytes"
	"testing"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/drivetest"
)

// buildFrame assembles one ADTS frame: AAC-LC, 44100 Hz (index 4), two
// channels, no CRC.
func buildFrame(payload []byte) []byte {
	length := headerSize + len(payload)
	h := make([]byte, headerSize)
	h[0] = 0xFF
	h[1] = 0xF1 // MPEG-4, layer 0, no CRC
	h[2] = 0x50 // AAC-LC, rate index 4, channel config high bit 0
	h[3] = 0x80 | byte(length>>11)
	h[4] = byte(length >> 3)
	h[5] = byte(length&7)<<5 | 0x1F
	h[6] = 0xFC
	return append(h, payload...)
}

func TestScenarioJunkAndLostSync(t *testing.T) {
	var file []byte
	file = append(file, []byte("junkjunk")...)
	file = append(file, buildFrame([]byte("frame-one"))...)
	file = append(file, buildFrame([]byte("frame-two"))...)
	file = append(file, buildFrame([]byte("frame-three"))...)
	file = append(file, 0xFF, 0x00, 0x13, 0x37, 0x00, 0x00, 0x00) // bad candidate

	for _, chunk := range []int{len(file), 3} {
		r := NewReader(avpack.Config{TotalSize: int64(len(file)), Flags: avpack.AACWholeFrames})
		events := drivetest.Read(t, r, file, chunk)
		r.Close()

		if len(events) == 0 || events[0].Status != avpack.StatusHeader {
			t.Fatalf("chunk=%d: events %+v", chunk, events)
		}
		h := events[0].Header
		if h.Codec != "aac" || h.SampleRate != 44100 || h.Channels != 2 {
			t.Fatalf("chunk=%d: header %+v", chunk, h)
		}
		if len(h.CodecConf) != 2 {
			t.Fatalf("chunk=%d: codec conf % x", chunk, h.CodecConf)
		}

		var frames [][]byte
		warnings := 0
		for _, e := range events[1:] {
			switch e.Status {
			case avpack.StatusData:
				frames = append(frames, e.Frame)
			case avpack.StatusWarning:
				warnings++
			default:
				t.Fatalf("chunk=%d: unexpected %v (%v)", chunk, e.Status, e.Err)
			}
		}
		if len(frames) != 3 {
			t.Fatalf("chunk=%d: %d frames, want 3", chunk, len(frames))
		}
		if warnings != 1 {
			t.Fatalf("chunk=%d: %d warnings, want 1", chunk, warnings)
		}
		for i, want := range []string{"frame-one", "frame-two", "frame-three"} {
			if !bytes.HasSuffix(frames[i], []byte(want)) {
				t.Fatalf("chunk=%d: frame %d = %q", chunk, i, frames[i])
			}
			if frames[i][0] != 0xFF {
				t.Fatalf("chunk=%d: whole-frames mode should include the header", chunk)
			}
		}
		if events[1].Pos != 0 || events[1].Duration != frameSamples {
			t.Fatalf("chunk=%d: first frame pos=%d dur=%d", chunk, events[1].Pos, events[1].Duration)
		}
	}
}

func TestBodyOnlyDelivery(t *testing.T) {
	var file []byte
	file = append(file, buildFrame([]byte("alpha"))...)
	file = append(file, buildFrame([]byte("beta"))...)

	r := NewReader(avpack.Config{TotalSize: int64(len(file))})
	defer r.Close()
	events := drivetest.Read(t, r, file, len(file))

	var frames [][]byte
	for _, e := range events {
		if e.Status == avpack.StatusData {
			frames = append(frames, e.Frame)
		}
	}
	if len(frames) != 2 || string(frames[0]) != "alpha" || string(frames[1]) != "beta" {
		t.Fatalf("frames %q", frames)
	}
}
