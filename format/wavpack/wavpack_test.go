package wavpack

import (
	"encoding/binary"
	"testing"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/drivetest"
)

// buildBlock assembles one wvpk block: 44100 Hz (rate index 9), stereo,
// 16-bit samples.
func buildBlock(total, index, samples uint32, payload []byte) []byte {
	b := make([]byte, headerSize)
	copy(b[0:4], "wvpk")
	binary.LittleEndian.PutUint32(b[4:8], uint32(headerSize+len(payload)-8))
	binary.LittleEndian.PutUint16(b[8:10], 0x0410)
	binary.LittleEndian.PutUint32(b[12:16], total)
	binary.LittleEndian.PutUint32(b[16:20], index)
	binary.LittleEndian.PutUint32(b[20:24], samples)
	flags := uint32(9)<<23 | 1 // rate index 9, two bytes per sample
	binary.LittleEndian.PutUint32(b[24:28], flags)
	return append(b, payload...)
}

func TestReadBlocks(t *testing.T) {
	var file []byte
	file = append(file, buildBlock(3000, 0, 1000, []byte("first-payload"))...)
	file = append(file, buildBlock(3000, 1000, 1000, []byte("second-payload"))...)
	file = append(file, buildBlock(3000, 2000, 1000, []byte("third-payload"))...)

	for _, chunk := range []int{len(file), 3} {
		r := NewReader(avpack.Config{TotalSize: int64(len(file))})
		events := drivetest.Read(t, r, file, chunk)
		r.Close()

		if len(events) == 0 || events[0].Status != avpack.StatusHeader {
			t.Fatalf("chunk=%d: events %+v", chunk, events)
		}
		h := events[0].Header
		if h.Codec != "wavpack" || h.SampleRate != 44100 || h.Channels != 2 || h.Bits != 16 {
			t.Fatalf("chunk=%d: header %+v", chunk, h)
		}
		if h.TotalSamples != 3000 {
			t.Fatalf("chunk=%d: total %d", chunk, h.TotalSamples)
		}
		var pos []uint64
		for _, e := range events[1:] {
			if e.Status == avpack.StatusData {
				pos = append(pos, e.Pos)
				if e.Frame[0] != 'w' {
					t.Fatalf("chunk=%d: block does not start with the header", chunk)
				}
			}
		}
		if len(pos) != 3 || pos[0] != 0 || pos[1] != 1000 || pos[2] != 2000 {
			t.Fatalf("chunk=%d: positions %v", chunk, pos)
		}
	}
}

func TestSeekToSample(t *testing.T) {
	var file []byte
	const blocks = 30
	for i := 0; i < blocks; i++ {
		payload := make([]byte, 200)
		for j := range payload {
			payload[j] = byte(i)
		}
		file = append(file, buildBlock(blocks*1000, uint32(i)*1000, 1000, payload)...)
	}

	r := NewReader(avpack.Config{TotalSize: int64(len(file))})
	defer r.Close()

	var res avpack.Result
	pos := 0
	for {
		consumed, st := r.Process(file[pos:], &res)
		pos += consumed
		if st == avpack.StatusHeader {
			break
		}
		switch st {
		case avpack.StatusSeek:
			pos = int(res.SeekOffset)
		case avpack.StatusError:
			t.Fatalf("header: %v", res.Error.Err)
		case avpack.StatusMore:
			if pos >= len(file) {
				r.Finish()
			}
		}
	}
	const target = 15 * 1000
	r.Seek(target)
	for steps := 0; ; steps++ {
		if steps > 100000 {
			t.Fatal("seek did not converge")
		}
		consumed, st := r.Process(file[pos:], &res)
		pos += consumed
		switch st {
		case avpack.StatusSeek:
			pos = int(res.SeekOffset)
		case avpack.StatusData:
			if res.Frame.Pos > target {
				t.Fatalf("block pos %d past target %d", res.Frame.Pos, target)
			}
			return
		case avpack.StatusError:
			t.Fatalf("seek: %v", res.Error.Err)
		case avpack.StatusMore:
			if pos >= len(file) {
				r.Finish()
			}
		}
	}
}
