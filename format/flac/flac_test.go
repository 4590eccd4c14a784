package flac

import (
	"bytes"
	"testing"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/drivetest"
	"github.com/pchchv/avpack/internal/hashutil/crc8"
	"github.com/pchchv/avpack/internal/utf8"
	"github.com/pchchv/avpack/tag"
)

var testInfo = StreamInfo{
	MinBlock:   1024,
	MaxBlock:   1024,
	SampleRate: 44100,
	Channels:   2,
	Bits:       16,
}

// buildFrame assembles one valid fixed-blocking FLAC frame: sync, block
// size code 6 (8-bit "samples-1" field), sample rate code 9 (44100),
// stereo, 16 bits, UTF-8 frame number, header CRC-8, then payload.
func buildFrame(t *testing.T, num uint64, samples uint32, payload []byte) []byte {
	t.Helper()
	if samples == 0 || samples > 256 {
		t.Fatalf("samples %d does not fit the 8-bit block size field", samples)
	}
	hdr := []byte{0xFF, 0xF8, 0x69, 0x18}
	hdr = utf8.Encode(hdr, num)
	hdr = append(hdr, byte(samples-1))
	hdr = append(hdr, crc8.Checksum(hdr, crc8Table))
	return append(hdr, payload...)
}

func writeStream(t *testing.T, frames [][]byte, durations []uint64, recs []tag.Record, total uint64) []byte {
	t.Helper()
	w := NewWriter(testInfo, WriterConfig{TotalSamples: total, Seekable: true})
	for _, r := range recs {
		w.AddTag(r.ID, r.Name, r.Value)
	}
	defer w.Close()
	in := make([]drivetest.WFrame, len(frames))
	for i := range frames {
		in[i] = drivetest.WFrame{Bytes: frames[i], Duration: durations[i]}
	}
	return drivetest.Write(t, w, in)
}

func TestWriteReadRoundTrip(t *testing.T) {
	frames := [][]byte{
		buildFrame(t, 0, 256, []byte("first-frame-payload")),
		buildFrame(t, 1, 256, []byte("second-frame-payload")),
		buildFrame(t, 2, 256, []byte("third")),
	}
	recs := []tag.Record{
		{ID: tag.Artist, Name: "ARTIST", Value: "artist"},
		{ID: tag.Title, Name: "TITLE", Value: "title"},
	}
	file := writeStream(t, frames, []uint64{1024, 1024, 1024}, recs, 3*1024)

	if !bytes.HasPrefix(file, []byte("fLaC")) {
		t.Fatalf("output does not start with the fLaC marker: % x", file[:8])
	}

	for _, chunk := range []int{len(file), 3} {
		r := NewReader(avpack.Config{TotalSize: int64(len(file))})
		events := drivetest.Read(t, r, file, chunk)
		r.Close()

		if events[0].Status != avpack.StatusHeader {
			t.Fatalf("chunk=%d: first event %v, want header", chunk, events[0].Status)
		}
		h := events[0].Header
		if h.Codec != "flac" || h.SampleRate != 44100 || h.Channels != 2 || h.Bits != 16 {
			t.Fatalf("chunk=%d: header %+v", chunk, h)
		}
		if h.TotalSamples != 3*1024 {
			t.Fatalf("chunk=%d: total samples %d after finalize rewrite, want %d", chunk, h.TotalSamples, 3*1024)
		}

		var tags []tag.Record
		var data [][]byte
		var pos []uint64
		for _, e := range events[1:] {
			switch e.Status {
			case avpack.StatusMeta:
				tags = append(tags, e.Tag)
			case avpack.StatusData:
				data = append(data, e.Frame)
				pos = append(pos, e.Pos)
			}
		}
		if len(tags) != 3 || tags[0].ID != tag.Vendor || tags[1].Value != "artist" || tags[2].Value != "title" {
			t.Fatalf("chunk=%d: tags %+v", chunk, tags)
		}
		if len(data) != len(frames) {
			t.Fatalf("chunk=%d: got %d frames, want %d", chunk, len(data), len(frames))
		}
		for i := range frames {
			if !bytes.Equal(data[i], frames[i]) {
				t.Fatalf("chunk=%d: frame %d differs from what was written", chunk, i)
			}
			// Frame numbers are multiples of the stream's MinBlock.
			if want := uint64(i) * uint64(testInfo.MinBlock); pos[i] != want {
				t.Fatalf("chunk=%d: frame %d pos %d, want %d", chunk, i, pos[i], want)
			}
		}
	}
}

func TestReaderSkipsJunkBeforeFirstFrame(t *testing.T) {
	frames := [][]byte{
		append([]byte("junk"), buildFrame(t, 0, 256, []byte("aaaa"))...),
		buildFrame(t, 1, 256, []byte("bbbb")),
	}
	file := writeStream(t, frames, []uint64{1024, 1024}, nil, 2*1024)

	r := NewReader(avpack.Config{TotalSize: int64(len(file))})
	defer r.Close()
	events := drivetest.Read(t, r, file, len(file))
	var frameCount int
	for _, e := range events {
		if e.Status == avpack.StatusData {
			frameCount++
		}
	}
	if frameCount != 2 {
		t.Fatalf("got %d frames, want 2", frameCount)
	}
}

func TestSeekLandsAtOrBeforeTarget(t *testing.T) {
	var frames [][]byte
	var durs []uint64
	for i := 0; i < 40; i++ {
		frames = append(frames, buildFrame(t, uint64(i), 256, bytes.Repeat([]byte{byte(i)}, 300)))
		durs = append(durs, 1024)
	}
	total := uint64(len(frames)) * 1024
	file := writeStream(t, frames, durs, nil, total)

	r := NewReader(avpack.Config{TotalSize: int64(len(file))})
	defer r.Close()

	// Drain header and metadata first, then request a mid-stream sample.
	var res avpack.Result
	pos := 0
	for {
		consumed, st := r.Process(file[pos:], &res)
		pos += consumed
		if st == avpack.StatusHeader {
			break
		}
		if st == avpack.StatusError {
			t.Fatalf("header: %v", res.Error.Err)
		}
	}
	const target = 20 * 1024
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
				t.Fatalf("first frame after seek starts at %d, past target %d", res.Frame.Pos, target)
			}
			if target >= res.Frame.Pos+res.Frame.Duration+4*1024 {
				t.Fatalf("frame at %d (+%d) is too far before target %d", res.Frame.Pos, res.Frame.Duration, target)
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

func TestPictureBlockZeroDimensionsAccepted(t *testing.T) {
	var body []byte
	u32 := func(v uint32) {
		body = append(body, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	u32(3)                        // type: front cover
	u32(9)                       // mime length
	body = append(body, "image/png"...)
	u32(0) // empty description
	u32(0) // width 0
	u32(0) // height 0
	u32(0)
	u32(0)
	u32(4)
	body = append(body, "PNG!"...)

	data, ok := parsePicture(body)
	if !ok || string(data) != "PNG!" {
		t.Fatalf("parsePicture: ok=%v data=%q", ok, data)
	}
}
