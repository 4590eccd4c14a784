package mp4

import (
	"bytes"
	"testing"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/drivetest"
	"github.com/pchchv/avpack/tag"
)

func buildFile(t *testing.T, frames [][]byte, withTags bool) []byte {
	t.Helper()
	w := NewWriter(WriterConfig{SampleRate: 48000, Channels: 2, Bits: 16})
	defer w.Close()
	if withTags {
		w.AddTag(tag.Album, "", "album")
		w.AddTag(tag.Artist, "", "artist")
		w.AddTag(tag.Date, "", "date")
		w.AddTag(tag.Title, "", "title")
		w.AddTag(tag.TrackNo, "", "1")
	}
	in := make([]drivetest.WFrame, len(frames))
	for i := range frames {
		in[i] = drivetest.WFrame{Bytes: frames[i], Duration: 1024}
	}
	return drivetest.Write(t, w, in)
}

func TestWriteReadRoundTrip(t *testing.T) {
	file := buildFile(t, [][]byte{[]byte("aacframe1")}, true)

	if !bytes.Equal(file[4:8], []byte("ftyp")) {
		t.Fatalf("no ftyp: % x", file[:16])
	}

	for _, chunk := range []int{len(file), 3} {
		r := NewReader(avpack.Config{TotalSize: int64(len(file))})
		events := drivetest.Read(t, r, file, chunk)
		r.Close()

		if len(events) == 0 || events[0].Status != avpack.StatusHeader {
			t.Fatalf("chunk=%d: events %+v", chunk, events)
		}
		h := events[0].Header
		if h.Codec != "aac" || h.SampleRate != 48000 || h.Channels != 2 || h.Bits != 16 {
			t.Fatalf("chunk=%d: header %+v", chunk, h)
		}
		if h.TotalSamples != 1024 {
			t.Fatalf("chunk=%d: total samples %d", chunk, h.TotalSamples)
		}
		if len(h.CodecConf) == 0 {
			t.Fatalf("chunk=%d: no codec config", chunk)
		}

		got := map[tag.ID]string{}
		var data [][]byte
		var pos []uint64
		for _, e := range events[1:] {
			switch e.Status {
			case avpack.StatusMeta:
				got[e.Tag.ID] = e.Tag.Value
			case avpack.StatusData:
				data = append(data, e.Frame)
				pos = append(pos, e.Pos)
			}
		}
		want := map[tag.ID]string{
			tag.Album: "album", tag.Artist: "artist", tag.Date: "date",
			tag.Title: "title", tag.TrackNo: "1",
		}
		for id, v := range want {
			if got[id] != v {
				t.Fatalf("chunk=%d: tag %v = %q, want %q (all: %v)", chunk, id, got[id], v, got)
			}
		}
		if len(data) != 1 || !bytes.Equal(data[0], []byte("aacframe1")) {
			t.Fatalf("chunk=%d: data %q", chunk, data)
		}
		if pos[0] != 0 {
			t.Fatalf("chunk=%d: first frame at sample %d", chunk, pos[0])
		}
	}
}

func TestMultiFrameAndSeek(t *testing.T) {
	var frames [][]byte
	for i := 0; i < 20; i++ {
		frames = append(frames, bytes.Repeat([]byte{byte('a' + i)}, 50+i))
	}
	file := buildFile(t, frames, false)

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
	if res.Header.TotalSamples != 20*1024 {
		t.Fatalf("total samples %d", res.Header.TotalSamples)
	}

	const target = 10 * 1024
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
			if res.Frame.Pos != target {
				t.Fatalf("frame pos %d, want %d", res.Frame.Pos, target)
			}
			if !bytes.Equal(res.Frame.Bytes, frames[10]) {
				t.Fatalf("wrong frame payload after seek")
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

func TestSmpbParsing(t *testing.T) {
	delay, padding, samples, ok := parseSmpb(" 00000000 00000840 000001CA 0000000000003F76")
	if !ok || delay != 0x840 || padding != 0x1CA || samples != 0x3F76 {
		t.Fatalf("got delay=%#x padding=%#x samples=%#x ok=%v", delay, padding, samples, ok)
	}
}

func TestSmpbRoundTrip(t *testing.T) {
	w := NewWriter(WriterConfig{SampleRate: 44100, Channels: 2, Bits: 16, EncoderDelay: 2112, EndPadding: 100})
	defer w.Close()
	file := drivetest.Write(t, w, []drivetest.WFrame{
		{Bytes: []byte("f1"), Duration: 1024},
		{Bytes: []byte("f2"), Duration: 1024},
		{Bytes: []byte("f3"), Duration: 1024},
	})

	r := NewReader(avpack.Config{TotalSize: int64(len(file))})
	defer r.Close()
	events := drivetest.Read(t, r, file, len(file))
	h := events[0].Header
	if h.EncoderDelay != 2112 || h.EndPadding != 100 {
		t.Fatalf("delay=%d padding=%d", h.EncoderDelay, h.EndPadding)
	}
	if h.TotalSamples != 3*1024-2112-100 {
		t.Fatalf("total samples %d, want %d", h.TotalSamples, 3*1024-2112-100)
	}
}
