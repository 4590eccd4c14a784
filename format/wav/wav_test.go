package wav

import (
	"bytes"
	"testing"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/drivetest"
	"github.com/pchchv/avpack/tag"
)

func TestWriteReadRoundTrip(t *testing.T) {
	info := Info{SampleRate: 48000, Channels: 2, Bits: 16}
	w := NewWriter(info)
	defer w.Close()
	file := drivetest.Write(t, w, []drivetest.WFrame{{Bytes: []byte("1234")}})

	if !bytes.HasPrefix(file, []byte("RIFF")) || !bytes.Equal(file[8:12], []byte("WAVE")) {
		t.Fatalf("bad header: % x", file[:16])
	}
	if !bytes.Equal(file[12:16], []byte("fmt ")) {
		t.Fatalf("fmt chunk missing: % x", file[12:20])
	}
	if !bytes.Contains(file, []byte("data")) {
		t.Fatal("data chunk missing")
	}

	for _, chunk := range []int{len(file), 1, 3} {
		r := NewReader(avpack.Config{TotalSize: int64(len(file))})
		events := drivetest.Read(t, r, file, chunk)
		r.Close()

		if len(events) == 0 || events[0].Status != avpack.StatusHeader {
			t.Fatalf("chunk=%d: events %+v", chunk, events)
		}
		h := events[0].Header
		if h.SampleRate != 48000 || h.Channels != 2 || h.Bits != 16 || h.Float {
			t.Fatalf("chunk=%d: header %+v", chunk, h)
		}
		if h.TotalSamples != 1 {
			t.Fatalf("chunk=%d: total samples %d, want 1", chunk, h.TotalSamples)
		}
		var data []byte
		for _, e := range events[1:] {
			if e.Status != avpack.StatusData {
				t.Fatalf("chunk=%d: unexpected event %v (%v)", chunk, e.Status, e.Err)
			}
			data = append(data, e.Frame...)
		}
		if string(data) != "1234" {
			t.Fatalf("chunk=%d: data %q", chunk, data)
		}
	}
}

func TestRoundTripWithInfoTags(t *testing.T) {
	info := Info{SampleRate: 44100, Channels: 1, Bits: 16, TotalSamples: 4}
	w := NewWriter(info)
	defer w.Close()
	w.AddTag(tag.Artist, "", "artist")
	w.AddTag(tag.Title, "", "title")
	file := drivetest.Write(t, w, []drivetest.WFrame{{Bytes: []byte("abcdefgh")}})

	r := NewReader(avpack.Config{TotalSize: int64(len(file))})
	defer r.Close()
	events := drivetest.Read(t, r, file, len(file))

	var tags []tag.Record
	var data []byte
	for _, e := range events {
		switch e.Status {
		case avpack.StatusMeta:
			tags = append(tags, e.Tag)
		case avpack.StatusData:
			data = append(data, e.Frame...)
		}
	}
	if string(data) != "abcdefgh" {
		t.Fatalf("data %q", data)
	}
	if len(tags) != 2 || tags[0].ID != tag.Artist || tags[0].Value != "artist" || tags[1].ID != tag.Title || tags[1].Value != "title" {
		t.Fatalf("tags %+v", tags)
	}
}

func TestSeekToSample(t *testing.T) {
	info := Info{SampleRate: 8000, Channels: 1, Bits: 16, TotalSamples: 100}
	w := NewWriter(info)
	defer w.Close()
	pcm := make([]byte, 200)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	file := drivetest.Write(t, w, []drivetest.WFrame{{Bytes: pcm}})

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
		if st == avpack.StatusError {
			t.Fatalf("header: %v", res.Error.Err)
		}
	}
	r.Seek(50)
	for {
		consumed, st := r.Process(file[pos:], &res)
		pos += consumed
		switch st {
		case avpack.StatusSeek:
			pos = int(res.SeekOffset)
		case avpack.StatusData:
			if res.Frame.Pos != 50 {
				t.Fatalf("frame pos %d after seek(50)", res.Frame.Pos)
			}
			if res.Frame.Bytes[0] != pcm[100] {
				t.Fatalf("frame starts with byte %d, want %d", res.Frame.Bytes[0], pcm[100])
			}
			return
		case avpack.StatusError:
			t.Fatalf("seek: %v", res.Error.Err)
		}
	}
}

func TestTruncatedFmtIsError(t *testing.T) {
	var file []byte
	file = writeChunkHeader(file, "RIFF", 4+8+4)
	file = append(file, "WAVE"...)
	file = writeChunkHeader(file, "fmt ", 4)
	file = append(file, 1, 0, 2, 0)

	r := NewReader(avpack.Config{TotalSize: int64(len(file))})
	defer r.Close()
	events := drivetest.Read(t, r, file, len(file))
	last := events[len(events)-1]
	if last.Status != avpack.StatusError {
		t.Fatalf("events %+v, want trailing error", events)
	}
}
