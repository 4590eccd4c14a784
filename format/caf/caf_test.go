package caf

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/drivetest"
	"github.com/pchchv/avpack/tag"
)

func chunk(typ string, payload []byte) []byte {
	var out []byte
	out = append(out, typ...)
	var sz [8]byte
	binary.BigEndian.PutUint64(sz[:], uint64(len(payload)))
	out = append(out, sz[:]...)
	return append(out, payload...)
}

func descChunk(rate float64, fmt string, packetBytes, packetFrames, channels, bits uint32) []byte {
	d := make([]byte, 32)
	binary.BigEndian.PutUint64(d[0:8], math.Float64bits(rate))
	copy(d[8:12], fmt)
	binary.BigEndian.PutUint32(d[12:16], 2) // little-endian PCM
	binary.BigEndian.PutUint32(d[16:20], packetBytes)
	binary.BigEndian.PutUint32(d[20:24], packetFrames)
	binary.BigEndian.PutUint32(d[24:28], channels)
	binary.BigEndian.PutUint32(d[28:32], bits)
	return chunk("desc", d)
}

func infoChunk(pairs ...string) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, uint32(len(pairs)/2))
	for _, s := range pairs {
		body = append(body, s...)
		body = append(body, 0)
	}
	return chunk("info", body)
}

func TestReadPCM(t *testing.T) {
	pcm := make([]byte, 40)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	data := append([]byte{0, 0, 0, 0}, pcm...) // edit count, then samples

	var file []byte
	file = append(file, fileHeader...)
	file = append(file, descChunk(48000, "lpcm", 4, 1, 2, 16)...)
	file = append(file, infoChunk("artist", "artist-value")...)
	file = append(file, chunk("data", data)...)

	for _, cs := range []int{len(file), 3} {
		r := NewReader(avpack.Config{TotalSize: int64(len(file))})
		events := drivetest.Read(t, r, file, cs)
		r.Close()

		var header *avpack.HeaderInfo
		var tags []tag.Record
		var got []byte
		frames := 0
		for i := range events {
			e := events[i]
			switch e.Status {
			case avpack.StatusHeader:
				h := e.Header
				header = &h
			case avpack.StatusMeta:
				tags = append(tags, e.Tag)
			case avpack.StatusData:
				got = append(got, e.Frame...)
				frames++
			case avpack.StatusError:
				t.Fatalf("cs=%d: error %v", cs, e.Err)
			}
		}
		if header == nil || header.Codec != "pcm" || header.SampleRate != 48000 || header.Channels != 2 || header.Bits != 16 {
			t.Fatalf("cs=%d: header %+v", cs, header)
		}
		if len(tags) != 1 || tags[0].ID != tag.Artist || tags[0].Value != "artist-value" {
			t.Fatalf("cs=%d: tags %+v", cs, tags)
		}
		if string(got) != string(pcm) {
			t.Fatalf("cs=%d: data mismatch (%d bytes)", cs, len(got))
		}
		if frames != 10 {
			t.Fatalf("cs=%d: %d packets, want 10 (one per 4-byte packet)", cs, frames)
		}
	}
}

func TestBadMagicIsError(t *testing.T) {
	file := []byte("caffXXXXrest-of-stream")
	r := NewReader(avpack.Config{TotalSize: int64(len(file))})
	defer r.Close()
	events := drivetest.Read(t, r, file, len(file))
	last := events[len(events)-1]
	if last.Status != avpack.StatusError {
		t.Fatalf("events %+v, want error", events)
	}
}
