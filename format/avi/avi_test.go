package avi

import (
	"encoding/binary"
	"testing"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/drivetest"
	"github.com/pchchv/avpack/tag"
)

func chunk(id string, payload []byte) []byte {
	var out []byte
	out = append(out, id...)
	var sz [4]byte
	binary.LittleEndian.PutUint32(sz[:], uint32(len(payload)))
	out = append(out, sz[:]...)
	out = append(out, payload...)
	if len(payload)%2 == 1 {
		out = append(out, 0)
	}
	return out
}

func list(kind string, inner ...[]byte) []byte {
	payload := []byte(kind)
	for _, c := range inner {
		payload = append(payload, c...)
	}
	return chunk("LIST", payload)
}

func buildFile() []byte {
	strh := make([]byte, 36)
	copy(strh[0:4], "auds")
	binary.LittleEndian.PutUint32(strh[20:24], 1)     // scale
	binary.LittleEndian.PutUint32(strh[24:28], 44100) // rate
	binary.LittleEndian.PutUint32(strh[32:36], 44100) // length

	strf := make([]byte, 16)
	binary.LittleEndian.PutUint16(strf[0:2], codecPCM)
	binary.LittleEndian.PutUint16(strf[2:4], 2)
	binary.LittleEndian.PutUint32(strf[4:8], 44100)
	binary.LittleEndian.PutUint16(strf[12:14], 4) // block align
	binary.LittleEndian.PutUint16(strf[14:16], 16)

	hdrl := list("hdrl", list("strl", chunk("strh", strh), chunk("strf", strf)))
	info := list("INFO", chunk("INAM", append([]byte("title"), 0)))
	movi := list("movi", chunk("00wb", []byte("pcmdata!")))

	payload := append([]byte("AVI "), hdrl...)
	payload = append(payload, info...)
	payload = append(payload, movi...)
	return chunk("RIFF", payload)
}

func TestReadAudioStream(t *testing.T) {
	file := buildFile()
	for _, cs := range []int{len(file), 3} {
		r := NewReader(avpack.Config{TotalSize: int64(len(file))})
		events := drivetest.Read(t, r, file, cs)
		r.Close()

		var header *avpack.HeaderInfo
		var tags []tag.Record
		var data []byte
		for i := range events {
			e := events[i]
			switch e.Status {
			case avpack.StatusHeader:
				h := e.Header
				header = &h
			case avpack.StatusMeta:
				tags = append(tags, e.Tag)
			case avpack.StatusData:
				data = append(data, e.Frame...)
			case avpack.StatusError:
				t.Fatalf("cs=%d: error %v", cs, e.Err)
			}
		}
		if header == nil || header.Codec != "pcm" || header.SampleRate != 44100 || header.Channels != 2 || header.Bits != 16 {
			t.Fatalf("cs=%d: header %+v", cs, header)
		}
		if header.TotalSamples != 44100 {
			t.Fatalf("cs=%d: total samples %d", cs, header.TotalSamples)
		}
		if len(tags) != 1 || tags[0].ID != tag.Title || tags[0].Value != "title" {
			t.Fatalf("cs=%d: tags %+v", cs, tags)
		}
		if string(data) != "pcmdata!" {
			t.Fatalf("cs=%d: data %q", cs, data)
		}
	}
}
