package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// riffHeader parses the 8-byte RIFF-style chunk header (four-char id,
// 32-bit little-endian size) the test streams below use.
func riffHeader(hdr []byte) (Header, error) {
	id := FourCC(string(hdr[0:4]))
	size := int64(binary.LittleEndian.Uint32(hdr[4:8]))
	return Header{ID: id, Size: size}, nil
}

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

var testTable = []Descriptor{
	{
		ID:      FourCC("RIFF"),
		Name:    "RIFF",
		Flags:   IsContainer | Unique,
		MinSize: 4,
		Children: []Descriptor{
			{ID: FourCC("fmt "), Name: "fmt", Flags: GatherWhole | Unique, MinSize: 4},
			{ID: FourCC("data"), Name: "data", Flags: Stream},
		},
	},
}

type rec struct {
	ev   Event
	name string
	body []byte
}

func drive(t *testing.T, e *Engine, file []byte, chunkSize int) []rec {
	t.Helper()
	var out []rec
	pos := 0
	finished := false
	for steps := 0; ; steps++ {
		if steps > 1<<16 {
			t.Fatal("engine made no progress")
		}
		end := pos + chunkSize
		if end > len(file) {
			end = len(file)
		}
		n, ev := e.Process(file[pos:end])
		pos += n
		switch ev {
		case EvMore:
			if pos >= len(file) {
				if finished {
					t.Fatal("engine still wants input after Finish at EOF")
				}
				e.Finish()
				finished = true
			}
		case EvChunk, EvData, EvPop:
			name := ""
			if e.Node().Desc != nil {
				name = e.Node().Desc.Name
			}
			out = append(out, rec{ev: ev, name: name, body: append([]byte(nil), e.View()...)})
		case EvSeek:
			pos = int(e.SeekOffset())
		case EvWarning:
			out = append(out, rec{ev: ev})
		case EvErr, EvFin:
			out = append(out, rec{ev: ev})
			return out
		}
	}
}

func buildFile(inner ...[]byte) []byte {
	var payload []byte
	payload = append(payload, "WAVE"...)
	for _, c := range inner {
		payload = append(payload, c...)
	}
	return chunk("RIFF", payload)
}

func TestTraversalWholeAndChunked(t *testing.T) {
	file := buildFile(
		chunk("fmt ", []byte{1, 2, 3, 4, 5, 6}),
		chunk("junk", bytes.Repeat([]byte{0xEE}, 13)), // unknown, skipped
		chunk("data", []byte("payload")),
	)
	for _, cs := range []int{len(file), 1, 3} {
		e := New(Config{HeaderLen: 8, ParseHeader: riffHeader, Pad: true, TotalSize: int64(len(file))}, testTable)
		got := drive(t, e, file, cs)

		want := []struct {
			ev   Event
			name string
		}{
			{EvChunk, "RIFF"},
			{EvChunk, "fmt"},
			{EvPop, "fmt"},
			{EvChunk, "data"},
			{EvData, "data"},
			{EvPop, "data"},
			{EvPop, "RIFF"},
			{EvFin, ""},
		}
		var filtered []rec
		var data []byte
		for _, r := range got {
			if r.ev == EvData {
				data = append(data, r.body...)
				if len(filtered) > 0 && filtered[len(filtered)-1].ev == EvData {
					continue
				}
			}
			filtered = append(filtered, r)
		}
		if len(filtered) != len(want) {
			t.Fatalf("chunk=%d: events %+v", cs, filtered)
		}
		for i, w := range want {
			if filtered[i].ev != w.ev || filtered[i].name != w.name {
				t.Fatalf("chunk=%d: event %d = {%v %q}, want {%v %q}", cs, i, filtered[i].ev, filtered[i].name, w.ev, w.name)
			}
		}
		if string(data) != "payload" {
			t.Fatalf("chunk=%d: data %q", cs, data)
		}
	}
}

func TestDuplicateSingletonWarnsAndSkips(t *testing.T) {
	file := buildFile(
		chunk("fmt ", []byte{1, 2, 3, 4}),
		chunk("fmt ", []byte{9, 9, 9, 9}),
		chunk("data", []byte("x")),
	)
	e := New(Config{HeaderLen: 8, ParseHeader: riffHeader, Pad: true, TotalSize: int64(len(file))}, testTable)
	got := drive(t, e, file, len(file))
	var warned, errored bool
	for _, r := range got {
		if r.ev == EvWarning {
			warned = true
		}
		if r.ev == EvErr {
			errored = true
		}
	}
	if !warned {
		t.Fatal("duplicate fmt chunk did not warn")
	}
	if errored {
		t.Fatal("duplicate fmt chunk was upgraded to an error")
	}
	if !errors.Is(e.Err(), ErrDuplicate) {
		t.Fatalf("engine error %v, want ErrDuplicate", e.Err())
	}
}

func TestChildExceedingParentIsError(t *testing.T) {
	inner := append([]byte("WAVE"), chunk("fmt ", []byte{1, 2, 3, 4})...)
	file := append([]byte("RIFF"), 6, 0, 0, 0) // declares only 6 payload bytes
	file = append(file, inner...)
	e := New(Config{HeaderLen: 8, ParseHeader: riffHeader, Pad: true, TotalSize: int64(len(file))}, testTable)
	got := drive(t, e, file, len(file))
	last := got[len(got)-1]
	if last.ev != EvErr {
		t.Fatalf("events %+v, want trailing EvErr", got)
	}
	if !errors.Is(e.Err(), ErrTruncated) {
		t.Fatalf("engine error %v, want ErrTruncated", e.Err())
	}
}

func TestUnknownRootChunkStrict(t *testing.T) {
	file := chunk("LIST", []byte("INFOxxxx"))
	e := New(Config{HeaderLen: 8, ParseHeader: riffHeader, StrictRoot: true, TotalSize: int64(len(file))}, testTable)
	got := drive(t, e, file, len(file))
	if got[len(got)-1].ev != EvErr || !errors.Is(e.Err(), ErrMagic) {
		t.Fatalf("events %+v err %v, want magic error", got, e.Err())
	}
}
