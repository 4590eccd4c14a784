package mkv

import (
	"bytes"
	"testing"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/drivetest"
	"github.com/pchchv/avpack/tag"
)

// elem renders one EBML element with its id's marker bits intact and a
// minimal-width size field.
func elem(id uint32, payload []byte) []byte {
	var out []byte
	switch {
	case id <= 0xFF:
		out = append(out, byte(id))
	case id <= 0xFFFF:
		out = append(out, byte(id>>8), byte(id))
	case id <= 0xFFFFFF:
		out = append(out, byte(id>>16), byte(id>>8), byte(id))
	default:
		out = append(out, byte(id>>24), byte(id>>16), byte(id>>8), byte(id))
	}
	n := len(payload)
	switch {
	case n < 0x7F:
		out = append(out, 0x80|byte(n))
	default:
		out = append(out, 0x40|byte(n>>8), byte(n))
	}
	return append(out, payload...)
}

func uintElem(id uint32, v uint64) []byte {
	var body []byte
	for v > 0 {
		body = append([]byte{byte(v)}, body...)
		v >>= 8
	}
	if body == nil {
		body = []byte{0}
	}
	return elem(id, body)
}

func buildFile(blockPayloads [][]byte) []byte {
	head := elem(0x1A45DFA3, elem(0x4282, []byte("matroska")))

	trackEntry := append(uintElem(0xD7, 1), uintElem(0x83, 2)...)
	trackEntry = append(trackEntry, elem(0x86, []byte("A_VORBIS"))...)
	trackEntry = append(trackEntry, elem(0x63A2, []byte("private!"))...)
	audio := append(elem(0xB5, []byte{0x47, 0x1C, 0x40, 0x00}), uintElem(0x9F, 2)...) // 40000.0 as float32
	trackEntry = append(trackEntry, elem(0xE1, audio)...)
	tracks := elem(0x1654AE6B, elem(0xAE, trackEntry))

	simpleTag := append(elem(0x45A3, []byte("ARTIST")), elem(0x4487, []byte("artist"))...)
	tags := elem(0x1254C367, elem(0x7373, elem(0x67C8, simpleTag)))

	var cluster []byte
	cluster = append(cluster, uintElem(0xE7, 0)...)
	for i, p := range blockPayloads {
		blk := []byte{0x81, byte(i >> 8), byte(i), 0} // track 1, timestamp, no lacing
		blk = append(blk, p...)
		cluster = append(cluster, elem(0xA3, blk)...)
	}

	segment := append(tracks, tags...)
	segment = append(segment, elem(0x1F43B675, cluster)...)
	return append(head, elem(0x18538067, segment)...)
}

func TestReadTracksTagsBlocks(t *testing.T) {
	payloads := [][]byte{[]byte("frame-a"), []byte("frame-b")}
	file := buildFile(payloads)

	for _, cs := range []int{len(file), 3} {
		r := NewReader(avpack.Config{TotalSize: int64(len(file))})
		events := drivetest.Read(t, r, file, cs)
		r.Close()

		var header *avpack.HeaderInfo
		var tags []tag.Record
		var data [][]byte
		for i := range events {
			e := events[i]
			switch e.Status {
			case avpack.StatusHeader:
				h := e.Header
				header = &h
			case avpack.StatusMeta:
				tags = append(tags, e.Tag)
			case avpack.StatusData:
				data = append(data, e.Frame)
			case avpack.StatusError:
				t.Fatalf("cs=%d: error %v", cs, e.Err)
			}
		}
		if header == nil || header.Codec != "vorbis" || header.Channels != 2 {
			t.Fatalf("cs=%d: header %+v", cs, header)
		}
		if !bytes.Equal(header.CodecConf, []byte("private!")) {
			t.Fatalf("cs=%d: codec private %q", cs, header.CodecConf)
		}
		if len(tags) != 1 || tags[0].ID != tag.Artist || tags[0].Value != "artist" {
			t.Fatalf("cs=%d: tags %+v", cs, tags)
		}
		if len(data) != 2 || !bytes.Equal(data[0], payloads[0]) || !bytes.Equal(data[1], payloads[1]) {
			t.Fatalf("cs=%d: blocks %q", cs, data)
		}
	}
}

func TestXiphLacing(t *testing.T) {
	// One SimpleBlock holding three frames: sizes 3 and 300 stored, the
	// third takes the remainder.
	f1, f2, f3 := []byte("abc"), bytes.Repeat([]byte{0x11}, 300), []byte("tail")
	lace := []byte{2, 3, 255, 45} // frame count - 1, then Xiph sizes (300 = 255+45)
	blk := []byte{0x81, 0, 0, 0x02}
	blk = append(blk, lace...)
	blk = append(blk, f1...)
	blk = append(blk, f2...)
	blk = append(blk, f3...)

	sizes, used, err := parseLacing(blk[4:], 0x02)
	if err != nil {
		t.Fatal(err)
	}
	if len(sizes) != 2 || sizes[0] != 3 || sizes[1] != 300 {
		t.Fatalf("sizes %v", sizes)
	}
	if used != len(lace) {
		t.Fatalf("lacing header length %d, want %d", used, len(lace))
	}

	file := buildFileWithRawBlock(blk)
	r := NewReader(avpack.Config{TotalSize: int64(len(file))})
	defer r.Close()
	events := drivetest.Read(t, r, file, len(file))
	var data [][]byte
	for _, e := range events {
		if e.Status == avpack.StatusData {
			data = append(data, e.Frame)
		}
	}
	if len(data) != 3 {
		t.Fatalf("%d laced frames, want 3", len(data))
	}
	if !bytes.Equal(data[0], f1) || !bytes.Equal(data[1], f2) || !bytes.Equal(data[2], f3) {
		t.Fatalf("laced frames %q", data)
	}
}

func buildFileWithRawBlock(blk []byte) []byte {
	head := elem(0x1A45DFA3, elem(0x4282, []byte("matroska")))
	trackEntry := append(uintElem(0xD7, 1), uintElem(0x83, 2)...)
	trackEntry = append(trackEntry, elem(0x86, []byte("A_VORBIS"))...)
	tracks := elem(0x1654AE6B, elem(0xAE, trackEntry))
	cluster := append(uintElem(0xE7, 0), elem(0xA3, blk)...)
	segment := append(tracks, elem(0x1F43B675, cluster)...)
	return append(head, elem(0x18538067, segment)...)
}
