package id3v2

import (
	"testing"

	"github.com/pchchv/avpack/internal/codepage"
	"github.com/pchchv/avpack/tag"
)

func decodeWhole(t *testing.T, blob []byte) []tag.Record {
	t.Helper()
	h, err := ParseHeader(blob[:HeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	return DecodeTag(h, blob[HeaderSize:h.Size], codepage.ISO88591)
}

func buildTag(frames ...[]byte) []byte {
	var body []byte
	for _, f := range frames {
		body = append(body, f...)
	}
	return append(EncodeHeader(len(body)), body...)
}

func TestEncodeDecodeTextFrames(t *testing.T) {
	blob := buildTag(
		EncodeFrame("TIT2", "title"),
		EncodeFrame("TPE1", "artist"),
		EncodeFrame("TALB", "album"),
	)
	recs := decodeWhole(t, blob)
	want := map[tag.ID]string{tag.Title: "title", tag.Artist: "artist", tag.Album: "album"}
	if len(recs) != 3 {
		t.Fatalf("records %+v", recs)
	}
	for _, r := range recs {
		if want[r.ID] != r.Value {
			t.Fatalf("record %+v", r)
		}
	}
}

func TestTrackNumberSplit(t *testing.T) {
	recs := decodeWhole(t, buildTag(EncodeFrame("TRCK", "3/12")))
	if len(recs) != 2 {
		t.Fatalf("records %+v", recs)
	}
	if recs[0].ID != tag.TrackNo || recs[0].Value != "3" {
		t.Fatalf("track number %+v", recs[0])
	}
	if recs[1].ID != tag.TrackTotal || recs[1].Value != "12" {
		t.Fatalf("track total %+v", recs[1])
	}
}

func TestGenreIndexMapped(t *testing.T) {
	recs := decodeWhole(t, buildTag(EncodeFrame("TCON", "(17)")))
	if len(recs) != 1 || recs[0].ID != tag.Genre || recs[0].Value != "Rock" {
		t.Fatalf("records %+v", recs)
	}
}

func TestTXXXUserField(t *testing.T) {
	recs := decodeWhole(t, buildTag(EncodeFrame("TXXX", "replaygain_track_gain\x00-6.0 dB")))
	if len(recs) != 1 || recs[0].Name != "replaygain_track_gain" || recs[0].Value != "-6.0 dB" {
		t.Fatalf("records %+v", recs)
	}
}

func TestUnsyncUnescape(t *testing.T) {
	in := []byte{0xFF, 0x00, 0xE0, 0x12, 0xFF, 0x00, 0x00}
	out := Unescape(in)
	want := []byte{0xFF, 0xE0, 0x12, 0xFF, 0x00}
	if string(out) != string(want) {
		t.Fatalf("unescape % x -> % x, want % x", in, out, want)
	}
}

func TestV22FrameIDs(t *testing.T) {
	// An ID3v2.2 tag: 3-char ids, 3-byte sizes, no frame flags.
	frame := func(id string, value string) []byte {
		body := append([]byte{0}, value...) // ISO-8859-1 encoding byte
		out := []byte(id)
		out = append(out, byte(len(body)>>16), byte(len(body)>>8), byte(len(body)))
		return append(out, body...)
	}
	body := append(frame("TT2", "old title"), frame("TP1", "old artist")...)
	blob := append([]byte("ID3\x02\x00\x00"), 0, 0, byte(len(body)>>7), byte(len(body)&0x7F))
	blob = append(blob, body...)

	h, err := ParseHeader(blob[:HeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	recs := DecodeTag(h, blob[HeaderSize:], codepage.ISO88591)
	if len(recs) != 2 || recs[0].ID != tag.Title || recs[0].Value != "old title" || recs[1].ID != tag.Artist {
		t.Fatalf("records %+v", recs)
	}
}
