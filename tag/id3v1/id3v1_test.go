package id3v1

import (
	"testing"

	"github.com/pchchv/avpack/internal/codepage"
	"github.com/pchchv/avpack/tag"
)

func TestEncodeDecode(t *testing.T) {
	in := []tag.Record{
		{ID: tag.Title, Value: "title"},
		{ID: tag.Artist, Value: "artist"},
		{ID: tag.Album, Value: "album"},
		{ID: tag.Date, Value: "1999"},
		{ID: tag.Comment, Value: "hi"},
		{ID: tag.TrackNo, Value: "7"},
		{ID: tag.Genre, Value: "Rock"},
	}
	blob := Encode(in)
	if len(blob) != Size {
		t.Fatalf("encoded %d bytes", len(blob))
	}
	recs, ok := Decode(blob, codepage.ISO88591)
	if !ok {
		t.Fatal("round trip did not decode")
	}
	got := map[tag.ID]string{}
	for _, r := range recs {
		got[r.ID] = r.Value
	}
	for _, w := range in {
		if got[w.ID] != w.Value {
			t.Fatalf("%v = %q, want %q (all: %v)", w.ID, got[w.ID], w.Value, got)
		}
	}
}

func TestDecodeRejectsJunk(t *testing.T) {
	if _, ok := Decode(make([]byte, Size), codepage.ISO88591); ok {
		t.Fatal("zeroed block must not decode")
	}
	if _, ok := Decode([]byte("TAG"), codepage.ISO88591); ok {
		t.Fatal("short block must not decode")
	}
}

func TestGenreName(t *testing.T) {
	if GenreName(17) != "Rock" || GenreName(0) != "Blues" {
		t.Fatal("genre table broken")
	}
	if GenreName(-1) != "" || GenreName(1000) != "" {
		t.Fatal("out-of-range genre must be empty")
	}
}
