package vorbiscomment

import (
	"testing"

	"github.com/pchchv/avpack/tag"
)

func TestEncodeDecode(t *testing.T) {
	in := []tag.Record{
		{ID: tag.Artist, Name: "ARTIST", Value: "artist"},
		{ID: tag.Title, Name: "TITLE", Value: "title"},
		{ID: tag.Unknown, Name: "CUSTOMKEY", Value: "custom"},
	}
	blob := Encode("vendor-string", in)
	recs, err := Decode(blob)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 4 {
		t.Fatalf("records %+v", recs)
	}
	if recs[0].ID != tag.Vendor || recs[0].Value != "vendor-string" {
		t.Fatalf("vendor %+v", recs[0])
	}
	if recs[1].ID != tag.Artist || recs[1].Value != "artist" {
		t.Fatalf("artist %+v", recs[1])
	}
	if recs[3].ID != tag.Unknown || recs[3].Name != "CUSTOMKEY" {
		t.Fatalf("custom %+v", recs[3])
	}
}

func TestCaseInsensitiveKeys(t *testing.T) {
	blob := Encode("", []tag.Record{{Name: "tracknumber", Value: "5"}})
	recs, err := Decode(blob)
	if err != nil {
		t.Fatal(err)
	}
	if recs[1].ID != tag.TrackNo || recs[1].Value != "5" {
		t.Fatalf("record %+v", recs[1])
	}
}

func TestTruncated(t *testing.T) {
	blob := Encode("v", []tag.Record{{Name: "TITLE", Value: "t"}})
	for _, cut := range []int{1, 5, len(blob) - 1} {
		if _, err := Decode(blob[:cut]); err == nil {
			t.Fatalf("cut=%d: truncated block must not decode", cut)
		}
	}
}
