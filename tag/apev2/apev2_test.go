package apev2

import (
	"testing"

	"github.com/pchchv/avpack/tag"
)

func TestEncodeDecodeReplayGain(t *testing.T) {
	in := []tag.Record{
		{Name: "MP3GAIN_MINMAX", Value: "083,210"},
		{Name: "REPLAYGAIN_TRACK_GAIN", Value: "+0.060000 dB"},
		{Name: "REPLAYGAIN_TRACK_PEAK", Value: "0.923697"},
	}
	blob := Encode(in)

	f, err := ParseFooter(blob[len(blob)-FooterSize:])
	if err != nil {
		t.Fatal(err)
	}
	if f.ItemCount != 3 || f.Version != 2000 {
		t.Fatalf("footer %+v", f)
	}
	body := blob[:len(blob)-FooterSize]
	recs, err := Decode(body, f.ItemCount)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("records %+v", recs)
	}
	if recs[0].Name != "MP3GAIN_MINMAX" || recs[0].Value != "083,210" || recs[0].ID != tag.Unknown {
		t.Fatalf("first %+v", recs[0])
	}
	if recs[1].ID != tag.ReplayGainTrackGain || recs[1].Value != "+0.060000 dB" {
		t.Fatalf("second %+v", recs[1])
	}
	if recs[2].ID != tag.ReplayGainTrackPeak || recs[2].Value != "0.923697" {
		t.Fatalf("third %+v", recs[2])
	}
}

func TestCaseInsensitiveNames(t *testing.T) {
	blob := Encode([]tag.Record{{Name: "ArTiSt", Value: "x"}})
	recs, err := Decode(blob[:len(blob)-FooterSize], 1)
	if err != nil {
		t.Fatal(err)
	}
	if recs[0].ID != tag.Artist || recs[0].Name != "ArTiSt" {
		t.Fatalf("record %+v", recs[0])
	}
}

func TestBadFooter(t *testing.T) {
	if _, err := ParseFooter(make([]byte, FooterSize)); err == nil {
		t.Fatal("zeroed footer must not parse")
	}
	bad := Encode(nil)
	bad[8], bad[9] = 0xE8, 0x03 // version 1000
	if _, err := ParseFooter(bad[len(bad)-FooterSize:]); err == nil {
		t.Fatal("wrong version must not parse")
	}
}
