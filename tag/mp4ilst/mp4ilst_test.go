package mp4ilst

import (
	"testing"

	"github.com/pchchv/avpack/tag"
)

func TestTextItem(t *testing.T) {
	recs := DecodeData("\xa9nam", EncodeData("my title"))
	if len(recs) != 1 || recs[0].ID != tag.Title || recs[0].Value != "my title" {
		t.Fatalf("records %+v", recs)
	}
}

func TestTrknPair(t *testing.T) {
	recs := DecodeData("trkn", EncodeTrkn(3, 11))
	if len(recs) != 2 {
		t.Fatalf("records %+v", recs)
	}
	if recs[0].ID != tag.TrackNo || recs[0].Value != "3" {
		t.Fatalf("track %+v", recs[0])
	}
	if recs[1].ID != tag.TrackTotal || recs[1].Value != "11" {
		t.Fatalf("total %+v", recs[1])
	}
}

func TestGenreIndex(t *testing.T) {
	data := make([]byte, dataHeaderSize+2)
	data[dataHeaderSize+1] = 18 // 1-based: Rock
	recs := DecodeData("gnre", data)
	if len(recs) != 1 || recs[0].ID != tag.Genre || recs[0].Value != "Rock" {
		t.Fatalf("records %+v", recs)
	}
}

func TestUnknownTypeRejected(t *testing.T) {
	data := EncodeData("x")
	data[3] = DataJPEG
	if recs := DecodeData("\xa9nam", data); recs != nil {
		t.Fatalf("records %+v", recs)
	}
}

func TestMeanNameData(t *testing.T) {
	rec := DecodeMeanNameData("com.apple.iTunes", "iTunSMPB", EncodeData(" 00000000 00000840"))
	if rec.Name != "com.apple.iTunes:iTunSMPB" || rec.Value != " 00000000 00000840" {
		t.Fatalf("record %+v", rec)
	}
}
