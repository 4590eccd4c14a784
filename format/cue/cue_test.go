package cue

import "testing"

func TestParseSheet(t *testing.T) {
	data := []byte(`REM GENRE "Rock"
PERFORMER "The Band"
TITLE "The Album"
FILE "album.flac" WAVE
  TRACK 01 AUDIO
    TITLE "First"
    INDEX 01 00:00:00
  TRACK 02 AUDIO
    TITLE "Second"
    PERFORMER "Guest"
    INDEX 00 03:58:60
    INDEX 01 04:00:00
`)
	sheet := Parse(data)
	if sheet.Performer != "The Band" || sheet.Title != "The Album" {
		t.Fatalf("sheet %+v", sheet)
	}
	if sheet.Rem["GENRE"] != "Rock" {
		t.Fatalf("rem %+v", sheet.Rem)
	}
	if len(sheet.Files) != 1 || sheet.Files[0].Name != "album.flac" || sheet.Files[0].Type != "WAVE" {
		t.Fatalf("files %+v", sheet.Files)
	}
	tracks := sheet.Files[0].Tracks
	if len(tracks) != 2 {
		t.Fatalf("tracks %+v", tracks)
	}
	if tracks[0].Number != 1 || tracks[0].Title != "First" || tracks[0].Index1 != 0 {
		t.Fatalf("track 1 %+v", tracks[0])
	}
	if tracks[1].Performer != "Guest" {
		t.Fatalf("track 2 performer %q", tracks[1].Performer)
	}
	if tracks[1].Index0 != (3*60+58)*75+60 || tracks[1].Index1 != 4*60*75 {
		t.Fatalf("track 2 indexes %d %d", tracks[1].Index0, tracks[1].Index1)
	}
}
