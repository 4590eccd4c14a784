package pls

import "testing"

func TestParse(t *testing.T) {
	data := []byte("[playlist]\r\n" +
		"File1=http://example.com/one.mp3\r\n" +
		"Title1=One\r\n" +
		"Length1=60\r\n" +
		"File2=/two.ogg\r\n" +
		"Title2=Two\r\n" +
		"Length2=-1\r\n" +
		"NumberOfEntries=2\r\n")
	entries := Parse(data)
	if len(entries) != 2 {
		t.Fatalf("entries %+v", entries)
	}
	if entries[0].URL != "http://example.com/one.mp3" || entries[0].Title != "One" || entries[0].DurationSec != 60 {
		t.Fatalf("first %+v", entries[0])
	}
	if entries[1].URL != "/two.ogg" || entries[1].DurationSec != -1 {
		t.Fatalf("second %+v", entries[1])
	}
}
