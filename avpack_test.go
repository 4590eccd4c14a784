package avpack

import "testing"

func TestSniff(t *testing.T) {
	tsPrefix := make([]byte, SniffLen)
	tsPrefix[0] = 0x47
	tsPrefix[188] = 0x47

	cases := []struct {
		name   string
		prefix []byte
		want   Format
	}{
		{"flac", []byte("fLaCxxxx"), FormatFLAC},
		{"ogg", []byte("OggSxxxx"), FormatOGG},
		{"wavpack", []byte("wvpkxxxx"), FormatWavPack},
		{"caf", []byte("caff\x00\x01\x00\x00"), FormatCAF},
		{"mkv", []byte{0x1A, 0x45, 0xDF, 0xA3, 1, 2, 3, 4}, FormatMKV},
		{"wav", []byte("RIFF\x00\x00\x00\x00WAVEfmt "), FormatWAV},
		{"avi", []byte("RIFF\x00\x00\x00\x00AVI LIST"), FormatAVI},
		{"mp4", []byte("\x00\x00\x00\x20ftypM4A "), FormatMP4},
		{"id3-mp3", []byte("ID3\x04\x00\x00\x00\x00\x00\x00"), FormatMPEG1},
		{"ts", tsPrefix, FormatTS},
		{"adts", []byte{0xFF, 0xF1, 0x50, 0x80, 0, 0, 0}, FormatADTS},
		{"mp3-sync", []byte{0xFF, 0xFB, 0x90, 0x00}, FormatMPEG1},
		{"bmp", []byte("BMxxxxxx"), FormatBMP},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, FormatPNG},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, FormatJPEG},
		{"unknown", []byte("nothing recognizable"), FormatUnknown},
	}
	for _, tc := range cases {
		if got := Sniff(tc.prefix); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSniffShortPrefix(t *testing.T) {
	if got := Sniff([]byte{0x47}); got == FormatTS {
		t.Error("one byte must not identify a transport stream")
	}
	if got := Sniff(nil); got != FormatUnknown {
		t.Errorf("empty prefix: %v", got)
	}
}

func TestStatusString(t *testing.T) {
	for st, want := range map[Status]string{
		StatusHeader: "header",
		StatusMore:   "more",
		StatusFin:    "fin",
		Status(99):   "<unknown status>",
	} {
		if st.String() != want {
			t.Errorf("%d: %q", st, st.String())
		}
	}
}
