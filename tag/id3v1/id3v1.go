// Package id3v1 decodes and encodes the fixed 128-byte ID3v1 trailer tag,
// including the canonical 80-entry genre table.
package id3v1

import (
	"bytes"
	"fmt"

	"github.com/pchchv/avpack/internal/codepage"
	"github.com/pchchv/avpack/tag"
)

// Size is the fixed length of an ID3v1 trailer.
const Size = 128

// Genres is the canonical ID3v1 genre table. Index is the on-disk genre
// byte; values past the end of this table have no name.
var Genres = [...]string{
	"Blues", "Classic Rock", "Country", "Dance", "Disco",
	"Funk", "Grunge", "Hip-Hop", "Jazz", "Metal",
	"New Age", "Oldies", "Other", "Pop", "R&B",
	"Rap", "Reggae", "Rock", "Techno", "Industrial",
	"Alternative", "Ska", "Death Metal", "Pranks", "Soundtrack",
	"Euro-Techno", "Ambient", "Trip-Hop", "Vocal", "Jazz+Funk",
	"Fusion", "Trance", "Classical", "Instrumental", "Acid",
	"House", "Game", "Sound Clip", "Gospel", "Noise",
	"AlternRock", "Bass", "Soul", "Punk", "Space",
	"Meditative", "Instrumental Pop", "Instrumental Rock", "Ethnic", "Gothic",
	"Darkwave", "Techno-Industrial", "Electronic", "Pop-Folk", "Eurodance",
	"Dream", "Southern Rock", "Comedy", "Cult", "Gangsta",
	"Top 40", "Christian Rap", "Pop/Funk", "Jungle", "Native American",
	"Cabaret", "New Wave", "Psychadelic", "Rave", "Showtunes",
	"Trailer", "Lo-Fi", "Tribal", "Acid Punk", "Acid Jazz",
	"Polka", "Retro", "Musical", "Rock & Roll", "Hard Rock",
}

// GenreName returns the canonical name for genre byte n, or "" if n is
// outside the known table (used by ID3v2's TCON "(NN)" numeric form too).
func GenreName(n int) string {
	if n < 0 || n >= len(Genres) {
		return ""
	}
	return Genres[n]
}

// Decode parses a 128-byte ID3v1 trailer (data must be exactly Size bytes,
// already gathered) into normalized tag records, in field order: Title,
// Artist, Album, Date, Comment, TrackNo, Genre. Returns ok=false if data is
// not a valid ID3v1 trailer (no leading "TAG").
func Decode(data []byte, cp codepage.ID) (records []tag.Record, ok bool) {
	if len(data) != Size || !bytes.Equal(data[:3], []byte("TAG")) {
		return nil, false
	}
	title := data[3:33]
	artist := data[33:63]
	album := data[63:93]
	year := data[93:97]
	comment := data[97:126]
	trackNo := data[126]
	hasTrack := data[125] == 0 && trackNo != 0
	genre := data[127]

	add := func(id tag.ID, raw []byte) {
		s := trim(raw)
		if len(s) == 0 {
			return
		}
		records = append(records, tag.Record{ID: id, Name: id.String(), Value: decodeText(s, cp)})
	}
	add(tag.Title, title)
	add(tag.Artist, artist)
	add(tag.Album, album)
	add(tag.Date, year)
	if hasTrack {
		add(tag.Comment, comment[:28])
	} else {
		add(tag.Comment, comment)
	}
	if hasTrack {
		records = append(records, tag.Record{ID: tag.TrackNo, Name: "TrackNo", Value: fmt.Sprintf("%d", trackNo)})
	}
	if name := GenreName(int(genre)); name != "" {
		records = append(records, tag.Record{ID: tag.Genre, Name: "Genre", Value: name})
	}
	return records, true
}

// trim strips trailing NUL and space bytes, as the reference implementation
// does before any charset decoding.
func trim(b []byte) []byte {
	i := len(b)
	for i > 0 && (b[i-1] == 0 || b[i-1] == ' ') {
		i--
	}
	return b[:i]
}

func decodeText(b []byte, cp codepage.ID) string {
	if isValidUTF8(b) {
		return string(b)
	}
	return codepage.ToUTF8(b, cp)
}

func isValidUTF8(b []byte) bool {
	for i := 0; i < len(b); {
		c := b[i]
		if c < 0x80 {
			i++
			continue
		}
		return false
	}
	return true
}

// Encode builds a 128-byte ID3v1 trailer from records, writing only the
// fields ID3v1 can carry. Track number is written only when both TrackNo is
// present and it fits in one byte; genre is looked up case-sensitively
// against Genres, else left as 0xFF ("undefined", per id3v1write_init).
func Encode(records []tag.Record) []byte {
	buf := make([]byte, Size)
	copy(buf[0:3], "TAG")
	buf[127] = 0xFF
	var trackNo byte
	haveTrack := false
	for _, r := range records {
		switch r.ID {
		case tag.Title:
			copyField(buf[3:33], r.Value)
		case tag.Artist:
			copyField(buf[33:63], r.Value)
		case tag.Album:
			copyField(buf[63:93], r.Value)
		case tag.Date:
			copyField(buf[93:97], r.Value)
		case tag.Comment:
			copyField(buf[97:125], r.Value)
		case tag.TrackNo:
			var n int
			if _, err := fmt.Sscanf(r.Value, "%d", &n); err == nil && n >= 0 && n <= 255 {
				trackNo = byte(n)
				haveTrack = true
			}
		case tag.Genre:
			for i, name := range Genres {
				if name == r.Value {
					buf[127] = byte(i)
					break
				}
			}
		}
	}
	if haveTrack {
		buf[125] = 0
		buf[126] = trackNo
	}
	return buf
}

func copyField(dst []byte, s string) {
	b := []byte(s)
	if len(b) > len(dst) {
		b = b[:len(dst)]
	}
	copy(dst, b)
}
