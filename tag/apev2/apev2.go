// Package apev2 decodes and encodes APEv2 tags: a 32-byte footer locating
// the tag block, then length-prefixed name/value fields.
package apev2

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/pchchv/avpack/internal/tagid"
	"github.com/pchchv/avpack/tag"
)

// FooterSize is the fixed size of the trailing (or leading) APEv2 header.
const FooterSize = 32

var magic = []byte("APETAGEX")

// header/footer flag bits.
const (
	flagHasHeader = 1 << 31
	flagIsHeader  = 1 << 29
)

// per-item flags.
const (
	itemFlagMask   = 6
	itemFlagBinary = 2
)

// Footer is the parsed 32-byte APEv2 footer.
type Footer struct {
	Version   uint32
	TagSize   uint32 // fields + footer, header excluded
	ItemCount uint32
	Flags     uint32
}

// ErrNotAPE means data's trailing 32 bytes are not an APEv2 footer.
var ErrNotAPE = errors.New("apev2: not an APE tag")

// ErrUnsupportedVersion means the footer's version is not 2000.
var ErrUnsupportedVersion = errors.New("apev2: unsupported version")

// HasHeader reports whether a 32-byte header precedes the tag body
// (flagHasHeader in Flags).
func (f Footer) HasHeader() bool { return f.Flags&flagHasHeader != 0 }

// TotalSize is the number of bytes to seek back from the end of file to
// reach the start of the tag: TagSize, plus another FooterSize if a header
// is present.
func (f Footer) TotalSize() int64 {
	n := int64(f.TagSize)
	if f.HasHeader() {
		n += FooterSize
	}
	return n
}

// ParseFooter parses the trailing 32 bytes of a file as an APEv2 footer.
// data must be exactly FooterSize bytes.
func ParseFooter(data []byte) (Footer, error) {
	if len(data) != FooterSize || !bytes.Equal(data[0:8], magic) {
		return Footer{}, ErrNotAPE
	}
	f := Footer{
		Version:   binary.LittleEndian.Uint32(data[8:12]),
		TagSize:   binary.LittleEndian.Uint32(data[12:16]),
		ItemCount: binary.LittleEndian.Uint32(data[16:20]),
		Flags:     binary.LittleEndian.Uint32(data[20:24]),
	}
	if f.TagSize < FooterSize {
		return Footer{}, ErrNotAPE
	}
	if f.Version != 2000 {
		return Footer{}, ErrUnsupportedVersion
	}
	return f, nil
}

var table = tagid.NewTable(map[string]tagid.ID{
	"album":                 tagid.Album,
	"albumartist":           tagid.AlbumArtist,
	"artist":                tagid.Artist,
	"comment":               tagid.Comment,
	"cover art (front)":     tagid.Picture,
	"genre":                 tagid.Genre,
	"publisher":             tagid.Publisher,
	"replaygain_track_gain": tagid.ReplayGainTrackGain,
	"replaygain_track_peak": tagid.ReplayGainTrackPeak,
	"replaygain_album_gain": tagid.ReplayGainAlbumGain,
	"replaygain_album_peak": tagid.ReplayGainAlbumPeak,
	"title":                 tagid.Title,
	"track":                 tagid.TrackNo,
	"year":                  tagid.Date,
	"composer":              tagid.Composer,
	"copyright":             tagid.Copyright,
})

// Decode iterates the {value_len, flags, name\0, value} records in body
// (the tag body, header and footer already stripped) and returns one
// record per field. Binary items (itemFlagBinary, e.g. embedded art) are
// still returned with Value holding the raw bytes as a string; callers that
// care about Picture should treat apev2's Picture record as opaque bytes.
func Decode(body []byte, count uint32) ([]tag.Record, error) {
	var records []tag.Record
	for i := uint32(0); i < count; i++ {
		if len(body) < 8 {
			return records, errors.New("apev2: truncated field header")
		}
		valLen := binary.LittleEndian.Uint32(body[0:4])
		body = body[8:]
		nul := bytes.IndexByte(body, 0)
		if nul < 0 || uint32(nul+1)+valLen > uint32(len(body)) {
			return records, errors.New("apev2: corrupted field data")
		}
		name := string(body[:nul])
		value := body[nul+1 : nul+1+int(valLen)]
		body = body[nul+1+int(valLen):]
		records = append(records, tag.Record{ID: tagid.Lookup(table, name), Name: name, Value: string(value)})
	}
	return records, nil
}

// Encode builds a complete APEv2 tag (body + footer, no leading header)
// from records.
func Encode(records []tag.Record) []byte {
	var body []byte
	for _, r := range records {
		name := r.Name
		if name == "" {
			name = r.ID.String()
		}
		val := []byte(r.Value)
		var hdr [8]byte
		binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(val)))
		body = append(body, hdr[:]...)
		body = append(body, name...)
		body = append(body, 0)
		body = append(body, val...)
	}

	footer := make([]byte, FooterSize)
	copy(footer[0:8], magic)
	binary.LittleEndian.PutUint32(footer[8:12], 2000)
	binary.LittleEndian.PutUint32(footer[12:16], uint32(len(body)+FooterSize))
	binary.LittleEndian.PutUint32(footer[16:20], uint32(len(records)))
	return append(body, footer...)
}
