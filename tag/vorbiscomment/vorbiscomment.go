// Package vorbiscomment decodes and encodes the length-prefixed Vorbis
// Comment block used by OGG Vorbis/Opus/FLAC streams.
package vorbiscomment

import (
	"encoding/binary"
	"errors"
	"strings"

	"github.com/pchchv/avpack/internal/tagid"
	"github.com/pchchv/avpack/tag"
)

// ErrShort means data does not hold a complete Vorbis Comment block.
var ErrShort = errors.New("vorbiscomment: truncated block")

var table = tagid.NewTable(map[string]tagid.ID{
	"ALBUM":                 tagid.Album,
	"ALBUM ARTIST":          tagid.AlbumArtist,
	"ALBUMARTIST":           tagid.AlbumArtist,
	"ARTIST":                tagid.Artist,
	"COMMENT":               tagid.Comment,
	"COMPOSER":              tagid.Composer,
	"DATE":                  tagid.Date,
	"DISCNUMBER":            tagid.DiscNumber,
	"GENRE":                 tagid.Genre,
	"LYRICS":                tagid.Lyrics,
	"PUBLISHER":             tagid.Publisher,
	"REPLAYGAIN_TRACK_GAIN": tagid.ReplayGainTrackGain,
	"REPLAYGAIN_TRACK_PEAK": tagid.ReplayGainTrackPeak,
	"REPLAYGAIN_ALBUM_GAIN": tagid.ReplayGainAlbumGain,
	"REPLAYGAIN_ALBUM_PEAK": tagid.ReplayGainAlbumPeak,
	"TITLE":                 tagid.Title,
	"TOTALTRACKS":           tagid.TrackTotal,
	"TRACKNUMBER":           tagid.TrackNo,
	"TRACKTOTAL":            tagid.TrackTotal,
})

// Decode parses a complete Vorbis Comment block (vendor string, count,
// then count KEY=VALUE records) and returns one tag.Record per field, in
// on-disk order, with a synthetic leading Vendor record.
func Decode(data []byte) ([]tag.Record, error) {
	if len(data) < 4 {
		return nil, ErrShort
	}
	vendorLen := int(binary.LittleEndian.Uint32(data))
	data = data[4:]
	if vendorLen > len(data) {
		return nil, ErrShort
	}
	records := []tag.Record{{ID: tag.Vendor, Name: "VENDOR", Value: string(data[:vendorLen])}}
	data = data[vendorLen:]

	if len(data) < 4 {
		return nil, ErrShort
	}
	count := binary.LittleEndian.Uint32(data)
	data = data[4:]
	for i := uint32(0); i < count; i++ {
		if len(data) < 4 {
			return nil, ErrShort
		}
		n := int(binary.LittleEndian.Uint32(data))
		data = data[4:]
		if n > len(data) {
			return nil, ErrShort
		}
		field := data[:n]
		data = data[n:]
		name, val, _ := strings.Cut(string(field), "=")
		records = append(records, tag.Record{ID: tagid.Lookup(table, name), Name: name, Value: val})
	}
	return records, nil
}

// Normalize maps one free-form KEY/value pair through the same
// case-insensitive name table Decode uses; callers with key/value metadata
// outside a Vorbis Comment block (CAF info entries) share the mapping.
func Normalize(name, value string) tag.Record {
	return tag.Record{ID: tagid.Lookup(table, name), Name: name, Value: value}
}

// Encode builds a complete Vorbis Comment block from records. A Vendor
// record supplies the vendor string (empty if none is present); every
// other record is written as an upper-cased-name KEY=VALUE entry, using
// Name verbatim when set, else the normalized id's canonical field name.
func Encode(vendor string, records []tag.Record) []byte {
	var entries [][]byte
	for _, r := range records {
		if r.ID == tag.Vendor {
			continue
		}
		name := r.Name
		if name == "" {
			name = strings.ToUpper(r.ID.String())
		}
		entries = append(entries, []byte(strings.ToUpper(name)+"="+r.Value))
	}

	size := 4 + len(vendor) + 4
	for _, e := range entries {
		size += 4 + len(e)
	}
	buf := make([]byte, 0, size)
	var lenBuf [4]byte

	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(vendor)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, vendor...)

	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(entries)))
	buf = append(buf, lenBuf[:]...)
	for _, e := range entries {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, e...)
	}
	return buf
}
