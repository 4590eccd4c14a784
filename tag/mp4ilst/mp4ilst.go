// Package mp4ilst decodes and encodes MP4 "ilst" item-list atoms: each
// named item carries a typed "data" child atom.
package mp4ilst

import (
	"encoding/binary"

	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/id3v1"
)

// data-atom type byte values.
const (
	DataImplicit = 0
	DataUTF8     = 1
	DataJPEG     = 13
	DataPNG      = 14
	DataInt      = 21
)

// dataHeaderSize is the data atom's fixed header: 3 reserved bytes, one
// type byte, then a 4-byte locale field.
const dataHeaderSize = 8

// itemTag is a well-known ilst item atom id.
type itemTag struct {
	fourCC string
	id     tag.ID
}

var knownItems = []itemTag{
	{"\xa9nam", tag.Title},
	{"\xa9ART", tag.Artist},
	{"aART", tag.AlbumArtist},
	{"\xa9alb", tag.Album},
	{"\xa9day", tag.Date},
	{"\xa9wrt", tag.Composer},
	{"\xa9too", tag.Encoder},
	{"\xa9cmt", tag.Comment},
	{"\xa9gen", tag.Genre},
	{"cprt", tag.Copyright},
	{"disk", tag.DiscNumber},
	{"trkn", tag.TrackNo},
	{"gnre", tag.Genre},
	{"covr", tag.Picture},
}

func lookup(fourCC string) tag.ID {
	for _, it := range knownItems {
		if it.fourCC == fourCC {
			return it.id
		}
	}
	return tag.Unknown
}

// DecodeData decodes one ilst item's "data" child atom payload (the full
// atom body, dataHeaderSize-byte data-atom header included) given the
// parent item's four-char atom id. trkn and disk yield two records
// (TrackNo+TrackTotal, DiscNumber+DiscTotal); gnre maps an ID3v1 genre
// index; covr is returned as an opaque Picture record holding the raw
// image bytes as its Value. Any other parent id with a UTF-8 data atom
// yields one record named after the parent id (ID Unknown when the id is
// not a well-known item). Returns nil if the atom is malformed or its type
// byte does not match the item.
func DecodeData(parentFourCC string, data []byte) []tag.Record {
	if len(data) < dataHeaderSize {
		return nil
	}
	typ := data[3]
	body := data[dataHeaderSize:]

	switch parentFourCC {
	case "trkn":
		if len(body) < 8 || typ != DataImplicit {
			return nil
		}
		num := binary.BigEndian.Uint16(body[2:4])
		total := binary.BigEndian.Uint16(body[4:6])
		return []tag.Record{
			{ID: tag.TrackNo, Name: "TrackNo", Value: itoa(int(num))},
			{ID: tag.TrackTotal, Name: "TrackTotal", Value: itoa(int(total))},
		}
	case "disk":
		if len(body) < 6 || typ != DataImplicit {
			return nil
		}
		num := binary.BigEndian.Uint16(body[2:4])
		total := binary.BigEndian.Uint16(body[4:6])
		return []tag.Record{
			{ID: tag.DiscNumber, Name: "DiscNumber", Value: itoa(int(num))},
			{ID: tag.DiscTotal, Name: "DiscTotal", Value: itoa(int(total))},
		}
	case "gnre":
		if len(body) < 2 {
			return nil
		}
		idx := binary.BigEndian.Uint16(body[0:2])
		name := id3v1.GenreName(int(idx) - 1)
		if name == "" {
			return nil
		}
		return []tag.Record{{ID: tag.Genre, Name: "Genre", Value: name}}
	case "covr":
		return []tag.Record{{ID: tag.Picture, Name: "Picture", Value: string(body)}}
	default:
		if typ != DataUTF8 {
			return nil
		}
		id := lookup(parentFourCC)
		return []tag.Record{{ID: id, Name: parentFourCC, Value: string(body)}}
	}
}

// DecodeMeanNameData recovers one iTunes "----" freeform atom, used for
// iTunSMPB (encoder delay / end padding). mean and name are the verbatim
// child atom payloads (reverse-DNS namespace and key); data is the "data"
// child's payload (header included, as with DecodeData).
func DecodeMeanNameData(mean, name string, data []byte) tag.Record {
	if len(data) < dataHeaderSize {
		return tag.Record{}
	}
	return tag.Record{ID: tag.Unknown, Name: mean + ":" + name, Value: string(data[dataHeaderSize:])}
}

// EncodeData builds a complete "data" child atom payload (header + body)
// for a plain UTF-8 text value.
func EncodeData(value string) []byte {
	buf := make([]byte, dataHeaderSize, dataHeaderSize+len(value))
	buf[3] = DataUTF8
	return append(buf, value...)
}

// EncodeTrkn builds the "data" child payload for a trkn/disk-style
// implicit-type {num, total} pair.
func EncodeTrkn(num, total uint16) []byte {
	buf := make([]byte, dataHeaderSize+8)
	buf[3] = DataImplicit
	binary.BigEndian.PutUint16(buf[dataHeaderSize+2:], num)
	binary.BigEndian.PutUint16(buf[dataHeaderSize+4:], total)
	return buf
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}
