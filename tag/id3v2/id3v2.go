// Package id3v2 decodes and encodes ID3v2.2/2.3/2.4 tags, including
// unsynchronization, the four text encodings, and the special frame forms
// (TRCK, TCON, TXXX, COMM/USLT).
package id3v2

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/pchchv/avpack/internal/codepage"
	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/id3v1"
)

// HeaderSize is the fixed 10-byte ID3v2 tag header.
const HeaderSize = 10

// header flag bits.
const (
	flagExtHeader = 0x40
	flagUnsync    = 0x80
)

// frame flag bits, v2.3/2.4 only.
const (
	frameFlagDataLen = 1
	frameFlagUnsync  = 2
)

// text encoding byte values.
const (
	encISO88591 = iota
	encUTF16BOM
	encUTF16BE
	encUTF8
)

var magic = []byte("ID3")

// Header is the parsed 10-byte ID3v2 tag header.
type Header struct {
	Version byte  // 2, 3, or 4
	Flags   byte  // raw header flags
	Size    int64 // size of the whole tag, header included, payload excluded of any trailing footer
	skip    int64 // extended header bytes to skip before the first frame
}

// ErrBadMagic means data does not begin with "ID3".
var ErrBadMagic = errors.New("id3v2: bad magic")

// ErrUnsupported means a header flag or version this module does not model
// was present.
var ErrUnsupported = errors.New("id3v2: unsupported header")

// ParseHeader decodes the fixed 10-byte header. data must be exactly
// HeaderSize bytes.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize || !bytes.Equal(data[:3], magic) {
		return Header{}, ErrBadMagic
	}
	n, ok := decodeSynchsafe32(data[6:10])
	if !ok {
		return Header{}, fmt.Errorf("%w: bad synchsafe size", ErrUnsupported)
	}
	h := Header{
		Version: data[3],
		Flags:   data[5],
		Size:    int64(HeaderSize) + int64(n),
	}
	switch h.Version {
	case 3:
		if h.Flags&^(flagUnsync|flagExtHeader) != 0 {
			return Header{}, fmt.Errorf("%w: header flags", ErrUnsupported)
		}
	case 2, 4:
		if h.Flags&^flagUnsync != 0 {
			return Header{}, fmt.Errorf("%w: header flags", ErrUnsupported)
		}
	default:
		return Header{}, fmt.Errorf("%w: version 2.%d", ErrUnsupported, h.Version)
	}
	return h, nil
}

// ExtHeaderLen reports how many bytes beyond the fixed header must still be
// gathered (and skipped) before frame parsing begins: the v2.3 extended
// header's own 4-byte size field, read from ext (the 4 bytes right after
// the fixed header). Call only when h.Flags has flagExtHeader set and
// h.Version==3; v2.4's extended header carries a synchsafe size, which
// DecodeTag decodes with decodeSynchsafe32 instead.
func ExtHeaderLen(ext []byte) int64 {
	return int64(binary.BigEndian.Uint32(ext))
}

// Frame is one parsed ID3v2 frame header.
type Frame struct {
	ID       string
	Size     int64 // whole frame length: frame header plus payload
	HeaderLen int  // frame header length, including the encoding byte (if any)
	Encoding int // -1 if the frame has no leading encoding byte
	Unsync   bool
}

// ParseFrameHeader parses one frame header from data, which must hold at
// least the frame header plus one byte. version is 2, 3, or 4.
func ParseFrameHeader(data []byte, version byte) (Frame, int, error) {
	var f Frame
	var hdrLen int
	var n uint32
	switch version {
	case 2:
		if len(data) < 6 {
			return Frame{}, 0, errors.New("id3v2: short frame header")
		}
		f.ID = string(data[0:3])
		n = uint32(data[3])<<16 | uint32(data[4])<<8 | uint32(data[5])
		hdrLen = 6
	default:
		if len(data) < 10 {
			return Frame{}, 0, errors.New("id3v2: short frame header")
		}
		f.ID = string(data[0:4])
		raw := binary.BigEndian.Uint32(data[4:8])
		if version == 4 {
			var ok bool
			n, ok = decodeSynchsafe32(data[4:8])
			if !ok {
				return Frame{}, 0, errors.New("id3v2: bad synchsafe frame size")
			}
		} else {
			if raw&0x80000000 != 0 {
				return Frame{}, 0, errors.New("id3v2: frame size high bit set")
			}
			n = raw
		}
		flags := data[9]
		if version == 4 && flags&^(frameFlagDataLen|frameFlagUnsync) != 0 {
			return Frame{}, 0, fmt.Errorf("%w: frame flags", ErrUnsupported)
		}
		if version == 3 && flags != 0 {
			return Frame{}, 0, fmt.Errorf("%w: frame flags", ErrUnsupported)
		}
		f.Unsync = version == 4 && flags&frameFlagUnsync != 0
		hdrLen = 10
		if version == 4 && flags&frameFlagDataLen != 0 {
			if len(data) < hdrLen+4 {
				return Frame{}, 0, errors.New("id3v2: short data-length-indicator")
			}
			hdrLen += 4
		}
	}

	i := hdrLen
	f.Encoding = -1
	isText := strings.HasPrefix(f.ID, "T") ||
		f.ID == "APIC" || f.ID == "COMM" || f.ID == "USLT" ||
		f.ID == "COM" || f.ID == "PIC"
	if isText {
		if len(data) < i+1 {
			return Frame{}, 0, errors.New("id3v2: missing encoding byte")
		}
		f.Encoding = int(data[i])
		i++
	}
	f.HeaderLen = i
	f.Size = int64(hdrLen) + int64(n)
	return f, i, nil
}

// decodeSynchsafe32 decodes a 4-byte synchsafe (7-bit-per-byte) integer;
// any byte with its high bit set is invalid.
func decodeSynchsafe32(b []byte) (uint32, bool) {
	if b[0]&0x80 != 0 || b[1]&0x80 != 0 || b[2]&0x80 != 0 || b[3]&0x80 != 0 {
		return 0, false
	}
	return uint32(b[0])<<21 | uint32(b[1])<<14 | uint32(b[2])<<7 | uint32(b[3]), true
}

func encodeSynchsafe32(n uint32) [4]byte {
	return [4]byte{
		byte(n >> 21 & 0x7f),
		byte(n >> 14 & 0x7f),
		byte(n >> 7 & 0x7f),
		byte(n & 0x7f),
	}
}

// Unescape reverses the unsynchronization scheme: 0xFF 0x00 -> 0xFF.
func Unescape(in []byte) []byte {
	out := make([]byte, 0, len(in))
	skip0 := false
	for i := 0; i < len(in); i++ {
		if skip0 {
			skip0 = false
			out = append(out, 0xFF)
			if in[i] == 0 {
				continue
			}
		}
		if in[i] == 0xFF {
			skip0 = true
			continue
		}
		out = append(out, in[i])
	}
	if skip0 {
		out = append(out, 0xFF)
	}
	return out
}

// DecodeFrameValue decodes a frame's payload (after the header and any
// leading encoding byte) into zero or more normalized records. frameID is
// the raw 3/4-char frame id (ID3v2.2 ids are upgraded to their v2.3/2.4
// equivalent by the caller before reaching here is not required: this
// function recognizes both forms).
func DecodeFrameValue(frameID string, encoding int, payload []byte, cp codepage.ID) []tag.Record {
	switch normalizeID(frameID) {
	case "TXXX":
		desc, val := splitNulPair(decodeText(payload, encoding, cp, true))
		return []tag.Record{{ID: tag.Unknown, Name: desc, Value: val}}
	case "COMM", "USLT":
		if len(payload) < 4 {
			return nil
		}
		text := decodeText(payload[4:], encoding, cp, true)
		_, val := splitNulPair(text)
		if val == "" {
			val = text
		}
		id := tag.Comment
		if normalizeID(frameID) == "USLT" {
			id = tag.Lyrics
		}
		return []tag.Record{{ID: id, Name: id.String(), Value: val}}
	case "TRCK":
		v := decodeText(payload, encoding, cp, false)
		num, total, _ := strings.Cut(v, "/")
		recs := []tag.Record{}
		if num != "" {
			recs = append(recs, tag.Record{ID: tag.TrackNo, Name: "TrackNo", Value: num})
		}
		if total != "" {
			recs = append(recs, tag.Record{ID: tag.TrackTotal, Name: "TrackTotal", Value: total})
		}
		return recs
	case "TPOS":
		v := decodeText(payload, encoding, cp, false)
		num, total, _ := strings.Cut(v, "/")
		recs := []tag.Record{}
		if num != "" {
			recs = append(recs, tag.Record{ID: tag.DiscNumber, Name: "DiscNumber", Value: num})
		}
		if total != "" {
			recs = append(recs, tag.Record{ID: tag.DiscTotal, Name: "DiscTotal", Value: total})
		}
		return recs
	case "TCON":
		v := decodeText(payload, encoding, cp, false)
		if strings.HasPrefix(v, "(") {
			if idx := strings.IndexByte(v, ')'); idx > 0 {
				if n, err := strconv.Atoi(v[1:idx]); err == nil {
					if name := id3v1.GenreName(n); name != "" {
						return []tag.Record{{ID: tag.Genre, Name: "Genre", Value: name}}
					}
				}
			}
		}
		return []tag.Record{{ID: tag.Genre, Name: "Genre", Value: v}}
	default:
		id, ok := fieldTable[normalizeID(frameID)]
		if !ok {
			return nil
		}
		v := decodeText(payload, encoding, cp, false)
		return []tag.Record{{ID: id, Name: id.String(), Value: v}}
	}
}

// DecodeTag walks every frame of a complete tag body (the bytes following
// the fixed 10-byte header, Header.Size-HeaderSize of them) and returns
// the decoded records in on-disk order. Malformed frames end the walk
// silently: a tag's padding region starts with a zero byte and is
// indistinguishable from one.
func DecodeTag(h Header, body []byte, cp codepage.ID) []tag.Record {
	if h.Flags&flagUnsync != 0 {
		body = Unescape(body)
	}
	if h.Flags&flagExtHeader != 0 && len(body) >= 4 {
		var skip int64
		if h.Version == 4 {
			// v2.4 extended header size includes its own four size bytes.
			if n, ok := decodeSynchsafe32(body[0:4]); ok {
				skip = int64(n)
			}
		} else {
			skip = 4 + ExtHeaderLen(body[0:4])
		}
		if skip < 0 || skip > int64(len(body)) {
			return nil
		}
		body = body[skip:]
	}

	var records []tag.Record
	for len(body) > 0 && body[0] != 0 {
		f, _, err := ParseFrameHeader(body, h.Version)
		if err != nil || f.Size > int64(len(body)) {
			break
		}
		payload := body[f.HeaderLen:f.Size]
		if f.Unsync {
			payload = Unescape(payload)
		}
		records = append(records, DecodeFrameValue(f.ID, f.Encoding, payload, cp)...)
		body = body[f.Size:]
	}
	return records
}

// normalizeID upgrades an ID3v2.2 3-char frame id to its v2.3/2.4 4-char
// equivalent for the small set this module decodes; unrecognized v2.2 ids
// pass through unchanged (and will miss fieldTable, becoming Unknown).
func normalizeID(id string) string {
	switch id {
	case "TT2":
		return "TIT2"
	case "TP1":
		return "TPE1"
	case "TP2":
		return "TPE2"
	case "TAL":
		return "TALB"
	case "TYE", "TDA":
		return "TYER"
	case "TCO":
		return "TCON"
	case "TRK":
		return "TRCK"
	case "TPA":
		return "TPOS"
	case "COM":
		return "COMM"
	case "ULT":
		return "USLT"
	case "TCM":
		return "TCOM"
	case "TPB":
		return "TPUB"
	case "TCR":
		return "TCOP"
	case "TXX":
		return "TXXX"
	default:
		return id
	}
}

var fieldTable = map[string]tag.ID{
	"TIT2": tag.Title,
	"TPE1": tag.Artist,
	"TPE2": tag.AlbumArtist,
	"TALB": tag.Album,
	"TYER": tag.Date,
	"TDRC": tag.Date,
	"TCOM": tag.Composer,
	"TPUB": tag.Publisher,
	"TCOP": tag.Copyright,
	"TBPM": tag.BPM,
	"TPE3": tag.Conductor,
	"TOPE": tag.OriginalArtist,
	"TENC": tag.Encoder,
	"TLAN": tag.Language,
}

func splitNulPair(s string) (string, string) {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return s[:i], strings.TrimRight(s[i+1:], "\x00")
		}
	}
	return "", s
}

// decodeText decodes a text frame's payload per its leading encoding byte.
// keepNul, when true, preserves embedded NUL separators (TXXX/COMM use them
// to split description from value) instead of trimming at the first one.
func decodeText(b []byte, encoding int, cp codepage.ID, keepNul bool) string {
	var s string
	switch encoding {
	case encUTF16BOM:
		s = decodeUTF16(b, true)
	case encUTF16BE:
		s = decodeUTF16(b, false)
	case encUTF8:
		s = strings.TrimRight(string(b), "\x00")
	default:
		// Nominally ISO-8859-1, but legacy writers store their local 8-bit
		// codepage here; the configured fallback decides.
		s = codepage.ToUTF8(trimNUL(b), cp)
	}
	if !keepNul {
		if i := strings.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
	}
	return s
}

func trimNUL(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}

func decodeUTF16(b []byte, hasBOM bool) string {
	bigEndian := true
	if hasBOM && len(b) >= 2 {
		if b[0] == 0xFF && b[1] == 0xFE {
			bigEndian = false
			b = b[2:]
		} else if b[0] == 0xFE && b[1] == 0xFF {
			bigEndian = true
			b = b[2:]
		}
	}
	n := len(b) / 2
	u16 := make([]uint16, 0, n)
	for i := 0; i+1 < len(b); i += 2 {
		var v uint16
		if bigEndian {
			v = uint16(b[i])<<8 | uint16(b[i+1])
		} else {
			v = uint16(b[i+1])<<8 | uint16(b[i])
		}
		if v == 0 {
			break
		}
		u16 = append(u16, v)
	}
	return string(utf16.Decode(u16))
}

// EncodeHeader builds a 10-byte ID3v2.4 tag header for a body of dataLen
// bytes.
func EncodeHeader(dataLen int) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, "ID3\x04\x00")
	buf[5] = 0
	ss := encodeSynchsafe32(uint32(dataLen))
	copy(buf[6:10], ss[:])
	return buf
}

// EncodeFrame builds one ID3v2.4 text frame: id, zero flags, a UTF-8
// encoding byte, then the value.
func EncodeFrame(id string, value string) []byte {
	body := append([]byte{encUTF8}, []byte(value)...)
	buf := make([]byte, 10, 10+len(body))
	copy(buf, id)
	ss := encodeSynchsafe32(uint32(len(body)))
	copy(buf[4:8], ss[:])
	buf[8], buf[9] = 0, 0
	return append(buf, body...)
}
