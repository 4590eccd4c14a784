package mpeg1

import (
	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/id3v1"
	"github.com/pchchv/avpack/tag/id3v2"
)

type wrState int

const (
	wID3v2 wrState = iota
	wData
	wID3v1
	wDone
)

// WriterOptions selects which tag blocks the writer emits.
type WriterOptions uint8

const (
	// WriteID3v1 appends a 128-byte ID3v1 trailer.
	WriteID3v1 WriterOptions = 1 << iota
	// WriteID3v2 prepends an ID3v2.4 tag.
	WriteID3v2
)

// Writer produces an MP3 stream: an ID3v2 tag, the caller's MPEG frames
// passed through unchanged, then an ID3v1 trailer. Frames are never
// re-packed, so no finalize seek is needed.
type Writer struct {
	state   wrState
	options WriterOptions
	minID3  int
	tags    []tag.Record
	buf     []byte
	closed  bool
}

// NewWriter returns an MP3 writer that emits only the tag blocks selected
// by opts (WriteID3v1, WriteID3v2).
func NewWriter(opts WriterOptions) *Writer {
	return &Writer{options: opts, minID3: 1000}
}

// AddTag queues one metadata field. TrackNo/TrackTotal pairs are merged
// into a single TRCK frame when both are present.
func (w *Writer) AddTag(id tag.ID, name, value string) {
	w.tags = append(w.tags, tag.Record{ID: id, Name: name, Value: value})
}

// Close releases the writer's buffer.
func (w *Writer) Close() error {
	w.closed = true
	w.buf = nil
	return nil
}

// frameIDFor maps a normalized tag id onto its ID3v2.4 text frame.
func frameIDFor(id tag.ID) (string, bool) {
	switch id {
	case tag.Title:
		return "TIT2", true
	case tag.Artist:
		return "TPE1", true
	case tag.AlbumArtist:
		return "TPE2", true
	case tag.Album:
		return "TALB", true
	case tag.Date:
		return "TYER", true
	case tag.Genre:
		return "TCON", true
	case tag.Composer:
		return "TCOM", true
	case tag.Publisher:
		return "TPUB", true
	case tag.Copyright:
		return "TCOP", true
	case tag.Encoder:
		return "TENC", true
	case tag.BPM:
		return "TBPM", true
	default:
		return "", false
	}
}

// Process passes one MPEG frame through, emitting the tag blocks around
// the stream.
func (w *Writer) Process(frame *avpack.Frame, flags avpack.WriteFlags, out *avpack.Result) avpack.Status {
	if w.closed {
		out.Error = avpack.ErrorInfo{Err: avpack.ErrClosed}
		return avpack.StatusError
	}
	for {
		switch w.state {
		case wID3v2:
			w.state = wData
			if w.options&WriteID3v2 == 0 {
				continue
			}
			w.buf = w.id3v2Tag(w.buf[:0])
			out.Frame = avpack.Frame{Bytes: w.buf}
			return avpack.StatusData

		case wData:
			if flags&avpack.Last != 0 && len(frame.Bytes) == 0 {
				w.state = wID3v1
				continue
			}
			if len(frame.Bytes) == 0 {
				return avpack.StatusMore
			}
			out.Frame = avpack.Frame{Bytes: frame.Bytes}
			frame.Bytes = nil
			if flags&avpack.Last != 0 {
				w.state = wID3v1
			}
			return avpack.StatusData

		case wID3v1:
			w.state = wDone
			if w.options&WriteID3v1 == 0 {
				continue
			}
			w.buf = append(w.buf[:0], id3v1.Encode(w.tags)...)
			out.Frame = avpack.Frame{Bytes: w.buf}
			return avpack.StatusData

		case wDone:
			return avpack.StatusFin
		}
	}
}

// id3v2Tag renders the leading tag: one text frame per field (TRCK merged
// from TrackNo/TrackTotal) plus padding up to the minimum tag size.
func (w *Writer) id3v2Tag(dst []byte) []byte {
	var body []byte
	var trackNo, trackTotal string
	for _, t := range w.tags {
		switch t.ID {
		case tag.TrackNo:
			trackNo = t.Value
		case tag.TrackTotal:
			trackTotal = t.Value
		case tag.Comment:
			// COMM needs language+description framing; emitted as a text
			// frame body with empty description.
			body = append(body, encodeComm(t.Value)...)
		default:
			if id, ok := frameIDFor(t.ID); ok {
				body = append(body, id3v2.EncodeFrame(id, t.Value)...)
			}
		}
	}
	if trackNo != "" {
		v := trackNo
		if trackTotal != "" {
			v += "/" + trackTotal
		}
		body = append(body, id3v2.EncodeFrame("TRCK", v)...)
	}
	padding := 0
	if len(body) < w.minID3 {
		padding = w.minID3 - len(body)
	}
	dst = append(dst, id3v2.EncodeHeader(len(body)+padding)...)
	dst = append(dst, body...)
	return append(dst, make([]byte, padding)...)
}

// encodeComm renders a COMM frame: UTF-8 encoding, "eng" language, empty
// description.
func encodeComm(value string) []byte {
	return id3v2.EncodeFrame("COMM", "eng\x00"+value)
}
