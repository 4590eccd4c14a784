// Package bmp implements a push-model header reader and a simple writer
// for Windows bitmap files. Only the dimensions and color depth are
// decoded; pixel data passes through untouched.
package bmp

import (
	"encoding/binary"
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/gather"
)

// fileHeaderSize + infoHeaderSize cover everything the reader needs.
const (
	fileHeaderSize = 14
	infoHeaderSize = 40
	headerNeed     = fileHeaderSize + infoHeaderSize
)

// Info is the decoded bitmap header.
type Info struct {
	Width   uint32
	Height  uint32
	BPP     uint32
	DataOff uint32
}

// Reader is a push-model BMP header reader: one StatusHeader, then the
// pixel rows as opaque data, then StatusFin.
type Reader struct {
	gb        *gather.Buffer
	info      Info
	headerOut bool
	fin       bool
	closed    bool
}

// NewReader returns a BMP reader.
func NewReader(cfg avpack.Config) *Reader {
	return &Reader{gb: gather.New(0)}
}

// Seek is unsupported for image streams.
func (r *Reader) Seek(sampleIndex uint64) {}

// Finish tells the reader no more bytes will be fed.
func (r *Reader) Finish() { r.fin = true }

// Close releases internal buffers.
func (r *Reader) Close() error {
	r.closed = true
	r.gb = nil
	return nil
}

// Info returns the decoded header (valid after StatusHeader).
func (r *Reader) Info() Info { return r.info }

// Process consumes a prefix of in and reports the next result.
func (r *Reader) Process(in []byte, out *avpack.Result) (int, avpack.Status) {
	if r.closed {
		out.Error = avpack.ErrorInfo{Err: avpack.ErrClosed}
		return 0, avpack.StatusError
	}
	total := 0
	if !r.headerOut {
		n, view, err := r.gb.Gather(in[total:], headerNeed)
		total += n
		if err != nil {
			out.Error = avpack.ErrorInfo{Err: err}
			return total, avpack.StatusError
		}
		if view == nil {
			if r.fin {
				out.Error = avpack.ErrorInfo{Err: fmt.Errorf("bmp: header: %w", avpack.ErrTruncated)}
				return total, avpack.StatusError
			}
			return total, avpack.StatusMore
		}
		if view[0] != 'B' || view[1] != 'M' {
			out.Error = avpack.ErrorInfo{Err: fmt.Errorf("bmp: %w", avpack.ErrMagic)}
			return total, avpack.StatusError
		}
		r.info = Info{
			DataOff: binary.LittleEndian.Uint32(view[10:14]),
			Width:   binary.LittleEndian.Uint32(view[18:22]),
			Height:  binary.LittleEndian.Uint32(view[22:26]),
			BPP:     uint32(binary.LittleEndian.Uint16(view[28:30])),
		}
		r.gb.Consume(headerNeed)
		r.headerOut = true
		out.Header = avpack.HeaderInfo{
			Width:  r.info.Width,
			Height: r.info.Height,
			Depth:  r.info.BPP,
		}
		return total, avpack.StatusHeader
	}
	// Pixel data passes through as-is.
	if rest := r.gb.View(); len(rest) > 0 {
		out.Frame = avpack.Frame{Bytes: rest, Pos: avpack.UndefinedPos, EndPos: avpack.UndefinedPos}
		r.gb.Consume(len(rest))
		return total, avpack.StatusData
	}
	if total < len(in) {
		out.Frame = avpack.Frame{Bytes: in[total:], Pos: avpack.UndefinedPos, EndPos: avpack.UndefinedPos}
		return len(in), avpack.StatusData
	}
	if r.fin {
		return total, avpack.StatusFin
	}
	return total, avpack.StatusMore
}

// Writer produces a bottom-up, uncompressed BMP from caller-supplied pixel
// rows.
type Writer struct {
	info   Info
	state  int
	buf    []byte
	closed bool
}

// NewWriter returns a BMP writer for an image of the given dimensions and
// bits per pixel.
func NewWriter(width, height, bpp uint32) *Writer {
	return &Writer{info: Info{Width: width, Height: height, BPP: bpp}}
}

// Close releases the writer's buffer.
func (w *Writer) Close() error {
	w.closed = true
	w.buf = nil
	return nil
}

// Process emits the header first, then passes pixel rows through.
func (w *Writer) Process(frame *avpack.Frame, flags avpack.WriteFlags, out *avpack.Result) avpack.Status {
	if w.closed {
		out.Error = avpack.ErrorInfo{Err: avpack.ErrClosed}
		return avpack.StatusError
	}
	switch w.state {
	case 0:
		w.state = 1
		lineSize := (w.info.Width*w.info.BPP/8 + 3) &^ 3
		dataSize := lineSize * w.info.Height
		buf := make([]byte, headerNeed)
		buf[0], buf[1] = 'B', 'M'
		binary.LittleEndian.PutUint32(buf[2:6], headerNeed+dataSize)
		binary.LittleEndian.PutUint32(buf[10:14], headerNeed)
		binary.LittleEndian.PutUint32(buf[14:18], infoHeaderSize)
		binary.LittleEndian.PutUint32(buf[18:22], w.info.Width)
		binary.LittleEndian.PutUint32(buf[22:26], w.info.Height)
		binary.LittleEndian.PutUint16(buf[26:28], 1)
		binary.LittleEndian.PutUint16(buf[28:30], uint16(w.info.BPP))
		binary.LittleEndian.PutUint32(buf[34:38], dataSize)
		w.buf = buf
		out.Frame = avpack.Frame{Bytes: w.buf}
		return avpack.StatusData
	default:
		if len(frame.Bytes) == 0 {
			if flags&avpack.Last != 0 {
				return avpack.StatusFin
			}
			return avpack.StatusMore
		}
		out.Frame = avpack.Frame{Bytes: frame.Bytes}
		frame.Bytes = nil
		return avpack.StatusData
	}
}
