// Package png implements a push-model header reader for PNG images: the
// signature plus the IHDR chunk, yielding width, height, and bits per
// pixel.
package png

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/gather"
)

var signature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// headerNeed covers the signature plus the IHDR chunk header and body.
const headerNeed = 8 + 8 + 13

// channelsFor maps the IHDR color type onto a channel count.
func channelsFor(colorType byte) uint32 {
	switch colorType {
	case 0: // grayscale
		return 1
	case 2: // truecolor
		return 3
	case 3: // palette
		return 1
	case 4: // grayscale + alpha
		return 2
	case 6: // truecolor + alpha
		return 4
	default:
		return 0
	}
}

// Reader is a push-model PNG header reader: one StatusHeader, then
// StatusFin; the compressed image data is not modeled.
type Reader struct {
	gb        *gather.Buffer
	headerOut bool
	fin       bool
	closed    bool
}

// NewReader returns a PNG reader.
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

// Process consumes a prefix of in and reports the next result.
func (r *Reader) Process(in []byte, out *avpack.Result) (int, avpack.Status) {
	if r.closed {
		out.Error = avpack.ErrorInfo{Err: avpack.ErrClosed}
		return 0, avpack.StatusError
	}
	if r.headerOut {
		return len(in), avpack.StatusFin
	}
	n, view, err := r.gb.Gather(in, headerNeed)
	if err != nil {
		out.Error = avpack.ErrorInfo{Err: err}
		return n, avpack.StatusError
	}
	if view == nil {
		if r.fin {
			out.Error = avpack.ErrorInfo{Err: fmt.Errorf("png: header: %w", avpack.ErrTruncated)}
			return n, avpack.StatusError
		}
		return n, avpack.StatusMore
	}
	if !bytes.HasPrefix(view, signature) || !bytes.Equal(view[12:16], []byte("IHDR")) {
		out.Error = avpack.ErrorInfo{Err: fmt.Errorf("png: %w", avpack.ErrMagic)}
		return n, avpack.StatusError
	}
	ihdr := view[16:]
	depth := uint32(ihdr[8])
	channels := channelsFor(ihdr[9])
	if channels == 0 {
		out.Error = avpack.ErrorInfo{Err: fmt.Errorf("png: color type %d: %w", ihdr[9], avpack.ErrUnsupported)}
		return n, avpack.StatusError
	}
	r.gb.Consume(headerNeed)
	r.headerOut = true
	out.Header = avpack.HeaderInfo{
		Width:  binary.BigEndian.Uint32(ihdr[0:4]),
		Height: binary.BigEndian.Uint32(ihdr[4:8]),
		Depth:  depth * channels,
	}
	return n, avpack.StatusHeader
}
