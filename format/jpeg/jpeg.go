// Package jpeg implements a push-model header reader for JPEG images: it
// walks marker segments until a start-of-frame yields the dimensions and
// bits per pixel.
package jpeg

import (
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/gather"
)

type rdState int

const (
	rsSig rdState = iota
	rsMarker
	rsSOF
	rsSkip
	rsDone
)

// Reader is a push-model JPEG header reader: one StatusHeader at the
// first start-of-frame, then StatusFin.
type Reader struct {
	gb     *gather.Buffer
	state  rdState
	skip   int
	fin    bool
	closed bool
}

// NewReader returns a JPEG reader.
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

func (r *Reader) more(total int, out *avpack.Result, what string) (int, avpack.Status) {
	if r.fin {
		out.Error = avpack.ErrorInfo{Err: fmt.Errorf("jpeg: %s: %w", what, avpack.ErrTruncated)}
		return total, avpack.StatusError
	}
	return total, avpack.StatusMore
}

// Process consumes a prefix of in and reports the next result.
func (r *Reader) Process(in []byte, out *avpack.Result) (int, avpack.Status) {
	if r.closed {
		out.Error = avpack.ErrorInfo{Err: avpack.ErrClosed}
		return 0, avpack.StatusError
	}
	total := 0
	for {
		switch r.state {
		case rsSig:
			n, view, err := r.gb.Gather(in[total:], 2)
			total += n
			if err != nil {
				out.Error = avpack.ErrorInfo{Err: err}
				return total, avpack.StatusError
			}
			if view == nil {
				return r.more(total, out, "signature")
			}
			if view[0] != 0xFF || view[1] != 0xD8 {
				out.Error = avpack.ErrorInfo{Err: fmt.Errorf("jpeg: %w", avpack.ErrMagic)}
				return total, avpack.StatusError
			}
			r.gb.Consume(2)
			r.state = rsMarker

		case rsMarker:
			n, view, err := r.gb.Gather(in[total:], 4)
			total += n
			if err != nil {
				out.Error = avpack.ErrorInfo{Err: err}
				return total, avpack.StatusError
			}
			if view == nil {
				return r.more(total, out, "marker")
			}
			if view[0] != 0xFF {
				out.Error = avpack.ErrorInfo{Err: fmt.Errorf("jpeg: marker sync: %w", avpack.ErrCorrupt)}
				return total, avpack.StatusError
			}
			marker := view[1]
			segLen := int(view[2])<<8 | int(view[3])
			if segLen < 2 {
				out.Error = avpack.ErrorInfo{Err: fmt.Errorf("jpeg: segment length %d: %w", segLen, avpack.ErrCorrupt)}
				return total, avpack.StatusError
			}
			switch {
			case marker >= 0xC0 && marker <= 0xC2:
				r.gb.Consume(4)
				r.state = rsSOF
			case marker == 0xD9 || marker == 0xDA:
				// Start of scan / end of image before any frame header.
				out.Error = avpack.ErrorInfo{Err: fmt.Errorf("jpeg: no frame header before scan data: %w", avpack.ErrCorrupt)}
				return total, avpack.StatusError
			default:
				r.gb.Consume(4)
				r.skip = segLen - 2
				r.state = rsSkip
			}

		case rsSOF:
			// Precision, height, width, component count.
			n, view, err := r.gb.Gather(in[total:], 6)
			total += n
			if err != nil {
				out.Error = avpack.ErrorInfo{Err: err}
				return total, avpack.StatusError
			}
			if view == nil {
				return r.more(total, out, "frame header")
			}
			precision := uint32(view[0])
			height := uint32(view[1])<<8 | uint32(view[2])
			width := uint32(view[3])<<8 | uint32(view[4])
			ncomp := uint32(view[5])
			r.gb.Consume(6)
			r.state = rsDone
			out.Header = avpack.HeaderInfo{
				Width:  width,
				Height: height,
				Depth:  precision * ncomp,
			}
			return total, avpack.StatusHeader

		case rsSkip:
			if buffered := r.gb.Len(); buffered > 0 {
				take := buffered
				if take > r.skip {
					take = r.skip
				}
				r.gb.Consume(take)
				r.skip -= take
			}
			if r.skip > 0 {
				take := len(in) - total
				if take > r.skip {
					take = r.skip
				}
				total += take
				r.skip -= take
			}
			if r.skip > 0 {
				return r.more(total, out, "segment")
			}
			r.state = rsMarker

		case rsDone:
			return len(in), avpack.StatusFin
		}
	}
}
