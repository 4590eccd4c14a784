package ogg

import "github.com/pchchv/avpack"

// Writer packs caller-supplied packets into OGG pages. A page is flushed
// before a new packet would overflow it, on an explicit OggFlush flag, and
// on the Last packet (which sets the EOS flag). The page granule position
// is the end position of the last packet finishing on it, or -1 when a
// page holds only the middle of a continued packet.
type Writer struct {
	page     pageBuilder
	buf      []byte
	startPos uint64
	endPos   uint64

	maxPageSamples uint64
	haveEndPos     bool
	continued      bool
	done           bool
	closed         bool
}

// NewWriter returns an OGG page writer for one logical stream.
// maxPageSamples, when non-zero, bounds a page's duration so seeks land on
// page boundaries of that granularity.
func NewWriter(serial uint32, maxPageSamples uint64) *Writer {
	w := &Writer{maxPageSamples: maxPageSamples}
	w.page.serial = serial
	return w
}

// Close releases the writer's buffers.
func (w *Writer) Close() error {
	w.closed = true
	w.buf = nil
	return nil
}

// Process adds one packet (frame.EndPos is its ending granule position)
// and returns a finished page when one is ready.
func (w *Writer) Process(frame *avpack.Frame, flags avpack.WriteFlags, out *avpack.Result) avpack.Status {
	if w.closed {
		out.Error = avpack.ErrorInfo{Err: avpack.ErrClosed}
		return avpack.StatusError
	}
	if w.done {
		return avpack.StatusFin
	}

	if len(frame.Bytes) == 0 {
		if flags&avpack.Last != 0 {
			if w.page.empty() && !w.haveEndPos {
				w.done = true
				return avpack.StatusFin
			}
			return w.flush(out, true, false)
		}
		if flags&avpack.OggFlush != 0 && !w.page.empty() {
			return w.flush(out, false, false)
		}
		return avpack.StatusMore
	}

	if !w.page.empty() {
		// Flush first if the whole packet cannot fit, or the page would
		// exceed its duration bound.
		if w.page.fits(len(frame.Bytes)) != len(frame.Bytes) {
			return w.flush(out, false, false)
		}
		if w.maxPageSamples != 0 && frame.EndPos-w.startPos > w.maxPageSamples {
			return w.flush(out, false, false)
		}
	}

	n := w.page.addPacket(frame.Bytes)
	frame.Bytes = frame.Bytes[n:]
	if len(frame.Bytes) != 0 {
		// Partial packet: emit the full page, continue on the next one.
		return w.flush(out, false, true)
	}
	w.endPos = frame.EndPos
	w.haveEndPos = true
	frame.Bytes = nil

	if flags&avpack.Last != 0 {
		return w.flush(out, true, false)
	}
	if flags&avpack.OggFlush != 0 {
		return w.flush(out, false, false)
	}
	return avpack.StatusMore
}

func (w *Writer) flush(out *avpack.Result, last, partial bool) avpack.Status {
	var flags byte
	if w.page.number == 0 {
		flags |= flagFirst
	}
	if last {
		flags |= flagLast
		w.done = true
	}
	if w.continued {
		flags |= flagContinued
	}
	w.continued = partial

	granule := w.endPos
	if !w.haveEndPos {
		granule = noGranule
	}
	w.buf = w.page.write(w.buf[:0], granule, flags)
	w.startPos = w.endPos
	w.haveEndPos = false
	out.Frame = avpack.Frame{Bytes: w.buf}
	return avpack.StatusData
}
