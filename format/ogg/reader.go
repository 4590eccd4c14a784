package ogg

import (
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/gather"
	"github.com/pchchv/avpack/seekbisect"
)

type rdState int

const (
	rsInit rdState = iota
	rsLastHdr
	rsHdr
	rsFullHdr
	rsPage
	rsPkt
	rsSeekEmit
	rsSeekHdr
	rsDone
	rsErr
)

// Reader is a push-model OGG page/packet reader. It reassembles packets
// spanning pages, validates page checksums (a mismatch is a log-only
// warning), and seeks by bisecting granule positions.
type Reader struct {
	cfg    avpack.Config
	gb     *gather.Buffer
	logger avpack.Logger

	state     rdState
	off       int64 // absolute offset of the gather buffer's front
	page      pageHeader
	pageOff   int64
	pageLen   int
	hdrLen    int
	segOff    int
	bodyOff   int
	pktNum    int
	startPos  uint64
	endPos    uint64
	pageCount int

	serial     uint32
	haveSerial bool
	totalKnown bool
	total      uint64
	headerSent bool
	hdrDone    bool
	firstOff   int64 // offset of the first audio (non-header) page

	pktAccum      []byte
	pktIncomplete bool
	pageContinued bool

	seeker      *seekbisect.Seeker
	seekReq     bool
	seekTarget  uint64
	seekOffset  int64
	seekFinal   bool
	seekBestOff int64
	seekBestPos uint64

	fin    bool
	closed bool
}

// NewReader returns an OGG reader. When cfg.TotalSize is known and seeking
// is allowed, it first asks to visit the file's tail to learn the last
// page's granule position (the total sample count).
func NewReader(cfg avpack.Config) *Reader {
	logger := cfg.Logger
	if logger == nil {
		logger = avpack.NopLogger
	}
	r := &Reader{
		cfg:    cfg,
		gb:     gather.New(maxPage * 2),
		logger: logger,
	}
	if cfg.TotalSize == 0 || cfg.Flags&avpack.NoSeek != 0 {
		r.state = rsHdr
	}
	return r
}

// Seek records a deferred seek to sampleIndex (granule units).
func (r *Reader) Seek(sampleIndex uint64) {
	r.seekReq = true
	r.seekTarget = sampleIndex
}

// Finish tells the reader no more bytes will be fed.
func (r *Reader) Finish() { r.fin = true }

func (r *Reader) atEOF() bool {
	if !r.fin {
		return false
	}
	return r.cfg.TotalSize == 0 || r.off+int64(r.gb.Len()) >= r.cfg.TotalSize
}

// Close releases internal buffers.
func (r *Reader) Close() error {
	r.closed = true
	r.gb = nil
	r.pktAccum = nil
	return nil
}

// Serial returns the active logical stream's serial number.
func (r *Reader) Serial() uint32 { return r.serial }

// TotalSamples returns the last page's granule position, when known.
func (r *Reader) TotalSamples() uint64 { return r.total }

func (r *Reader) consume(n int) {
	r.gb.Consume(n)
	r.off += int64(n)
}

func (r *Reader) fail(out *avpack.Result, err error) avpack.Status {
	out.Error = avpack.ErrorInfo{Err: err, Offset: r.off}
	r.state = rsErr
	return avpack.StatusError
}

// findHeader scans buffered+new input for the next page header, returning
// the full header length (fixed part + segment table) once one is at the
// buffer front.
func (r *Reader) findHeader(in []byte, total *int) (hdr pageHeader, hdrLen int, found bool, err error) {
	for {
		n, view, gerr := r.gb.GatherHeader(in[*total:], headerSize)
		*total += n
		if gerr != nil {
			return pageHeader{}, 0, false, gerr
		}
		if view == nil {
			return pageHeader{}, 0, false, nil
		}
		pos := findPageHeader(view)
		if pos < 0 {
			keep := headerSize - 1
			if keep > len(view) {
				keep = len(view)
			}
			r.consume(len(view) - keep)
			if *total >= len(in) {
				return pageHeader{}, 0, false, nil
			}
			continue
		}
		if pos > 0 {
			r.logger.Logf("ogg: %d bytes of unrecognized data before page header", pos)
			r.consume(pos)
		}
		view = r.gb.View()
		if len(view) < headerSize {
			continue
		}
		h, _ := parsePageHeader(view)
		return h, headerSize + h.NSegments, true, nil
	}
}

// Process consumes a prefix of in and reports the next result.
func (r *Reader) Process(in []byte, out *avpack.Result) (int, avpack.Status) {
	if r.closed || r.state == rsErr {
		out.Error = avpack.ErrorInfo{Err: avpack.ErrClosed}
		return 0, avpack.StatusError
	}
	total := 0
	for {
		switch r.state {
		case rsInit:
			r.state = rsLastHdr
			if r.cfg.TotalSize > maxPage {
				r.off = r.cfg.TotalSize - maxPage
				out.SeekOffset = r.off
				return total, avpack.StatusSeek
			}
			continue

		case rsLastHdr:
			hdr, hdrLen, found, err := r.findHeader(in, &total)
			if err != nil {
				return total, r.fail(out, err)
			}
			if !found {
				if r.off+int64(r.gb.Len()) >= r.cfg.TotalSize {
					// Scanned to the end; go back and read from the top.
					r.gb.Reset()
					r.off = 0
					r.state = rsHdr
					r.totalKnown = true
					out.SeekOffset = 0
					return total, avpack.StatusSeek
				}
				return total, avpack.StatusMore
			}
			if hdr.GranulePos != noGranule {
				r.total = hdr.GranulePos
			}
			r.consume(hdrLen)
			continue

		case rsHdr:
			if r.seekReq && r.hdrDone {
				if st, ok := r.prepareSeek(out); ok {
					return total, st
				}
				continue
			}
			hdr, hdrLen, found, err := r.findHeader(in, &total)
			if err != nil {
				return total, r.fail(out, err)
			}
			if !found {
				if r.atEOF() {
					return total, avpack.StatusFin
				}
				return total, avpack.StatusMore
			}
			r.page = hdr
			r.hdrLen = hdrLen
			r.pageOff = r.off
			r.serial = hdr.Serial
			r.haveSerial = true
			if !r.hdrDone && hdr.GranulePos != 0 {
				r.hdrDone = true
				r.firstOff = r.off
			}
			if !r.headerSent {
				r.headerSent = true
				out.Header = avpack.HeaderInfo{TotalSamples: r.total}
				return total, avpack.StatusHeader
			}
			r.state = rsFullHdr
			continue

		case rsFullHdr:
			n, view, err := r.gb.Gather(in[total:], r.hdrLen)
			total += n
			if err != nil {
				return total, r.fail(out, err)
			}
			if view == nil {
				if r.atEOF() {
					return total, avpack.StatusFin
				}
				return total, avpack.StatusMore
			}
			r.pageLen = pageSize(r.page, view[headerSize:])
			r.state = rsPage
			continue

		case rsPage:
			n, view, err := r.gb.Gather(in[total:], r.pageLen)
			total += n
			if err != nil {
				return total, r.fail(out, err)
			}
			if view == nil {
				if r.atEOF() {
					return total, avpack.StatusFin
				}
				return total, avpack.StatusMore
			}
			if crc := checksum(view[:r.pageLen]); crc != r.page.CRC {
				r.logger.Logf("ogg: page #%d: stored CRC %08x, computed %08x", r.page.Number, r.page.CRC, crc)
			}
			r.pageCount++
			r.pageContinued = r.page.Flags&flagContinued != 0
			r.startPos = r.endPos
			if r.page.GranulePos != noGranule {
				r.endPos = r.page.GranulePos
			}
			r.segOff = 0
			r.bodyOff = 0
			r.pktNum = 0
			r.state = rsPkt
			continue

		case rsPkt:
			if r.seekReq && r.hdrDone {
				if st, ok := r.prepareSeek(out); ok {
					return total, st
				}
				continue
			}
			view := r.gb.View()
			if len(view) < r.pageLen {
				return total, r.fail(out, fmt.Errorf("ogg: page buffer lost: %w", avpack.ErrCorrupt))
			}
			pkt, complete, ok := nextPacket(view[:r.pageLen], r.page, &r.segOff, &r.bodyOff)
			if !ok {
				r.consume(r.pageLen)
				r.state = rsHdr
				continue
			}
			r.pktNum++
			if st, emitted := r.deliverPacket(out, pkt, complete); emitted {
				return total, st
			}

		case rsSeekEmit:
			out.SeekOffset = r.seekOffset
			r.gb.Reset()
			r.off = r.seekOffset
			r.state = rsSeekHdr
			return total, avpack.StatusSeek

		case rsSeekHdr:
			st, emitted, err := r.seekStep(in, &total)
			if err != nil {
				return total, r.fail(out, err)
			}
			if emitted {
				if st == avpack.StatusSeek {
					out.SeekOffset = r.seekOffset
				}
				return total, st
			}

		case rsDone:
			return total, avpack.StatusFin
		}
	}
}

// deliverPacket reassembles continued packets and fills out one DATA
// result. Packets on header pages (end position 0, including the quirky
// zero-granule pages some encoders emit mid-stream) are delivered with
// undefined positions.
func (r *Reader) deliverPacket(out *avpack.Result, pkt []byte, complete bool) (avpack.Status, bool) {
	if r.pktNum == 1 {
		if r.pageContinued {
			if !r.pktIncomplete {
				r.logger.Logf("ogg: unexpected continued page; dropping the packet")
				return 0, false
			}
		} else if r.pktIncomplete {
			r.logger.Logf("ogg: expected continued page; clearing buffered packet data")
			r.pktIncomplete = false
			r.pktAccum = r.pktAccum[:0]
		}
	}

	if !complete || r.pktIncomplete {
		r.pktAccum = append(r.pktAccum, pkt...)
		if !complete {
			r.pktIncomplete = true
			return 0, false
		}
		r.pktIncomplete = false
		pkt = r.pktAccum
		r.pktAccum = r.pktAccum[:0]
	}

	frame := avpack.Frame{Bytes: pkt, Pos: r.startPos, EndPos: r.endPos}
	if r.endPos == 0 {
		frame.Pos = avpack.UndefinedPos
		frame.EndPos = avpack.UndefinedPos
	} else if r.endPos > r.startPos {
		frame.Duration = r.endPos - r.startPos
	}
	out.Frame = frame
	return avpack.StatusData, true
}

// prepareSeek validates a pending seek request and enters the bisection.
func (r *Reader) prepareSeek(out *avpack.Result) (avpack.Status, bool) {
	r.seekReq = false
	if !r.totalKnown || r.total == 0 {
		return r.fail(out, fmt.Errorf("ogg: %w: stream length unknown", avpack.ErrNoSeek)), true
	}
	lo := seekbisect.Point{Sample: 0, Offset: r.firstOff}
	hi := seekbisect.Point{Sample: r.total, Offset: r.cfg.TotalSize}
	r.seeker = seekbisect.New(lo, hi, r.seekTarget)
	r.seekFinal = false
	r.seekBestOff = -1
	r.seekOffset = r.seeker.Estimate()
	r.endPos = 0
	r.pktIncomplete = false
	r.pktAccum = r.pktAccum[:0]
	r.state = rsSeekEmit
	return 0, false
}

// seekStep advances the granule bisection: find a page at the probe,
// narrow the window by its end position, and finish by re-reading from the
// best page at or before the target.
func (r *Reader) seekStep(in []byte, total *int) (avpack.Status, bool, error) {
	hdr, hdrLen, found, err := r.findHeader(in, total)
	if err != nil {
		return 0, false, err
	}
	if !found {
		if r.atEOF() || r.off+int64(r.gb.Len()) >= r.seeker.Hi.Offset {
			if stalled := r.seeker.NoFrameFound(); stalled {
				return r.finishSeek(), true, nil
			}
			r.seekOffset = r.seeker.Probe()
			r.state = rsSeekEmit
			return 0, false, nil
		}
		return avpack.StatusMore, true, nil
	}
	if r.seekFinal {
		// Re-reading from the chosen page: resume normal page parsing.
		r.seekFinal = false
		r.startPos = r.seekBestPos
		r.endPos = r.seekBestPos
		r.state = rsHdr
		return 0, false, nil
	}
	pageOff := r.off

	// Gather the segment table so the page size is known.
	n, view, gerr := r.gb.Gather(in[*total:], hdrLen)
	*total += n
	if gerr != nil {
		return 0, false, gerr
	}
	if view == nil {
		return avpack.StatusMore, true, nil
	}

	if hdr.Serial != r.serial || hdr.GranulePos == noGranule {
		r.consume(hdrLen)
		return 0, false, nil
	}
	psize := pageSize(hdr, view[headerSize:])

	if hdr.GranulePos <= r.seekTarget {
		r.seekBestOff = pageOff + int64(psize)
		r.seekBestPos = hdr.GranulePos
	}
	r.seeker.Narrow(pageOff, hdr.GranulePos, pageOff+int64(psize))
	if r.seeker.Done() {
		return r.finishSeek(), true, nil
	}
	r.seekOffset = r.seeker.Estimate()
	r.state = rsSeekEmit
	return 0, false, nil
}

// finishSeek re-enters page parsing at the best page found at or before
// the target (the first audio page when none was seen).
func (r *Reader) finishSeek() avpack.Status {
	r.seekFinal = true
	if r.seekBestOff >= 0 {
		r.seekOffset = r.seekBestOff
	} else {
		r.seekOffset = r.firstOff
		r.seekBestPos = 0
	}
	r.gb.Reset()
	r.off = r.seekOffset
	r.state = rsSeekHdr
	return avpack.StatusSeek
}
