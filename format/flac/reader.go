package flac

import (
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/gather"
	"github.com/pchchv/avpack/seekbisect"
	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/vorbiscomment"
)

// maxMetaBlock bounds any single metadata block body.
const maxMetaBlock = 16 * 1024 * 1024

// maxNoFrameWindow bounds how far the frame scanner will widen its gather
// window looking for two consecutive valid headers before giving up.
const maxNoFrameWindow = 16 * 1024 * 1024

type readerState int

const (
	stSync readerState = iota
	stMetaNext
	stMetaHeader
	stMetaBody
	stFrame
	stSeekPrep
	stSeekEmit
	stSeekScan
	stDone
	stError
)

// Reader is a push-model reader for a native FLAC stream: sync word,
// metadata blocks, then the frame stream, where frame boundaries are found
// by locating pairs of consecutive CRC-valid headers.
type Reader struct {
	cfg avpack.Config
	gb  *gather.Buffer

	state     readerState
	blockType int
	blockSize int
	blockLast bool

	info      StreamInfo
	frame1Off int64
	streamPos int64 // absolute offset of the gather buffer's front

	seekTable    []SeekPoint
	sawSeekTable bool

	pendingTags []tag.Record
	tagIdx      int
	pendingPic  string
	havePic     bool

	haveCurFrame bool
	curFrame     frameHeader
	curFrameLen  int
	window       int

	seeker      *seekbisect.Seeker
	seekRequest bool
	seekTarget  uint64
	seekOffset  int64
	seekFinal   bool
	seekBestOff int64 // start offset of the latest found frame at or before the target

	fin    bool
	closed bool
}

// NewReader returns a FLAC reader ready to accept bytes starting at the
// stream's first byte (the "fLaC" sync word).
func NewReader(cfg avpack.Config) *Reader {
	return &Reader{
		cfg:    cfg,
		gb:     gather.New(0),
		state:  stSync,
		window: 16 * 1024,
	}
}

// Seek records a deferred seek request to sampleIndex, applied at the next
// Process call.
func (r *Reader) Seek(sampleIndex uint64) {
	r.seekRequest = true
	r.seekTarget = sampleIndex
}

// Finish tells the reader no more bytes will ever be fed beyond what has
// already been passed to Process.
func (r *Reader) Finish() { r.fin = true }

// atEOF reports whether the stream truly has no bytes left to offer: Finish
// has been called and, when the total size is known, the buffer has reached
// it. The size check matters after a back-seek, when Finish was already
// called at a previous visit to the file's tail but fresh bytes are still
// on their way for the current position.
func (r *Reader) atEOF() bool {
	if !r.fin {
		return false
	}
	return r.cfg.TotalSize == 0 || r.streamPos+int64(r.gb.Len()) >= r.cfg.TotalSize
}

// Close releases the reader's gather buffer.
func (r *Reader) Close() error {
	r.closed = true
	r.gb = nil
	return nil
}

func (r *Reader) consume(n int) {
	r.gb.Consume(n)
	r.streamPos += int64(n)
}

// Process drives the state machine: find the sync word and STREAMINFO, walk
// metadata blocks (seek table, Vorbis comments, picture; unknowns skipped),
// then scan frames by locating pairs of consecutive valid headers.
func (r *Reader) Process(in []byte, out *avpack.Result) (consumed int, status avpack.Status) {
	if r.closed || r.state == stError {
		return 0, r.errorf(out, avpack.ErrClosed)
	}
	total := 0
	for {
		switch r.state {
		case stSync:
			n, view, err := r.gb.Gather(in[total:], MinHeaderSize)
			total += n
			if err != nil {
				return total, r.errorf(out, err)
			}
			if view == nil {
				if r.atEOF() {
					return total, r.errorf(out, fmt.Errorf("flac: stream info: %w", avpack.ErrTruncated))
				}
				return total, avpack.StatusMore
			}
			si, last, err := ParseStreamInfo(view)
			if err != nil {
				return total, r.errorf(out, err)
			}
			r.info = si
			r.blockLast = last
			r.consume(MinHeaderSize)
			r.state = stMetaNext
			out.Header = avpack.HeaderInfo{
				Codec:        "flac",
				SampleRate:   si.SampleRate,
				Channels:     si.Channels,
				Bits:         si.Bits,
				TotalSamples: si.TotalSamples,
			}
			return total, avpack.StatusHeader

		case stMetaNext:
			if len(r.pendingTags) > r.tagIdx {
				rec := r.pendingTags[r.tagIdx]
				r.tagIdx++
				out.Tag = rec
				return total, avpack.StatusMeta
			}
			r.pendingTags = nil
			r.tagIdx = 0
			if r.havePic {
				r.havePic = false
				out.Tag = tag.Record{ID: tag.Picture, Name: "picture", Value: r.pendingPic}
				return total, avpack.StatusMeta
			}
			if r.blockLast {
				r.frame1Off = r.streamPos
				r.state = stFrame
				continue
			}
			r.state = stMetaHeader
			continue

		case stMetaHeader:
			n, view, err := r.gb.Gather(in[total:], blockHeaderSize)
			total += n
			if err != nil {
				return total, r.errorf(out, err)
			}
			if view == nil {
				if r.atEOF() {
					return total, r.errorf(out, fmt.Errorf("flac: metadata block header: %w", avpack.ErrTruncated))
				}
				return total, avpack.StatusMore
			}
			typ, size, last := parseBlockHeader(view)
			if size > maxMetaBlock {
				return total, r.errorf(out, fmt.Errorf("flac: metadata block of %d bytes: %w", size, avpack.ErrNoMemory))
			}
			r.consume(blockHeaderSize)
			r.blockType = typ
			r.blockSize = size
			r.blockLast = last
			r.state = stMetaBody
			continue

		case stMetaBody:
			n, view, err := r.gb.Gather(in[total:], r.blockSize)
			total += n
			if err != nil {
				return total, r.errorf(out, err)
			}
			if view == nil {
				if r.atEOF() {
					return total, r.errorf(out, fmt.Errorf("flac: metadata block body: %w", avpack.ErrTruncated))
				}
				return total, avpack.StatusMore
			}
			switch r.blockType {
			case blockVorbisTags:
				recs, err := vorbiscomment.Decode(view)
				if err == nil {
					r.pendingTags = recs
					r.tagIdx = 0
				}
			case blockPicture:
				pic, ok := parsePicture(view)
				if ok {
					r.pendingPic = string(pic)
					r.havePic = true
				}
			case blockSeekTable:
				if !r.sawSeekTable && r.cfg.TotalSize != 0 && r.info.TotalSamples != 0 {
					if pts, ok := ParseSeekTable(view, r.info.TotalSamples); ok && pts != nil {
						r.seekTable = pts
					}
					r.sawSeekTable = true
				}
			}
			r.consume(r.blockSize)
			r.state = stMetaNext
			continue

		case stFrame:
			if r.seekRequest {
				r.state = stSeekPrep
				continue
			}
			n, found, nextHdr, nextLen, nextPos, err := r.scanFrame(in[total:])
			total += n
			if err != nil {
				return total, r.errorf(out, err)
			}
			if !found {
				if r.atEOF() {
					if r.haveCurFrame {
						return total, r.deliverLast(out)
					}
					return total, avpack.StatusFin
				}
				return total, avpack.StatusMore
			}
			return total, r.deliverFrame(out, nextHdr, nextLen, nextPos)

		case stSeekPrep:
			if err := r.prepareSeek(); err != nil {
				return total, r.errorf(out, err)
			}
			r.state = stSeekEmit
			continue

		case stSeekEmit:
			out.SeekOffset = r.seekOffset
			r.gb.Reset()
			r.streamPos = r.seekOffset
			r.haveCurFrame = false
			r.state = stSeekScan
			return total, avpack.StatusSeek

		case stSeekScan:
			n, found, _, _, nextPos, err := r.scanFrame(in[total:])
			total += n
			if err != nil || (r.atEOF() && !found) {
				if stalled := r.seeker.NoFrameFound(); stalled {
					r.finishSeek()
					continue
				}
				r.seekOffset = r.seeker.Probe()
				r.state = stSeekEmit
				continue
			}
			if !found {
				return total, avpack.StatusMore
			}
			if r.seekFinal {
				r.seekFinal = false
				r.seekRequest = false
				r.state = stFrame
				continue
			}
			if r.curFrame.Pos <= r.seekTarget {
				r.seekBestOff = r.streamPos
			}
			r.seeker.Narrow(r.seekOffset, r.curFrame.Pos, r.streamPos+int64(nextPos))
			if r.seeker.Done() {
				if r.curFrame.Pos <= r.seekTarget {
					// The pending frame is the answer: deliver it directly.
					r.seekRequest = false
					r.state = stFrame
					continue
				}
				r.finishSeek()
				continue
			}
			r.seekOffset = r.seeker.Estimate()
			r.state = stSeekEmit
			continue

		case stDone:
			return total, avpack.StatusFin

		default:
			return total, r.errorf(out, avpack.ErrClosed)
		}
	}
}

// scanFrame establishes the current pending frame (consuming any junk in
// front of its header) and then looks for the confirming next header with
// the same stream-identity bits. found reports that the confirming header
// was located at nextPos bytes past the buffer front, which is also the
// pending frame's total length.
func (r *Reader) scanFrame(in []byte) (n int, found bool, next frameHeader, nextLen int, nextPos int, err error) {
	need := r.gb.Len()
	if need < r.window {
		need = r.window
	}
	total := 0
	for {
		cn, view, gerr := r.gb.Gather(in[total:], need)
		total += cn
		if gerr != nil {
			return total, false, frameHeader{}, 0, 0, gerr
		}
		final := false
		if view == nil {
			if !r.atEOF() || r.gb.Len() == 0 {
				return total, false, frameHeader{}, 0, 0, nil
			}
			// No more bytes will arrive: scan what is buffered.
			view = r.gb.View()
			final = true
		}

		if !r.haveCurFrame {
			pos, fh, hlen, ok, needMore := findFrame(view, 0, r.info)
			switch {
			case final && !ok:
				return total, false, frameHeader{}, 0, 0, nil
			case ok && pos == 0:
				r.curFrame = fh
				r.curFrameLen = hlen
				r.haveCurFrame = true
			case ok:
				// Junk before the header: drop it so the frame starts at
				// the buffer front, then re-gather.
				r.consume(pos)
				need = r.window
				continue
			case needMore:
				if need >= maxNoFrameWindow {
					return total, false, frameHeader{}, 0, 0, fmt.Errorf("flac: no frame header found: %w", avpack.ErrCorrupt)
				}
				need = r.gb.Len() + r.window
				continue
			default:
				// No sync byte anywhere in view: drop all but a tail that
				// could still begin a split header.
				keep := maxFrameHeaderLen
				if keep > len(view) {
					keep = len(view)
				}
				r.consume(len(view) - keep)
				need = r.window
				continue
			}
		}

		start := r.curFrameLen
		if start < 1 {
			start = 1
		}
		for {
			pos, fh, hlen, ok, _ := findFrame(view, start, r.info)
			if !ok {
				break
			}
			if !sameIdentity(r.curFrame, fh) {
				start = pos + 1
				continue
			}
			return total, true, fh, hlen, pos, nil
		}
		if final {
			return total, false, frameHeader{}, 0, 0, nil
		}
		if need >= maxNoFrameWindow {
			return total, false, frameHeader{}, 0, 0, fmt.Errorf("flac: next frame header not found within %d bytes: %w", need, avpack.ErrCorrupt)
		}
		need = r.gb.Len() + r.window
	}
}

// deliverFrame emits the pending frame, whose bytes run from the buffer
// front to nextPos, and makes the confirming header the new pending frame.
func (r *Reader) deliverFrame(out *avpack.Result, next frameHeader, nextLen, nextPos int) avpack.Status {
	view := r.gb.View()
	fh := r.curFrame
	out.Frame = avpack.Frame{
		Bytes:    view[:nextPos],
		Pos:      fh.Pos,
		EndPos:   fh.Pos + uint64(fh.Samples),
		Duration: uint64(fh.Samples),
	}
	r.consume(nextPos)
	r.curFrame = next
	r.curFrameLen = nextLen
	r.haveCurFrame = true
	return avpack.StatusData
}

// deliverLast emits whatever remains in the buffer as the final frame, once
// Finish has been called and no confirming next header will ever arrive.
func (r *Reader) deliverLast(out *avpack.Result) avpack.Status {
	view := r.gb.View()
	fh := r.curFrame
	out.Frame = avpack.Frame{
		Bytes:    view,
		Pos:      fh.Pos,
		EndPos:   fh.Pos + uint64(fh.Samples),
		Duration: uint64(fh.Samples),
	}
	r.consume(len(view))
	r.haveCurFrame = false
	r.state = stDone
	return avpack.StatusData
}

func (r *Reader) prepareSeek() error {
	if r.cfg.Flags&avpack.NoSeek != 0 {
		return fmt.Errorf("flac: %w: reader opened with NoSeek", avpack.ErrNoSeek)
	}
	if r.cfg.TotalSize == 0 || r.info.TotalSamples == 0 {
		return fmt.Errorf("flac: %w: total size or sample count unknown", avpack.ErrNoSeek)
	}
	lo := seekbisect.Point{Sample: 0, Offset: r.frame1Off}
	hi := seekbisect.Point{Sample: r.info.TotalSamples, Offset: r.cfg.TotalSize}
	if len(r.seekTable) >= 2 {
		if idx := FindSeekPoint(r.seekTable, r.seekTarget); idx >= 0 {
			lo = seekbisect.Point{Sample: r.seekTable[idx].Sample, Offset: r.frame1Off + int64(r.seekTable[idx].Offset)}
			hi = seekbisect.Point{Sample: r.seekTable[idx+1].Sample, Offset: r.frame1Off + int64(r.seekTable[idx+1].Offset)}
			if hi.Offset > r.cfg.TotalSize || hi.Offset <= lo.Offset {
				hi = seekbisect.Point{Sample: r.info.TotalSamples, Offset: r.cfg.TotalSize}
			}
		}
	}
	r.seeker = seekbisect.New(lo, hi, r.seekTarget)
	r.seekFinal = false
	r.seekBestOff = -1
	r.seekOffset = r.seeker.Estimate()
	return nil
}

// finishSeek gives up narrowing and re-reads from the best frame found at
// or before the target (falling back to the first frame if none was seen).
func (r *Reader) finishSeek() {
	r.seekFinal = true
	if r.seekBestOff >= 0 {
		r.seekOffset = r.seekBestOff
	} else {
		r.seekOffset = r.frame1Off
	}
	r.state = stSeekEmit
}

func (r *Reader) errorf(out *avpack.Result, err error) avpack.Status {
	out.Error = avpack.ErrorInfo{Err: err, Offset: r.streamPos}
	r.state = stError
	return avpack.StatusError
}
