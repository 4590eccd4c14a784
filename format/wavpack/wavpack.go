// Package wavpack implements a push-model reader for WavPack (.wv)
// streams: "wvpk" blocks located by the shared frame-sync engine, a
// bisecting sample seek, and trailing APEv2/ID3v1 tags.
package wavpack

import (
	"encoding/binary"
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/framesync"
	"github.com/pchchv/avpack/internal/gather"
	"github.com/pchchv/avpack/seekbisect"
	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/apev2"
	"github.com/pchchv/avpack/tag/id3v1"
)

// headerSize is the fixed 32-byte block header.
const headerSize = 32

var sampleRates = [16]uint32{
	6000, 8000, 9600, 11025, 12000, 16000, 22050, 24000,
	32000, 44100, 48000, 64000, 88200, 96000, 192000, 44100,
}

// header is one parsed block header.
type header struct {
	Size         int // whole block, "wvpk" and size field included
	TotalSamples uint32
	Index        uint32
	Samples      uint32
	Bits         uint32
	Float        bool
	Channels     uint8
	SampleRate   uint32
}

func parseHeader(d []byte) (header, error) {
	if string(d[0:4]) != "wvpk" {
		return header{}, framesync.ErrLostSync
	}
	size := int(binary.LittleEndian.Uint32(d[4:8])) + 8
	if size < headerSize {
		return header{}, framesync.ErrLostSync
	}
	f := binary.LittleEndian.Uint32(d[24:28])
	h := header{
		Size:         size,
		TotalSamples: binary.LittleEndian.Uint32(d[12:16]),
		Index:        binary.LittleEndian.Uint32(d[16:20]),
		Samples:      binary.LittleEndian.Uint32(d[20:24]),
		Channels:     2,
		Float:        f&0x80 != 0,
	}
	if f&0x04 != 0 {
		h.Channels = 1
	}
	bytesPerSample := (f & 0x03) + 1
	h.Bits = bytesPerSample*8 - (f>>13)&0x1F
	h.SampleRate = sampleRates[(f>>23)&0x0F]
	return h, nil
}

// invariant keeps the flag bits that never change between blocks:
// sample-rate index, mono, float, bytes per sample.
func invariant(d []byte) uint32 {
	f := binary.LittleEndian.Uint32(d[24:28])
	return f & (0x0F<<23 | 0x80 | 0x04 | 0x03)
}

// format adapts the block header to the shared frame-sync engine.
type format struct{}

func (format) SyncByte() byte  { return 'w' }
func (format) HeaderSize() int { return headerSize }

func (format) ParseHeader(data []byte) (framesync.Header, error) {
	h, err := parseHeader(data)
	if err != nil {
		return framesync.Header{}, err
	}
	return framesync.Header{
		FrameSize:     h.Size,
		InvariantMask: invariant(data),
		Raw:           data[:headerSize],
	}, nil
}

type rdState int

const (
	rsTailSeek rdState = iota
	rsTail
	rsApeBodySeek
	rsApeBody
	rsDataSeek
	rsBlocks
	rsSeekEmit
	rsDone
	rsErr
)

// Reader is a push-model .wv reader.
type Reader struct {
	cfg  avpack.Config
	gb   *gather.Buffer
	sync *framesync.Scanner

	state   rdState
	off     int64 // offset of the next byte to be fed
	tailEnd int64

	info     header
	haveInfo bool
	firstOff int64

	apeFooter   apev2.Footer
	pendingTags []tag.Record
	tagIdx      int

	seeker      *seekbisect.Seeker
	seekReq     bool
	seekTarget  uint64
	seekOffset  int64
	seekFinal   bool
	seekBestOff int64

	fin    bool
	closed bool
}

// NewReader returns a .wv reader.
func NewReader(cfg avpack.Config) *Reader {
	gb := gather.New(0)
	r := &Reader{
		cfg:     cfg,
		gb:      gb,
		sync:    framesync.New(format{}, gb),
		tailEnd: cfg.TotalSize,
		state:   rsBlocks,
	}
	if cfg.TotalSize != 0 && cfg.Flags&avpack.NoSeek == 0 {
		r.state = rsTailSeek
	}
	return r
}

// Seek records a deferred seek to sampleIndex.
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
	return r.cfg.TotalSize == 0 || r.off >= r.tailEnd
}

// Close releases internal buffers.
func (r *Reader) Close() error {
	r.closed = true
	r.gb = nil
	r.sync = nil
	return nil
}

func (r *Reader) fail(out *avpack.Result, err error) avpack.Status {
	out.Error = avpack.ErrorInfo{Err: err, Offset: r.off}
	r.state = rsErr
	return avpack.StatusError
}

// Process consumes a prefix of in and reports the next result.
func (r *Reader) Process(in []byte, out *avpack.Result) (int, avpack.Status) {
	if r.closed || r.state == rsErr {
		out.Error = avpack.ErrorInfo{Err: avpack.ErrClosed}
		return 0, avpack.StatusError
	}
	total := 0
	for {
		if r.tagIdx < len(r.pendingTags) {
			out.Tag = r.pendingTags[r.tagIdx]
			r.tagIdx++
			return total, avpack.StatusMeta
		}

		switch r.state {
		case rsTailSeek:
			n := int64(apev2.FooterSize + 128)
			if n > r.cfg.TotalSize {
				n = r.cfg.TotalSize
			}
			r.gb.Reset()
			r.off = r.cfg.TotalSize - n
			r.state = rsTail
			out.SeekOffset = r.off
			return total, avpack.StatusSeek

		case rsTail:
			want := int(r.cfg.TotalSize - r.off)
			n, view, err := r.gb.Gather(in[total:], want)
			total += n
			r.off += int64(n)
			if err != nil {
				return total, r.fail(out, err)
			}
			if view == nil {
				return total, avpack.StatusMore
			}
			if len(view) >= 128 {
				if recs, ok := id3v1.Decode(view[len(view)-128:], r.cfg.CodePage); ok {
					r.pendingTags = append(r.pendingTags, recs...)
					r.tailEnd = r.cfg.TotalSize - 128
				}
			}
			ftrOff := int(int64(len(view)) - (r.cfg.TotalSize - r.tailEnd) - apev2.FooterSize)
			if ftrOff >= 0 {
				if f, ferr := apev2.ParseFooter(view[ftrOff : ftrOff+apev2.FooterSize]); ferr == nil {
					r.apeFooter = f
					r.gb.Reset()
					r.state = rsApeBodySeek
					continue
				}
			}
			r.gb.Reset()
			r.state = rsDataSeek
			continue

		case rsApeBodySeek:
			start := r.tailEnd - int64(r.apeFooter.TagSize)
			if start < 0 {
				r.state = rsDataSeek
				continue
			}
			r.off = start
			r.state = rsApeBody
			out.SeekOffset = r.off
			return total, avpack.StatusSeek

		case rsApeBody:
			want := int(r.apeFooter.TagSize) - apev2.FooterSize
			n, view, err := r.gb.Gather(in[total:], want)
			total += n
			r.off += int64(n)
			if err != nil {
				return total, r.fail(out, err)
			}
			if view == nil {
				return total, avpack.StatusMore
			}
			if recs, derr := apev2.Decode(view[:want], r.apeFooter.ItemCount); derr == nil {
				r.pendingTags = append(r.pendingTags, recs...)
			}
			r.tailEnd -= r.apeFooter.TotalSize()
			r.gb.Reset()
			r.state = rsDataSeek
			continue

		case rsDataSeek:
			r.off = 0
			r.state = rsBlocks
			out.SeekOffset = 0
			return total, avpack.StatusSeek

		case rsBlocks:
			st, emitted, err := r.blockStep(in, &total, out)
			if err != nil {
				return total, r.fail(out, err)
			}
			if emitted {
				return total, st
			}

		case rsSeekEmit:
			out.SeekOffset = r.seekOffset
			r.gb.Reset()
			r.sync.Resync()
			r.off = r.seekOffset
			r.state = rsBlocks
			return total, avpack.StatusSeek

		case rsDone:
			return total, avpack.StatusFin
		}
	}
}

// blockStep locates and delivers the next block.
func (r *Reader) blockStep(in []byte, total *int, out *avpack.Result) (avpack.Status, bool, error) {
	if r.seekReq && r.haveInfo {
		return r.prepareSeek(out)
	}
	n, res, hdr, err := r.sync.Step(in[*total:])
	*total += n
	r.off += int64(n)
	if err != nil {
		return 0, false, err
	}
	switch res {
	case framesync.ResultMore:
		if r.atEOF() {
			if r.seeker != nil {
				return r.seekNoBlock(out)
			}
			return avpack.StatusFin, true, nil
		}
		return avpack.StatusMore, true, nil
	case framesync.ResultWarning:
		out.Error = avpack.ErrorInfo{Err: fmt.Errorf("wavpack: lost block sync: %w", avpack.ErrCorrupt), Offset: r.off}
		return avpack.StatusWarning, true, nil
	}

	n2, view, gerr := r.gb.Gather(in[*total:], hdr.FrameSize)
	*total += n2
	r.off += int64(n2)
	if gerr != nil {
		return 0, false, gerr
	}
	if view == nil {
		if r.atEOF() {
			return avpack.StatusFin, true, nil
		}
		return avpack.StatusMore, true, nil
	}

	h, _ := parseHeader(view[:headerSize])
	blockOff := r.off - int64(r.gb.Len())

	if !r.haveInfo {
		r.haveInfo = true
		r.info = h
		r.firstOff = blockOff
		out.Header = avpack.HeaderInfo{
			Codec:        "wavpack",
			SampleRate:   h.SampleRate,
			Channels:     h.Channels,
			Bits:         uint8(h.Bits),
			Float:        h.Float,
			TotalSamples: uint64(h.TotalSamples),
		}
		return avpack.StatusHeader, true, nil
	}

	if r.seeker != nil {
		// Narrow the window by the found block's start position.
		if r.seekFinal {
			r.seeker = nil
			r.seekFinal = false
		} else {
			if uint64(h.Index) <= r.seekTarget {
				r.seekBestOff = blockOff
			}
			r.seeker.Narrow(r.seekOffset, uint64(h.Index), blockOff+int64(h.Size))
			if r.seeker.Done() {
				if uint64(h.Index) <= r.seekTarget {
					r.seeker = nil // this block is the answer
				} else {
					r.finishSeek()
					out.SeekOffset = r.seekOffset
					return avpack.StatusSeek, true, nil
				}
			} else {
				r.seekOffset = r.seeker.Estimate()
				r.state = rsSeekEmit
				return 0, false, nil
			}
		}
	}

	pos := uint64(h.Index)
	out.Frame = avpack.Frame{
		Bytes:    view[:hdr.FrameSize],
		Pos:      pos,
		EndPos:   pos + uint64(h.Samples),
		Duration: uint64(h.Samples),
	}
	r.gb.Consume(hdr.FrameSize)
	return avpack.StatusData, true, nil
}

// prepareSeek enters the bisection between the first block and the file
// tail.
func (r *Reader) prepareSeek(out *avpack.Result) (avpack.Status, bool, error) {
	r.seekReq = false
	if r.info.TotalSamples == 0 || r.cfg.TotalSize == 0 {
		return 0, false, fmt.Errorf("wavpack: %w", avpack.ErrNoSeek)
	}
	lo := seekbisect.Point{Sample: 0, Offset: r.firstOff}
	hi := seekbisect.Point{Sample: uint64(r.info.TotalSamples), Offset: r.tailEnd}
	r.seeker = seekbisect.New(lo, hi, r.seekTarget)
	r.seekBestOff = -1
	r.seekFinal = false
	r.seekOffset = r.seeker.Estimate()
	r.state = rsSeekEmit
	return 0, false, nil
}

// seekNoBlock handles a probe that found no block before EOF.
func (r *Reader) seekNoBlock(out *avpack.Result) (avpack.Status, bool, error) {
	if stalled := r.seeker.NoFrameFound(); stalled {
		r.finishSeek()
		out.SeekOffset = r.seekOffset
		return avpack.StatusSeek, true, nil
	}
	r.seekOffset = r.seeker.Probe()
	r.state = rsSeekEmit
	return 0, false, nil
}

// finishSeek re-reads from the best block found at or before the target.
func (r *Reader) finishSeek() {
	r.seekFinal = true
	if r.seekBestOff >= 0 {
		r.seekOffset = r.seekBestOff
	} else {
		r.seekOffset = r.firstOff
	}
	r.gb.Reset()
	r.sync.Resync()
	r.off = r.seekOffset
	r.state = rsBlocks
}
