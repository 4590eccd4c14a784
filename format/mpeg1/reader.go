package mpeg1

import (
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/framesync"
	"github.com/pchchv/avpack/internal/gather"
	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/apev2"
	"github.com/pchchv/avpack/tag/id3v1"
	"github.com/pchchv/avpack/tag/id3v2"
)

type rdState int

const (
	rsID3v2Hdr rdState = iota
	rsID3v2Body
	rsTailID3v1Seek
	rsTailID3v1
	rsTailApeFooterSeek
	rsTailApeFooter
	rsTailApeBodySeek
	rsTailApeBody
	rsDataSeek
	rsSync
	rsFrame
	rsDone
	rsErr
)

// Reader is a push-model MP3 reader: a leading ID3v2 tag, trailing ID3v1
// and APEv2 tags (visited by seeking when allowed), then the MPEG-1 frame
// stream located by the two-header sync engine.
type Reader struct {
	cfg    avpack.Config
	gb     *gather.Buffer
	sync   *framesync.Scanner
	logger avpack.Logger

	state       rdState
	off         int64
	dataOff     int64 // first byte after the ID3v2 tag
	dataEnd     int64 // last byte before any trailing tags
	frame1Off   int64
	id3v2Hdr    id3v2.Header
	apeFooter   apev2.Footer
	pendingTags []tag.Record
	tagIdx      int

	info       Info
	haveInfo   bool
	cursample  uint64
	seekReq    bool
	seekTarget uint64
	toc        [100]byte
	hasTOC     bool

	fin    bool
	closed bool
}

// Info is the decoded stream header.
type Info struct {
	SampleRate   uint32
	Channels     uint8
	Bitrate      uint32
	TotalSamples uint64
	VBRScale     int // -1 CBR
	Delay        uint32
	Padding      uint32
}

// NewReader returns an MP3 reader ready to accept bytes from offset 0.
func NewReader(cfg avpack.Config) *Reader {
	logger := cfg.Logger
	if logger == nil {
		logger = avpack.NopLogger
	}
	gb := gather.New(0)
	r := &Reader{
		cfg:     cfg,
		gb:      gb,
		sync:    framesync.New(format{}, gb),
		logger:  logger,
		dataEnd: cfg.TotalSize,
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

// atEOF reports that Finish was called and, when the total size is known,
// every byte up to it has been fed (r.off counts fed bytes, so it is valid
// right after a back-seek too).
func (r *Reader) atEOF() bool {
	if !r.fin {
		return false
	}
	return r.cfg.TotalSize == 0 || r.off >= r.cfg.TotalSize
}

// Close releases internal buffers.
func (r *Reader) Close() error {
	r.closed = true
	r.gb = nil
	r.sync = nil
	return nil
}

// Info returns the decoded stream parameters (valid after StatusHeader).
func (r *Reader) Info() Info { return r.info }

func (r *Reader) fail(out *avpack.Result, err error) avpack.Status {
	out.Error = avpack.ErrorInfo{Err: err, Offset: r.off}
	r.state = rsErr
	return avpack.StatusError
}

// seekable reports whether trailing-tag and sample seeks are permitted.
func (r *Reader) seekable() bool {
	return r.cfg.TotalSize != 0 && r.cfg.Flags&avpack.NoSeek == 0
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
		case rsID3v2Hdr:
			n, view, err := r.gb.Gather(in[total:], id3v2.HeaderSize)
			total += n
			r.off += int64(n)
			if err != nil {
				return total, r.fail(out, err)
			}
			if view == nil {
				if r.atEOF() {
					return total, avpack.StatusFin
				}
				return total, avpack.StatusMore
			}
			h, herr := id3v2.ParseHeader(view)
			if herr != nil {
				// No leading tag; the stream starts with frame data.
				r.dataOff = 0
				r.state = r.nextAfterFront()
				continue
			}
			r.id3v2Hdr = h
			r.state = rsID3v2Body
			continue

		case rsID3v2Body:
			need := int(r.id3v2Hdr.Size)
			n, view, err := r.gb.Gather(in[total:], need)
			total += n
			r.off += int64(n)
			if err != nil {
				return total, r.fail(out, err)
			}
			if view == nil {
				if r.atEOF() {
					return total, r.fail(out, fmt.Errorf("mpeg1: ID3v2 tag: %w", avpack.ErrTruncated))
				}
				return total, avpack.StatusMore
			}
			recs := id3v2.DecodeTag(r.id3v2Hdr, view[id3v2.HeaderSize:], r.cfg.CodePage)
			r.queueTags(recs)
			r.gb.Consume(need)
			r.dataOff = r.off - int64(r.gb.Len())
			r.state = r.nextAfterFront()
			continue

		case rsTailID3v1Seek:
			if r.cfg.TotalSize-128 <= r.dataOff {
				r.state = rsTailApeFooterSeek
				continue
			}
			r.gb.Reset()
			r.off = r.cfg.TotalSize - 128
			r.state = rsTailID3v1
			out.SeekOffset = r.off
			return total, avpack.StatusSeek

		case rsTailID3v1:
			n, view, err := r.gb.Gather(in[total:], 128)
			total += n
			r.off += int64(n)
			if err != nil {
				return total, r.fail(out, err)
			}
			if view == nil {
				return total, avpack.StatusMore
			}
			if recs, ok := id3v1.Decode(view, r.cfg.CodePage); ok {
				r.queueTags(recs)
				r.dataEnd = r.cfg.TotalSize - 128
			}
			r.gb.Consume(128)
			r.state = rsTailApeFooterSeek
			continue

		case rsTailApeFooterSeek:
			if r.dataEnd-apev2.FooterSize <= r.dataOff {
				r.state = rsDataSeek
				continue
			}
			r.gb.Reset()
			r.off = r.dataEnd - apev2.FooterSize
			r.state = rsTailApeFooter
			out.SeekOffset = r.off
			return total, avpack.StatusSeek

		case rsTailApeFooter:
			n, view, err := r.gb.Gather(in[total:], apev2.FooterSize)
			total += n
			r.off += int64(n)
			if err != nil {
				return total, r.fail(out, err)
			}
			if view == nil {
				return total, avpack.StatusMore
			}
			f, ferr := apev2.ParseFooter(view[:apev2.FooterSize])
			r.gb.Consume(apev2.FooterSize)
			if ferr != nil {
				r.state = rsDataSeek
				continue
			}
			r.apeFooter = f
			r.state = rsTailApeBodySeek
			continue

		case rsTailApeBodySeek:
			start := r.dataEnd - int64(r.apeFooter.TagSize)
			if start < 0 {
				r.state = rsDataSeek
				continue
			}
			r.gb.Reset()
			r.off = start
			r.state = rsTailApeBody
			out.SeekOffset = r.off
			return total, avpack.StatusSeek

		case rsTailApeBody:
			need := int(r.apeFooter.TagSize) - apev2.FooterSize
			n, view, err := r.gb.Gather(in[total:], need)
			total += n
			r.off += int64(n)
			if err != nil {
				return total, r.fail(out, err)
			}
			if view == nil {
				return total, avpack.StatusMore
			}
			if recs, derr := apev2.Decode(view[:need], r.apeFooter.ItemCount); derr == nil {
				r.queueTags(recs)
			}
			r.gb.Consume(need)
			r.dataEnd -= r.apeFooter.TotalSize()
			r.state = rsDataSeek
			continue

		case rsDataSeek:
			r.gb.Reset()
			r.off = r.dataOff
			r.state = rsSync
			out.SeekOffset = r.off
			return total, avpack.StatusSeek

		case rsSync, rsFrame:
			st, emitted, err := r.frameStep(in, &total, out)
			if err != nil {
				return total, r.fail(out, err)
			}
			if emitted {
				return total, st
			}

		case rsDone:
			return total, avpack.StatusFin
		}
	}
}

// nextAfterFront picks what follows the leading tag: the trailing-tag
// visits when the stream is seekable, else straight to frame sync.
func (r *Reader) nextAfterFront() rdState {
	if r.seekable() {
		return rsTailID3v1Seek
	}
	return rsSync
}

// frameStep drives the sync engine: locate the next frame header, gather
// the whole frame, and deliver it. The first frame may be a Xing/Info
// metadata frame, which is consumed silently after filling the header.
func (r *Reader) frameStep(in []byte, total *int, out *avpack.Result) (avpack.Status, bool, error) {
	if r.seekReq && r.haveInfo {
		return r.applySeek(out)
	}
	n, res, hdr, err := r.sync.Step(in[*total:])
	r.off += int64(n)
	*total += n
	if err != nil {
		return 0, false, err
	}
	switch res {
	case framesync.ResultMore:
		if r.atEOF() {
			return avpack.StatusFin, true, nil
		}
		return avpack.StatusMore, true, nil
	case framesync.ResultWarning:
		out.Error = avpack.ErrorInfo{Err: fmt.Errorf("mpeg1: lost frame sync: %w", avpack.ErrCorrupt), Offset: r.off}
		return avpack.StatusWarning, true, nil
	}

	// Gather the whole frame (header included) at the buffer front.
	need := hdr.FrameSize
	n2, view, gerr := r.gb.Gather(in[*total:], need)
	r.off += int64(n2)
	*total += n2
	if gerr != nil {
		return 0, false, gerr
	}
	if view == nil {
		if r.atEOF() {
			// Deliver what remains as the final, truncated frame.
			rest := r.gb.View()
			if len(rest) == 0 {
				return avpack.StatusFin, true, nil
			}
			out.Frame = avpack.Frame{Bytes: rest, Pos: r.cursample, EndPos: r.cursample + uint64(samples(hdr.Raw)), Duration: uint64(samples(hdr.Raw))}
			r.cursample += uint64(samples(hdr.Raw))
			r.gb.Consume(len(rest))
			r.state = rsDone
			return avpack.StatusData, true, nil
		}
		return avpack.StatusMore, true, nil
	}

	if !r.haveInfo {
		r.haveInfo = true
		r.frame1Off = r.off - int64(r.gb.Len())
		skipMeta := r.fillInfo(view[:need])
		out.Header = avpack.HeaderInfo{
			Codec:        "mpeg1",
			SampleRate:   r.info.SampleRate,
			Channels:     r.info.Channels,
			TotalSamples: r.info.TotalSamples,
			EncoderDelay: r.info.Delay,
			EndPadding:   r.info.Padding,
		}
		if skipMeta {
			r.gb.Consume(need)
			r.sync.Resync()
		}
		r.state = rsFrame
		return avpack.StatusHeader, true, nil
	}

	pos := r.cursample
	dur := uint64(samples(view))
	out.Frame = avpack.Frame{Bytes: view[:need], Pos: pos, EndPos: pos + dur, Duration: dur}
	r.cursample += dur
	r.gb.Consume(need)
	return avpack.StatusData, true, nil
}

// fillInfo derives the stream header from the first frame, preferring the
// Xing/Info or VBRI metadata it may carry; reports whether that frame was
// pure metadata to be skipped.
func (r *Reader) fillInfo(frame []byte) (skip bool) {
	dataSize := uint64(0)
	if r.dataEnd > r.dataOff {
		dataSize = uint64(r.dataEnd - r.dataOff)
	}

	var x xingInfo
	if end := parseXing(&x, frame); end >= 0 {
		if x.HasTOC {
			r.toc = x.TOC
			r.hasTOC = true
		}
		var padding uint32
		if d, p, ok := parseLame(frame[end:]); ok {
			x.Delay = d
			if p > decoderDelay {
				padding = p - decoderDelay
			}
		}
		r.info = Info{
			SampleRate: sampleRate(frame),
			Channels:   channels(frame),
			VBRScale:   x.VBRScale,
			Delay:      x.Delay + decoderDelay,
			Padding:    padding,
		}
		if x.Frames != 0 {
			r.info.TotalSamples = uint64(x.Frames) * uint64(samples(frame))
		}
		if x.VBRScale >= 0 && r.info.TotalSamples != 0 {
			r.info.Bitrate = uint32(dataSize * 8 * uint64(r.info.SampleRate) / r.info.TotalSamples)
		} else {
			r.info.Bitrate = bitrate(frame)
		}
		clamp := r.info.TotalSamples
		if uint64(r.info.Delay)+uint64(padding) < clamp {
			clamp = uint64(r.info.Delay) + uint64(padding)
		}
		r.info.TotalSamples -= clamp
		return true
	}
	if parseVBRI(&x, frame) {
		r.info = Info{
			SampleRate:   sampleRate(frame),
			Channels:     channels(frame),
			Bitrate:      bitrate(frame),
			TotalSamples: uint64(x.Frames) * uint64(samples(frame)),
			VBRScale:     0,
			Delay:        decoderDelay,
		}
		return true
	}

	r.info = Info{
		SampleRate: sampleRate(frame),
		Channels:   channels(frame),
		Bitrate:    bitrate(frame),
		VBRScale:   -1,
		Delay:      decoderDelay,
	}
	if fs := frameSize(frame); fs > 0 && dataSize != 0 {
		r.info.TotalSamples = dataSize * uint64(samples(frame)) / uint64(fs)
	}
	return false
}

// applySeek maps the target sample to a byte offset through the Xing TOC
// when present, else by linear interpolation over the data region.
func (r *Reader) applySeek(out *avpack.Result) (avpack.Status, bool, error) {
	r.seekReq = false
	if !r.seekable() || r.info.TotalSamples == 0 || r.seekTarget >= r.info.TotalSamples {
		return 0, false, fmt.Errorf("mpeg1: %w", avpack.ErrNoSeek)
	}
	dataSize := uint64(r.dataEnd - r.frame1Off)
	var off uint64
	if r.hasTOC {
		off = xingSeek(r.toc[:], r.seekTarget, r.info.TotalSamples, dataSize)
	} else {
		off = r.seekTarget * dataSize / r.info.TotalSamples
	}
	r.gb.Reset()
	r.sync.Resync()
	r.off = r.frame1Off + int64(off)
	r.cursample = r.seekTarget
	out.SeekOffset = r.off
	return avpack.StatusSeek, true, nil
}

func (r *Reader) queueTags(recs []tag.Record) {
	if len(recs) == 0 {
		return
	}
	if r.tagIdx == len(r.pendingTags) {
		r.pendingTags = r.pendingTags[:0]
		r.tagIdx = 0
	}
	r.pendingTags = append(r.pendingTags, recs...)
}
