package flac

import (
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/vorbiscomment"
)

type writerState int

const (
	wHdr writerState = iota
	wPic
	wSeekTabSpace
	wFrames
	wSeek0
	wInfoWrite
	wSeekTabSeek
	wSeekTabWrite
	wDone
)

// Writer produces a native FLAC stream from caller-supplied encoded frames:
// fLaC, STREAMINFO, VORBIS_COMMENT, optional PADDING/PICTURE/SEEKTABLE, then
// the frame stream. At finalize it seeks back to rewrite STREAMINFO (total
// samples) and the seek table.
type Writer struct {
	info         StreamInfo
	totalSamples uint64
	seekable     bool
	minMeta      int

	tags    []tag.Record
	vendor  string
	picMime string
	picData []byte

	state      writerState
	buf        []byte
	seekTab    []SeekPoint
	seekTabIdx int
	seekTabOff int64
	hdrLen     int64

	nsamples  uint64
	framesLen uint64
	fin       bool
	closed    bool
}

// WriterConfig parameterizes NewWriter.
type WriterConfig struct {
	// TotalSamples, when known up front, enables the seek table.
	TotalSamples uint64
	// Seekable must be false when the sink cannot be repositioned; the
	// finalize rewrite of STREAMINFO and the seek table is then skipped.
	Seekable bool
	// SeekTableInterval is the seek point spacing in samples; 0 picks one
	// point per second of audio.
	SeekTableInterval uint32
	// MinMetaSize pads the metadata area up to this many bytes so tags can
	// be rewritten in place later without moving the frame stream.
	MinMetaSize int
}

// NewWriter returns a FLAC stream writer for audio described by info.
func NewWriter(info StreamInfo, cfg WriterConfig) *Writer {
	minMeta := cfg.MinMetaSize
	if minMeta == 0 {
		minMeta = 1000
	}
	w := &Writer{
		info:         info,
		totalSamples: cfg.TotalSamples,
		seekable:     cfg.Seekable,
		minMeta:      minMeta,
		vendor:       "avpack",
	}
	if cfg.Seekable && cfg.TotalSamples != 0 {
		interval := cfg.SeekTableInterval
		if interval == 0 {
			interval = info.SampleRate
		}
		w.seekTab = BuildSeekTable(cfg.TotalSamples, interval)
	}
	return w
}

// AddTag queues one metadata field for the VORBIS_COMMENT block. All tags
// must be added before the first Process call.
func (w *Writer) AddTag(id tag.ID, name, value string) {
	w.tags = append(w.tags, tag.Record{ID: id, Name: name, Value: value})
}

// SetPicture queues a PICTURE metadata block. data must stay valid until
// the header has been written.
func (w *Writer) SetPicture(mime string, data []byte) {
	w.picMime = mime
	w.picData = data
}

// Close releases the writer's buffers.
func (w *Writer) Close() error {
	w.closed = true
	w.buf = nil
	return nil
}

// Process accepts one encoded FLAC frame (frame.Duration is its sample
// count) and returns the next chunk of file bytes, a seek request for the
// finalize rewrites, or StatusFin once the stream is complete.
func (w *Writer) Process(frame *avpack.Frame, flags avpack.WriteFlags, out *avpack.Result) avpack.Status {
	if w.closed {
		out.Error = avpack.ErrorInfo{Err: avpack.ErrClosed}
		return avpack.StatusError
	}
	if flags&avpack.Last != 0 {
		w.fin = true
	}
	for {
		switch w.state {
		case wHdr:
			if err := w.writeHeader(); err != nil {
				out.Error = avpack.ErrorInfo{Err: err}
				return avpack.StatusError
			}
			w.state = wPic
			out.Frame = avpack.Frame{Bytes: w.buf}
			return avpack.StatusData

		case wPic:
			w.state = wSeekTabSpace
			if len(w.picData) == 0 {
				continue
			}
			w.buf = writePicture(w.buf[:0], w.picMime, w.picData, len(w.seekTab) == 0)
			w.hdrLen += int64(len(w.buf))
			out.Frame = avpack.Frame{Bytes: w.buf}
			return avpack.StatusData

		case wSeekTabSpace:
			w.state = wFrames
			if len(w.seekTab) == 0 {
				continue
			}
			// Reserve the seek table's bytes now; the real offsets are
			// seeked back to and filled in at finalize.
			w.seekTabOff = w.hdrLen
			w.buf = WriteSeekTable(w.buf[:0], w.seekTab, w.info.MinBlock, true)
			w.hdrLen += int64(len(w.buf))
			out.Frame = avpack.Frame{Bytes: w.buf}
			return avpack.StatusData

		case wFrames:
			if len(frame.Bytes) == 0 {
				if w.fin {
					w.state = wSeek0
					continue
				}
				return avpack.StatusMore
			}
			w.seekTabIdx = addSeekOffsets(w.seekTab, w.seekTabIdx, w.nsamples, w.framesLen, frame.Duration)
			w.nsamples += frame.Duration
			w.framesLen += uint64(len(frame.Bytes))
			out.Frame = avpack.Frame{Bytes: frame.Bytes}
			frame.Bytes = nil
			if w.fin {
				w.state = wSeek0
			}
			return avpack.StatusData

		case wSeek0:
			if !w.seekable {
				w.state = wDone
				continue
			}
			w.state = wInfoWrite
			out.SeekOffset = 0
			return avpack.StatusSeek

		case wInfoWrite:
			w.info.TotalSamples = w.nsamples
			hdr, err := WriteStreamInfo(w.buf[:0], w.info, false)
			if err != nil {
				out.Error = avpack.ErrorInfo{Err: fmt.Errorf("flac: finalize: %w", err)}
				return avpack.StatusError
			}
			w.buf = hdr
			w.state = wSeekTabSeek
			out.Frame = avpack.Frame{Bytes: w.buf}
			return avpack.StatusData

		case wSeekTabSeek:
			if len(w.seekTab) == 0 {
				w.state = wDone
				continue
			}
			w.state = wSeekTabWrite
			out.SeekOffset = w.seekTabOff
			return avpack.StatusSeek

		case wSeekTabWrite:
			w.state = wDone
			w.buf = WriteSeekTable(w.buf[:0], w.seekTab, w.info.MinBlock, true)
			out.Frame = avpack.Frame{Bytes: w.buf}
			return avpack.StatusData

		case wDone:
			return avpack.StatusFin
		}
	}
}

// writeHeader builds fLaC + STREAMINFO + VORBIS_COMMENT (+ PADDING) into
// w.buf and records the running header length for the seek table offset.
func (w *Writer) writeHeader() error {
	si := w.info
	si.TotalSamples = w.totalSamples
	tagBlock := vorbiscomment.Encode(w.vendor, w.tags)
	padding := 0
	if w.minMeta > len(tagBlock) {
		padding = w.minMeta - len(tagBlock)
	}
	moreBlocks := padding != 0 || len(w.picData) != 0 || len(w.seekTab) != 0

	buf, err := WriteStreamInfo(w.buf[:0], si, false)
	if err != nil {
		return fmt.Errorf("flac: header: %w", err)
	}
	buf = writeBlockHeader(buf, blockVorbisTags, !moreBlocks, len(tagBlock))
	buf = append(buf, tagBlock...)
	if padding != 0 {
		last := len(w.picData) == 0 && len(w.seekTab) == 0
		buf = WritePadding(buf, padding, last)
	}
	w.buf = buf
	w.hdrLen = int64(len(buf))
	return nil
}

// addSeekOffsets stamps the frame-stream byte offset onto every seek point
// whose target sample falls inside the frame beginning at sample pos.
func addSeekOffsets(pts []SeekPoint, idx int, pos, framesLen, samples uint64) int {
	for idx < len(pts) && pts[idx].Sample < pos {
		idx++
	}
	for idx < len(pts) && pts[idx].Sample < pos+samples {
		pts[idx].Offset = framesLen
		idx++
	}
	return idx
}
