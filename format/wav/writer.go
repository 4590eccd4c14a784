package wav

import (
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/riffinfo"
)

type writerState int

const (
	wHdr writerState = iota
	wData
	wHdrFin
	wTags
	wDone
)

// Writer produces a RIFF/WAVE stream: header, PCM data, an optional
// LIST/INFO tag chunk, then a finalize pass that seeks back to patch the
// RIFF and data sizes when the sample count was not known up front.
type Writer struct {
	info  Info
	state writerState

	buf       []byte
	tagRecs   []tagRec
	listBytes uint32
	dataSize  uint64
	fin       bool
	closed    bool
}

type tagRec struct {
	fourCC  string
	payload []byte
}

// NewWriter returns a WAV writer for PCM audio described by info. If
// info.TotalSamples is set, the header is final from the start and no
// seek-back happens.
func NewWriter(info Info) *Writer {
	return &Writer{info: info}
}

// AddTag queues one RIFF INFO tag, written into a LIST chunk after the
// audio data. Records with no RIFF INFO mapping and no four-char Name are
// dropped. All tags must be added before the first Process call.
func (w *Writer) AddTag(id tag.ID, name, value string) {
	fourCC, payload, ok := riffinfo.Encode(tag.Record{ID: id, Name: name, Value: value})
	if !ok {
		return
	}
	w.tagRecs = append(w.tagRecs, tagRec{fourCC: fourCC, payload: payload})
}

// Close releases the writer's buffer.
func (w *Writer) Close() error {
	w.closed = true
	w.buf = nil
	return nil
}

// Process accepts PCM sample data and returns the next chunk of file
// bytes; after the Last flag it writes the tag chunk and finalizes the
// header.
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
			w.listBytes = listChunkSize(w.tagRecs)
			w.buf = w.header(w.buf[:0])
			w.state = wData
			out.Frame = avpack.Frame{Bytes: w.buf}
			return avpack.StatusData

		case wData:
			if len(frame.Bytes) == 0 {
				if !w.fin {
					return avpack.StatusMore
				}
				w.state = wTags
				continue
			}
			if w.dataSize+uint64(len(frame.Bytes)) > 0xFFFFFFFF {
				out.Error = avpack.ErrorInfo{Err: fmt.Errorf("wav: %w: data exceeds 4 GiB", avpack.ErrUnsupported)}
				return avpack.StatusError
			}
			w.dataSize += uint64(len(frame.Bytes))
			out.Frame = avpack.Frame{Bytes: frame.Bytes}
			frame.Bytes = nil
			return avpack.StatusData

		case wTags:
			if len(w.tagRecs) == 0 {
				w.state = wHdrFin
				continue
			}
			w.buf = w.buf[:0]
			if w.dataSize%2 == 1 {
				w.buf = append(w.buf, 0) // chunk padding
			}
			w.buf = w.listInfo(w.buf)
			w.tagRecs = nil
			out.Frame = avpack.Frame{Bytes: w.buf}
			return avpack.StatusData

		case wHdrFin:
			if w.info.TotalSamples != 0 && w.dataSize == w.info.TotalSamples*uint64(w.info.SampleSize()) {
				w.state = wDone
				continue
			}
			w.info.TotalSamples = w.dataSize / uint64(w.info.SampleSize())
			w.state = wDone
			out.SeekOffset = 0
			// The rewritten header goes out on the next call, after the
			// caller repositions the sink.
			w.buf = w.header(w.buf[:0])
			out.Frame = avpack.Frame{}
			return avpack.StatusSeek

		case wDone:
			if len(w.buf) != 0 {
				out.Frame = avpack.Frame{Bytes: w.buf}
				w.buf = nil
				return avpack.StatusData
			}
			return avpack.StatusFin
		}
	}
}

// header builds RIFF + WAVE + fmt + the data chunk header. With a known
// sample count the sizes are exact; otherwise they are 0xFFFFFFFF until the
// finalize rewrite.
func (w *Writer) header(dst []byte) []byte {
	dataSize := uint32(0xFFFFFFFF)
	riffSize := uint32(0xFFFFFFFF)
	if w.info.TotalSamples != 0 {
		dataSize = uint32(w.info.TotalSamples) * uint32(w.info.SampleSize())
		riffSize = 4 + 8 + fmtChunkSize + 8 + dataSize + dataSize%2 + w.listBytes
	}
	dst = writeChunkHeader(dst, "RIFF", riffSize)
	dst = append(dst, "WAVE"...)
	dst = writeChunkHeader(dst, "fmt ", fmtChunkSize)
	dst = writeFmt(dst, w.info)
	dst = writeChunkHeader(dst, "data", dataSize)
	return dst
}

// listChunkSize is the whole LIST chunk's byte length, header included.
func listChunkSize(recs []tagRec) uint32 {
	if len(recs) == 0 {
		return 0
	}
	n := uint32(8 + 4)
	for _, r := range recs {
		n += 8 + uint32(len(r.payload))
	}
	return n
}

// listInfo builds the trailing LIST/INFO chunk from the queued tags.
func (w *Writer) listInfo(dst []byte) []byte {
	size := uint32(4)
	for _, r := range w.tagRecs {
		size += 8 + uint32(len(r.payload))
	}
	dst = writeChunkHeader(dst, "LIST", size)
	dst = append(dst, "INFO"...)
	for _, r := range w.tagRecs {
		dst = writeChunkHeader(dst, r.fourCC, uint32(len(r.payload)))
		dst = append(dst, r.payload...)
	}
	return dst
}
