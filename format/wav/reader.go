package wav

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/container"
	"github.com/pchchv/avpack/tag/riffinfo"
)

// Chunk semantic tags bound to descriptor table entries.
const (
	tRIFF = iota + 1
	tFmt
	tList
	tData
	tInfoTag // riffinfo chunk; low bits unused, Name resolved from the id
)

var infoChunks = func() []container.Descriptor {
	ids := []string{"IART", "ICOP", "ICRD", "IGNR", "INAM", "IPRD", "IPRT", "ISFT"}
	out := make([]container.Descriptor, len(ids))
	for i, id := range ids {
		out[i] = container.Descriptor{
			ID:    container.FourCC(id),
			Name:  id,
			Flags: container.GatherWhole,
			Tag:   tInfoTag,
		}
	}
	return out
}()

var rootTable = []container.Descriptor{{
	ID:      container.FourCC("RIFF"),
	Name:    "RIFF",
	Flags:   container.IsContainer | container.Unique,
	MinSize: 4,
	Tag:     tRIFF,
	Children: []container.Descriptor{
		{ID: container.FourCC("fmt "), Name: "fmt", Flags: container.GatherWhole | container.Unique, MinSize: fmtChunkSize, Tag: tFmt},
		{ID: container.FourCC("LIST"), Name: "LIST", Flags: container.IsContainer, MinSize: 4, Tag: tList, Children: infoChunks},
		{ID: container.FourCC("data"), Name: "data", Flags: container.Stream, Tag: tData},
	},
}}

// parseChunkHeader decodes the 8-byte RIFF chunk header. A data chunk
// declaring size 0xFFFFFFFF extends to the end of the file (streamed
// captures that never went back to fix the header).
func parseChunkHeader(hdr []byte) (container.Header, error) {
	id := container.FourCC(string(hdr[0:4]))
	size := int64(binary.LittleEndian.Uint32(hdr[4:8]))
	if size == 0xFFFFFFFF && id == container.FourCC("data") {
		size = -1
	}
	return container.Header{ID: id, Size: size}, nil
}

// Reader is a push-model RIFF/WAVE reader.
type Reader struct {
	cfg    avpack.Config
	eng    *container.Engine
	logger avpack.Logger

	info       Info
	hasFmt     bool
	infData    bool
	dataOff    int64
	dataSize   int64
	dataNode   *container.Node
	bytesRead  int64
	cursample  uint64
	seekSample uint64
	headerSent bool
	done       bool
	closed     bool
}

// NewReader returns a WAV reader ready to accept bytes from the start of a
// RIFF stream.
func NewReader(cfg avpack.Config) *Reader {
	logger := cfg.Logger
	if logger == nil {
		logger = avpack.NopLogger
	}
	return &Reader{
		cfg: cfg,
		eng: container.New(container.Config{
			HeaderLen:   8,
			ParseHeader: parseChunkHeader,
			Pad:         true,
			TotalSize:   cfg.TotalSize,
			Seekable:    cfg.TotalSize != 0 && cfg.Flags&avpack.NoSeek == 0,
			StrictRoot:  true,
		}, rootTable),
		logger:     logger,
		seekSample: avpack.UndefinedPos,
	}
}

// Seek records a deferred seek to sampleIndex, applied at the next Process
// call while the data chunk is being streamed.
func (r *Reader) Seek(sampleIndex uint64) { r.seekSample = sampleIndex }

// Finish tells the reader no more bytes will be fed.
func (r *Reader) Finish() { r.eng.Finish() }

// Close releases internal buffers.
func (r *Reader) Close() error {
	r.closed = true
	r.eng = nil
	return nil
}

// Info returns the decoded stream parameters (valid after StatusHeader).
func (r *Reader) Info() Info { return r.info }

// Process consumes a prefix of in and reports the next traversal result.
func (r *Reader) Process(in []byte, out *avpack.Result) (int, avpack.Status) {
	if r.closed {
		out.Error = avpack.ErrorInfo{Err: avpack.ErrClosed}
		return 0, avpack.StatusError
	}
	total := 0
	for {
		if r.seekSample != avpack.UndefinedPos && r.headerSent {
			if st, ok := r.applySeek(out); ok {
				return total, st
			}
		}
		n, ev := r.eng.Process(in[total:])
		total += n
		switch ev {
		case container.EvMore:
			return total, avpack.StatusMore

		case container.EvSeek:
			out.SeekOffset = r.eng.SeekOffset()
			return total, avpack.StatusSeek

		case container.EvChunk:
			if st, emitted := r.onChunk(out); emitted {
				return total, st
			}

		case container.EvData:
			view := r.eng.View()
			pos := r.cursample
			r.bytesRead += int64(len(view))
			if ss := r.info.SampleSize(); ss > 0 {
				r.cursample = uint64(r.bytesRead) / uint64(ss)
			}
			out.Frame = avpack.Frame{
				Bytes:    view,
				Pos:      pos,
				EndPos:   r.cursample,
				Duration: r.cursample - pos,
			}
			return total, avpack.StatusData

		case container.EvPop:
			if r.eng.Node().Desc.Tag == tRIFF {
				r.done = true
				return total, avpack.StatusFin
			}

		case container.EvWarning:
			out.Error = avpack.ErrorInfo{Err: r.eng.Err(), Offset: r.eng.Offset()}
			return total, avpack.StatusWarning

		case container.EvErr:
			out.Error = avpack.ErrorInfo{Err: mapErr(r.eng.Err()), Offset: r.eng.Offset()}
			return total, avpack.StatusError

		case container.EvFin:
			return total, avpack.StatusFin
		}
	}
}

// onChunk handles one EvChunk event. emitted reports whether a status is
// ready for the caller.
func (r *Reader) onChunk(out *avpack.Result) (avpack.Status, bool) {
	node := r.eng.Node()
	view := r.eng.View()
	r.logger.Logf("wav: chunk %q size %d", node.Desc.Name, node.Size)
	switch node.Desc.Tag {
	case tRIFF:
		if string(view) != "WAVE" {
			out.Error = avpack.ErrorInfo{Err: fmt.Errorf("%w: RIFF form is not WAVE", avpack.ErrMagic), Offset: node.Offset}
			return avpack.StatusError, true
		}

	case tFmt:
		info, err := parseFmt(view)
		if err != nil {
			out.Error = avpack.ErrorInfo{Err: fmt.Errorf("%w: %v", avpack.ErrUnsupported, err), Offset: node.Offset}
			return avpack.StatusError, true
		}
		r.info = info
		r.hasFmt = true

	case tList:
		if string(view) != "INFO" {
			r.eng.SkipRest()
		}

	case tInfoTag:
		out.Tag = riffinfo.Decode(node.Desc.Name, view)
		return avpack.StatusMeta, true

	case tData:
		if !r.hasFmt {
			out.Error = avpack.ErrorInfo{Err: fmt.Errorf("%w: data chunk before fmt", avpack.ErrInvariant), Offset: node.Offset}
			return avpack.StatusError, true
		}
		r.dataOff = node.Offset
		r.dataNode = node
		ss := int64(r.info.SampleSize())
		if node.Size > 0 && node.Size != container.SizeToEOF {
			r.dataSize = node.Size / ss * ss
			r.info.TotalSamples = uint64(node.Size) / uint64(ss)
		} else {
			r.infData = true
		}
		r.headerSent = true
		out.Header = avpack.HeaderInfo{
			Codec:        "pcm",
			SampleRate:   r.info.SampleRate,
			Channels:     uint8(r.info.Channels),
			Bits:         uint8(r.info.Bits),
			Float:        r.info.Float,
			TotalSamples: r.info.TotalSamples,
		}
		return avpack.StatusHeader, true
	}
	return 0, false
}

// applySeek services a deferred Seek while the data chunk is streaming.
func (r *Reader) applySeek(out *avpack.Result) (avpack.Status, bool) {
	node, ok := r.eng.InStream()
	if !ok || node != r.dataNode {
		out.Error = avpack.ErrorInfo{Err: fmt.Errorf("wav: %w: not inside the data chunk", avpack.ErrNoSeek)}
		r.seekSample = avpack.UndefinedPos
		return avpack.StatusError, true
	}
	if r.cfg.Flags&avpack.NoSeek != 0 {
		out.Error = avpack.ErrorInfo{Err: fmt.Errorf("wav: %w", avpack.ErrNoSeek)}
		r.seekSample = avpack.UndefinedPos
		return avpack.StatusError, true
	}
	ss := int64(r.info.SampleSize())
	off := r.dataOff + int64(r.seekSample)*ss
	if r.dataSize != 0 && off > r.dataOff+r.dataSize {
		off = r.dataOff + r.dataSize
	}
	r.cursample = uint64(off-r.dataOff) / uint64(ss)
	r.bytesRead = off - r.dataOff
	r.seekSample = avpack.UndefinedPos
	r.eng.JumpWithin(off)
	out.SeekOffset = off
	return avpack.StatusSeek, true
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, container.ErrTruncated):
		return fmt.Errorf("%w: %v", avpack.ErrTruncated, err)
	case errors.Is(err, container.ErrMagic):
		return fmt.Errorf("%w: %v", avpack.ErrMagic, err)
	case errors.Is(err, container.ErrInvariant):
		return fmt.Errorf("%w: %v", avpack.ErrInvariant, err)
	default:
		return err
	}
}
