// Package avi implements a push-model reader for RIFF/AVI files: stream
// headers from hdrl, INFO tags, and the audio stream's movi chunks.
package avi

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/container"
	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/riffinfo"
)

// Chunk semantic tags.
const (
	tRIFF = iota + 1
	tList
	tAvih
	tStrh
	tStrf
	tInfoTag
	tMovi
	tMoviAudio
)

// Audio codec ids from the strf format field.
const (
	codecPCM = 0x0001
	codecMP3 = 0x0055
	codecAAC = 0x00FF
)

func codecName(c uint16) string {
	switch c {
	case codecPCM:
		return "pcm"
	case codecMP3:
		return "mpeg1"
	case codecAAC:
		return "aac"
	default:
		return "unknown"
	}
}

// Info is the decoded audio stream description.
type Info struct {
	Codec      uint16
	Channels   uint16
	SampleRate uint32
	Bits       uint16
	BlockAlign uint16
	Bitrate    uint32
	Conf       []byte
	Scale      uint32
	Rate       uint32
	Length     uint32
}

// parseChunkHeader decodes the 8-byte RIFF chunk header.
func parseChunkHeader(hdr []byte) (container.Header, error) {
	id := container.FourCC(string(hdr[0:4]))
	size := int64(binary.LittleEndian.Uint32(hdr[4:8]))
	return container.Header{ID: id, Size: size}, nil
}

var errBadStrf = errors.New("avi: malformed strf chunk")

type rdState int

const (
	rsChunks rdState = iota
	rsDone
	rsErr
)

// Reader is a push-model .avi reader.
type Reader struct {
	cfg    avpack.Config
	eng    *container.Engine
	logger avpack.Logger

	// moviAudio is per-reader because the movi audio chunk id
	// depends on which strl turns out to be the audio stream.
	moviAudio *container.Descriptor

	state       rdState
	info        Info
	strhAudio   bool // the current strl's strh was an audio stream
	strlIndex   int
	audioStream int
	headerOut   bool
	inMovi      bool
	cursample   uint64
	bytesRead   uint64

	pendingTags []tag.Record
	tagIdx      int

	closed bool
}

// NewReader returns an .avi reader ready to accept bytes from offset 0.
// The descriptor tree is built per reader: the movi audio chunk's id is
// only known once the stream list has been parsed.
func NewReader(cfg avpack.Config) *Reader {
	logger := cfg.Logger
	if logger == nil {
		logger = avpack.NopLogger
	}
	r := &Reader{cfg: cfg, logger: logger, audioStream: -1}

	infoIDs := []string{"IART", "ICOP", "ICRD", "IGNR", "INAM", "IPRD", "IPRT", "ISFT"}
	listChildren := make([]container.Descriptor, 0, len(infoIDs)+5)
	listChildren = append(listChildren,
		container.Descriptor{ID: container.FourCC("avih"), Name: "avih", Flags: container.GatherWhole, MinSize: 4, Tag: tAvih},
		container.Descriptor{ID: container.FourCC("strh"), Name: "strh", Flags: container.GatherWhole, MinSize: 36, Tag: tStrh},
		container.Descriptor{ID: container.FourCC("strf"), Name: "strf", Flags: container.GatherWhole, MinSize: 16, Tag: tStrf},
	)
	for _, id := range infoIDs {
		listChildren = append(listChildren, container.Descriptor{
			ID: container.FourCC(id), Name: id, Flags: container.GatherWhole, Tag: tInfoTag,
		})
	}
	// The audio movi chunk: its id is patched in once strh/strf identify
	// the audio stream ("NNwb").
	listChildren = append(listChildren, container.Descriptor{
		Name: "##wb", Flags: container.Stream, Tag: tMoviAudio,
	})
	// LIST nests recursively: hdrl holds strl lists, movi may hold rec
	// lists.
	listChildren = append(listChildren, container.Descriptor{
		ID: container.FourCC("LIST"), Name: "LIST", Flags: container.IsContainer, MinSize: 4, Tag: tList,
	})
	listChildren[len(listChildren)-1].Children = listChildren
	r.moviAudio = &listChildren[len(listChildren)-2]

	root := []container.Descriptor{{
		ID:       container.FourCC("RIFF"),
		Name:     "RIFF",
		Flags:    container.IsContainer | container.Unique,
		MinSize:  4,
		Tag:      tRIFF,
		Children: listChildren,
	}}

	r.eng = container.New(container.Config{
		HeaderLen:   8,
		ParseHeader: parseChunkHeader,
		Pad:         true,
		TotalSize:   cfg.TotalSize,
		Seekable:    cfg.TotalSize != 0 && cfg.Flags&avpack.NoSeek == 0,
		StrictRoot:  true,
	}, root)
	return r
}

// Seek is unsupported: this reader walks movi chunks sequentially.
func (r *Reader) Seek(sampleIndex uint64) {}

// Finish tells the reader no more bytes will be fed.
func (r *Reader) Finish() {
	if r.eng != nil {
		r.eng.Finish()
	}
}

// Close releases internal buffers.
func (r *Reader) Close() error {
	r.closed = true
	r.eng = nil
	return nil
}

// Info returns the decoded audio stream parameters.
func (r *Reader) Info() Info { return r.info }

func (r *Reader) fail(out *avpack.Result, err error) avpack.Status {
	out.Error = avpack.ErrorInfo{Err: err, Offset: r.eng.Offset()}
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
		if r.state == rsDone {
			return total, avpack.StatusFin
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
			r.bytesRead += uint64(len(view))
			if r.info.BlockAlign > 0 && r.info.Codec == codecPCM {
				r.cursample = r.bytesRead / uint64(r.info.BlockAlign)
			}
			out.Frame = avpack.Frame{Bytes: view, Pos: pos, EndPos: r.cursample, Duration: r.cursample - pos}
			if r.info.Codec != codecPCM {
				out.Frame.Pos = avpack.UndefinedPos
				out.Frame.EndPos = avpack.UndefinedPos
				out.Frame.Duration = 0
			}
			return total, avpack.StatusData
		case container.EvPop:
			if r.eng.Node().Desc.Tag == tRIFF {
				r.state = rsDone
				return total, avpack.StatusFin
			}
		case container.EvWarning:
			out.Error = avpack.ErrorInfo{Err: r.eng.Err(), Offset: r.eng.Offset()}
			return total, avpack.StatusWarning
		case container.EvErr:
			return total, r.fail(out, r.eng.Err())
		case container.EvFin:
			return total, avpack.StatusFin
		}
	}
}

// onChunk handles one gathered chunk.
func (r *Reader) onChunk(out *avpack.Result) (avpack.Status, bool) {
	node := r.eng.Node()
	view := r.eng.View()
	switch node.Desc.Tag {
	case tRIFF:
		if string(view) != "AVI " {
			return r.fail(out, fmt.Errorf("%w: RIFF form is not AVI", avpack.ErrMagic)), true
		}

	case tList:
		kind := string(view)
		r.logger.Logf("avi: LIST %q size %d", kind, node.Size)
		switch kind {
		case "hdrl", "strl", "INFO", "movi", "rec ":
			if kind == "strl" {
				r.strhAudio = false
			}
			if kind == "movi" {
				r.inMovi = true
				if st, emitted := r.emitHeader(out); emitted {
					return st, true
				}
			}
		default:
			r.eng.SkipRest()
		}

	case tStrh:
		if string(view[0:4]) == "auds" {
			r.strhAudio = true
			r.info.Scale = binary.LittleEndian.Uint32(view[20:24])
			r.info.Rate = binary.LittleEndian.Uint32(view[24:28])
			r.info.Length = binary.LittleEndian.Uint32(view[32:36])
		}
		r.strlIndex++

	case tStrf:
		if !r.strhAudio || r.audioStream >= 0 {
			return 0, false
		}
		if err := r.parseStrf(view); err != nil {
			return r.fail(out, err), true
		}
		r.audioStream = r.strlIndex - 1
		// The audio data chunks are "NNwb" for stream NN.
		id := fmt.Sprintf("%02dwb", r.audioStream)
		r.moviAudio.ID = container.FourCC(id)
		r.moviAudio.Name = id

	case tInfoTag:
		out.Tag = riffinfo.Decode(node.Desc.Name, view)
		return avpack.StatusMeta, true
	}
	return 0, false
}

// emitHeader fires once the movi list begins.
func (r *Reader) emitHeader(out *avpack.Result) (avpack.Status, bool) {
	if r.headerOut {
		return 0, false
	}
	if r.audioStream < 0 {
		return r.fail(out, fmt.Errorf("avi: %w: no audio stream", avpack.ErrUnsupported)), true
	}
	r.headerOut = true
	var totalSamples uint64
	if r.info.Rate != 0 && r.info.Scale != 0 {
		totalSamples = uint64(r.info.Length) * uint64(r.info.SampleRate) * uint64(r.info.Scale) / uint64(r.info.Rate)
	}
	out.Header = avpack.HeaderInfo{
		Codec:        codecName(r.info.Codec),
		SampleRate:   r.info.SampleRate,
		Channels:     uint8(r.info.Channels),
		Bits:         uint8(r.info.Bits),
		TotalSamples: totalSamples,
		CodecConf:    r.info.Conf,
	}
	return avpack.StatusHeader, true
}

// parseStrf decodes the audio format chunk, keeping any codec extension
// bytes as the codec configuration.
func (r *Reader) parseStrf(d []byte) error {
	if len(d) < 16 {
		return errBadStrf
	}
	r.info.Codec = binary.LittleEndian.Uint16(d[0:2])
	r.info.Channels = binary.LittleEndian.Uint16(d[2:4])
	r.info.SampleRate = binary.LittleEndian.Uint32(d[4:8])
	r.info.Bitrate = binary.LittleEndian.Uint32(d[8:12]) * 8
	r.info.BlockAlign = binary.LittleEndian.Uint16(d[12:14])
	if len(d) >= 16 {
		r.info.Bits = binary.LittleEndian.Uint16(d[14:16])
	}
	if len(d) >= 18 {
		exsize := int(binary.LittleEndian.Uint16(d[16:18]))
		if 18+exsize <= len(d) && exsize > 0 {
			r.info.Conf = append([]byte(nil), d[18:18+exsize]...)
		}
	}
	return nil
}
