// Package caf implements a push-model reader for Apple Core Audio Format
// (.caf) files: the caff file header, desc/kuki/info/pakt chunks, then the
// audio data chunk carved into packets.
package caf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/container"
	"github.com/pchchv/avpack/internal/gather"
	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/vorbiscomment"
)

// fileHeader is "caff", version 1, flags 0.
var fileHeader = []byte{'c', 'a', 'f', 'f', 0, 1, 0, 0}

// metaCeiling bounds gathered metadata chunks; audio packets get their own
// smaller bound.
const (
	metaCeiling   = 2 * 1024 * 1024
	packetCeiling = 1024 * 1024
)

// Chunk semantic tags.
const (
	tDesc = iota + 1
	tInfo
	tKuki
	tPakt
	tData
)

var chunkTable = []container.Descriptor{
	{ID: container.FourCC("desc"), Name: "desc", Flags: container.GatherWhole | container.Unique, MinSize: 32, Tag: tDesc},
	{ID: container.FourCC("info"), Name: "info", Flags: container.GatherWhole, MinSize: 4, Tag: tInfo},
	{ID: container.FourCC("kuki"), Name: "kuki", Flags: container.GatherWhole, Tag: tKuki},
	{ID: container.FourCC("pakt"), Name: "pakt", Flags: container.GatherWhole, MinSize: 24, Tag: tPakt},
	{ID: container.FourCC("data"), Name: "data", Flags: container.Stream, MinSize: 4, Tag: tData},
}

// parseChunkHeader decodes the 12-byte CAF chunk header: four-char type
// plus a 64-bit big-endian size; the audio data chunk may declare -1 to
// extend to EOF.
func parseChunkHeader(hdr []byte) (container.Header, error) {
	id := binary.BigEndian.Uint32(hdr[0:4])
	size := int64(binary.BigEndian.Uint64(hdr[4:12]))
	if size < -1 {
		return container.Header{}, fmt.Errorf("caf: chunk size %d: %w", size, errBadChunk)
	}
	return container.Header{ID: id, Size: size}, nil
}

var errBadChunk = errors.New("caf: malformed chunk")

// Info is the decoded desc chunk.
type Info struct {
	Codec        string
	SampleRate   uint32
	Channels     uint32
	Bits         uint32
	Float        bool
	PacketBytes  uint32
	PacketFrames uint32
	TotalPackets uint64
	TotalFrames  uint64
}

// parseDesc decodes the audio description chunk (the sample rate is an
// IEEE-754 double).
func parseDesc(d []byte) (Info, error) {
	rate := math.Float64frombits(binary.BigEndian.Uint64(d[0:8]))
	info := Info{
		SampleRate:   uint32(rate),
		PacketBytes:  binary.BigEndian.Uint32(d[16:20]),
		PacketFrames: binary.BigEndian.Uint32(d[20:24]),
		Channels:     binary.BigEndian.Uint32(d[24:28]),
		Bits:         binary.BigEndian.Uint32(d[28:32]),
	}
	flags := binary.BigEndian.Uint32(d[12:16])
	info.Float = flags&1 != 0
	switch string(d[8:12]) {
	case "aac ":
		info.Codec = "aac"
	case "alac":
		info.Codec = "alac"
	case "lpcm":
		info.Codec = "pcm"
	default:
		return Info{}, fmt.Errorf("caf: codec %q: %w", d[8:12], avpack.ErrUnsupported)
	}
	return info, nil
}

// parseVarint reads one pakt packet-size entry: 7 bits per byte, high bit
// continues (at most two bytes in practice).
func parseVarint(d []byte) (v uint32, n int) {
	for i := 0; i < len(d); i++ {
		v = v<<7 | uint32(d[i]&0x7F)
		if d[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	return 0, 0
}

// kukiALAC extracts the 24-byte ALAC config from a kuki cookie.
func kukiALAC(d []byte) []byte {
	if len(d) >= 12+12+24 && string(d[4:12]) == "frmaalac" {
		return d[24 : 24+24]
	}
	return nil
}

type rdState int

const (
	rsFileHdr rdState = iota
	rsChunks
	rsDone
	rsErr
)

// Reader is a push-model .caf reader.
type Reader struct {
	cfg avpack.Config
	eng *container.Engine
	pkt *gather.Buffer

	state    rdState
	hdrGb    *gather.Buffer
	info     Info
	conf     []byte
	pktSizes []uint32
	pktIdx   int

	pendingTags []tag.Record
	tagIdx      int
	headerOut   bool
	cursample   uint64

	fin    bool
	closed bool
}

// NewReader returns a .caf reader ready to accept bytes from offset 0.
func NewReader(cfg avpack.Config) *Reader {
	return &Reader{
		cfg:   cfg,
		hdrGb: gather.New(0),
		pkt:   gather.New(packetCeiling),
		eng: container.New(container.Config{
			HeaderLen:   12,
			ParseHeader: parseChunkHeader,
			Ceiling:     metaCeiling,
			StartOffset: int64(len(fileHeader)),
			TotalSize:   cfg.TotalSize,
			Seekable:    cfg.TotalSize != 0 && cfg.Flags&avpack.NoSeek == 0,
		}, chunkTable),
	}
}

// Seek is unsupported: CAF's packet table maps packets, not an arbitrary
// sample, and this reader delivers packets sequentially.
func (r *Reader) Seek(sampleIndex uint64) {}

// Finish tells the reader no more bytes will be fed.
func (r *Reader) Finish() {
	r.fin = true
	if r.eng != nil {
		r.eng.Finish()
	}
}

// Close releases internal buffers.
func (r *Reader) Close() error {
	r.closed = true
	r.eng = nil
	r.pkt = nil
	r.hdrGb = nil
	return nil
}

// Info returns the decoded stream parameters (valid after StatusHeader).
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

		switch r.state {
		case rsFileHdr:
			n, view, err := r.hdrGb.Gather(in[total:], len(fileHeader))
			total += n
			if err != nil {
				return total, r.fail(out, err)
			}
			if view == nil {
				if r.fin {
					return total, r.fail(out, fmt.Errorf("caf: file header: %w", avpack.ErrTruncated))
				}
				return total, avpack.StatusMore
			}
			for i := range fileHeader {
				if view[i] != fileHeader[i] {
					return total, r.fail(out, fmt.Errorf("caf: %w", avpack.ErrMagic))
				}
			}
			r.hdrGb.Consume(len(fileHeader))
			r.state = rsChunks
			continue

		case rsChunks:
			if st, emitted := r.drainPacket(out, false); emitted {
				return total, st
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
				if st, emitted := r.onData(out); emitted {
					return total, st
				}
			case container.EvPop:
				if r.eng.Node().Desc.Tag == tData {
					if st, emitted := r.flushPackets(out); emitted {
						return total, st
					}
				}
			case container.EvWarning:
				out.Error = avpack.ErrorInfo{Err: r.eng.Err(), Offset: r.eng.Offset()}
				return total, avpack.StatusWarning
			case container.EvErr:
				return total, r.fail(out, r.eng.Err())
			case container.EvFin:
				return total, avpack.StatusFin
			}

		case rsDone:
			return total, avpack.StatusFin
		}
	}
}

// onChunk handles one gathered chunk.
func (r *Reader) onChunk(out *avpack.Result) (avpack.Status, bool) {
	node := r.eng.Node()
	view := r.eng.View()
	switch node.Desc.Tag {
	case tDesc:
		info, err := parseDesc(view)
		if err != nil {
			return r.fail(out, err), true
		}
		r.info = info

	case tInfo:
		r.parseInfoTags(view)

	case tKuki:
		if alac := kukiALAC(view); alac != nil {
			r.conf = append([]byte(nil), alac...)
		} else {
			r.conf = append([]byte(nil), view...)
		}

	case tPakt:
		r.info.TotalPackets = binary.BigEndian.Uint64(view[0:8])
		r.info.TotalFrames = binary.BigEndian.Uint64(view[8:16])
		if r.info.PacketBytes == 0 {
			sizes := make([]uint32, 0, r.info.TotalPackets)
			d := view[24:]
			for len(d) > 0 && uint64(len(sizes)) < r.info.TotalPackets {
				v, n := parseVarint(d)
				if n == 0 {
					break
				}
				sizes = append(sizes, v)
				d = d[n:]
			}
			r.pktSizes = sizes
		}

	case tData:
		// The 4-byte edit count was gathered with the chunk header; the
		// stream proper follows.
		if !r.headerOut {
			r.headerOut = true
			out.Header = avpack.HeaderInfo{
				Codec:        r.info.Codec,
				SampleRate:   r.info.SampleRate,
				Channels:     uint8(r.info.Channels),
				Bits:         uint8(r.info.Bits),
				Float:        r.info.Float,
				TotalSamples: r.info.TotalFrames,
				CodecConf:    r.conf,
			}
			return avpack.StatusHeader, true
		}
	}
	return 0, false
}

// onData buffers one data-chunk slice into the packetizer; complete
// packets are drained one per Process return.
func (r *Reader) onData(out *avpack.Result) (avpack.Status, bool) {
	slice := r.eng.View()
	if err := r.pkt.Append(slice); err != nil {
		return r.fail(out, err), true
	}
	return r.drainPacket(out, false)
}

// drainPacket emits the next complete packet from the packetizer buffer;
// with final set, whatever remains goes out as the last packet.
func (r *Reader) drainPacket(out *avpack.Result, final bool) (avpack.Status, bool) {
	avail := r.pkt.Len()
	if avail == 0 {
		return 0, false
	}
	need, ok := r.nextPacketSize()
	if !ok {
		// No size information: pass bytes through as they arrive.
		return r.emitPacket(out, r.pkt.View(), avail)
	}
	if avail >= need {
		return r.emitPacket(out, r.pkt.View()[:need], need)
	}
	if final {
		return r.emitPacket(out, r.pkt.View(), avail)
	}
	return 0, false
}

// nextPacketSize reports the current packet's byte length.
func (r *Reader) nextPacketSize() (int, bool) {
	if r.info.PacketBytes != 0 {
		return int(r.info.PacketBytes), true
	}
	if r.pktIdx < len(r.pktSizes) {
		return int(r.pktSizes[r.pktIdx]), true
	}
	return 0, false
}

// emitPacket delivers one packet and advances the sample position.
func (r *Reader) emitPacket(out *avpack.Result, pkt []byte, need int) (avpack.Status, bool) {
	frames := uint64(r.info.PacketFrames)
	pos := r.cursample
	r.cursample += frames
	r.pktIdx++
	out.Frame = avpack.Frame{
		Bytes:    pkt,
		Pos:      pos,
		EndPos:   r.cursample,
		Duration: frames,
	}
	r.pkt.Consume(need)
	return avpack.StatusData, true
}

// flushPackets drains whatever remains in the packetizer when the data
// chunk closes.
func (r *Reader) flushPackets(out *avpack.Result) (avpack.Status, bool) {
	return r.drainPacket(out, true)
}

// parseInfoTags decodes the info chunk: an entry count then NUL-terminated
// key/value string pairs, normalized through the same name table the
// Vorbis comment codec uses.
func (r *Reader) parseInfoTags(view []byte) {
	d := view[4:]
	for len(d) > 0 {
		k := indexNul(d)
		if k < 0 {
			return
		}
		key := string(d[:k])
		d = d[k+1:]
		v := indexNul(d)
		if v < 0 {
			return
		}
		val := string(d[:v])
		d = d[v+1:]
		r.pendingTags = append(r.pendingTags, vorbiscomment.Normalize(key, val))
	}
}

func indexNul(d []byte) int {
	for i := range d {
		if d[i] == 0 {
			return i
		}
	}
	return -1
}
