// Package ts implements a push-model reader for MPEG transport streams:
// fixed 188-byte packets, a PID registry seeded from the PAT and PMT
// tables, and PES payload delivery with the 33-bit PTS decoded to
// milliseconds.
package ts

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/gather"
)

// packetSize is the fixed transport packet length.
const packetSize = 188

// Elementary stream types this reader recognizes.
const (
	StreamMP3 = 3
	StreamAAC = 15
)

// PID roles in the registry.
const (
	pidTop = iota // PAT
	pidInfo       // PMT
	pidData       // PES elementary stream
)

// pidEntry is one PID registry slot.
type pidEntry struct {
	role       int
	streamType int
	posMsec    uint64
	havePos    bool
}

// packet is one parsed transport packet.
type packet struct {
	pid     int
	start   bool
	counter int
	body    []byte
}

var errBadPacket = errors.New("ts: malformed packet")

// parsePacket decodes one 188-byte transport packet.
func parsePacket(d []byte) (packet, error) {
	if d[0] != 0x47 {
		return packet{}, fmt.Errorf("%w: no sync byte", errBadPacket)
	}
	p := packet{
		pid:     int(binary.BigEndian.Uint16(d[1:3]) & 0x1FFF),
		start:   d[1]&0x40 != 0,
		counter: int(d[3] & 0x0F),
	}
	haveAdaptation := d[3]&0x20 != 0
	havePayload := d[3]&0x10 != 0
	i := 4
	if haveAdaptation {
		alen := int(d[4])
		i += 1 + alen
		if i > len(d) {
			return packet{}, fmt.Errorf("%w: adaptation field overruns the packet", errBadPacket)
		}
	}
	if p.start && p.pid == 0 || p.start && !isPES(d[i:]) {
		// Table sections start with a pointer byte.
		if i >= len(d) {
			return packet{}, fmt.Errorf("%w: missing pointer byte", errBadPacket)
		}
		ptr := int(d[i])
		i += 1 + ptr
		if i > len(d) {
			return packet{}, fmt.Errorf("%w: pointer overruns the packet", errBadPacket)
		}
	}
	if havePayload && i <= len(d) {
		p.body = d[i:]
	}
	return p, nil
}

// isPES reports whether a payload begins with the PES start code prefix.
func isPES(d []byte) bool {
	return len(d) >= 3 && d[0] == 0 && d[1] == 0 && d[2] == 1
}

// parsePAT extracts the PMT pid from a program association section.
func parsePAT(d []byte) (int, bool) {
	if len(d) < 12 {
		return 0, false
	}
	return int(binary.BigEndian.Uint16(d[10:12]) & 0x1FFF), true
}

// parsePMT extracts the first elementary stream's pid and type.
func parsePMT(d []byte) (pid, streamType int, ok bool) {
	if len(d) < 13 {
		return 0, 0, false
	}
	pid = int(binary.BigEndian.Uint16(d[8:10]) & 0x1FFF)
	progLen := int(binary.BigEndian.Uint16(d[10:12]) & 0x0FFF)
	if progLen != 0 {
		return 0, 0, false // program descriptors are not modeled
	}
	streamType = int(d[12])
	return pid, streamType, true
}

// parsePES decodes a PES header, returning the header length and the PTS
// in milliseconds when present.
func parsePES(d []byte) (hdrLen int, posMsec uint64, havePos bool, ok bool) {
	if len(d) < 9 || d[0] != 0 || d[1] != 0 || d[2] != 1 {
		return 0, 0, false, false
	}
	optLen := int(d[8])
	hdrLen = 9 + optLen
	if hdrLen > len(d) {
		return 0, 0, false, false
	}
	if d[7]&0x80 != 0 && optLen >= 5 {
		// 33-bit PTS packed as 0010 hhh1 mmmm mmmm  mmmm mmm1 llll llll  llll lll1.
		p := d[9:]
		pts := uint64(p[0]&0x0E)<<29 |
			uint64(binary.BigEndian.Uint16(p[1:3])&0xFFFE)<<14 |
			uint64(binary.BigEndian.Uint16(p[3:5])>>1)
		return hdrLen, pts / 90, true, true
	}
	return hdrLen, 0, false, true
}

// Reader is a push-model transport stream reader delivering the first
// program's elementary stream payloads.
type Reader struct {
	cfg    avpack.Config
	gb     *gather.Buffer
	logger avpack.Logger

	pids      map[int]*pidEntry
	headerOut bool
	posMsec   uint64

	fin    bool
	closed bool
}

// NewReader returns a transport stream reader.
func NewReader(cfg avpack.Config) *Reader {
	logger := cfg.Logger
	if logger == nil {
		logger = avpack.NopLogger
	}
	return &Reader{
		cfg:    cfg,
		gb:     gather.New(0),
		logger: logger,
		pids:   map[int]*pidEntry{0: {role: pidTop}},
	}
}

// Seek is unsupported: transport streams carry no byte index.
func (r *Reader) Seek(sampleIndex uint64) {}

// Finish tells the reader no more bytes will be fed.
func (r *Reader) Finish() { r.fin = true }

// Close releases internal buffers.
func (r *Reader) Close() error {
	r.closed = true
	r.gb = nil
	r.pids = nil
	return nil
}

// PosMsec returns the most recent PES timestamp, in milliseconds.
func (r *Reader) PosMsec() uint64 { return r.posMsec }

// Process consumes a prefix of in and reports the next result.
func (r *Reader) Process(in []byte, out *avpack.Result) (int, avpack.Status) {
	if r.closed {
		out.Error = avpack.ErrorInfo{Err: avpack.ErrClosed}
		return 0, avpack.StatusError
	}
	total := 0
	for {
		n, view, err := r.gb.Gather(in[total:], packetSize)
		total += n
		if err != nil {
			out.Error = avpack.ErrorInfo{Err: err}
			return total, avpack.StatusError
		}
		if view == nil {
			if r.fin {
				return total, avpack.StatusFin
			}
			return total, avpack.StatusMore
		}
		pkt, perr := parsePacket(view[:packetSize])
		if perr != nil {
			// Resynchronize on the next 0x47 byte.
			r.gb.ShiftOne()
			out.Error = avpack.ErrorInfo{Err: fmt.Errorf("ts: %w: %v", avpack.ErrCorrupt, perr)}
			return total, avpack.StatusWarning
		}
		st, emitted := r.onPacket(out, pkt)
		r.gb.Consume(packetSize)
		if emitted {
			return total, st
		}
	}
}

// onPacket routes one packet through the PID registry.
func (r *Reader) onPacket(out *avpack.Result, pkt packet) (avpack.Status, bool) {
	entry := r.pids[pkt.pid]
	if entry == nil || len(pkt.body) == 0 {
		return 0, false
	}
	switch entry.role {
	case pidTop:
		if pid, ok := parsePAT(pkt.body); ok {
			if _, exists := r.pids[pid]; !exists {
				r.logger.Logf("ts: program table pid %d", pid)
				r.pids[pid] = &pidEntry{role: pidInfo}
			}
		}
	case pidInfo:
		if pid, streamType, ok := parsePMT(pkt.body); ok {
			if _, exists := r.pids[pid]; !exists {
				r.logger.Logf("ts: stream pid %d type %d", pid, streamType)
				r.pids[pid] = &pidEntry{role: pidData, streamType: streamType}
				if !r.headerOut {
					r.headerOut = true
					out.Header = avpack.HeaderInfo{Codec: streamCodec(streamType)}
					return avpack.StatusHeader, true
				}
			}
		}
	case pidData:
		body := pkt.body
		if pkt.start {
			hdrLen, pos, havePos, ok := parsePES(body)
			if !ok {
				out.Error = avpack.ErrorInfo{Err: fmt.Errorf("ts: PES header: %w", avpack.ErrCorrupt)}
				return avpack.StatusWarning, true
			}
			body = body[hdrLen:]
			if havePos {
				entry.posMsec = pos
				entry.havePos = true
				r.posMsec = pos
			}
		}
		if len(body) == 0 {
			return 0, false
		}
		frame := avpack.Frame{Bytes: body, Pos: avpack.UndefinedPos, EndPos: avpack.UndefinedPos}
		if entry.havePos {
			frame.Pos = entry.posMsec
		}
		out.Frame = frame
		return avpack.StatusData, true
	}
	return 0, false
}

// streamCodec maps a PMT stream type onto this module's codec names.
func streamCodec(streamType int) string {
	switch streamType {
	case StreamMP3:
		return "mpeg1"
	case StreamAAC:
		return "aac"
	default:
		return "unknown"
	}
}
